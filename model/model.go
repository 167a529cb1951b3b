package model

import (
	"context"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gv211432/QueryDB-Natural-Language/conversation"
)

// Conversation is one UI session's transcript header.
type Conversation struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type Message struct {
	ID             string       `gorm:"primaryKey" json:"id"`
	ConversationID string       `gorm:"index" json:"conversation_id"`
	Conversation   Conversation `gorm:"foreignKey:ConversationID" json:"-"`
	Role           string       `json:"role"` // "user" or "assistant"
	Content        string       `gorm:"type:text" json:"content"`
	IsQuery        bool         `json:"is_query"`
	CreatedAt      time.Time    `gorm:"index" json:"created_at"`
}

func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		return nil, err
	}

	return db, nil
}

// Archive persists every message of every session. It is an audit trail;
// nothing reads it back into a live session.
type Archive struct {
	db *gorm.DB
}

func NewArchive(db *gorm.DB) *Archive {
	return &Archive{db: db}
}

// Record stores m under sessionID, creating the conversation row on first use.
func (a *Archive) Record(ctx context.Context, sessionID string, m conversation.Message) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A session id seen again after it ended is live again.
		conv := Conversation{ID: sessionID, CreatedAt: m.CreatedAt}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{"ended_at": nil}),
		}).Create(&conv).Error
		if err != nil {
			return err
		}
		return tx.Create(&Message{
			ID:             m.ID,
			ConversationID: sessionID,
			Role:           string(m.Role),
			Content:        m.Content,
			IsQuery:        conversation.Classify(m.Content).IsQuery,
			CreatedAt:      m.CreatedAt,
		}).Error
	})
}

// ListBySession returns the archived messages of a session, oldest first.
func (a *Archive) ListBySession(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	err := a.db.WithContext(ctx).
		Where("conversation_id = ?", sessionID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkEnded stamps the end time of a session. Unknown sessions are ignored.
func (a *Archive) MarkEnded(ctx context.Context, sessionID string, at time.Time) error {
	return a.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("id = ? AND ended_at IS NULL", sessionID).
		Update("ended_at", at).Error
}

// GetConversation loads a transcript header.
func (a *Archive) GetConversation(ctx context.Context, sessionID string) (*Conversation, error) {
	var conv Conversation
	if err := a.db.WithContext(ctx).First(&conv, "id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}
