package model

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gv211432/QueryDB-Natural-Language/conversation"
)

func newTestArchive(t *testing.T) (*Archive, *gorm.DB) {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewArchive(db), db
}

func TestInitDB(t *testing.T) {
	_, db := newTestArchive(t)

	sqlDB, err := db.DB()
	require.NoError(t, err)

	for _, table := range []string{"conversations", "messages"} {
		var count int
		err := sqlDB.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "%s table not created", table)
	}
}

func TestArchiveRecordAndList(t *testing.T) {
	archive, _ := newTestArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	msgs := []conversation.Message{
		{ID: "m1", Role: conversation.RoleUser, Content: "top customers?", CreatedAt: base},
		{ID: "m2", Role: conversation.RoleAssistant, Content: "SELECT * FROM customers LIMIT 5", CreatedAt: base.Add(time.Second)},
	}
	for _, m := range msgs {
		require.NoError(t, archive.Record(ctx, "sess-1", m))
	}
	require.NoError(t, archive.Record(ctx, "sess-2", conversation.Message{
		ID: "m3", Role: conversation.RoleUser, Content: "other", CreatedAt: base,
	}))

	got, err := archive.ListBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "user", got[0].Role)
	assert.False(t, got[0].IsQuery)
	assert.Equal(t, "m2", got[1].ID)
	assert.True(t, got[1].IsQuery)
	assert.Equal(t, "sess-1", got[1].ConversationID)

	conv, err := archive.GetConversation(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, conv.EndedAt)
}

func TestArchiveDuplicateMessageRejected(t *testing.T) {
	archive, _ := newTestArchive(t)
	ctx := context.Background()
	m := conversation.Message{ID: "dup", Role: conversation.RoleUser, Content: "x", CreatedAt: time.Now()}

	require.NoError(t, archive.Record(ctx, "s", m))
	assert.Error(t, archive.Record(ctx, "s", m))
}

func TestArchiveListUnknownSession(t *testing.T) {
	archive, _ := newTestArchive(t)

	got, err := archive.ListBySession(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestArchiveMarkEnded(t *testing.T) {
	archive, _ := newTestArchive(t)
	ctx := context.Background()
	require.NoError(t, archive.Record(ctx, "s", conversation.Message{ID: "a", Role: conversation.RoleUser, Content: "hi", CreatedAt: time.Now()}))

	ended := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, archive.MarkEnded(ctx, "s", ended))
	require.NoError(t, archive.MarkEnded(ctx, "missing", ended))

	conv, err := archive.GetConversation(ctx, "s")
	require.NoError(t, err)
	require.NotNil(t, conv.EndedAt)
	assert.True(t, conv.EndedAt.Equal(ended))
}

func TestArchiveRecordReopensEndedConversation(t *testing.T) {
	archive, _ := newTestArchive(t)
	ctx := context.Background()
	require.NoError(t, archive.Record(ctx, "s", conversation.Message{ID: "a", Role: conversation.RoleUser, Content: "hi", CreatedAt: time.Now()}))
	require.NoError(t, archive.MarkEnded(ctx, "s", time.Now()))

	require.NoError(t, archive.Record(ctx, "s", conversation.Message{ID: "b", Role: conversation.RoleUser, Content: "back again", CreatedAt: time.Now()}))

	conv, err := archive.GetConversation(ctx, "s")
	require.NoError(t, err)
	assert.Nil(t, conv.EndedAt)

	msgs, err := archive.ListBySession(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}
