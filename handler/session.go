package handler

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/gv211432/QueryDB-Natural-Language/config"
	"github.com/gv211432/QueryDB-Natural-Language/conversation"
	"github.com/gv211432/QueryDB-Natural-Language/model"
)

const (
	sessionKeyID  = "sid"
	ctxSessionKey = "conversation.session"
	ctxCookieKey  = "conversation.cookie"
)

// History reads a session's archived transcript.
type History interface {
	ListBySession(ctx context.Context, sessionID string) ([]model.Message, error)
}

// NewCookieStore builds the signed cookie store that carries session ids.
// The secret is hashed to derive a 32-byte key.
func NewCookieStore(cfg config.SessionConfig) *sessions.CookieStore {
	key := sha256.Sum256([]byte(cfg.Secret))

	store := sessions.NewCookieStore(key[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.IdleTimeout().Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// NewRegistry builds the session registry. Every session pushes a snapshot
// to its sockets after each change; ending a session closes them and then
// calls ended, if set.
func NewRegistry(hub *Hub, fwd conversation.Forwarder, rec conversation.Recorder, idle time.Duration, logger *zap.Logger, ended func(id string)) *conversation.Registry {
	registry := conversation.NewRegistry(func(id string) *conversation.Session {
		s := conversation.NewSession(id, fwd, rec, logger)
		s.Subscribe(func(v conversation.View) {
			hub.Broadcast(id, SnapshotMessage(v))
		})
		return s
	}, idle)

	// A tab with an open socket is in use even when it sends nothing.
	registry.KeepWhile(func(id string) bool { return hub.Count(id) > 0 })
	registry.OnEnd(func(id string) {
		hub.CloseSession(id)
		if ended != nil {
			ended(id)
		}
	})
	return registry
}

// SessionHandler serves the /session surface.
type SessionHandler struct {
	Registry   *conversation.Registry
	Hub        *Hub
	History    History
	Store      sessions.Store
	CookieName string
	Logger     *zap.Logger
}

type submitRequest struct {
	Text string `json:"text"`
}

type connectionRequest struct {
	URI  string `json:"uri"`
	Kind string `json:"kind"`
}

// SubmitResponse is the body of POST /session/messages.
type SubmitResponse struct {
	Outcome conversation.Outcome `json:"outcome"`
	Session conversation.View    `json:"session"`
}

// Resolve binds the caller's session to the request, starting one when the
// cookie is missing, unreadable or points at an ended session.
func (h *SessionHandler) Resolve() gin.HandlerFunc {
	return func(c *gin.Context) {
		// A cookie signed with an old key yields an error and a fresh session.
		cookie, _ := h.Store.Get(c.Request, h.CookieName)
		id, _ := cookie.Values[sessionKeyID].(string)

		s := h.Registry.Acquire(id)
		if s.ID != id {
			cookie.Values[sessionKeyID] = s.ID
		}
		// Saving on every request slides the cookie expiry with activity.
		if err := cookie.Save(c.Request, c.Writer); err != nil {
			h.Logger.Error("Failed to save session cookie", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
			return
		}

		c.Set(ctxSessionKey, s)
		c.Set(ctxCookieKey, cookie)
		c.Next()
	}
}

func current(c *gin.Context) *conversation.Session {
	return c.MustGet(ctxSessionKey).(*conversation.Session)
}

// Register mounts the session routes on g. Resolve must already be in use.
func (h *SessionHandler) Register(g *gin.RouterGroup) {
	g.GET("", h.Get)
	g.DELETE("", h.End)
	g.PUT("/connection", h.SetConnection)
	g.PUT("/draft", h.SetDraft)
	g.POST("/messages", h.Submit)
	g.DELETE("/messages", h.Clear)
	g.POST("/messages/:id/copy", h.Copy)
	g.GET("/history", h.ListHistory)
	g.GET("/ws", h.Socket)
}

func (h *SessionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).View())
}

func (h *SessionHandler) SetConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s := current(c)
	if err := s.Controller.SetConnection(req.URI, conversation.ParseKind(req.Kind)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.View())
}

func (h *SessionHandler) SetDraft(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s := current(c)
	s.Controller.SetDraft(req.Text)
	c.JSON(http.StatusOK, s.View())
}

// Submit runs a round trip and answers once it is finished. An empty or
// absent body submits the draft.
func (h *SessionHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s := current(c)
	var outcome conversation.Outcome
	if req.Text == "" {
		outcome = s.Controller.SubmitDraft(c.Request.Context())
	} else {
		outcome = s.Controller.Submit(c.Request.Context(), req.Text)
	}

	status := http.StatusOK
	if outcome == conversation.OutcomeBusy {
		status = http.StatusConflict
	}
	c.JSON(status, SubmitResponse{Outcome: outcome, Session: s.View()})
}

func (h *SessionHandler) Clear(c *gin.Context) {
	s := current(c)
	s.Controller.Clear()
	c.JSON(http.StatusOK, s.View())
}

func (h *SessionHandler) Copy(c *gin.Context) {
	m, err := current(c).Controller.Copy(c.Param("id"))
	if errors.Is(err, conversation.ErrMessageNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, CopiedPayload{ID: m.ID, Content: m.Content})
}

func (h *SessionHandler) ListHistory(c *gin.Context) {
	s := current(c)
	if h.History == nil {
		c.JSON(http.StatusOK, gin.H{"messages": []model.Message{}})
		return
	}

	msgs, err := h.History.ListBySession(c.Request.Context(), s.ID)
	if err != nil {
		h.Logger.Error("Failed to load history", zap.String("session_id", s.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// End tears the session down and expires the cookie.
func (h *SessionHandler) End(c *gin.Context) {
	s := current(c)
	h.Registry.End(s.ID)

	cookie := c.MustGet(ctxCookieKey).(*sessions.Session)
	cookie.Options.MaxAge = -1
	if err := cookie.Save(c.Request, c.Writer); err != nil {
		h.Logger.Warn("Failed to expire session cookie", zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) Socket(c *gin.Context) {
	s := current(c)
	h.Hub.Serve(c, s.ID, func() *WSMessage { return SnapshotMessage(s.View()) })
}

// SnapshotMessage wraps a view as an EVENT_SNAPSHOT frame.
func SnapshotMessage(v conversation.View) *WSMessage {
	payload, _ := json.Marshal(v)
	return &WSMessage{Type: EventSnapshot, Payload: payload}
}
