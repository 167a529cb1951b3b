package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gv211432/QueryDB-Natural-Language/config"
)

// Message types on the session socket.
const (
	CmdSetConnection = "CMD_SET_CONNECTION"
	CmdSetDraft      = "CMD_SET_DRAFT"
	CmdSubmit        = "CMD_SUBMIT"
	CmdClear         = "CMD_CLEAR"
	CmdCopy          = "CMD_COPY"
	MsgPong          = "PONG"

	EventSnapshot = "EVENT_SNAPSHOT"
	EventCopied   = "EVENT_COPIED"
	EventError    = "EVENT_ERROR"
	MsgPing       = "PING"
)

const writeWait = 10 * time.Second

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is a command read from a session socket.
type Inbound struct {
	SessionID string
	Client    *Client
	Msg       *WSMessage
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one browser tab attached to a session.
type Client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	mu        sync.Mutex
	closed    bool
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
		c.conn.Close()
	}
}

// Hub tracks the sockets of every session. A session may have several
// sockets open; each receives every snapshot of that session.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	cfg     *config.WebSocketConfig
	logger  *zap.Logger

	// Incoming carries commands read from any socket.
	Incoming chan *Inbound
}

func NewHub(cfg *config.WebSocketConfig, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:  make(map[string]map[*Client]struct{}),
		cfg:      cfg,
		logger:   logger,
		Incoming: make(chan *Inbound, 100),
	}
}

var (
	ErrNoClient       = &HubError{"no client connected"}
	ErrSendBufferFull = &HubError{"send buffer full"}
)

type HubError struct {
	msg string
}

func (e *HubError) Error() string { return e.msg }

// Count is the number of sockets attached to a session.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Send queues msg on one client.
func (h *Hub) Send(client *Client, msg *WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.enqueue(client, data)
}

func (h *Hub) enqueue(client *Client, data []byte) error {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return ErrNoClient
	}

	select {
	case client.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Broadcast queues msg on every socket of a session and returns how many
// accepted it.
func (h *Hub) Broadcast(sessionID string, msg *WSMessage) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode websocket message", zap.String("type", msg.Type), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[sessionID]))
	for c := range h.clients[sessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := h.enqueue(c, data); err != nil {
			h.logger.Warn("Dropped websocket message",
				zap.String("session_id", sessionID),
				zap.String("type", msg.Type),
				zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// CloseSession closes every socket of a session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	clients := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()

	for c := range clients {
		c.Close()
	}
}

// CloseAll closes every socket. Hijacked connections outlive
// http.Server.Shutdown, so shutdown calls this explicitly.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for c := range set {
			c.Close()
		}
	}
}

func (h *Hub) attach(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[client.sessionID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[client.sessionID] = set
	}
	set[client] = struct{}{}
}

func (h *Hub) detach(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[client.sessionID]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.sessionID)
	}
}

// Serve upgrades the request and runs the socket until it closes. hello, if
// set, is built once the socket is attached and queued for it, so no change
// made after that point can be missed.
func (h *Hub) Serve(c *gin.Context, sessionID string, hello func() *WSMessage) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, 256),
	}
	h.attach(client)
	if hello != nil {
		if err := h.Send(client, hello()); err != nil {
			h.logger.Warn("Failed to queue hello frame", zap.Error(err))
		}
	}

	h.logger.Debug("Websocket connected", zap.String("session_id", sessionID))

	go h.writePump(client)
	go h.pingPump(client)
	h.readPump(client)
}

func (h *Hub) readPump(client *Client) {
	defer func() {
		h.detach(client)
		client.Close()
		h.logger.Debug("Websocket disconnected", zap.String("session_id", client.sessionID))
	}()

	pongTimeout := time.Duration(h.cfg.PongTimeout) * time.Second
	pingInterval := time.Duration(h.cfg.PingInterval) * time.Second
	client.conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Websocket read error", zap.Error(err))
			}
			return
		}

		// Any frame proves the peer is alive.
		client.conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.Send(client, errorMessage("", "invalid message"))
			continue
		}

		if msg.Type == MsgPong {
			continue
		}

		select {
		case h.Incoming <- &Inbound{SessionID: client.sessionID, Client: client, Msg: &msg}:
		default:
			h.logger.Warn("Incoming command buffer full, dropping command", zap.String("type", msg.Type))
			h.Send(client, errorMessage(msg.ID, "server busy"))
		}
	}
}

func (h *Hub) writePump(client *Client) {
	for data := range client.send {
		if err := h.write(client, data); err != nil {
			h.logger.Debug("Websocket write error", zap.Error(err))
			return
		}
	}
}

// pingPump sends an application-level PING; the peer answers with a PONG
// frame, which readPump counts as activity.
func (h *Hub) pingPump(client *Client) {
	ticker := time.NewTicker(time.Duration(h.cfg.PingInterval) * time.Second)
	defer ticker.Stop()

	ping, _ := json.Marshal(&WSMessage{Type: MsgPing})
	for range ticker.C {
		if err := h.write(client, ping); err != nil {
			return
		}
	}
}

func (h *Hub) write(client *Client, data []byte) error {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return ErrNoClient
	}
	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return client.conn.WriteMessage(websocket.TextMessage, data)
}

func errorMessage(replyTo, text string) *WSMessage {
	payload, _ := json.Marshal(map[string]string{"error": text})
	return &WSMessage{ReplyTo: replyTo, Type: EventError, Payload: payload}
}
