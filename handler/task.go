package handler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/gv211432/QueryDB-Natural-Language/conversation"
)

type connectionPayload struct {
	URI  string `json:"uri"`
	Kind string `json:"kind"`
}

type textPayload struct {
	Text string `json:"text"`
}

type copyPayload struct {
	ID string `json:"id"`
}

// CopiedPayload is sent back on a successful CMD_COPY.
type CopiedPayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Dispatcher applies socket commands to their sessions. Submissions run on
// their own goroutine so a slow backend never blocks other commands; Wait
// lets shutdown drain them.
type Dispatcher struct {
	hub      *Hub
	registry *conversation.Registry
	logger   *zap.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight int
	closing  bool
}

// ErrShuttingDown is reported for submissions made after Close.
var ErrShuttingDown = &HubError{"server is shutting down"}

func NewDispatcher(hub *Hub, registry *conversation.Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{hub: hub, registry: registry, logger: logger}
}

// Start consumes the hub's incoming commands until the channel is closed.
func (d *Dispatcher) Start() {
	go func() {
		for in := range d.hub.Incoming {
			d.Dispatch(in)
		}
	}()
}

// Dispatch applies one command.
func (d *Dispatcher) Dispatch(in *Inbound) {
	msg := in.Msg
	s, ok := d.registry.Lookup(in.SessionID)
	if !ok {
		d.reply(in, errorMessage(msg.ID, conversation.ErrSessionNotFound.Error()))
		return
	}

	switch msg.Type {
	case CmdSetConnection:
		var p connectionPayload
		if err := decode(msg.Payload, &p); err != nil {
			d.reply(in, errorMessage(msg.ID, "invalid payload"))
			return
		}
		if err := s.Controller.SetConnection(p.URI, conversation.ParseKind(p.Kind)); err != nil {
			d.reply(in, errorMessage(msg.ID, err.Error()))
		}

	case CmdSetDraft:
		var p textPayload
		if err := decode(msg.Payload, &p); err != nil {
			d.reply(in, errorMessage(msg.ID, "invalid payload"))
			return
		}
		s.Controller.SetDraft(p.Text)

	case CmdSubmit:
		var p textPayload
		if err := decode(msg.Payload, &p); err != nil {
			d.reply(in, errorMessage(msg.ID, "invalid payload"))
			return
		}
		d.submit(in, s, p.Text)

	case CmdClear:
		s.Controller.Clear()

	case CmdCopy:
		var p copyPayload
		if err := decode(msg.Payload, &p); err != nil {
			d.reply(in, errorMessage(msg.ID, "invalid payload"))
			return
		}
		m, err := s.Controller.Copy(p.ID)
		if err != nil {
			d.reply(in, errorMessage(msg.ID, err.Error()))
			return
		}
		payload, _ := json.Marshal(CopiedPayload{ID: m.ID, Content: m.Content})
		d.reply(in, &WSMessage{ReplyTo: msg.ID, Type: EventCopied, Payload: payload})

	default:
		d.reply(in, errorMessage(msg.ID, "unknown command "+msg.Type))
	}
}

func (d *Dispatcher) submit(in *Inbound, s *conversation.Session, text string) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		d.reply(in, errorMessage(in.Msg.ID, ErrShuttingDown.Error()))
		return
	}
	d.inFlight++
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			d.inFlight--
			d.mu.Unlock()
			d.wg.Done()
		}()

		var outcome conversation.Outcome
		if text == "" {
			outcome = s.Controller.SubmitDraft(context.Background())
		} else {
			outcome = s.Controller.Submit(context.Background(), text)
		}
		if outcome == conversation.OutcomeBusy {
			d.reply(in, errorMessage(in.Msg.ID, "a request is already in progress"))
		}
	}()
}

// Close refuses further submissions. Round trips already running are left
// to finish; call Wait afterwards to drain them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()
}

// InFlight is the number of submissions still running.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// Wait blocks until running submissions finish or ctx is done. Call Close
// first so no submission can start while waiting.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) reply(in *Inbound, msg *WSMessage) {
	if err := d.hub.Send(in.Client, msg); err != nil && !errors.Is(err, ErrNoClient) {
		d.logger.Warn("Failed to reply on websocket",
			zap.String("session_id", in.SessionID),
			zap.String("type", msg.Type),
			zap.Error(err))
	}
}

// decode accepts an absent payload as the zero value.
func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
