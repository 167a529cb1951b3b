package conversation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/gv211432/QueryDB-Natural-Language/gateway"
	"github.com/gv211432/QueryDB-Natural-Language/logging"
)

// Fixed conversational replies.
const (
	MsgNoConnection   = "No database URI provided. Please add a connection in the sidebar."
	MsgNoResponse     = "No response received"
	MsgNetworkApology = "Sorry, I encountered a network error. Please check your backend server and try again."
	MsgErrorApology   = "Sorry, I encountered an error while processing your request. Please check your database URI and try again."
)

// Forwarder performs one round trip to the query backend. Both
// *gateway.Gateway and *gateway.Client satisfy it.
type Forwarder interface {
	Forward(ctx context.Context, query, dbURI string) gateway.Result
}

// Recorder receives every appended message. Errors are logged and dropped.
type Recorder interface {
	Record(ctx context.Context, sessionID string, m Message) error
}

// Outcome says what a Submit call did.
type Outcome string

const (
	OutcomeIgnored      Outcome = "ignored"
	OutcomeBusy         Outcome = "busy"
	OutcomeNoConnection Outcome = "no_connection"
	OutcomeAnswered     Outcome = "answered"
	OutcomeFailed       Outcome = "failed"
)

// Controller runs round trips for one session. It mutates the conversation
// only; the connection is read, never written, by Submit.
type Controller struct {
	sessionID string
	conn      *ConnectionStore
	state     *State
	forwarder Forwarder
	recorder  Recorder
	logger    *zap.Logger
}

// NewController wires a controller. recorder and logger may be nil.
func NewController(sessionID string, conn *ConnectionStore, state *State, fwd Forwarder, rec Recorder, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		sessionID: sessionID,
		conn:      conn,
		state:     state,
		forwarder: fwd,
		recorder:  rec,
		logger:    logger.With(zap.String("session_id", sessionID)),
	}
}

// Submit runs one round trip for rawText. Blank text and submissions made
// while another round trip is in flight are silent no-ops. Once dispatched,
// the backend call is not cancelled by ctx.
func (c *Controller) Submit(ctx context.Context, rawText string) Outcome {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return OutcomeIgnored
	}
	if c.state.Awaiting() {
		return OutcomeBusy
	}

	ctx = context.WithoutCancel(ctx)

	conn, ok := c.conn.Get()
	if !ok {
		c.record(ctx, c.state.Append(RoleAssistant, MsgNoConnection))
		return OutcomeNoConnection
	}

	userMsg, ok := c.state.Begin(text)
	if !ok {
		return OutcomeBusy
	}
	finished := false
	defer func() {
		if !finished {
			c.state.release()
		}
	}()
	c.record(ctx, userMsg)

	res := c.forwarder.Forward(ctx, text, conn.URI)
	content, outcome := replyFor(res)

	reply := c.state.Finish(content)
	finished = true
	c.record(ctx, reply)

	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.String("db_kind", string(conn.Kind)),
		zap.String("db_uri", logging.SanitizeURI(conn.URI)),
		zap.Int("status", res.Status),
	}
	if res.Failure != nil {
		fields = append(fields, zap.String("failure_kind", string(res.Failure.Kind)))
	}
	c.logger.Debug("Round trip finished", fields...)
	return outcome
}

// SubmitDraft submits the current input buffer.
func (c *Controller) SubmitDraft(ctx context.Context) Outcome {
	return c.Submit(ctx, c.state.Draft())
}

// SetDraft replaces the input buffer.
func (c *Controller) SetDraft(text string) {
	c.state.SetDraft(text)
}

// SetConnection replaces the active connection.
func (c *Controller) SetConnection(uri string, kind Kind) error {
	return c.conn.Set(uri, kind)
}

// Clear resets messages and draft. The connection is kept.
func (c *Controller) Clear() {
	c.state.Clear()
}

// Copy marks a message as copied and returns it.
func (c *Controller) Copy(id string) (Message, error) {
	m, ok := c.state.Find(id)
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	c.state.MarkCopied(id)
	return m, nil
}

func (c *Controller) record(ctx context.Context, m Message) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(ctx, c.sessionID, m); err != nil {
		c.logger.Warn("Failed to archive message", zap.String("message_id", m.ID), zap.Error(err))
	}
}

// replyFor turns a gateway Result into assistant text.
func replyFor(res gateway.Result) (string, Outcome) {
	if res.OK() {
		if msg := res.Message(); msg != "" {
			return msg, OutcomeAnswered
		}
		return MsgNoResponse, OutcomeAnswered
	}

	f := res.Failure
	switch {
	case strings.TrimSpace(f.Error) != "":
		return f.Error, OutcomeFailed
	case strings.TrimSpace(f.Detail) != "":
		return f.Detail, OutcomeFailed
	case f.Kind == gateway.KindNetworkFailure:
		return MsgNetworkApology, OutcomeFailed
	default:
		return MsgErrorApology, OutcomeFailed
	}
}
