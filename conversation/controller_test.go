package conversation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gv211432/QueryDB-Natural-Language/gateway"
)

// fakeForwarder returns a fixed Result and records what it was asked.
type fakeForwarder struct {
	mu     sync.Mutex
	result gateway.Result
	calls  int32
	query  string
	dbURI  string
	ctxErr error
}

func (f *fakeForwarder) Forward(ctx context.Context, query, dbURI string) gateway.Result {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.query, f.dbURI, f.ctxErr = query, dbURI, ctx.Err()
	f.mu.Unlock()
	return f.result
}

func (f *fakeForwarder) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

// blockingForwarder parks every call until release is closed.
type blockingForwarder struct {
	entered chan struct{}
	release chan struct{}
	calls   int32
}

func newBlockingForwarder() *blockingForwarder {
	return &blockingForwarder{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingForwarder) Forward(ctx context.Context, query, dbURI string) gateway.Result {
	atomic.AddInt32(&b.calls, 1)
	b.entered <- struct{}{}
	<-b.release
	return gateway.Success([]byte(`{"message":"done"}`))
}

type memoryRecorder struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *memoryRecorder) Record(ctx context.Context, sessionID string, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return r.err
}

func newTestSession(fwd Forwarder) *Session {
	return NewSession("test-session", fwd, nil, zap.NewNop())
}

func TestSubmit_NoConnection(t *testing.T) {
	fwd := &fakeForwarder{}
	s := newTestSession(fwd)

	outcome := s.Controller.Submit(context.Background(), "list all tables")

	assert.Equal(t, OutcomeNoConnection, outcome)
	msgs := s.State.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.Equal(t, "No database URI provided. Please add a connection in the sidebar.", msgs[0].Content)
	assert.Equal(t, 0, fwd.Calls())
	assert.False(t, s.State.Awaiting())
}

func TestSubmit_BlankIsIgnored(t *testing.T) {
	fwd := &fakeForwarder{}
	s := newTestSession(fwd)
	require.NoError(t, s.Controller.SetConnection("postgresql://localhost/shop", KindPostgreSQL))

	for _, raw := range []string{"", "   ", "\n\t"} {
		assert.Equal(t, OutcomeIgnored, s.Controller.Submit(context.Background(), raw))
	}
	assert.Equal(t, 0, s.State.Len())
	assert.Equal(t, 0, fwd.Calls())
}

func TestSubmit_Success(t *testing.T) {
	fwd := &fakeForwarder{result: gateway.Success([]byte(`{"message":"SELECT name FROM customers LIMIT 5"}`))}
	s := newTestSession(fwd)
	require.NoError(t, s.Controller.SetConnection("  postgresql://localhost/shop  ", KindPostgreSQL))
	s.Controller.SetDraft("  top 5 customers  ")

	outcome := s.Controller.SubmitDraft(context.Background())

	assert.Equal(t, OutcomeAnswered, outcome)
	assert.Equal(t, "top 5 customers", fwd.query)
	assert.Equal(t, "postgresql://localhost/shop", fwd.dbURI)

	msgs := s.State.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "top 5 customers", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "SELECT name FROM customers LIMIT 5", msgs[1].Content)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
	assert.False(t, s.State.Awaiting())
	assert.Empty(t, s.State.Draft(), "accepted submission clears the draft")
}

func TestSubmit_EmptyMessageFallback(t *testing.T) {
	for _, body := range []string{`{}`, `{"message":""}`, `{"message":null}`} {
		fwd := &fakeForwarder{result: gateway.Success([]byte(body))}
		s := newTestSession(fwd)
		require.NoError(t, s.Controller.SetConnection("sqlite:///app.db", KindSQLite))

		assert.Equal(t, OutcomeAnswered, s.Controller.Submit(context.Background(), "q"))
		msgs := s.State.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, "No response received", msgs[1].Content)
	}
}

func TestSubmit_FailureContent(t *testing.T) {
	tests := []struct {
		name   string
		result gateway.Result
		want   string
	}{
		{
			name:   "upstream error field",
			result: gateway.Normalize(http.StatusBadRequest, []byte(`{"detail":"(psycopg2.OperationalError) could not connect"}`)),
			want:   "(psycopg2.OperationalError) could not connect",
		},
		{
			name:   "proxy network failure shows proxy error",
			result: gateway.NetworkFailure(),
			want:   gateway.MsgFailedToProcess,
		},
		{
			name:   "bad upstream body",
			result: gateway.BadUpstreamResponse(),
			want:   gateway.MsgInvalidBackend,
		},
		{
			name:   "detail used when error is empty",
			result: gateway.Result{Status: 502, Failure: &gateway.Failure{Kind: gateway.KindUpstreamReportedFailure, Status: 502, Detail: "gateway down"}},
			want:   "gateway down",
		},
		{
			name:   "client-side network failure apology",
			result: gateway.Result{Failure: &gateway.Failure{Kind: gateway.KindNetworkFailure}},
			want:   MsgNetworkApology,
		},
		{
			name:   "textless failure apology",
			result: gateway.Result{Status: 500, Failure: &gateway.Failure{Kind: gateway.KindUpstreamReportedFailure, Status: 500}},
			want:   MsgErrorApology,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(&fakeForwarder{result: tt.result})
			require.NoError(t, s.Controller.SetConnection("mysql://localhost/app", KindMySQL))

			assert.Equal(t, OutcomeFailed, s.Controller.Submit(context.Background(), "q"))
			msgs := s.State.Messages()
			require.Len(t, msgs, 2)
			assert.Equal(t, RoleAssistant, msgs[1].Role)
			assert.Equal(t, tt.want, msgs[1].Content)
			assert.False(t, s.State.Awaiting())
		})
	}
}

func TestSubmit_BusyIsNoop(t *testing.T) {
	fwd := newBlockingForwarder()
	s := newTestSession(fwd)
	require.NoError(t, s.Controller.SetConnection("postgresql://localhost/shop", KindPostgreSQL))

	done := make(chan Outcome, 1)
	go func() { done <- s.Controller.Submit(context.Background(), "first") }()

	select {
	case <-fwd.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first submission never reached the forwarder")
	}
	require.True(t, s.State.Awaiting())
	before := s.State.Len()

	assert.Equal(t, OutcomeBusy, s.Controller.Submit(context.Background(), "second"))
	assert.Equal(t, before, s.State.Len())
	assert.Equal(t, int32(1), atomic.LoadInt32(&fwd.calls))

	close(fwd.release)
	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeAnswered, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("first submission never finished")
	}
	assert.False(t, s.State.Awaiting())
	assert.Equal(t, 2, s.State.Len())
}

func TestSubmit_ConcurrentCallersSingleFlight(t *testing.T) {
	fwd := newBlockingForwarder()
	s := newTestSession(fwd)
	require.NoError(t, s.Controller.SetConnection("postgresql://localhost/shop", KindPostgreSQL))

	var wg sync.WaitGroup
	outcomes := make(chan Outcome, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- s.Controller.Submit(context.Background(), "race")
		}()
	}

	<-fwd.entered
	close(fwd.release)
	wg.Wait()
	close(outcomes)

	answered := 0
	for o := range outcomes {
		if o == OutcomeAnswered {
			answered++
		}
	}
	assert.Equal(t, int32(answered), atomic.LoadInt32(&fwd.calls))
	assert.Equal(t, 2*answered, s.State.Len())
}

func TestSubmit_SequentialRoundTrips(t *testing.T) {
	fwd := &fakeForwarder{result: gateway.Success([]byte(`{"message":"42"}`))}
	s := newTestSession(fwd)
	require.NoError(t, s.Controller.SetConnection("postgresql://localhost/shop", KindPostgreSQL))

	assert.Equal(t, OutcomeAnswered, s.Controller.Submit(context.Background(), "how many orders?"))
	assert.Equal(t, OutcomeAnswered, s.Controller.Submit(context.Background(), "how many orders?"))

	msgs := s.State.Messages()
	require.Len(t, msgs, 4)
	wantRoles := []Role{RoleUser, RoleAssistant, RoleUser, RoleAssistant}
	for i, m := range msgs {
		assert.Equal(t, wantRoles[i], m.Role)
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(msgs[i-1].CreatedAt), "messages are chronological")
		}
	}
	assert.Equal(t, 2, fwd.Calls())
}

func TestSubmit_NotCancelledByCaller(t *testing.T) {
	fwd := &fakeForwarder{result: gateway.Success([]byte(`{"message":"ok"}`))}
	s := newTestSession(fwd)
	require.NoError(t, s.Controller.SetConnection("postgresql://localhost/shop", KindPostgreSQL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, OutcomeAnswered, s.Controller.Submit(ctx, "q"))
	assert.NoError(t, fwd.ctxErr)
}

type panickingForwarder struct{}

func (panickingForwarder) Forward(ctx context.Context, query, dbURI string) gateway.Result {
	panic("boom")
}

func TestSubmit_ReleasesLatchOnPanic(t *testing.T) {
	s := newTestSession(panickingForwarder{})
	require.NoError(t, s.Controller.SetConnection("postgresql://localhost/shop", KindPostgreSQL))

	assert.Panics(t, func() { s.Controller.Submit(context.Background(), "q") })
	assert.False(t, s.State.Awaiting())
}

func TestSubmit_NeverTouchesConnection(t *testing.T) {
	fwd := &fakeForwarder{result: gateway.NetworkFailure()}
	s := newTestSession(fwd)
	require.NoError(t, s.Controller.SetConnection("mongodb://localhost/app", KindMongoDB))

	s.Controller.Submit(context.Background(), "q")
	s.Controller.Clear()

	d, ok := s.Connection.Get()
	require.True(t, ok)
	assert.Equal(t, Descriptor{URI: "mongodb://localhost/app", Kind: KindMongoDB}, d)
}

func TestClear(t *testing.T) {
	fwd := &fakeForwarder{result: gateway.Success([]byte(`{"message":"ok"}`))}
	s := newTestSession(fwd)
	require.NoError(t, s.Controller.SetConnection("postgresql://localhost/shop", KindPostgreSQL))
	s.Controller.Submit(context.Background(), "q")
	s.Controller.SetDraft("half typed")

	s.Controller.Clear()

	assert.Equal(t, 0, s.State.Len())
	assert.Empty(t, s.State.Draft())
	_, ok := s.Connection.Get()
	assert.True(t, ok)
}

func TestCopy(t *testing.T) {
	s := newTestSession(&fakeForwarder{})
	m := s.State.Append(RoleAssistant, "SELECT 1")

	got, err := s.Controller.Copy(m.ID)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.Equal(t, m.ID, s.State.LastCopiedID())

	_, err = s.Controller.Copy("missing")
	assert.True(t, errors.Is(err, ErrMessageNotFound))
}

func TestRecorderSeesEveryMessage(t *testing.T) {
	rec := &memoryRecorder{err: errors.New("disk full")}
	fwd := &fakeForwarder{result: gateway.Success([]byte(`{"message":"ok"}`))}
	s := NewSession("rec", fwd, rec, zap.NewNop())

	s.Controller.Submit(context.Background(), "before connecting")
	require.NoError(t, s.Controller.SetConnection("postgresql://localhost/shop", ""))
	s.Controller.Submit(context.Background(), "after connecting")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.msgs, 3, "recorder failures never block the conversation")
	assert.Equal(t, MsgNoConnection, rec.msgs[0].Content)
	assert.Equal(t, "after connecting", rec.msgs[1].Content)
	assert.Equal(t, "ok", rec.msgs[2].Content)
	assert.Equal(t, 3, s.State.Len())
}
