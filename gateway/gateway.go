package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gv211432/QueryDB-Natural-Language/logging"
)

const (
	sendMessagePath = "/send-message"
	maxBodyBytes    = 8 << 20
)

// Request is the payload forwarded to the backend, and the body accepted
// from clients.
type Request struct {
	Query string `json:"query"`
	DBURI string `json:"db_uri"`
}

// Gateway forwards queries to the external backend. One attempt per call.
type Gateway struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// New returns a Gateway that posts to {baseURL}/send-message.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		endpoint: strings.TrimRight(baseURL, "/") + sendMessagePath,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Endpoint is the full outbound URL.
func (g *Gateway) Endpoint() string { return g.endpoint }

// Forward sends exactly {query, db_uri} to the backend and normalizes the
// reply. It never returns a Go error: every failure is a Result.
func (g *Gateway) Forward(ctx context.Context, query, dbURI string) Result {
	if strings.TrimSpace(query) == "" || strings.TrimSpace(dbURI) == "" {
		g.logger.Debug("Rejected forward with missing input",
			zap.Bool("has_query", strings.TrimSpace(query) != ""),
			zap.Bool("has_db_uri", strings.TrimSpace(dbURI) != ""),
		)
		return MissingInput()
	}

	start := time.Now()
	res := g.do(ctx, Request{Query: query, DBURI: dbURI})

	fields := []zap.Field{
		zap.String("endpoint", g.endpoint),
		zap.String("db_uri", logging.SanitizeURI(dbURI)),
		zap.Int("status", res.Status),
		zap.Duration("duration", time.Since(start)),
	}
	if res.OK() {
		g.logger.Info("Backend request succeeded", fields...)
	} else {
		fields = append(fields, zap.String("kind", string(res.Failure.Kind)))
		g.logger.Warn("Backend request failed", fields...)
	}
	return res
}

func (g *Gateway) do(ctx context.Context, payload Request) Result {
	b, err := json.Marshal(payload)
	if err != nil {
		g.logger.Error("Failed to encode backend request", zap.Error(err))
		return NetworkFailure()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(b))
	if err != nil {
		g.logger.Error("Failed to build backend request", zap.Error(err))
		return NetworkFailure()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Error("Error calling backend", zap.String("error", logging.SanitizeURI(err.Error())))
		return NetworkFailure()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		g.logger.Error("Failed to read backend response", zap.Int("status", resp.StatusCode), zap.Error(err))
		return BadUpstreamResponse()
	}

	res := Normalize(resp.StatusCode, body)
	if res.Failure != nil && res.Failure.Kind == KindBadUpstreamResponse {
		g.logger.Error("Failed to parse backend response",
			zap.Int("status", resp.StatusCode),
			zap.String("body", logging.Truncate(string(body), 200)),
		)
	}
	return res
}
