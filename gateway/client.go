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
)

// Client calls a running proxy's inbound endpoint and folds its reply back
// into a Result, so session-side code can talk to a remote proxy the same
// way it talks to an in-process Gateway.
type Client struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewClient targets {proxyURL}/send-message.
func NewClient(proxyURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: strings.TrimRight(proxyURL, "/") + sendMessagePath,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Forward posts {query, db_uri} to the proxy. Transport errors and replies
// that are not JSON are network failures from the client's point of view.
func (c *Client) Forward(ctx context.Context, query, dbURI string) Result {
	b, err := json.Marshal(Request{Query: query, DBURI: dbURI})
	if err != nil {
		return clientNetworkFailure()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		return clientNetworkFailure()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Network error", zap.String("endpoint", c.endpoint), zap.Error(err))
		return clientNetworkFailure()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.logger.Warn("Failed to read proxy response", zap.Error(err))
		return clientNetworkFailure()
	}
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		c.logger.Warn("Proxy returned a non-JSON body", zap.Int("status", resp.StatusCode))
		return clientNetworkFailure()
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Success(body)
	}

	var fields map[string]json.RawMessage
	_ = json.Unmarshal(body, &fields)

	kind := KindUpstreamReportedFailure
	if resp.StatusCode == http.StatusBadRequest && fieldText(fields, "error") == MsgMissingInput {
		kind = KindMissingInput
	}
	return failed(&Failure{
		Kind:    kind,
		Status:  resp.StatusCode,
		Error:   fieldText(fields, "error"),
		Message: fieldText(fields, "message"),
		Detail:  fieldText(fields, "detail"),
	})
}

// clientNetworkFailure carries no text: the session supplies its own apology.
func clientNetworkFailure() Result {
	return failed(&Failure{Kind: KindNetworkFailure})
}
