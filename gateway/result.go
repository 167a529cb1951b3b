package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
)

// Kind classifies a failed round trip.
type Kind string

const (
	KindMissingInput            Kind = "missing_input"
	KindBadUpstreamResponse     Kind = "bad_upstream_response"
	KindUpstreamReportedFailure Kind = "upstream_reported_failure"
	KindNetworkFailure          Kind = "network_failure"
)

// Fixed user-facing strings of the proxy contract.
const (
	MsgMissingInput        = "Query and database URI are required"
	MsgInvalidBackend      = "Invalid response from backend"
	MsgInvalidFormat       = "Invalid response format"
	MsgBackendError        = "Backend error"
	MsgFailedToProcess     = "Failed to process request"
	MsgConnectivityApology = "Sorry, I'm having trouble connecting to the database. Please try again later."
)

// Failure is the normalized error body returned to the client.
type Failure struct {
	Kind    Kind   `json:"-"`
	Status  int    `json:"-"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Result is either a success body (Failure == nil) or a Failure.
type Result struct {
	Status  int
	Body    json.RawMessage
	Failure *Failure
}

// OK reports whether the round trip succeeded.
func (r Result) OK() bool { return r.Failure == nil }

// Message returns the "message" field of a success body, or "" when the
// field is absent, null or the body is not an object.
func (r Result) Message() string {
	if r.Failure != nil || len(r.Body) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Body, &fields); err != nil {
		return ""
	}
	return fieldText(fields, "message")
}

// Success wraps an already-validated JSON body.
func Success(body []byte) Result {
	return Result{Status: http.StatusOK, Body: json.RawMessage(body)}
}

func failed(f *Failure) Result {
	return Result{Status: f.Status, Failure: f}
}

// MissingInput is returned before any network call when query or db_uri is blank.
func MissingInput() Result {
	return failed(&Failure{
		Kind:   KindMissingInput,
		Status: http.StatusBadRequest,
		Error:  MsgMissingInput,
	})
}

// BadUpstreamResponse is returned when the backend body is not JSON.
func BadUpstreamResponse() Result {
	return failed(&Failure{
		Kind:    KindBadUpstreamResponse,
		Status:  http.StatusInternalServerError,
		Error:   MsgInvalidBackend,
		Message: MsgInvalidFormat,
	})
}

// NetworkFailure is returned when the outbound call could not complete.
func NetworkFailure() Result {
	return failed(&Failure{
		Kind:    KindNetworkFailure,
		Status:  http.StatusInternalServerError,
		Error:   MsgFailedToProcess,
		Message: MsgConnectivityApology,
	})
}

// Normalize folds a backend status and raw body into a Result. The body is
// parsed regardless of status; a non-2xx status with a JSON body keeps the
// backend status and fills error/message through their fallback chains.
func Normalize(status int, body []byte) Result {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return BadUpstreamResponse()
	}

	if status >= 200 && status < 300 {
		return Success(trimmed)
	}

	var fields map[string]json.RawMessage
	// Non-object JSON (array, string, number) carries no named fields.
	_ = json.Unmarshal(trimmed, &fields)

	return failed(&Failure{
		Kind:    KindUpstreamReportedFailure,
		Status:  status,
		Error:   firstNonEmpty(fieldText(fields, "error"), fieldText(fields, "detail"), MsgBackendError),
		Message: firstNonEmpty(fieldText(fields, "message"), MsgFailedToProcess),
		Detail:  fieldText(fields, "detail"),
	})
}

// fieldText renders a JSON field as text: strings verbatim, other non-null
// values as compact JSON.
func fieldText(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
