package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/evlasova/capgallery/internal/errs"
)

// Error is a non-2xx backend response with a human-readable message extracted
// from the body: the "detail" field when present, otherwise field-level
// validation messages joined by " | ", each as "field: message[, message...]".
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (HTTP %d)", e.Message, e.Status)
}

// Is maps 401/404 statuses onto the shared sentinels so callers can use errors.Is.
func (e *Error) Is(target error) bool {
	switch target {
	case errs.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case errs.ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// NewError builds an Error from a status code and raw response body.
func NewError(status int, body []byte) *Error {
	return &Error{Status: status, Message: messageFromBody(status, body)}
}

// ErrorFromResponse drains resp.Body and builds an Error. The body is closed.
func ErrorFromResponse(resp *http.Response) *Error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return NewError(resp.StatusCode, body)
}

func messageFromBody(status int, body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || len(payload) == 0 {
		return fmt.Sprintf("request failed (HTTP %d)", status)
	}
	if d, ok := payload["detail"].(string); ok && d != "" {
		return d
	}

	fields := make([]string, 0, len(payload))
	for k := range payload {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		var msgs []string
		switch v := payload[field].(type) {
		case string:
			msgs = []string{v}
		case []any:
			for _, m := range v {
				msgs = append(msgs, fmt.Sprint(m))
			}
		default:
			msgs = []string{fmt.Sprint(v)}
		}
		parts = append(parts, field+": "+strings.Join(msgs, ", "))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("request failed (HTTP %d)", status)
	}
	return strings.Join(parts, " | ")
}

// DecodeJSON consumes resp: non-2xx becomes an *Error, 204 is treated as an
// empty valid result, and any other success body is unmarshalled into out
// (skipped when out is nil). The body is always closed.
func DecodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return NewError(resp.StatusCode, body)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUnexpectedPayload, err)
	}
	return nil
}
