package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Error is a non-2xx reply. Detail carries the server's own message.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Detail)
}

// IsStatus reports whether err is an *Error with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Detail returns the server message carried by err, or err's text.
func Detail(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return err.Error()
}

func newError(code int, body []byte) *Error {
	detail := extractDetail(body)
	if detail == "" {
		detail = http.StatusText(code)
	}
	return &Error{StatusCode: code, Detail: detail}
}

// extractDetail pulls the human message out of the error shapes the server
// produces: {"detail": ...}, {"non_field_errors": [...]}, a bare list of
// messages, or per-field errors.
func extractDetail(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, key := range []string{"detail", "non_field_errors", "error", "message"} {
			if msg := firstMessage(obj[key]); msg != "" {
				return msg
			}
		}

		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if msg := firstMessage(obj[k]); msg != "" {
				return k + ": " + msg
			}
		}
		return ""
	}

	if msg := firstMessage(body); msg != "" {
		return msg
	}
	if body[0] == '<' {
		return ""
	}
	return strings.TrimSpace(string(body))
}

func firstMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}
