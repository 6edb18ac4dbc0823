package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnreachable marks transport failures: no response was received.
var ErrUnreachable = errors.New("remote service unreachable")

// StatusError is a non-2xx reply without a usable body.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, body)
}

// SignupError carries the server's field errors keyed by server field name.
type SignupError struct {
	StatusCode int
	Fields     map[string][]string
}

func (e *SignupError) Error() string {
	return fmt.Sprintf("signup rejected with status %d (%d fields)", e.StatusCode, len(e.Fields))
}

// decodeFieldErrors accepts {field: [msg...]} and {field: "msg"} shapes.
func decodeFieldErrors(payload []byte) (map[string][]string, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil || len(raw) == 0 {
		return nil, false
	}
	fields := make(map[string][]string, len(raw))
	for key, value := range raw {
		var list []string
		if err := json.Unmarshal(value, &list); err == nil {
			fields[key] = list
			continue
		}
		var single string
		if err := json.Unmarshal(value, &single); err == nil {
			fields[key] = []string{single}
			continue
		}
		fields[key] = []string{strings.TrimSpace(string(value))}
	}
	return fields, true
}
