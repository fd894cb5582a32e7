package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/feelancer21/lnunify"
)

// ParseResponse turns a raw HTTP response into the JSON payload or a typed
// error.
//
// A successful body holding one JSON document is returned as is, however it
// is indented. Line delimited bodies, as returned by streaming endpoints,
// carry the payload on the second to last line, the last line is a
// terminator.
//
// Failed responses prefer a structured error message over the raw text, and
// the raw text over a generic connection error.
func ParseResponse(status int, body []byte) (json.RawMessage, error) {
	if status < 300 {
		payload := bytes.TrimSpace(body)
		if !json.Valid(payload) && bytes.Contains(body, []byte("\n")) {
			lines := bytes.Split(body, []byte("\n"))
			if len(lines) >= 2 {
				payload = bytes.TrimSpace(lines[len(lines)-2])
			}
		}
		if len(payload) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(payload) {
			return nil, &lnunify.ProtocolError{
				Body: body,
				Err:  fmt.Errorf("invalid JSON in response with status %d", status),
			}
		}
		return json.RawMessage(payload), nil
	}

	if msg := errorMessage(body); msg != "" {
		return nil, lnunify.NewBackendError(status, msg)
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return nil, lnunify.NewBackendError(status, text)
	}
	return nil, lnunify.NewBackendError(status, "")
}

// errorMessage extracts error.message, message or error from a JSON body.
func errorMessage(body []byte) string {
	var v struct {
		Error   json.RawMessage `json:"error"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return ""
	}

	if len(v.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(v.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	if s := rawString(v.Message); s != "" {
		return s
	}
	return rawString(v.Error)
}

// rawString returns a JSON string's value, or the compact JSON text of any
// other non-null value.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var buf bytes.Buffer
	if json.Compact(&buf, raw) != nil {
		return string(raw)
	}
	return buf.String()
}
