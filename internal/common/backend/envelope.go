package backend

import (
	"bytes"
	"encoding/json"
)

// unwrap returns the payload of a {"data": ...} envelope, or body itself when
// the response is bare.
func unwrap(body []byte) json.RawMessage {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return body
	}
	data, ok := env["data"]
	if !ok || len(data) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return body
	}
	return data
}

// errorMessage extracts a human readable message from an error body. It looks
// at message, error (string or object), then errors[0].
func errorMessage(body []byte) string {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	if s, ok := m["message"].(string); ok && s != "" {
		return s
	}
	switch e := m["error"].(type) {
	case string:
		if e != "" {
			return e
		}
	case map[string]interface{}:
		if s, ok := e["message"].(string); ok && s != "" {
			return s
		}
	}
	if errs, ok := m["errors"].([]interface{}); ok && len(errs) > 0 {
		switch first := errs[0].(type) {
		case string:
			return first
		case map[string]interface{}:
			if s, ok := first["message"].(string); ok {
				return s
			}
		}
	}
	if data, ok := m["data"].(map[string]interface{}); ok {
		if s, ok := data["message"].(string); ok {
			return s
		}
	}
	return ""
}
