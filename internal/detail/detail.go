// Package detail extracts a user-facing message from an API error body.
//
// Bodies follow the backend's {"detail": ...} / {"message": ...} convention.
// The raw body is never returned; only the extracted message.
package detail

import (
	"bytes"
	"encoding/json"
	"strings"
)

// MaxBody caps how much of an error body is read before parsing.
const MaxBody = 64 << 10

// Parse returns the message carried by body and whether one was found.
//
// A string detail is returned as is. A list detail (validation errors) is
// rendered as each item's "msg", or the item's JSON when it has none, joined
// by "; ". Any other detail value is rendered as JSON. Without a detail the
// "message" field is used.
func Parse(body []byte) (string, bool) {
	var data struct {
		Detail  json.RawMessage `json:"detail"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", false
	}

	if msg, ok := fromDetail(data.Detail); ok {
		return msg, true
	}

	var message string
	if err := json.Unmarshal(data.Message, &message); err == nil {
		message = strings.TrimSpace(message)
		if message != "" {
			return message, true
		}
	}
	return "", false
}

func fromDetail(raw json.RawMessage) (string, bool) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return "", false
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			parts = append(parts, itemMessage(item))
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, "; "), true
	case '{':
		return compact(raw), true
	default:
		return "", false
	}
}

func itemMessage(item json.RawMessage) string {
	var withMsg struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(item, &withMsg); err == nil && withMsg.Msg != "" {
		return withMsg.Msg
	}
	return compact(item)
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
