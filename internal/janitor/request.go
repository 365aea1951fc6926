// Package janitor decodes inbound chat completion requests in the Janitor
// wire shape and extracts the character, user and scenario fields that the
// client embeds in the leading system message.
package janitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/runixer/janiproxy/internal/chat"
)

// Request is the decoded inbound body. Params holds every top-level field
// except "messages", untouched.
type Request struct {
	Messages []chat.Message
	Model    string
	Params   map[string]json.RawMessage
}

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Decode parses a raw request body. It fails only when the body is not a
// JSON object or "messages" is not an array of messages.
func Decode(raw []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}

	req := Request{Params: make(map[string]json.RawMessage, len(fields))}
	for k, v := range fields {
		if k == "messages" {
			continue
		}
		req.Params[k] = v
	}

	if rawMessages, ok := fields["messages"]; ok && !isNull(rawMessages) {
		var wire []wireMessage
		if err := json.Unmarshal(rawMessages, &wire); err != nil {
			return Request{}, fmt.Errorf("decode messages: %w", err)
		}
		req.Messages = make([]chat.Message, 0, len(wire))
		for _, m := range wire {
			req.Messages = append(req.Messages, chat.Message{
				Role:    strings.ToLower(strings.TrimSpace(m.Role)),
				Content: flattenContent(m.Content),
			})
		}
	}

	if rawModel, ok := req.Params["model"]; ok {
		var model string
		if err := json.Unmarshal(rawModel, &model); err == nil {
			req.Model = model
		}
	}

	return req, nil
}

// flattenContent accepts either a plain string or an array of content parts
// and returns the concatenated text. Non-text parts are dropped.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range parts {
		if p.Type != "" && p.Type != "text" {
			continue
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
