// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package event defines the stream events exchanged with the AI backend and
// the "data: <json>" line framing used on both sides of the relay.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type discriminates stream events.
type Type string

const (
	TypeResponse Type = "response"
	TypeError    Type = "error"
	TypeStatus   Type = "status"
	TypeProgress Type = "progress"
	TypeReport   Type = "report"
)

// Prefix marks an event line in a text/event-stream body.
const Prefix = "data: "

// ProcessingFailed is the content of the error event substituted for an
// upstream line that cannot be parsed.
const ProcessingFailed = "Failed to process server response"

// ErrMissingType is returned when a payload parses as JSON but carries no type.
var ErrMissingType = errors.New("event type is missing")

// StreamEvent is one event on the wire. Content is always a string downstream;
// Progress and Agent are only present for report streams.
type StreamEvent struct {
	Type     Type     `json:"type"`
	Content  string   `json:"content"`
	Progress *float64 `json:"progress,omitempty"`
	Agent    string   `json:"agent,omitempty"`
}

// wireEvent is the lenient upstream shape: content may be any JSON value.
type wireEvent struct {
	Type     Type            `json:"type"`
	Content  json.RawMessage `json:"content"`
	Progress *float64        `json:"progress"`
	Agent    string          `json:"agent"`
}

// Parse decodes the payload of an event line (the text after Prefix) and
// normalises it. Non-string content is kept as its compact JSON text.
func Parse(payload []byte) (StreamEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return StreamEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if w.Type == "" {
		return StreamEvent{}, ErrMissingType
	}

	content, err := normaliseContent(w.Content)
	if err != nil {
		return StreamEvent{}, err
	}

	return StreamEvent{
		Type:     w.Type,
		Content:  content,
		Progress: w.Progress,
		Agent:    w.Agent,
	}, nil
}

func normaliseContent(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode content: %w", err)
		}
		return s, nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return "", fmt.Errorf("compact content: %w", err)
	}
	return compact.String(), nil
}

// Payload extracts the text after Prefix from a single line. The line must
// not contain the trailing newline; a trailing carriage return is dropped.
func Payload(line []byte) ([]byte, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(Prefix)) {
		return nil, false
	}
	return line[len(Prefix):], true
}

// Encode renders ev as a complete event line including the blank-line
// terminator.
func Encode(ev StreamEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	out := make([]byte, 0, len(Prefix)+len(body)+2)
	out = append(out, Prefix...)
	out = append(out, body...)
	out = append(out, '\n', '\n')
	return out, nil
}

// Error builds an error event with the given content.
func Error(content string) StreamEvent {
	return StreamEvent{Type: TypeError, Content: content}
}

// Translate maps one upstream line to the downstream line that replaces it.
// Lines without Prefix yield nil. A payload that cannot be parsed yields the
// generic error event so a single bad line never ends the stream.
func Translate(line []byte) (out []byte, parseErr error) {
	payload, ok := Payload(line)
	if !ok {
		return nil, nil
	}

	ev, parseErr := Parse(payload)
	if parseErr != nil {
		ev = Error(ProcessingFailed)
	}

	out, err := Encode(ev)
	if err != nil {
		out, _ = Encode(Error(ProcessingFailed))
		return out, err
	}
	return out, parseErr
}
