package shared

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// shared types across the application
// the envelope is the only wire format: server relay and client session both
// parse raw frames with ParseEnvelope and never look at prefixes again

// wire prefixes, the prefix IS the format (no versioning)
const (
	ChatPrefix   = "CHAT:"
	ScreenPrefix = "SCREEN:"
)

// Kind tags what a raw frame carries
type Kind int

const (
	KindOther  Kind = iota // anything without a known prefix, relayed verbatim
	KindChat               // chat text
	KindScreen             // base64 encoded compressed image
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindScreen:
		return "screen"
	default:
		return "other"
	}
}

// Envelope = parsed frame, Payload has the prefix stripped
// (for KindOther the payload is the whole raw message)
type Envelope struct {
	Kind    Kind
	Payload string
	Binary  bool // arrived as a binary websocket frame, goes out as one
}

// ParseEnvelope tags a raw frame by prefix. The prefix is stripped once only,
// so "CHAT:CHAT:x" becomes a chat with payload "CHAT:x".
// There is no strict parser: unknown input degrades to KindOther.
func ParseEnvelope(raw string) Envelope {
	if payload, ok := strings.CutPrefix(raw, ChatPrefix); ok {
		return Envelope{Kind: KindChat, Payload: payload}
	}
	if payload, ok := strings.CutPrefix(raw, ScreenPrefix); ok {
		return Envelope{Kind: KindScreen, Payload: payload}
	}
	return Envelope{Kind: KindOther, Payload: raw}
}

// Raw re-encodes the envelope to its wire form
func (e Envelope) Raw() string {
	switch e.Kind {
	case KindChat:
		return ChatPrefix + e.Payload
	case KindScreen:
		return ScreenPrefix + e.Payload
	default:
		return e.Payload
	}
}

// Chat builds a chat envelope
func Chat(text string) Envelope {
	return Envelope{Kind: KindChat, Payload: text}
}

// Screen builds a screen envelope from an already base64 encoded payload
func Screen(encoded string) Envelope {
	return Envelope{Kind: KindScreen, Payload: encoded}
}

// EncodeFrame wraps compressed image bytes into a screen envelope
func EncodeFrame(image []byte) Envelope {
	return Screen(base64.StdEncoding.EncodeToString(image))
}

// Frame decodes the base64 payload of a screen envelope
func (e Envelope) Frame() ([]byte, error) {
	if e.Kind != KindScreen {
		return nil, fmt.Errorf("envelope is %s, not screen", e.Kind)
	}
	data, err := base64.StdEncoding.DecodeString(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screen frame: %w", err)
	}
	return data, nil
}

// Preview truncates long payloads for log lines
func Preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
