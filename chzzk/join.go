package chzzk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidJoinPayload is returned when a join payload is not a JSON object carrying a cid.
var ErrInvalidJoinPayload = errors.New("chzzk: invalid join payload")

// JoinPayload is the join request captured from the live page. It is sent on the
// socket exactly as received; only cid is read from it.
type JoinPayload struct {
	raw []byte
	cid string
}

// ParseJoinPayload validates a captured join request.
func ParseJoinPayload(b []byte) (JoinPayload, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return JoinPayload{}, fmt.Errorf("%w: not a JSON object", ErrInvalidJoinPayload)
	}
	var head struct {
		CID string `json:"cid"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return JoinPayload{}, fmt.Errorf("%w: %v", ErrInvalidJoinPayload, err)
	}
	if head.CID == "" {
		return JoinPayload{}, fmt.Errorf("%w: missing cid", ErrInvalidJoinPayload)
	}
	raw := make([]byte, len(b))
	copy(raw, b)
	return JoinPayload{raw: raw, cid: head.CID}, nil
}

// CID returns the channel-scoped connection id.
func (p JoinPayload) CID() string { return p.cid }

// Bytes returns a copy of the payload as captured.
func (p JoinPayload) Bytes() []byte {
	out := make([]byte, len(p.raw))
	copy(out, p.raw)
	return out
}

// IsZero reports whether the payload was never parsed.
func (p JoinPayload) IsZero() bool { return p.cid == "" }

// MarshalJSON emits the captured payload unchanged.
func (p JoinPayload) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte("null"), nil
	}
	return p.Bytes(), nil
}
