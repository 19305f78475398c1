// Package chzzk implements the wire format of the Chzzk live chat service:
// frame envelopes, command codes, request builders and chat entry parsing.
// It has no I/O; the chat package drives the socket.
package chzzk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ServiceID is the svcid used by every chat frame.
const ServiceID = "game"

// Command codes observed on the chat socket.
const (
	CmdServerPing = 0
	CmdJoin       = 100
	CmdRecentChat = 5101
	CmdClientPong = 10000
	CmdJoinAck    = 10100
	CmdChat       = 93101
)

// DefaultRecentMessageCount is the backlog size requested after the handshake.
const DefaultRecentMessageCount = 50

// ErrMalformedFrame is returned by DecodeFrame for anything that is not a JSON object.
var ErrMalformedFrame = errors.New("chzzk: malformed frame")

// Frame is the envelope shared by inbound and outbound messages.
type Frame struct {
	SvcID   string          `json:"svcid,omitempty"`
	Ver     string          `json:"ver,omitempty"`
	Cmd     int             `json:"cmd"`
	CID     string          `json:"cid,omitempty"`
	SID     string          `json:"sid,omitempty"`
	TID     int             `json:"tid,omitempty"`
	RetCode *int            `json:"retCode,omitempty"`
	Bdy     json.RawMessage `json:"bdy,omitempty"`
}

// DecodeFrame parses a raw socket payload.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return f, ErrMalformedFrame
	}
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return f, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// Encode serializes the frame for the socket.
func (f Frame) Encode() ([]byte, error) { return json.Marshal(f) }

// JoinSID returns the sid carried by a successful join acknowledgment.
func (f Frame) JoinSID() (string, bool) {
	if f.Cmd != CmdJoinAck || f.RetCode == nil || *f.RetCode != 0 {
		return "", false
	}
	var body struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(f.Bdy, &body); err != nil || body.SID == "" {
		return "", false
	}
	return body.SID, true
}

// IsRecentChatAck reports whether the frame answers the backlog request.
// The payload is not inspected.
func (f Frame) IsRecentChatAck() bool { return f.Cmd == CmdRecentChat }

// IsServerPing reports whether the service is probing the client at application level.
// Server pings look like {"ver":"2","cmd":0}; a frame without ver is not treated as one.
func (f Frame) IsServerPing() bool { return f.Cmd == CmdServerPing && f.Ver != "" }

// ChatEntries returns the entries of a live broadcast frame. ok is false when the
// frame is not a chat broadcast or its body is not an array.
func (f Frame) ChatEntries() (entries []ChatEntry, ok bool) {
	if f.Cmd != CmdChat || f.SvcID != ServiceID {
		return nil, false
	}
	body := bytes.TrimSpace(f.Bdy)
	if len(body) == 0 || body[0] != '[' {
		return nil, false
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false
	}
	entries = make([]ChatEntry, 0, len(raw))
	for _, r := range raw {
		var e ChatEntry
		// entries that are not objects carry no text; keep the slot so callers see the count
		_ = json.Unmarshal(r, &e)
		entries = append(entries, e)
	}
	return entries, true
}

// NewRecentChatRequest asks the service to replay the last n messages.
func NewRecentChatRequest(cid, sid string, n int) Frame {
	if n <= 0 {
		n = DefaultRecentMessageCount
	}
	bdy, _ := json.Marshal(map[string]int{"recentMessageCount": n})
	return Frame{SvcID: ServiceID, Ver: "3", Cmd: CmdRecentChat, CID: cid, SID: sid, TID: 2, Bdy: bdy}
}

// NewSubscribeRequest subscribes the connection to the live chat broadcast.
func NewSubscribeRequest(cid, sid string) Frame {
	return Frame{SvcID: ServiceID, Ver: "1", Cmd: CmdChat, CID: cid, SID: sid, TID: 3, Bdy: json.RawMessage(`[]`)}
}

// NewPong answers an application-level server ping.
func NewPong() Frame { return Frame{Ver: "2", Cmd: CmdClientPong} }
