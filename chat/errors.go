package chat

import (
	"errors"
)

// Failure kinds of a collection. Only ErrHandshake is reported to the caller as
// "no collection possible"; the others are handled inside the session.
var (
	// ErrHandshake means the join payload was unusable or the socket failed before the join was sent.
	ErrHandshake = errors.New("chat: handshake failure")
	// ErrFrameParse marks an inbound frame that was not structured data. It is dropped.
	ErrFrameParse = errors.New("chat: frame parse error")
	// ErrTransport marks a socket-level error. The window stays the only termination authority.
	ErrTransport = errors.New("chat: transport error")
	// ErrDelivery wraps a failed hand-off of the result downstream.
	ErrDelivery = errors.New("chat: delivery error")
	// ErrJoinUnavailable means no join payload could be obtained for the channel; no session was created.
	ErrJoinUnavailable = errors.New("chat: join payload unavailable")

	// ErrBusy is returned by Collector.Start when every session slot is taken.
	ErrBusy = errors.New("chat: collector at capacity")
	// ErrInvalidTrigger is returned for an empty channel or stream event id.
	ErrInvalidTrigger = errors.New("chat: channel id and stream event id are required")
	// ErrAlreadyRun is returned when Run is called twice on one session.
	ErrAlreadyRun = errors.New("chat: session already run")
)

// ErrorKind names the failure class of an error.
type ErrorKind int

const (
	// KindNone is returned for a nil error.
	KindNone ErrorKind = iota
	KindHandshake
	KindFrameParse
	KindTransport
	KindDelivery
	KindJoinUnavailable
	KindUnknown
)

// String returns a human-readable name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindHandshake:
		return "handshake"
	case KindFrameParse:
		return "frame_parse"
	case KindTransport:
		return "transport"
	case KindDelivery:
		return "delivery"
	case KindJoinUnavailable:
		return "join_unavailable"
	default:
		return "unknown"
	}
}

// Classify maps an error to its failure kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrHandshake):
		return KindHandshake
	case errors.Is(err, ErrJoinUnavailable):
		return KindJoinUnavailable
	case errors.Is(err, ErrDelivery):
		return KindDelivery
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrFrameParse):
		return KindFrameParse
	default:
		return KindUnknown
	}
}
