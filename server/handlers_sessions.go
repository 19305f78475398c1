package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/streampulse/collector/chat"
)

type sessionsResponse struct {
	Capacity int             `json:"capacity"`
	InFlight int             `json:"in_flight"`
	Sessions []chat.Snapshot `json:"sessions"`
}

// finishedSession describes a collection that is no longer in flight.
type finishedSession struct {
	RequestID     string    `json:"request_id"`
	ChannelID     string    `json:"channel_id"`
	StreamEventID string    `json:"stream_event_id"`
	State         string    `json:"state"`
	Status        string    `json:"status"`
	Messages      int       `json:"messages"`
	Interrupted   bool      `json:"interrupted"`
	Delivered     bool      `json:"delivered"`
	ErrorKind     string    `json:"error_kind"`
	Error         string    `json:"error,omitempty"`
	DeliveryError string    `json:"delivery_error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

func newFinishedSession(o chat.Outcome) finishedSession {
	fs := finishedSession{
		RequestID:     o.RequestID,
		ChannelID:     o.ChannelID,
		StreamEventID: o.StreamEventID,
		State:         "finished",
		Status:        string(o.Status),
		Messages:      len(o.Result.Messages),
		Interrupted:   o.Result.Interrupted,
		Delivered:     o.Delivered,
		ErrorKind:     o.Kind().String(),
		StartedAt:     o.StartedAt,
		FinishedAt:    o.FinishedAt,
	}
	if o.Err != nil {
		fs.Error = o.Err.Error()
	}
	if o.DeliveryErr != nil {
		fs.DeliveryError = o.DeliveryErr.Error()
	}
	return fs
}

// HandleSessionsList lists in-flight collections.
func (h *Handlers) HandleSessionsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{
		Capacity: h.collector.Capacity(),
		InFlight: h.collector.InFlight(),
		Sessions: h.collector.Active(),
	})
}

// HandleSessionDetail serves /sessions/{requestId}: live progress while the
// collection runs, then its outcome for as long as the collector remembers it.
func (h *Handlers) HandleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
	if id == "" {
		h.HandleSessionsList(w, r)
		return
	}
	if handle, ok := h.collector.Get(id); ok {
		writeJSON(w, http.StatusOK, handle.Snapshot())
		return
	}
	if o, ok := h.collector.Recent(id); ok {
		writeJSON(w, http.StatusOK, newFinishedSession(o))
		return
	}
	writeError(w, http.StatusNotFound, "no session with that id")
}
