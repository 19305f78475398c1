package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/streampulse/collector/chat"
	"github.com/streampulse/collector/telemetry"
)

// maxTriggerBody bounds the POST /crawler request body.
const maxTriggerBody = 16 << 10

type triggerRequest struct {
	ChannelID     string `json:"channelId"`
	StreamEventID string `json:"streamEventId"`
	// HighlightID is the legacy name of StreamEventID.
	HighlightID string `json:"highlightId"`
}

func (t triggerRequest) eventID() string {
	if t.StreamEventID != "" {
		return t.StreamEventID
	}
	return t.HighlightID
}

type triggerResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// HandleCrawler starts a collection for {channelId, streamEventId} and answers 202 without waiting.
func (h *Handlers) HandleCrawler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	logger := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "http_trigger"))

	req, err := decodeTrigger(w, r)
	if err != nil {
		telemetry.RejectTrigger("bad_request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	channelID, eventID := strings.TrimSpace(req.ChannelID), strings.TrimSpace(req.eventID())
	if channelID == "" || eventID == "" {
		telemetry.RejectTrigger("missing_ids")
		writeError(w, http.StatusBadRequest, "channelId and streamEventId are required")
		return
	}

	handle, err := h.collector.Start(channelID, eventID)
	switch {
	case errors.Is(err, chat.ErrBusy):
		telemetry.RejectTrigger("busy")
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "collector at capacity, retry later")
		return
	case errors.Is(err, chat.ErrInvalidTrigger):
		telemetry.RejectTrigger("missing_ids")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logger.Error("failed to start collection", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to start collection")
		return
	}

	logger.Info("chat collection started",
		slog.String("request_id", handle.ID),
		slog.String("channel", channelID),
		slog.String("stream_event", eventID))
	writeJSON(w, http.StatusAccepted, triggerResponse{Message: "chat collection started", RequestID: handle.ID})
}

func decodeTrigger(w http.ResponseWriter, r *http.Request) (triggerRequest, error) {
	var req triggerRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxTriggerBody)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return req, errors.New("invalid form body")
		}
		req.ChannelID = r.PostForm.Get("channelId")
		req.StreamEventID = r.PostForm.Get("streamEventId")
		req.HighlightID = r.PostForm.Get("highlightId")
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errors.New("invalid JSON body")
	}
	return req, nil
}
