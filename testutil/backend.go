package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// Delivery is one POST captured by Backend.
type Delivery struct {
	ChannelID     string
	StreamEventID string
	Messages      []string
	RawBody       string
	CorrelationID string
}

// Backend captures chat deliveries posted to /api/chat/{channelId}/{streamEventId}.
type Backend struct {
	*httptest.Server
	// Status is the response code; 200 when zero.
	Status int

	mu         sync.Mutex
	deliveries []Delivery
	arrived    chan struct{}
}

// NewBackend starts a capturing backend.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{arrived: make(chan struct{}, 64)}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest, ok := strings.CutPrefix(r.URL.Path, "/api/chat/")
		parts := strings.Split(rest, "/")
		if !ok || r.Method != http.MethodPost || len(parts) != 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var body struct {
			Messages []string `json:"messages"`
		}
		_ = json.Unmarshal(raw, &body) //nolint:errcheck // recorded raw body is asserted instead
		b.mu.Lock()
		b.deliveries = append(b.deliveries, Delivery{
			ChannelID:     parts[0],
			StreamEventID: parts[1],
			Messages:      body.Messages,
			RawBody:       string(raw),
			CorrelationID: r.Header.Get("X-Correlation-ID"),
		})
		status := b.Status
		b.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		b.arrived <- struct{}{}
	}))
	t.Cleanup(b.Close)
	return b
}

// Deliveries returns every captured POST in arrival order.
func (b *Backend) Deliveries() []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Delivery(nil), b.deliveries...)
}

// WaitDeliveries blocks until n deliveries have arrived.
func (b *Backend) WaitDeliveries(t *testing.T, n int, timeout time.Duration) []Delivery {
	t.Helper()
	deadline := time.After(timeout)
	for len(b.Deliveries()) < n {
		select {
		case <-b.arrived:
		case <-deadline:
			t.Fatalf("timed out waiting for %d deliveries, got %d", n, len(b.Deliveries()))
		}
	}
	return b.Deliveries()
}
