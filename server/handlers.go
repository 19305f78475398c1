package server

import (
	"context"

	"github.com/streampulse/collector/chat"
	"github.com/streampulse/collector/db"
)

// Collector is the part of chat.Collector the handlers drive.
type Collector interface {
	Start(channelID, streamEventID string) (*chat.Handle, error)
	Get(id string) (*chat.Handle, bool)
	Recent(id string) (chat.Outcome, bool)
	Active() []chat.Snapshot
	InFlight() int
	Capacity() int
}

// RunHistory lists finished collections; nil when history is disabled.
type RunHistory interface {
	ListRuns(ctx context.Context, channelID string, limit int) ([]db.Run, error)
	Ping(ctx context.Context) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	collector Collector
	runs      RunHistory
}

// NewHandlers creates a Handlers instance. runs may be nil.
func NewHandlers(collector Collector, runs RunHistory) *Handlers {
	return &Handlers{collector: collector, runs: runs}
}
