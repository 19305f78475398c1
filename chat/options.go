package chat

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/streampulse/collector/chzzk"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultWindow       = 30 * time.Second
	DefaultPingInterval = 60 * time.Second
	writeWait           = 10 * time.Second
)

// Options tune a session.
type Options struct {
	// Window is the collection duration.
	Window time.Duration
	// PingInterval is the period of websocket ping control frames.
	PingInterval time.Duration
	// RecentMessageCount is the backlog size requested after the join.
	RecentMessageCount int
	// Reconnect is disabled unless MaxAttempts > 0.
	Reconnect ReconnectPolicy
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.RecentMessageCount <= 0 {
		o.RecentMessageCount = chzzk.DefaultRecentMessageCount
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ReconnectPolicy controls re-dialing after the socket closes mid-window.
// Attempts never outlive the window; MaxAttempts caps them within it.
type ReconnectPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Enabled reports whether reconnects are allowed at all.
func (p ReconnectPolicy) Enabled() bool { return p.MaxAttempts > 0 }

func (p ReconnectPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	b.MaxInterval = 10 * time.Second
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	b.Reset()
	return b
}
