package chat

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/streampulse/collector/telemetry"
)

// JoinSource supplies the captured join request for a channel.
type JoinSource interface {
	JoinPayload(ctx context.Context, channelID string) ([]byte, error)
}

// Deliverer hands a finished collection downstream.
type Deliverer interface {
	Deliver(ctx context.Context, channelID, streamEventID string, messages []string) error
}

// Recorder keeps an audit trail of finished collections. Optional.
type Recorder interface {
	RecordRun(ctx context.Context, o Outcome) error
}

// Status summarizes how a collection ended.
type Status string

const (
	// StatusCollected means at least one message was collected.
	StatusCollected Status = "collected"
	// StatusEmpty means the window closed without any chat observed.
	StatusEmpty Status = "empty"
	// StatusFailed means the session could not start (handshake failure).
	StatusFailed Status = "failed"
	// StatusUnavailable means no join payload could be obtained; no session ran.
	StatusUnavailable Status = "unavailable"
)

// Outcome is published when a collection request completes.
type Outcome struct {
	RequestID     string
	ChannelID     string
	StreamEventID string
	Status        Status
	Result        Result
	// Err is the reason a collection did not start; nil otherwise.
	Err error
	// DeliveryErr is set when the result could not be handed downstream.
	DeliveryErr error
	Delivered   bool
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Kind classifies why the collection fell short, preferring the start failure
// over the delivery failure. KindNone means collected and delivered.
func (o Outcome) Kind() ErrorKind {
	if o.Err != nil {
		return Classify(o.Err)
	}
	return Classify(o.DeliveryErr)
}

// Handle tracks one collection request.
type Handle struct {
	ID            string
	ChannelID     string
	StreamEventID string
	StartedAt     time.Time

	done    chan struct{}
	outcome Outcome
	mu      sync.Mutex
	session *Session
}

// Done is closed when the outcome is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome returns the result; only meaningful after Done is closed.
func (h *Handle) Outcome() Outcome {
	<-h.done
	return h.outcome
}

// Wait blocks until the collection finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Snapshot reports the progress of the request; safe to call from any goroutine.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	s := h.session
	h.mu.Unlock()
	if s == nil {
		return Snapshot{ID: h.ID, ChannelID: h.ChannelID, StreamEventID: h.StreamEventID, StartedAt: h.StartedAt, State: "awaiting_join"}
	}
	return s.Snapshot()
}

// CollectorConfig wires a Collector.
type CollectorConfig struct {
	Dialer    Dialer
	Source    JoinSource
	Deliverer Deliverer
	Recorder  Recorder
	Session   Options
	// JoinTimeout bounds the join payload lookup.
	JoinTimeout time.Duration
	// DeliveryTimeout bounds the downstream POST.
	DeliveryTimeout time.Duration
	// MaxConcurrent caps simultaneous sessions (default 4).
	MaxConcurrent int
	// RecentOutcomes is how many finished outcomes stay queryable (default 256).
	RecentOutcomes int
}

// Collector owns every in-flight session, keyed by request id. Sessions never
// share state; the collector only tracks them and runs the
// join → collect → deliver pipeline for each.
type Collector struct {
	ctx   context.Context
	cfg   CollectorConfig
	slots chan struct{}
	log   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Handle
	recent   *recentOutcomes
	wg       sync.WaitGroup
}

// NewCollector creates a collector. ctx is the host lifetime: cancelling it
// ends running sessions early, which still finalize and deliver.
func NewCollector(ctx context.Context, cfg CollectorConfig) *Collector {
	telemetry.Init()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 60 * time.Second
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if cfg.RecentOutcomes <= 0 {
		cfg.RecentOutcomes = 256
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WSDialer{}
	}
	logger := cfg.Session.Logger
	if logger == nil {
		logger = slog.Default()
	}
	slog.Info("collector concurrency limit initialized", slog.Int("max_concurrent", cfg.MaxConcurrent))
	return &Collector{
		ctx:      ctx,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		log:      logger.With(slog.String("component", "collector")),
		sessions: make(map[string]*Handle),
		recent:   newRecentOutcomes(cfg.RecentOutcomes),
	}
}

// Start begins a collection for (channelID, streamEventID) in the background.
// It fails fast with ErrBusy when every slot is taken.
func (c *Collector) Start(channelID, streamEventID string) (*Handle, error) {
	if channelID == "" || streamEventID == "" {
		return nil, ErrInvalidTrigger
	}
	if !c.acquireSlot() {
		return nil, ErrBusy
	}
	h := &Handle{
		ID:            uuid.New().String(),
		ChannelID:     channelID,
		StreamEventID: streamEventID,
		StartedAt:     time.Now().UTC(),
		done:          make(chan struct{}),
	}
	c.mu.Lock()
	c.sessions[h.ID] = h
	c.mu.Unlock()
	telemetry.ActiveSessions.Inc()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.releaseSlot()
		o := c.collect(h)
		c.mu.Lock()
		delete(c.sessions, h.ID)
		c.recent.add(o)
		c.mu.Unlock()
		telemetry.ActiveSessions.Dec()
		h.outcome = o
		close(h.done)
	}()
	return h, nil
}

// Collect runs one collection and blocks until its result has been handed off.
func (c *Collector) Collect(channelID, streamEventID string) (Outcome, error) {
	h, err := c.Start(channelID, streamEventID)
	if err != nil {
		return Outcome{}, err
	}
	return h.Outcome(), nil
}

// Get returns the handle of an in-flight request.
func (c *Collector) Get(id string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.sessions[id]
	return h, ok
}

// Recent returns the outcome of a finished request while it is still among
// the most recent RecentOutcomes.
func (c *Collector) Recent(id string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recent.get(id)
}

// Active lists in-flight sessions ordered by start time.
func (c *Collector) Active() []Snapshot {
	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.sessions))
	for _, h := range c.sessions {
		handles = append(handles, h)
	}
	c.mu.Unlock()
	out := make([]Snapshot, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Wait blocks until every started collection has finished.
func (c *Collector) Wait() { c.wg.Wait() }

func (c *Collector) collect(h *Handle) (o Outcome) {
	ctx := telemetry.WithCorrelation(c.ctx, h.ID)
	ctx, span := telemetry.StartSpan(ctx, "chat-collector", "collect",
		attribute.String("channel_id", h.ChannelID),
		attribute.String("stream_event_id", h.StreamEventID),
	)
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "collector"),
		slog.String("channel", h.ChannelID),
		slog.String("stream_event", h.StreamEventID),
	)

	o = Outcome{
		RequestID:     h.ID,
		ChannelID:     h.ChannelID,
		StreamEventID: h.StreamEventID,
		StartedAt:     time.Now().UTC(),
	}
	defer func() {
		o.FinishedAt = time.Now().UTC()
		span.SetAttributes(attribute.String("error_kind", o.Kind().String()))
		c.record(ctx, o)
	}()

	joinCtx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	payload, err := c.cfg.Source.JoinPayload(joinCtx, h.ChannelID)
	cancel()
	if err != nil {
		o.Status = StatusUnavailable
		o.Err = fmt.Errorf("%w: %w", ErrJoinUnavailable, err)
		telemetry.SessionsFailed.Inc()
		telemetry.RecordError(span, o.Err)
		logger.Error("join payload unavailable; no collection possible", slog.Any("err", err))
		return o
	}

	opts := c.cfg.Session
	if opts.Logger == nil {
		opts.Logger = telemetry.LoggerWithCorr(ctx)
	}
	session := NewSession(h.ID, h.ChannelID, h.StreamEventID, payload, c.cfg.Dialer, opts)
	h.mu.Lock()
	h.session = session
	h.mu.Unlock()
	telemetry.SessionsStarted.Inc()

	var res Result
	var runErr error
	telemetry.TimeFunc(telemetry.SessionDuration, func() {
		res, runErr = session.Run(ctx)
	})
	o.Result = res
	switch {
	case runErr != nil:
		o.Status = StatusFailed
		o.Err = runErr
		telemetry.SessionsFailed.Inc()
		telemetry.RecordError(span, runErr)
	case len(res.Messages) == 0:
		o.Status = StatusEmpty
		telemetry.SessionsCompleted.Inc()
	default:
		o.Status = StatusCollected
		telemetry.SessionsCompleted.Inc()
	}
	span.SetAttributes(attribute.Int("messages", len(res.Messages)), attribute.String("status", string(o.Status)))

	// an empty list is still delivered: "no chat observed" is a real answer
	o.DeliveryErr = c.deliver(ctx, res)
	o.Delivered = o.DeliveryErr == nil
	if o.DeliveryErr != nil {
		logger.Error("chat delivery failed", slog.Any("err", o.DeliveryErr), slog.Int("messages", len(res.Messages)))
	} else {
		logger.Info("chat delivered", slog.String("status", string(o.Status)), slog.Int("messages", len(res.Messages)))
	}
	if o.Err == nil && o.DeliveryErr == nil {
		telemetry.SetSpanSuccess(span)
	}
	return o
}

func (c *Collector) deliver(ctx context.Context, res Result) error {
	if c.cfg.Deliverer == nil {
		return fmt.Errorf("%w: no deliverer configured", ErrDelivery)
	}
	// shutdown must not cancel the final hand-off
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DeliveryTimeout)
	defer cancel()
	if err := c.cfg.Deliverer.Deliver(dctx, res.ChannelID, res.StreamEventID, res.Texts()); err != nil {
		telemetry.DeliveriesFailed.Inc()
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	telemetry.DeliveriesSucceeded.Inc()
	return nil
}

func (c *Collector) record(ctx context.Context, o Outcome) {
	if c.cfg.Recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.cfg.Recorder.RecordRun(rctx, o); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("failed to record run", slog.String("request_id", o.RequestID), slog.Any("err", err))
	}
}

func (c *Collector) acquireSlot() bool {
	select {
	case c.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Collector) releaseSlot() {
	select {
	case <-c.slots:
	default:
		c.log.Warn("session slot release called without corresponding acquire")
	}
}

// InFlight returns the number of occupied session slots.
func (c *Collector) InFlight() int { return len(c.slots) }

// Capacity returns the configured maximum concurrent sessions.
func (c *Collector) Capacity() int { return cap(c.slots) }

// recentOutcomes keeps the newest finished outcomes, evicting the oldest.
// Not safe for concurrent use; the collector guards it with its mutex.
type recentOutcomes struct {
	max   int
	order *list.List
	byID  map[string]*list.Element
}

func newRecentOutcomes(size int) *recentOutcomes {
	return &recentOutcomes{max: size, order: list.New(), byID: make(map[string]*list.Element)}
}

func (r *recentOutcomes) add(o Outcome) {
	if el, ok := r.byID[o.RequestID]; ok {
		el.Value = o
		r.order.MoveToFront(el)
		return
	}
	r.byID[o.RequestID] = r.order.PushFront(o)
	for r.order.Len() > r.max {
		oldest := r.order.Back()
		r.order.Remove(oldest)
		delete(r.byID, oldest.Value.(Outcome).RequestID)
	}
}

func (r *recentOutcomes) get(id string) (Outcome, bool) {
	el, ok := r.byID[id]
	if !ok {
		return Outcome{}, false
	}
	return el.Value.(Outcome), true
}
