package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/streampulse/collector/chzzk"
	"github.com/streampulse/collector/telemetry"
)

// State is the protocol position of a session.
type State int32

const (
	StateConnecting State = iota
	StateJoinSent
	StateBackfillRequested
	// StateSubscribed is where messages are collected.
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoinSent:
		return "join_sent"
	case StateBackfillRequested:
		return "backfill_requested"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is one collected chat line.
type Message struct {
	Content    string    `json:"content"`
	Nickname   string    `json:"nickname,omitempty"`
	SentAt     time.Time `json:"sent_at,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Result is the finalized output of a session. It is built once, when the
// window closes, and never modified afterwards.
type Result struct {
	ChannelID     string
	StreamEventID string
	Messages      []Message
	StartedAt     time.Time
	ClosedAt      time.Time
	// Interrupted is set when host shutdown ended the session before the window.
	Interrupted bool
}

// Texts returns the message contents in arrival order. It is never nil.
func (r Result) Texts() []string {
	out := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, m.Content)
	}
	return out
}

// Snapshot is a point-in-time view of a running session.
type Snapshot struct {
	ID            string    `json:"id"`
	ChannelID     string    `json:"channel_id"`
	StreamEventID string    `json:"stream_event_id"`
	State         string    `json:"state"`
	Connected     bool      `json:"connected"`
	Messages      int       `json:"messages"`
	StartedAt     time.Time `json:"started_at"`
	Deadline      time.Time `json:"deadline"`
}

type inbound struct {
	gen  int
	data []byte
	err  error
}

type dialResult struct {
	conn Conn
	err  error
}

// Session drives one chat socket through join, backlog request and subscribe,
// then collects broadcast messages until its window closes. All protocol state
// is owned by the goroutine executing Run; the socket reader only forwards
// frames to it.
type Session struct {
	id            string
	channelID     string
	streamEventID string
	rawJoin       []byte
	dialer        Dialer
	opts          Options
	log           *slog.Logger
	window        *Window
	startedAt     time.Time

	ran       atomic.Bool
	state     atomic.Int32
	connected atomic.Bool
	count     atomic.Int64

	// owned by Run
	join     chzzk.JoinPayload
	sid      string
	conn     Conn
	connOpen bool
	gen      int
	messages []Message
	attempts int
	backoff  *backoff.ExponentialBackOff
	result   Result
}

// NewSession creates a session and starts its collection window immediately;
// Run should follow without delay.
func NewSession(id, channelID, streamEventID string, joinPayload []byte, dialer Dialer, opts Options) *Session {
	telemetry.Init()
	opts = opts.withDefaults()
	s := &Session{
		id:            id,
		channelID:     channelID,
		streamEventID: streamEventID,
		rawJoin:       joinPayload,
		dialer:        dialer,
		opts:          opts,
		startedAt:     time.Now().UTC(),
		window:        StartWindow(opts.Window),
		messages:      make([]Message, 0, 64),
	}
	s.log = opts.Logger.With(
		slog.String("component", "chat_session"),
		slog.String("request_id", id),
		slog.String("channel", channelID),
		slog.String("stream_event", streamEventID),
	)
	if opts.Reconnect.Enabled() {
		s.backoff = opts.Reconnect.newBackOff()
	}
	return s
}

// ID returns the request id the session was created for.
func (s *Session) ID() string { return s.id }

// Snapshot reports progress; safe to call from any goroutine.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:            s.id,
		ChannelID:     s.channelID,
		StreamEventID: s.streamEventID,
		State:         State(s.state.Load()).String(),
		Connected:     s.connected.Load(),
		Messages:      int(s.count.Load()),
		StartedAt:     s.startedAt,
		Deadline:      s.window.Deadline(),
	}
}

// Run executes the session until the window expires or ctx is cancelled and
// returns the finalized result. The error is non-nil only for a handshake
// failure, in which case the result is empty.
func (s *Session) Run(ctx context.Context) (Result, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRun
	}
	stop := make(chan struct{})
	defer close(stop)
	events := make(chan inbound)

	join, err := chzzk.ParseJoinPayload(s.rawJoin)
	if err != nil {
		return s.abort(fmt.Errorf("%w: %w", ErrHandshake, err))
	}
	s.join = join

	dialCtx, cancel := context.WithDeadline(ctx, s.window.Deadline())
	conn, err := s.dialer.Dial(dialCtx)
	cancel()
	if err != nil {
		return s.abort(fmt.Errorf("%w: %w", ErrHandshake, err))
	}
	if err := s.adopt(conn, events, stop); err != nil {
		return s.abort(fmt.Errorf("%w: %w", ErrHandshake, err))
	}
	s.log.Info("chat socket joined", slog.Time("deadline", s.window.Deadline()))

	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	var (
		reconnectTimer *time.Timer
		reconnectC     <-chan time.Time
		dialed         chan dialResult
		dialCancel     context.CancelFunc = func() {}
	)
	defer func() {
		if reconnectTimer != nil {
			reconnectTimer.Stop()
		}
		dialCancel()
	}()
	scheduleReconnect := func() {
		d, ok := s.nextReconnect()
		if !ok {
			return
		}
		reconnectTimer = time.NewTimer(d)
		reconnectC = reconnectTimer.C
	}

	for {
		select {
		case <-s.window.C():
			res, _ := s.finalize(nil, false)
			s.log.Info("collection window closed", slog.Int("messages", len(res.Messages)), slog.String("state", s.lastState().String()))
			return res, nil

		case <-ctx.Done():
			res, _ := s.finalize(nil, true)
			s.log.Warn("collection interrupted by shutdown", slog.Int("messages", len(res.Messages)))
			return res, nil

		case ev := <-events:
			if ev.gen != s.gen {
				continue
			}
			if ev.err != nil {
				s.onTransportError(ev.err)
				if !s.connOpen && reconnectC == nil && dialed == nil {
					scheduleReconnect()
				}
				continue
			}
			s.handleFrame(ev.data)
			if !s.connOpen && reconnectC == nil && dialed == nil {
				scheduleReconnect()
			}

		case <-ping.C:
			if !s.connOpen {
				continue
			}
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				telemetry.TransportErrors.Inc()
				s.log.Warn("keepalive ping failed", slog.Any("err", fmt.Errorf("%w: %w", ErrTransport, err)))
			}

		case <-reconnectC:
			reconnectC = nil
			reconnectTimer = nil
			s.setState(StateConnecting)
			var attemptCtx context.Context
			attemptCtx, dialCancel = context.WithDeadline(ctx, s.window.Deadline())
			dialed = make(chan dialResult)
			go func(out chan<- dialResult) {
				c, err := s.dialer.Dial(attemptCtx)
				select {
				case out <- dialResult{conn: c, err: err}:
				case <-stop:
					if c != nil {
						_ = c.Close()
					}
				}
			}(dialed)

		case r := <-dialed:
			dialed = nil
			dialCancel()
			if r.err != nil {
				s.log.Warn("reconnect dial failed", slog.Int("attempt", s.attempts), slog.Any("err", r.err))
				scheduleReconnect()
				continue
			}
			if err := s.adopt(r.conn, events, stop); err != nil {
				s.log.Warn("reconnect join failed", slog.Int("attempt", s.attempts), slog.Any("err", err))
				scheduleReconnect()
				continue
			}
			telemetry.Reconnects.Inc()
			s.log.Info("chat socket rejoined", slog.Int("attempt", s.attempts))
		}
	}
}

// adopt makes conn the live socket and sends the join payload verbatim.
func (s *Session) adopt(conn Conn, events chan<- inbound, stop <-chan struct{}) error {
	s.gen++
	s.conn = conn
	s.connOpen = true
	s.connected.Store(true)
	s.sid = ""
	conn.SetPongHandler(func(string) error {
		s.log.Debug("pong received")
		return nil
	})
	if err := s.writeRaw(s.join.Bytes()); err != nil {
		s.closeConn()
		return err
	}
	s.setState(StateJoinSent)
	go pump(conn, s.gen, events, stop)
	return nil
}

// pump forwards socket reads to the session until the socket fails or the session ends.
func pump(conn Conn, gen int, out chan<- inbound, stop <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		select {
		case out <- inbound{gen: gen, data: data, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// handleFrame is the single place protocol state advances.
func (s *Session) handleFrame(data []byte) {
	f, err := chzzk.DecodeFrame(data)
	if err != nil {
		telemetry.FramesDropped.Inc()
		s.log.Debug("dropping frame", slog.Any("err", fmt.Errorf("%w: %w", ErrFrameParse, err)))
		return
	}
	if f.IsServerPing() {
		if err := s.send(chzzk.NewPong()); err != nil {
			s.log.Debug("pong reply failed", slog.Any("err", err))
		}
		return
	}

	switch s.lastState() {
	case StateJoinSent:
		sid, ok := f.JoinSID()
		if !ok {
			return
		}
		s.sid = sid
		if err := s.send(chzzk.NewRecentChatRequest(s.join.CID(), sid, s.opts.RecentMessageCount)); err != nil {
			s.log.Warn("backlog request failed", slog.Any("err", err))
			return
		}
		s.setState(StateBackfillRequested)
		s.log.Debug("join acknowledged", slog.String("sid", sid))

	case StateBackfillRequested:
		if !f.IsRecentChatAck() {
			return
		}
		if err := s.send(chzzk.NewSubscribeRequest(s.join.CID(), s.sid)); err != nil {
			s.log.Warn("subscribe request failed", slog.Any("err", err))
			return
		}
		s.setState(StateSubscribed)
		s.log.Debug("subscribed to live chat")

	case StateSubscribed:
		entries, ok := f.ChatEntries()
		if !ok {
			return
		}
		now := time.Now().UTC()
		added := 0
		for _, e := range entries {
			text := e.Text()
			if text == "" {
				continue
			}
			s.messages = append(s.messages, Message{
				Content:    text,
				Nickname:   e.Nickname(),
				SentAt:     e.SentAt(),
				ReceivedAt: now,
			})
			added++
		}
		if added > 0 {
			s.count.Store(int64(len(s.messages)))
			telemetry.MessagesCollected.Add(float64(added))
			s.log.Debug("chat batch", slog.Int("added", added), slog.Int("total", len(s.messages)))
		}
	}
}

func (s *Session) onTransportError(err error) {
	telemetry.TransportErrors.Inc()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Info("chat socket closed by peer", slog.Any("err", err))
	} else {
		s.log.Warn("chat socket error", slog.Any("err", fmt.Errorf("%w: %w", ErrTransport, err)))
	}
	s.closeConn()
}

// nextReconnect returns the delay before the next dial, if one is allowed.
func (s *Session) nextReconnect() (time.Duration, bool) {
	if s.backoff == nil {
		return 0, false
	}
	if s.attempts >= s.opts.Reconnect.MaxAttempts {
		s.log.Warn("reconnect attempts exhausted", slog.Int("attempts", s.attempts))
		return 0, false
	}
	d := s.backoff.NextBackOff()
	if d == backoff.Stop || time.Now().Add(d).After(s.window.Deadline()) {
		return 0, false
	}
	s.attempts++
	s.log.Info("scheduling reconnect", slog.Int("attempt", s.attempts), slog.Duration("delay", d))
	return d, true
}

func (s *Session) send(f chzzk.Frame) error {
	if !s.connOpen {
		return fmt.Errorf("%w: socket closed", ErrTransport)
	}
	b, err := f.Encode()
	if err != nil {
		return err
	}
	return s.writeRaw(b)
}

func (s *Session) writeRaw(b []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.closeConn()
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		telemetry.TransportErrors.Inc()
		s.closeConn()
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// closeConn closes the live socket once; later calls are no-ops.
func (s *Session) closeConn() {
	if !s.connOpen {
		return
	}
	s.connOpen = false
	s.connected.Store(false)
	if err := s.conn.Close(); err != nil {
		s.log.Debug("socket close", slog.Any("err", err))
	}
}

func (s *Session) abort(cause error) (Result, error) {
	s.log.Error("chat handshake failed", slog.Any("err", cause))
	return s.finalize(cause, false)
}

// finalize closes the socket and freezes the result exactly once.
func (s *Session) finalize(cause error, interrupted bool) (Result, error) {
	s.window.Terminate(func() {
		s.closeConn()
		s.setState(StateClosed)
		msgs := make([]Message, len(s.messages))
		copy(msgs, s.messages)
		s.result = Result{
			ChannelID:     s.channelID,
			StreamEventID: s.streamEventID,
			Messages:      msgs,
			StartedAt:     s.startedAt,
			ClosedAt:      time.Now().UTC(),
			Interrupted:   interrupted,
		}
	})
	return s.result, cause
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) lastState() State { return State(s.state.Load()) }
