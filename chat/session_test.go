package chat

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/streampulse/collector/chzzk"
	"github.com/streampulse/collector/telemetry"
	tu "github.com/streampulse/collector/testutil"
)

const testJoin = `{"ver":"2","cmd":100,"svcid":"game","cid":"N1cid","bdy":{"uid":null,"devType":2001,"accTkn":"tok","auth":"READ"},"tid":1}`

func init() { telemetry.Init() }

func runSession(t *testing.T, url string, opts Options) (Result, error) {
	t.Helper()
	s := NewSession("req-1", "chan1", "evt1", []byte(testJoin), WSDialer{URL: url}, opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Run(ctx)
}

func TestSessionCollectsAfterHandshake(t *testing.T) {
	srv := tu.NewChatServer(t, func(p *tu.ChatPeer) {
		p.Handshake("sid-1")
		p.SendChat("hi", "yo")
		p.SendChat("there")
	})

	res, err := runSession(t, srv.WSURL(), Options{Window: 400 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := res.Texts(), []string{"hi", "yo", "there"}; !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if res.ChannelID != "chan1" || res.StreamEventID != "evt1" {
		t.Errorf("result keyed by %q/%q", res.ChannelID, res.StreamEventID)
	}
	if res.Interrupted {
		t.Error("window expiry reported as interrupted")
	}
	if res.Messages[0].Nickname != "viewer" || res.Messages[0].SentAt.IsZero() {
		t.Errorf("entry metadata not captured: %+v", res.Messages[0])
	}

	// one join, one backlog request, one subscribe, nothing else
	if got, want := srv.Commands(), []int{chzzk.CmdJoin, chzzk.CmdRecentChat, chzzk.CmdChat}; !reflect.DeepEqual(got, want) {
		t.Errorf("sent commands = %v, want %v", got, want)
	}
	frames := srv.Frames()
	if string(frames[0]) != testJoin {
		t.Errorf("join payload was altered: %s", frames[0])
	}

	backlog, _ := chzzk.DecodeFrame(frames[1])
	if backlog.Ver != "3" || backlog.TID != 2 || backlog.CID != "N1cid" || backlog.SID != "sid-1" || backlog.SvcID != "game" {
		t.Errorf("backlog request = %+v", backlog)
	}
	var body map[string]int
	if err := json.Unmarshal(backlog.Bdy, &body); err != nil || body["recentMessageCount"] != 50 {
		t.Errorf("backlog body = %s", backlog.Bdy)
	}
	sub, _ := chzzk.DecodeFrame(frames[2])
	if sub.Ver != "1" || sub.TID != 3 || sub.SID != "sid-1" || string(sub.Bdy) != "[]" {
		t.Errorf("subscribe request = %+v", sub)
	}

	if origins := srv.Origins(); len(origins) != 1 || origins[0] != DefaultOrigin {
		t.Errorf("origins = %v", origins)
	}
	srv.WaitClosed(t, 1, 2*time.Second)
}

func TestSessionWithoutJoinAckCollectsNothing(t *testing.T) {
	srv := tu.NewChatServer(t, func(p *tu.ChatPeer) {
		p.Expect(chzzk.CmdJoin)
		// frames that are not a join ack must not advance the handshake
		p.Send(`{"svcid":"game","cmd":10100,"retCode":401,"bdy":{"sid":"nope"}}`)
		p.Send(`{"svcid":"game","cmd":5101,"bdy":{}}`)
		p.SendChat("ignored")
	})

	res, err := runSession(t, srv.WSURL(), Options{Window: 300 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Messages) != 0 {
		t.Errorf("messages = %v, want none", res.Texts())
	}
	if got := res.Texts(); got == nil {
		t.Error("Texts returned nil for an empty result")
	}
	if got, want := srv.Commands(), []int{chzzk.CmdJoin}; !reflect.DeepEqual(got, want) {
		t.Errorf("sent commands = %v, want only the join", got)
	}
}

func TestSessionIgnoresChatBeforeSubscribe(t *testing.T) {
	srv := tu.NewChatServer(t, func(p *tu.ChatPeer) {
		p.Expect(chzzk.CmdJoin)
		p.SendChat("before join ack")
		p.SendJoinAck("sid-2")
		p.Expect(chzzk.CmdRecentChat)
		p.SendChat("before backlog ack")
		p.SendRecentAck()
		p.Expect(chzzk.CmdChat)
		p.SendChat("live")
	})

	res, err := runSession(t, srv.WSURL(), Options{Window: 400 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := res.Texts(), []string{"live"}; !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
}

func TestSessionDropsMalformedFrames(t *testing.T) {
	before := testutil.ToFloat64(telemetry.FramesDropped)
	srv := tu.NewChatServer(t, func(p *tu.ChatPeer) {
		p.Handshake("sid-3")
		p.SendChat("a")
		p.Send("not json at all")
		p.Send(`[1,2,3]`)
		p.Send(`{"svcid":"game","cmd":93101,"bdy":{"content":"object body"}}`)
		p.Send(`{"svcid":"other","cmd":93101,"bdy":[{"content":"other service"}]}`)
		p.Send(`{"svcid":"game","cmd":93101,"bdy":[{"msg":"fallback"},{"content":""},42]}`)
		p.SendChat("b")
	})

	res, err := runSession(t, srv.WSURL(), Options{Window: 400 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := res.Texts(), []string{"a", "fallback", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if got := testutil.ToFloat64(telemetry.FramesDropped) - before; got != 2 {
		t.Errorf("frames dropped = %v, want 2", got)
	}
}

func TestSessionKeepsMessagesAfterTransportError(t *testing.T) {
	srv := tu.NewChatServer(t, func(p *tu.ChatPeer) {
		p.Handshake("sid-4")
		p.SendChat("first", "second")
		time.Sleep(50 * time.Millisecond)
		p.HangUp()
	})

	start := time.Now()
	res, err := runSession(t, srv.WSURL(), Options{Window: 400 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 350*time.Millisecond {
		t.Errorf("session ended after %v; the window should stay authoritative", elapsed)
	}
	if got, want := res.Texts(), []string{"first", "second"}; !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if got, want := srv.Commands(), []int{chzzk.CmdJoin, chzzk.CmdRecentChat, chzzk.CmdChat}; !reflect.DeepEqual(got, want) {
		t.Errorf("sent commands = %v, want no sends after close", got)
	}
}

func TestSessionAnswersServerPing(t *testing.T) {
	srv := tu.NewChatServer(t, func(p *tu.ChatPeer) {
		p.Handshake("sid-5")
		p.Send(`{"ver":"2","cmd":0}`)
		p.Expect(chzzk.CmdClientPong)
		p.SendChat("still here")
	})

	res, err := runSession(t, srv.WSURL(), Options{Window: 400 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := res.Texts(), []string{"still here"}; !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
}

func TestSessionSendsKeepalivePings(t *testing.T) {
	srv := tu.NewChatServer(t, func(p *tu.ChatPeer) {
		p.Handshake("sid-6")
	})

	if _, err := runSession(t, srv.WSURL(), Options{Window: 400 * time.Millisecond, PingInterval: 50 * time.Millisecond}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	srv.WaitClosed(t, 1, 2*time.Second)
	if got := srv.Pings(); got < 3 {
		t.Errorf("pings = %d, want at least 3", got)
	}
}

func TestSessionMalformedJoinPayload(t *testing.T) {
	srv := tu.NewChatServer(t, nil)
	s := NewSession("req", "c", "e", []byte(`{"cmd":100}`), WSDialer{URL: srv.WSURL()}, Options{Window: time.Second})

	start := time.Now()
	res, err := s.Run(context.Background())
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("err = %v, want ErrHandshake", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("handshake failure waited for the window")
	}
	if len(res.Messages) != 0 || res.ChannelID != "c" || res.StreamEventID != "e" {
		t.Errorf("result = %+v", res)
	}
	if srv.Accepted() != 0 {
		t.Errorf("socket was opened for a malformed payload")
	}
	if s.Snapshot().State != StateClosed.String() {
		t.Errorf("state = %s", s.Snapshot().State)
	}
}

func TestSessionDialFailure(t *testing.T) {
	srv := tu.NewChatServer(t, nil)
	url := srv.WSURL()
	srv.Close()

	_, err := runSession(t, url, Options{Window: time.Second})
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("err = %v, want ErrHandshake", err)
	}
	if Classify(err) != KindHandshake {
		t.Errorf("Classify = %v", Classify(err))
	}
}

func TestSessionRunsOnce(t *testing.T) {
	srv := tu.NewChatServer(t, func(p *tu.ChatPeer) { p.Handshake("sid-7") })
	s := NewSession("req", "c", "e", []byte(testJoin), WSDialer{URL: srv.WSURL()}, Options{Window: 200 * time.Millisecond})
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run err = %v, want ErrAlreadyRun", err)
	}
	srv.WaitClosed(t, 1, 2*time.Second)
	if srv.Accepted() != 1 {
		t.Errorf("accepted = %d", srv.Accepted())
	}
}

func TestSessionInterruptedByContext(t *testing.T) {
	srv := tu.NewChatServer(t, func(p *tu.ChatPeer) {
		p.Handshake("sid-8")
		p.SendChat("kept")
	})
	s := NewSession("req", "c", "e", []byte(testJoin), WSDialer{URL: srv.WSURL()}, Options{Window: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)
	start := time.Now()
	res, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation did not end the session early")
	}
	if !res.Interrupted {
		t.Error("Interrupted not set")
	}
	if got, want := res.Texts(), []string{"kept"}; !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
}

func TestSessionReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := tu.NewChatServer(t, func(p *tu.ChatPeer) {
		n := conns.Add(1)
		p.Handshake("sid")
		if n == 1 {
			p.SendChat("one")
			time.Sleep(30 * time.Millisecond)
			p.HangUp()
			return
		}
		p.SendChat("two")
	})

	before := testutil.ToFloat64(telemetry.Reconnects)
	res, err := runSession(t, srv.WSURL(), Options{
		Window:    time.Second,
		Reconnect: ReconnectPolicy{MaxAttempts: 3, InitialBackoff: 20 * time.Millisecond, MaxBackoff: 50 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := res.Texts(), []string{"one", "two"}; !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if srv.Accepted() != 2 {
		t.Errorf("accepted = %d, want 2", srv.Accepted())
	}
	if got := testutil.ToFloat64(telemetry.Reconnects) - before; got != 1 {
		t.Errorf("reconnects = %v, want 1", got)
	}
}

func TestSessionDoesNotReconnectByDefault(t *testing.T) {
	srv := tu.NewChatServer(t, func(p *tu.ChatPeer) {
		p.Handshake("sid")
		p.HangUp()
	})
	if _, err := runSession(t, srv.WSURL(), Options{Window: 300 * time.Millisecond}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if srv.Accepted() != 1 {
		t.Errorf("accepted = %d, want 1", srv.Accepted())
	}
}

func TestSnapshotWhileRunning(t *testing.T) {
	srv := tu.NewChatServer(t, func(p *tu.ChatPeer) {
		p.Handshake("sid")
		p.SendChat("x", "y")
	})
	s := NewSession("req-snap", "c", "e", []byte(testJoin), WSDialer{URL: srv.WSURL()}, Options{Window: 600 * time.Millisecond})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Run(context.Background())
	}()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		snap := s.Snapshot()
		if snap.State == StateSubscribed.String() && snap.Messages == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap := s.Snapshot()
	if snap.ID != "req-snap" || snap.State != StateSubscribed.String() || snap.Messages != 2 || !snap.Connected {
		t.Errorf("snapshot = %+v", snap)
	}
	<-done
	if s.Snapshot().State != StateClosed.String() || s.Snapshot().Connected {
		t.Errorf("final snapshot = %+v", s.Snapshot())
	}
}
