package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streampulse/collector/chzzk"
)

// ChatServer is an in-process chat socket endpoint. Each accepted connection
// is handed to Script; after Script returns the connection is drained until the
// client closes it, so keepalive pings are answered and every frame is recorded.
type ChatServer struct {
	*httptest.Server
	Script func(p *ChatPeer)

	mu       sync.Mutex
	frames   [][]byte
	origins  []string
	accepted int
	pings    int
	closed   chan struct{}
}

// NewChatServer starts a chat server running script for every connection.
func NewChatServer(t *testing.T, script func(p *ChatPeer)) *ChatServer {
	t.Helper()
	s := &ChatServer{Script: script, closed: make(chan struct{}, 16)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		s.origins = append(s.origins, r.Header.Get("Origin"))
		s.mu.Unlock()

		conn.SetPingHandler(func(data string) error {
			s.mu.Lock()
			s.pings++
			s.mu.Unlock()
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})
		p := &ChatPeer{t: t, conn: conn, srv: s}
		defer func() {
			_ = conn.Close()
			s.closed <- struct{}{}
		}()
		if s.Script != nil {
			s.Script(p)
		}
		if p.hungUp {
			return
		}
		for {
			if _, err := p.Next(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

// WSURL is the ws:// address of the server.
func (s *ChatServer) WSURL() string { return "ws" + strings.TrimPrefix(s.URL, "http") }

// Frames returns every text frame received from clients, in order.
func (s *ChatServer) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// Commands returns the cmd of every received frame that decoded.
func (s *ChatServer) Commands() []int {
	var out []int
	for _, b := range s.Frames() {
		if f, err := chzzk.DecodeFrame(b); err == nil {
			out = append(out, f.Cmd)
		}
	}
	return out
}

// Origins returns the Origin header of each accepted connection.
func (s *ChatServer) Origins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.origins...)
}

// Accepted returns the number of upgraded connections.
func (s *ChatServer) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Pings returns the number of websocket ping control frames received.
func (s *ChatServer) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// WaitClosed blocks until n connections have ended on the server side.
func (s *ChatServer) WaitClosed(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-s.closed:
		case <-deadline:
			t.Fatalf("timed out waiting for %d closed connections", n)
		}
	}
}

// ChatPeer is the server side of one connection.
type ChatPeer struct {
	t      *testing.T
	conn   *websocket.Conn
	srv    *ChatServer
	hungUp bool
}

// Next reads and records the next text frame from the client.
func (p *ChatPeer) Next() ([]byte, error) {
	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		p.srv.mu.Lock()
		p.srv.frames = append(p.srv.frames, data)
		p.srv.mu.Unlock()
		return data, nil
	}
}

// Expect reads the next frame and reports a test error unless it carries cmd.
func (p *ChatPeer) Expect(cmd int) chzzk.Frame {
	data, err := p.Next()
	if err != nil {
		p.t.Errorf("waiting for cmd %d: %v", cmd, err)
		return chzzk.Frame{}
	}
	f, err := chzzk.DecodeFrame(data)
	if err != nil || f.Cmd != cmd {
		p.t.Errorf("got frame %s, want cmd %d", data, cmd)
	}
	return f
}

// Send writes a raw text frame.
func (p *ChatPeer) Send(raw string) {
	if err := p.conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		p.t.Logf("chat server send: %v", err)
	}
}

// SendJoinAck acknowledges the join with sid.
func (p *ChatPeer) SendJoinAck(sid string) {
	p.Send(`{"svcid":"game","cmd":10100,"retCode":0,"bdy":{"sid":"` + sid + `","uuid":"u"}}`)
}

// SendRecentAck answers the backlog request with an empty backlog.
func (p *ChatPeer) SendRecentAck() {
	p.Send(`{"svcid":"game","cmd":5101,"retCode":0,"bdy":{"messageList":[]}}`)
}

// SendChat broadcasts one chat frame carrying texts as content entries.
func (p *ChatPeer) SendChat(texts ...string) {
	entries := make([]map[string]any, 0, len(texts))
	for _, t := range texts {
		entries = append(entries, map[string]any{
			"content": t,
			"profile": `{"nickname":"viewer"}`,
			"msgTime": time.Now().UnixMilli(),
		})
	}
	bdy, _ := json.Marshal(entries)
	p.Send(`{"svcid":"game","cmd":93101,"bdy":` + string(bdy) + `}`)
}

// Handshake plays the service side of join, backlog and subscribe.
func (p *ChatPeer) Handshake(sid string) {
	p.Expect(chzzk.CmdJoin)
	p.SendJoinAck(sid)
	p.Expect(chzzk.CmdRecentChat)
	p.SendRecentAck()
	p.Expect(chzzk.CmdChat)
}

// HangUp closes the connection abruptly from the server side.
func (p *ChatPeer) HangUp() {
	p.hungUp = true
	_ = p.conn.Close()
}
