package chat

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Chat endpoint defaults for the Chzzk service.
const (
	DefaultURL    = "wss://kr-ss1.chat.naver.com/chat"
	DefaultOrigin = "https://chzzk.naver.com"
)

// Conn is the subset of *websocket.Conn a session needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens chat sockets.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSDialer dials the chat service over websocket.
type WSDialer struct {
	URL              string
	Origin           string
	HandshakeTimeout time.Duration
}

// Dial opens a socket, sending the Origin header the service checks.
func (d WSDialer) Dial(ctx context.Context) (Conn, error) {
	url := d.URL
	if url == "" {
		url = DefaultURL
	}
	origin := d.Origin
	if origin == "" {
		origin = DefaultOrigin
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	header := http.Header{}
	header.Set("Origin", origin)
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}
