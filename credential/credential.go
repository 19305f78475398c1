// Package credential obtains the join request a chat socket must send first.
//
// The join payload is captured by an external browser-automation sidecar that
// observes the official web player; this package only fetches or replays it.
package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/streampulse/collector/telemetry"
)

// ErrUnavailable is returned when no join payload can be obtained for a channel.
var ErrUnavailable = errors.New("join payload unavailable")

// maxPayloadBytes bounds a sidecar response.
const maxPayloadBytes = 64 << 10

// Source produces the join payload for a channel.
type Source interface {
	JoinPayload(ctx context.Context, channelID string) ([]byte, error)
}

// HTTPSource asks the sidecar at GET {BaseURL}/join/{channelId}.
type HTTPSource struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPSource returns a traced sidecar client. timeout bounds each lookup.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPSource{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *HTTPSource) http() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

// JoinPayload fetches the payload and returns it unparsed. Transport and status
// failures wrap ErrUnavailable; a malformed body is left for the session's
// handshake to reject.
func (s *HTTPSource) JoinPayload(ctx context.Context, channelID string) ([]byte, error) {
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("%w: join source url not configured", ErrUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/join/"+url.PathEscape(channelID), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if corr := telemetry.GetCorrelation(ctx); corr != "" {
		req.Header.Set("X-Correlation-ID", corr)
	}
	resp, err := s.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: join source status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return b, nil
}

// StaticSource replays one configured payload for every channel.
type StaticSource struct {
	Payload []byte
}

// JoinPayload returns a copy of the configured payload.
func (s StaticSource) JoinPayload(ctx context.Context, _ string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(s.Payload) == 0 {
		return nil, fmt.Errorf("%w: no static payload configured", ErrUnavailable)
	}
	out := make([]byte, len(s.Payload))
	copy(out, s.Payload)
	return out, nil
}
