// Package delivery posts finished chat collections to the backend API.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
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

// ErrNoBaseURL is returned when the backend base URL is not configured.
var ErrNoBaseURL = errors.New("delivery: backend base url not configured")

// StatusError reports a non-2xx backend response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend responded %d: %s", e.StatusCode, e.Body)
}

// Client posts collections to {BaseURL}/api/chat/{channelId}/{streamEventId}.
// It never retries; the caller decides what a failure means.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a client whose transport is traced with otelhttp.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Endpoint returns the delivery URL for a channel and stream event.
func (c *Client) Endpoint(channelID, streamEventID string) (string, error) {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		return "", ErrNoBaseURL
	}
	return base + "/api/chat/" + url.PathEscape(channelID) + "/" + url.PathEscape(streamEventID), nil
}

type payload struct {
	Messages []string `json:"messages"`
}

// Deliver posts {"messages": [...]} once. An empty list is posted as [] rather than skipped.
func (c *Client) Deliver(ctx context.Context, channelID, streamEventID string, messages []string) error {
	endpoint, err := c.Endpoint(channelID, streamEventID)
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []string{}
	}
	body, err := json.Marshal(payload{Messages: messages})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if corr := telemetry.GetCorrelation(ctx); corr != "" {
		req.Header.Set("X-Correlation-ID", corr)
	}

	var resp *http.Response
	telemetry.TimeFunc(telemetry.DeliveryDuration, func() {
		resp, err = c.http().Do(req)
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
