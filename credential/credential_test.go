package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const joinJSON = `{"ver":"2","cmd":100,"svcid":"game","cid":"N1abc","bdy":{"uid":null,"devType":2001,"auth":"READ"},"tid":1}`

func TestHTTPSourceReturnsPayloadVerbatim(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(joinJSON))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second)
	b, err := src.JoinPayload(context.Background(), "chan1")
	if err != nil {
		t.Fatalf("JoinPayload: %v", err)
	}
	if string(b) != joinJSON {
		t.Errorf("payload = %s", b)
	}
	if gotPath != "/join/chan1" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestHTTPSourceFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) }},
		{"server error", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusBadGateway) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewHTTPSource(srv.URL, time.Second).JoinPayload(context.Background(), "c")
			if !errors.Is(err, ErrUnavailable) {
				t.Errorf("err = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestHTTPSourceLeavesMalformedPayloadToHandshake(t *testing.T) {
	for _, body := range []string{`[1,2]`, `{"cmd":100}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		b, err := NewHTTPSource(srv.URL, time.Second).JoinPayload(context.Background(), "c")
		srv.Close()
		if err != nil {
			t.Errorf("%s: err = %v, want payload", body, err)
			continue
		}
		if string(b) != body {
			t.Errorf("payload = %s, want %s", b, body)
		}
	}
}

func TestHTTPSourceTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPSource(srv.URL, 5*time.Second).JoinPayload(ctx, "c")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestHTTPSourceUnconfigured(t *testing.T) {
	if _, err := (&HTTPSource{}).JoinPayload(context.Background(), "c"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestStaticSource(t *testing.T) {
	src := StaticSource{Payload: []byte(joinJSON)}
	b, err := src.JoinPayload(context.Background(), "any")
	if err != nil {
		t.Fatal(err)
	}
	b[0] = 'X'
	again, _ := src.JoinPayload(context.Background(), "any")
	if string(again) != joinJSON {
		t.Error("StaticSource handed out its internal buffer")
	}

	if _, err := (StaticSource{}).JoinPayload(context.Background(), "c"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("empty static source err = %v", err)
	}
}
