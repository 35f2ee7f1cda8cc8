package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"gh-media-proxy/internal/client"
	"gh-media-proxy/internal/config"
	"gh-media-proxy/internal/service"
)

func testConfig() *config.Config {
	return &config.Config{
		Mirror: config.MirrorConfig{
			Owner:        "acme",
			Repo:         "media",
			Ref:          "main",
			Prefix:       "/uploads/",
			FallbackRoot: "wp-content",
		},
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
}

func testHandler(t *testing.T, baseURL string) *ProxyHandler {
	t.Helper()
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mc := client.NewMirrorClient(cfg, logger, nil)
	svc := service.NewMirrorServiceForTest(mc, cfg, logger, nil, baseURL)
	return NewProxyHandler(svc, logger)
}

func TestProxyHandler_Handle_Relay(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2020/img.jpg" {
			t.Errorf("upstream path = %q, want %q", r.URL.Path, "/2020/img.jpg")
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer upstream.Close()

	h := testHandler(t, upstream.URL)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/uploads/2020/img.jpg", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "jpeg-bytes" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "jpeg-bytes")
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("Content-Type = %q, want %q", got, "image/jpeg")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "*")
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=31536000, immutable" {
		t.Errorf("Cache-Control = %q, want immutable override", got)
	}
}

func TestProxyHandler_Handle_PrefixMiss(t *testing.T) {
	h := testHandler(t, "http://127.0.0.1:1")

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"root", http.MethodGet, "/"},
		{"other path", http.MethodGet, "/assets/img.jpg"},
		{"post outside prefix", http.MethodPost, "/assets/img.jpg"},
		{"head outside prefix", http.MethodHead, "/favicon.ico"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			req.Header.Set("X-Anything", "ignored")
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.Handle(c); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if rec.Code != http.StatusNotFound {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("body = %q, want empty", rec.Body.String())
			}
		})
	}
}

func TestProxyHandler_Handle_TransportError(t *testing.T) {
	h := testHandler(t, "http://127.0.0.1:1")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/uploads/img.jpg", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "connection refused") &&
		!strings.Contains(rec.Body.String(), "upstream request") {
		t.Errorf("body = %q, want the transport error text", rec.Body.String())
	}
}

func TestProxyHandler_Handle_FallbackFlow(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/wp-content/") {
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("alt-root-bytes"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	h := testHandler(t, upstream.URL)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/uploads/2019/photo.png?v=3", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "alt-root-bytes" {
		t.Errorf("body = %q, want fallback content", rec.Body.String())
	}
	for key, want := range map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET, HEAD, OPTIONS",
		"Cache-Control":                "public, max-age=31536000, immutable",
	} {
		if got := rec.Header().Get(key); got != want {
			t.Errorf("header %q = %q, want %q", key, got, want)
		}
	}
}

func TestProxyHandler_Handle_BothMiss(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("mirror 404 page"))
	}))
	defer upstream.Close()

	h := testHandler(t, upstream.URL)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/uploads/gone.gif", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec.Body.String() != "mirror 404 page" {
		t.Errorf("body = %q, want upstream 404 body relayed", rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=31536000, immutable" {
		t.Errorf("Cache-Control = %q, want override even on 404", got)
	}
}
