package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"vasset/extractor-service/internal/config"
	"vasset/extractor-service/internal/proxy"
	"vasset/extractor-service/internal/resolver"
)

type okExtractor struct{}

func (okExtractor) Extract(ctx context.Context, rawURL string) (*resolver.MediaDescriptor, error) {
	return &resolver.MediaDescriptor{DownloadURL: "https://cdn/x.mp4"}, nil
}

type emptyPool struct{}

func (emptyPool) Stats() proxy.Stats              { return proxy.Stats{} }
func (emptyPool) Verified() []proxy.VerifiedProxy { return nil }

func newTestRouter(rateLimit bool) http.Handler {
	cfg := config.Default()
	cfg.Server.Mode = "test"
	cfg.RateLimit.Enabled = rateLimit
	cfg.RateLimit.IPRPS = 0.001
	cfg.RateLimit.Burst = 1
	return SetupRouter(&Dependencies{
		Config:    cfg,
		Extractor: okExtractor{},
		Pool:      emptyPool{},
		Logger:    zap.NewNop(),
		Version:   "test",
	})
}

func TestRoutes(t *testing.T) {
	r := newTestRouter(false)
	for _, path := range []string{"/", "/health", "/live", "/proxies", "/get-video-url?video_url=https://example.com/v"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, w.Code)
		}
	}
}

func TestRateLimitOnlyOnExtraction(t *testing.T) {
	r := newTestRouter(true)

	get := func(path string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "203.0.113.9:5555"
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := get("/get-video-url?video_url=https://example.com/v"); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	if code := get("/get-video-url?video_url=https://example.com/v"); code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", code)
	}
	if code := get("/health"); code != http.StatusOK {
		t.Errorf("/health = %d, want 200", code)
	}
}
