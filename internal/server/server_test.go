package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
	"github.com/alanyoungcy/reconbot/internal/reconcile"
	"github.com/alanyoungcy/reconbot/internal/server/handler"
	"github.com/alanyoungcy/reconbot/internal/server/middleware"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type okReconciler struct{}

func (okReconciler) Reconcile(_ context.Context, w string, m domain.TradingMode) reconcile.Report {
	return reconcile.Report{Status: reconcile.StatusOK, WalletID: w, Mode: m}
}

func (okReconciler) Status(context.Context, string, domain.TradingMode) (reconcile.AccountStatus, error) {
	return reconcile.AccountStatus{}, nil
}

func (okReconciler) ResetAttempts(context.Context, string, domain.TradingMode) error { return nil }

// countingLimiter allows the first n calls per key.
type countingLimiter struct {
	mu   sync.Mutex
	n    int
	seen map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = map[string]int{}
	}
	l.seen[key]++
	return l.seen[key] <= l.n, nil
}

func (l *countingLimiter) Wait(context.Context, string) error { return nil }

func newTestServer(t *testing.T, limiter domain.RateLimiter) *httptest.Server {
	t.Helper()
	cfg := Config{APIKey: "secret", TriggerLimit: 1, TriggerWindow: time.Minute}
	handlers := Handlers{
		Health:    handler.NewHealthHandler(nil, discardLogger()),
		Reconcile: handler.NewReconcileHandler(okReconciler{}, nil, "", discardLogger()),
	}
	s := NewServer(cfg, handlers, nil, limiter, discardLogger())
	srv := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, key string) int {
	t.Helper()
	req, _ := http.NewRequest(method, url, strings.NewReader(""))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestServer_AuthAndRateLimit(t *testing.T) {
	srv := newTestServer(t, &countingLimiter{n: 1})

	if code := do(t, http.MethodGet, srv.URL+"/api/health", ""); code != http.StatusOK {
		t.Errorf("health without key = %d, want 200", code)
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/reconcile?wallet=W1&mode=live", ""); code != http.StatusUnauthorized {
		t.Errorf("trigger without key = %d, want 401", code)
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/reconcile?wallet=W1&mode=live", "secret"); code != http.StatusOK {
		t.Errorf("first trigger = %d, want 200", code)
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/reconcile?wallet=W1&mode=live", "secret"); code != http.StatusTooManyRequests {
		t.Errorf("second trigger = %d, want 429", code)
	}
	if code := do(t, http.MethodGet, srv.URL+"/api/reconcile/status?wallet=W1&mode=live", "secret"); code != http.StatusOK {
		t.Errorf("status = %d, want 200 (not rate limited)", code)
	}
}

func TestServer_UnregisteredRoutes(t *testing.T) {
	srv := newTestServer(t, nil)
	if code := do(t, http.MethodGet, srv.URL+"/api/positions?wallet=W1&mode=live", "secret"); code != http.StatusNotFound {
		t.Errorf("positions without handler = %d, want 404", code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := middleware.CORS([]string{"https://dash.example/"})(http.NotFoundHandler())

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantCode   int
		wantOrigin string
	}{
		{"listed preflight", http.MethodOptions, "https://dash.example", true, http.StatusNoContent, "https://dash.example"},
		{"unlisted preflight", http.MethodOptions, "https://evil.example", true, http.StatusNoContent, ""},
		{"plain options passes through", http.MethodOptions, "https://dash.example", false, http.StatusNotFound, "https://dash.example"},
		{"simple get", http.MethodGet, "https://DASH.example", false, http.StatusNotFound, "https://DASH.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/reconcile", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow-origin = %q, want %q", got, tt.wantOrigin)
			}
			if rec.Header().Get("Vary") != "Origin" {
				t.Errorf("vary = %q", rec.Header().Get("Vary"))
			}
		})
	}
}
