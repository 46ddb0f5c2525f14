package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/sociallogin/internal/model"
)

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	return rl
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(remoteAddr, path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	return req
}

// --- GeneralMiddleware のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 5, AuthRate: 1, AuthBurst: 1})
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("192.0.2.1:1234", "/users"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 0.5, GeneralBurst: 2, AuthRate: 1, AuthBurst: 1})
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1:1234", "/users"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.1:5678", "/users"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After is not an integer: %q", w.Header().Get("Retry-After"))
	}
	if retryAfter != 2 {
		t.Errorf("Retry-After = %d, want 2", retryAfter)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
}

// TestRateLimitMiddleware_IsolatesClients はクライアントIPごとに制限が独立していることを検証する。
func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 1, AuthRate: 1, AuthBurst: 1})
	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1:1000", "/"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.1:1000", "/"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("same client: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.7:1000", "/"))
	if w.Code != http.StatusOK {
		t.Errorf("other client: status = %d, want %d", w.Code, http.StatusOK)
	}
}

// TestAuthMiddleware_IndependentFromGeneralLimit は認証フローの制限が全体の制限と独立していることを検証する。
func TestAuthMiddleware_IndependentFromGeneralLimit(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 10, AuthRate: 1, AuthBurst: 1})
	general := rl.GeneralMiddleware()(okHandler())
	auth := rl.AuthMiddleware()(okHandler())

	w := httptest.NewRecorder()
	auth.ServeHTTP(w, requestFrom("192.0.2.9:1", "/auth/github"))
	if w.Code != http.StatusOK {
		t.Fatalf("first auth request: status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	auth.ServeHTTP(w, requestFrom("192.0.2.9:1", "/auth/github"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second auth request: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	w = httptest.NewRecorder()
	general.ServeHTTP(w, requestFrom("192.0.2.9:1", "/users"))
	if w.Code != http.StatusOK {
		t.Errorf("general request: status = %d, want %d", w.Code, http.StatusOK)
	}
	if rl.AuthLimiterCount() != 1 || rl.GeneralLimiterCount() != 1 {
		t.Errorf("limiter counts = (auth %d, general %d), want (1, 1)", rl.AuthLimiterCount(), rl.GeneralLimiterCount())
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 5, AuthRate: 1, AuthBurst: 5, CleanupInterval: time.Minute})
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1:1", "/"))
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.2:1", "/"))

	// 192.0.2.1 の最終アクセスをTTL（CleanupIntervalの2倍）より前にする
	rl.general.mu.Lock()
	rl.general.limiters["192.0.2.1"].lastAccess = time.Now().Add(-3 * time.Minute)
	rl.general.mu.Unlock()

	rl.cleanup()

	if count := rl.GeneralLimiterCount(); count != 1 {
		t.Errorf("limiter entries after cleanup = %d, want 1", count)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		req := requestFrom(tt.remoteAddr, "/")
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}

// --- デフォルト設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 5.0 { // 300/60 = 5
		t.Errorf("GeneralRate = %f, want 5.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 300 {
		t.Errorf("GeneralBurst = %d, want 300", cfg.GeneralBurst)
	}
	if cfg.AuthRate != 0.5 { // 30/60 = 0.5
		t.Errorf("AuthRate = %f, want 0.5", cfg.AuthRate)
	}
	if cfg.AuthBurst != 30 {
		t.Errorf("AuthBurst = %d, want 30", cfg.AuthBurst)
	}
}
