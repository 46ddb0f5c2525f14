package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"testing"
)

func TestRealIPMiddleware(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name       string
		trusted    []netip.Prefix
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"信頼設定なしはヘッダーを無視", nil, "192.0.2.1:1234", "203.0.113.9", "192.0.2.1:1234"},
		{"信頼外の接続元はヘッダーを無視", trusted, "192.0.2.1:1234", "203.0.113.9", "192.0.2.1:1234"},
		{"信頼するプロキシはヘッダーを採用", trusted, "10.1.2.3:4567", "203.0.113.9", "203.0.113.9"},
		{"ヘッダーなしは接続元のまま", trusted, "10.1.2.3:4567", "", "10.1.2.3:4567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := NewRealIPMiddleware(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

// 接続元が同じであれば、ヘッダーを変えても同じ枠で制限される
func TestRateLimit_IgnoresSpoofedHeadersFromUntrustedClient(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1000, GeneralBurst: 1000, AuthRate: 0.001, AuthBurst: 1})
	handler := NewRealIPMiddleware(nil)(rl.AuthMiddleware()(okHandler()))

	headers := []string{"X-Real-IP", "X-Forwarded-For", "True-Client-IP"}
	passed := 0
	for i := 0; i < 9; i++ {
		req := requestFrom("192.0.2.1:1234", "/auth/developer")
		req.Header.Set(headers[i%len(headers)], "198.51.100."+strconv.Itoa(i+1))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			passed++
		}
	}

	if passed != 1 {
		t.Errorf("passed = %d, want 1", passed)
	}
}
