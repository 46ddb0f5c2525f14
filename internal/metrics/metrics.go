// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(provider, result string)
	RecordLogout()
	RecordUserOperation(operation string)
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins         *prometheus.CounterVec
	logouts        prometheus.Counter
	userOperations *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sociallogin_logins_total",
			Help: "ソーシャルログインの試行数（プロバイダー・結果別）",
		}, []string{"provider", "result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sociallogin_logouts_total",
			Help: "ログアウトの合計数",
		}),
		userOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sociallogin_user_operations_total",
			Help: "ユーザーの作成・更新・削除の成功数",
		}, []string{"operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sociallogin_http_requests_total",
			Help: "HTTPリクエスト数（メソッド・ルート・ステータスコード別）",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sociallogin_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.logins,
		c.logouts,
		c.userOperations,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(provider, result string) {
	c.logins.WithLabelValues(provider, result).Inc()
}

// RecordLogout はログアウトを記録する。
func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

// RecordUserOperation はユーザー操作の成功を記録する。
func (c *Collector) RecordUserOperation(operation string) {
	c.userOperations.WithLabelValues(operation).Inc()
}

// RecordHTTPRequest はHTTPリクエストのステータスと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordLogin(provider, result string)  {}
func (NopCollector) RecordLogout()                        {}
func (NopCollector) RecordUserOperation(operation string) {}
func (NopCollector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewHTTPMiddleware はリクエスト数と処理時間を記録するミドルウェアを返す。
// routeラベルにはchiのルートパターン（例: /users/{id}）を使用し、
// 未マッチのリクエストは"unmatched"にまとめてラベルの爆発を防ぐ。
func NewHTTPMiddleware(collector MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			collector.RecordHTTPRequest(r.Method, routePattern(r), status, time.Since(start))
		})
	}
}

// routePattern はマッチしたchiのルートパターンを返す。
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
