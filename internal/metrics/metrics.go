// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordBearerAuth(outcome string)
	RecordSessionResolve(outcome string)
	RecordHTTPStatus(statusCode int)
	RecordStoreLatency(op string, duration time.Duration)
	RecordSessionsSwept(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	bearerAuths     *prometheus.CounterVec
	sessionResolves *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec
	sessionsSwept   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeial_login_total",
			Help: "ローカル認証によるログイン試行数（結果別）",
		}, []string{"outcome"}),
		bearerAuths: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeial_bearer_auth_total",
			Help: "Bearerトークン検証の回数（結果別）",
		}, []string{"outcome"}),
		sessionResolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeial_session_resolve_total",
			Help: "セッションCookieからのユーザー解決の回数（結果別）",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeial_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codeial_store_latency_seconds",
			Help:    "ユーザー・セッションストア呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codeial_sessions_swept_total",
			Help: "期限切れとして削除されたセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.bearerAuths,
		c.sessionResolves,
		c.httpStatus,
		c.storeLatency,
		c.sessionsSwept,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordBearerAuth はBearerトークン検証の結果を記録する。
func (c *Collector) RecordBearerAuth(outcome string) {
	c.bearerAuths.WithLabelValues(outcome).Inc()
}

// RecordSessionResolve はセッション解決の結果を記録する。
func (c *Collector) RecordSessionResolve(outcome string) {
	c.sessionResolves.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordStoreLatency はストア呼び出しのレイテンシを記録する。
func (c *Collector) RecordStoreLatency(op string, duration time.Duration) {
	c.storeLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSessionsSwept は期限切れセッションの削除件数を記録する。
func (c *Collector) RecordSessionsSwept(count int64) {
	c.sessionsSwept.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスが単体でスクレイプ対象になる場合に使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
