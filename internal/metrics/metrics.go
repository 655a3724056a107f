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
// ポータルクライアントや請求書サービスから利用する。
type MetricsCollector interface {
	RecordVendorCall(endpoint string, statusCode int, duration time.Duration)
	RecordLogin(mode string, success bool)
	RecordCacheLookup(kind string, hit bool)
	RecordPDFBytes(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	vendorCalls   *prometheus.CounterVec
	vendorLatency *prometheus.HistogramVec
	logins        *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	pdfBytes      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		vendorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billbridge_vendor_calls_total",
			Help: "ポータルAPI呼び出しの合計数（エンドポイント・ステータス別）",
		}, []string{"endpoint", "status_code"}),
		vendorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billbridge_vendor_latency_seconds",
			Help:    "ポータルAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billbridge_logins_total",
			Help: "ポータルへのログイン試行数（モード・結果別）",
		}, []string{"mode", "result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billbridge_cache_lookups_total",
			Help: "キャッシュ参照数（種別・結果別）",
		}, []string{"kind", "result"}),
		pdfBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billbridge_pdf_bytes_total",
			Help: "ポータルから取得したPDFの合計バイト数",
		}),
	}

	reg.MustRegister(
		c.vendorCalls,
		c.vendorLatency,
		c.logins,
		c.cacheLookups,
		c.pdfBytes,
	)

	return c
}

// RecordVendorCall はポータルAPI呼び出しを記録する。
// 通信エラーでステータスが得られない場合はstatusCodeに0を渡す。
func (c *Collector) RecordVendorCall(endpoint string, statusCode int, duration time.Duration) {
	c.vendorCalls.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	c.vendorLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordLogin はログイン試行を記録する。
func (c *Collector) RecordLogin(mode string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.logins.WithLabelValues(mode, result).Inc()
}

// RecordCacheLookup はキャッシュ参照を記録する。
func (c *Collector) RecordCacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(kind, result).Inc()
}

// RecordPDFBytes は取得したPDFのサイズを記録する。
func (c *Collector) RecordPDFBytes(n int) {
	c.pdfBytes.Add(float64(n))
}

// Nop は何も記録しないMetricsCollector。テストやCLIの単発実行で使用する。
type Nop struct{}

func (Nop) RecordVendorCall(string, int, time.Duration) {}
func (Nop) RecordLogin(string, bool)                    {}
func (Nop) RecordCacheLookup(string, bool)              {}
func (Nop) RecordPDFBytes(int)                          {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
