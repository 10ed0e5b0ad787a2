package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IssuerMetrics captures outbound payment submission signals.
type IssuerMetrics struct {
	submissions    *prometheus.CounterVec
	gatewayLatency prometheus.Histogram
	failovers      prometheus.Counter
}

var (
	issuerOnce sync.Once
	issuer     *IssuerMetrics
)

// Issuer returns the singleton issuer metrics registry.
func Issuer() *IssuerMetrics {
	issuerOnce.Do(func() {
		issuer = newIssuerMetrics()
	})
	return issuer
}

func newIssuerMetrics() *IssuerMetrics {
	return &IssuerMetrics{
		submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_issuer_submissions_total",
			Help: "Payment submissions by resulting attempt status.",
		}, []string{"status"}),
		gatewayLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "payflow_issuer_gateway_latency_seconds",
			Help:    "Round-trip time of payment service calls.",
			Buckets: prometheus.DefBuckets,
		}),
		failovers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "payflow_issuer_backup_failovers_total",
			Help: "Automatic single-hop retries on the backup funding source.",
		}),
	}
}

func (m *IssuerMetrics) IncSubmission(status string) {
	m.submissions.WithLabelValues(status).Inc()
}

func (m *IssuerMetrics) ObserveGatewayLatency(d time.Duration) {
	m.gatewayLatency.Observe(d.Seconds())
}

func (m *IssuerMetrics) IncFailover() {
	m.failovers.Inc()
}
