package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the certificate module.
type Metrics struct {
	// Registration outcomes: created, duplicate, rejected
	Registrations *prometheus.CounterVec

	// Verification outcomes by method (hash, fields, proof) and result
	Verifications *prometheus.CounterVec

	// Rejected uploads by error code
	UploadRejections *prometheus.CounterVec

	// PDF scan latency and number of render/decode attempts per scan
	ScanLatency  prometheus.Histogram
	ScanAttempts prometheus.Histogram
}

// New creates a new Metrics instance registered on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certisure_certificate_registrations_total",
			Help: "Certificate registrations by outcome",
		}, []string{"outcome"}),

		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certisure_certificate_verifications_total",
			Help: "Certificate verifications by method and result",
		}, []string{"method", "result"}),

		UploadRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certisure_upload_rejections_total",
			Help: "Rejected PDF uploads by error code",
		}, []string{"code"}),

		ScanLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "certisure_scan_duration_seconds",
			Help:    "Duration of PDF QR scans including rasterization",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		ScanAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "certisure_scan_attempts",
			Help:    "Render and decode attempts per successful scan",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 24, 40},
		}),
	}
}

// IncrementRegistration records a registration outcome.
func (m *Metrics) IncrementRegistration(outcome string) {
	if m != nil {
		m.Registrations.WithLabelValues(outcome).Inc()
	}
}

// IncrementVerification records a verification outcome.
func (m *Metrics) IncrementVerification(method string, verified bool) {
	if m == nil {
		return
	}
	result := "not_verified"
	if verified {
		result = "verified"
	}
	m.Verifications.WithLabelValues(method, result).Inc()
}

// IncrementUploadRejection records an upload rejected with code.
func (m *Metrics) IncrementUploadRejection(code string) {
	if m != nil {
		m.UploadRejections.WithLabelValues(code).Inc()
	}
}

// ObserveScan records a finished scan.
func (m *Metrics) ObserveScan(d time.Duration, attempts int) {
	if m == nil {
		return
	}
	m.ScanLatency.Observe(d.Seconds())
	if attempts > 0 {
		m.ScanAttempts.Observe(float64(attempts))
	}
}
