// Package metrics holds the Prometheus instruments of the delivery path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomePartial   = "partial"
)

// Metrics is a set of collectors registered on one registry. A nil
// *Metrics records nothing.
type Metrics struct {
	messages  *prometheus.CounterVec
	documents *prometheus.CounterVec
	uploads   *prometheus.HistogramVec
	renders   prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inkpost_messages_total",
			Help: "Inbound messages by outcome (delivered, partial or the failure code)",
		}, []string{"outcome"}),
		documents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inkpost_documents_total",
			Help: "Documents by kind and delivery status",
		}, []string{"kind", "status"}),
		uploads: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inkpost_upload_duration_seconds",
			Help:    "Latency of document uploads to the device cloud",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		renders: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "inkpost_render_duration_seconds",
			Help:    "Latency of HTML to PDF rendering",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
}

// Message counts one inbound message with the given outcome.
func (m *Metrics) Message(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

// Document counts one document result.
func (m *Metrics) Document(kind, status string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.documents.WithLabelValues(kind, status).Inc()
}

// ObserveUpload records how long an upload took.
func (m *Metrics) ObserveUpload(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRender records how long a render took.
func (m *Metrics) ObserveRender(d time.Duration) {
	if m == nil {
		return
	}
	m.renders.Observe(d.Seconds())
}
