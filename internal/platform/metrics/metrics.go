package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	WebhooksReceived  *prometheus.CounterVec
	WebhooksRejected  *prometheus.CounterVec
	EventsPublished   prometheus.Counter
	EventDedupeHits   prometheus.Counter
	ActiveStreams     prometheus.Gauge
	BusListenerUp     prometheus.Gauge
	CertVerifications *prometheus.CounterVec
	LedgerExported    prometheus.Counter
}

// New creates and registers all Prometheus metrics on the given registerer.
// Passing a fresh prometheus.NewRegistry keeps test instances isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cleargate_webhooks_received_total",
			Help: "Provider webhooks received, by resulting action.",
		}, []string{"action"}),
		WebhooksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cleargate_webhooks_rejected_total",
			Help: "Provider webhooks rejected before processing, by reason.",
		}, []string{"reason"}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "cleargate_case_events_published_total",
			Help: "Compliance case events published on the event bus.",
		}),
		EventDedupeHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "cleargate_case_event_dedupe_hits_total",
			Help: "Event appends skipped because the idempotency key already existed.",
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cleargate_active_streams",
			Help: "Currently open compliance stream connections.",
		}),
		BusListenerUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cleargate_bus_listener_up",
			Help: "1 when the durable event bus listener is connected.",
		}),
		CertVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cleargate_certificate_verifications_total",
			Help: "Certificate verifications, by method and outcome.",
		}, []string{"method", "outcome"}),
		LedgerExported: factory.NewCounter(prometheus.CounterOpts{
			Name: "cleargate_ledger_events_exported_total",
			Help: "Ledger events exported to Kafka.",
		}),
	}
}
