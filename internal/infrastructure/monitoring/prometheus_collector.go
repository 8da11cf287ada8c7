package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.MetricsRecorder.
type PrometheusCollector struct {
	factory promauto.Factory

	participantsOnline prometheus.Gauge
	participantsStale  prometheus.GaugeFunc

	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	fanout           prometheus.Histogram

	operationsApplied *prometheus.CounterVec
	lockOutcomes      *prometheus.CounterVec

	negotiationDuration *prometheus.HistogramVec
	negotiationFailures *prometheus.CounterVec
}

// NewPrometheusCollector registers the board metrics on reg. A nil reg
// means the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		factory: factory,

		participantsOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "peerboard_participants_online",
			Help: "Number of remote participants with an open channel",
		}),

		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerboard_messages_received_total",
			Help: "Inbound sync messages by type",
		}, []string{"type"}),

		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerboard_messages_sent_total",
			Help: "Outbound sync message deliveries by type",
		}, []string{"type"}),

		fanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "peerboard_broadcast_fanout",
			Help:    "Number of peers reached per outbound message",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		}),

		operationsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerboard_operations_total",
			Help: "Board operations by kind and whether they changed state",
		}, []string{"kind", "result"}),

		lockOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerboard_lock_outcomes_total",
			Help: "Lock requests by outcome",
		}, []string{"outcome"}),

		negotiationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peerboard_negotiation_duration_seconds",
			Help:    "Duration of connection negotiation steps",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"step"}),

		negotiationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerboard_negotiation_failures_total",
			Help: "Failed negotiation steps",
		}, []string{"step"}),
	}
}

func (p *PrometheusCollector) MessageReceived(messageType string) {
	p.messagesReceived.WithLabelValues(messageType).Inc()
}

func (p *PrometheusCollector) MessageSent(messageType string, deliveries int) {
	p.messagesSent.WithLabelValues(messageType).Add(float64(deliveries))
	p.fanout.Observe(float64(deliveries))
}

func (p *PrometheusCollector) OperationApplied(kind string, applied bool) {
	result := "applied"
	if !applied {
		result = "ignored"
	}
	p.operationsApplied.WithLabelValues(kind, result).Inc()
}

func (p *PrometheusCollector) LockOutcome(outcome string) {
	p.lockOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) ParticipantsChanged(online int) {
	p.participantsOnline.Set(float64(online))
}

func (p *PrometheusCollector) NegotiationObserved(step string, d time.Duration, err error) {
	p.negotiationDuration.WithLabelValues(step).Observe(d.Seconds())
	if err != nil {
		p.negotiationFailures.WithLabelValues(step).Inc()
	}
}

// WatchStaleParticipants exports count on every scrape as the number of
// remote participants that have gone quiet.
func (p *PrometheusCollector) WatchStaleParticipants(count func() int) {
	p.participantsStale = p.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "peerboard_participants_stale",
		Help: "Remote participants not heard from within the stale window",
	}, func() float64 { return float64(count()) })
}
