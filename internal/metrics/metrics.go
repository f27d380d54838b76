package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the proxy.
type Metrics struct {
	// Connection metrics
	ActiveConnections   prometheus.Gauge
	OffersHandled       prometheus.Counter
	NegotiationFailures prometheus.Counter
	ConnectionsClosed   prometheus.Counter

	// Pipeline metrics
	IngressChunks     prometheus.Counter
	EgressFrames      prometheus.Counter
	NonAudioResponses prometheus.Counter
	PipelineErrors    *prometheus.CounterVec
}

// New creates and registers all metrics.
func New() *Metrics {
	m := &Metrics{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtproxy_active_connections",
			Help: "Number of currently bridged connections",
		}),
		OffersHandled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtproxy_offers_handled_total",
			Help: "Total number of SDP offers handled",
		}),
		NegotiationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtproxy_negotiation_failures_total",
			Help: "Total number of offers that failed negotiation",
		}),
		ConnectionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtproxy_connections_closed_total",
			Help: "Total number of connections closed",
		}),
		IngressChunks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtproxy_ingress_chunks_total",
			Help: "Total number of audio chunks sent to the model",
		}),
		EgressFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtproxy_egress_frames_total",
			Help: "Total number of audio frames sent back over the transport",
		}),
		NonAudioResponses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtproxy_non_audio_responses_total",
			Help: "Total number of model responses carrying no audio payload",
		}),
		PipelineErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtproxy_pipeline_errors_total",
				Help: "Total number of fatal pipeline errors",
			},
			[]string{"direction"}, // ingress or egress
		),
	}

	return m
}
