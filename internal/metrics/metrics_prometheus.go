// ABOUTME: Prometheus implementation of the metrics recorder
// ABOUTME: Registers session, request and storage collectors with promauto

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recorder = (&prometheusRecorder{}).init()
)

type prometheusRecorder struct {
	sessionsActiveGauge       prometheus.Gauge
	sessionsCounter           prometheus.Counter
	requestCounter            *prometheus.CounterVec
	storageOperationHistogram *prometheus.HistogramVec
}

func (in *prometheusRecorder) SessionOpened() {
	in.sessionsActiveGauge.Inc()
	in.sessionsCounter.Inc()
}

func (in *prometheusRecorder) SessionClosed() {
	in.sessionsActiveGauge.Dec()
}

func (in *prometheusRecorder) Request(messageType, outcome string) {
	in.requestCounter.WithLabelValues(messageType, outcome).Inc()
}

func (in *prometheusRecorder) StorageOperation(backend, op string, elapsed time.Duration, err error) {
	result := OutcomeOK
	if err != nil {
		result = OutcomeError
	}

	in.storageOperationHistogram.WithLabelValues(backend, op, result).Observe(elapsed.Seconds())
}

func (in *prometheusRecorder) init() Recorder {
	in.sessionsActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: SessionsActiveMetricName,
		Help: SessionsActiveMetricDescription,
	})

	in.sessionsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: SessionsTotalMetricName,
		Help: SessionsTotalMetricDescription,
	})

	in.requestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: RequestsMetricName,
		Help: RequestsMetricDescription,
	}, []string{RequestsMetricLabelMessageType, RequestsMetricLabelOutcome})

	in.storageOperationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    StorageOperationMetricName,
		Help:    StorageOperationMetricDescription,
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{StorageOperationMetricLabelBackend, StorageOperationMetricLabelOp, StorageOperationMetricLabelResult})

	return in
}

func Record() Recorder {
	return recorder
}
