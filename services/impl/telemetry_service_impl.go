package impl

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

// TelemetryServiceImpl emits one structured METRIC log line per request and
// keeps the Prometheus counters behind /metrics. Log line and counters are
// fed from the same event so they can never disagree.
type TelemetryServiceImpl struct {
	logger *logrus.Logger

	requestsTotal   *prometheus.CounterVec
	escalations     prometheus.Counter
	requestDuration *prometheus.HistogramVec
	costTotal       *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
}

// NewTelemetryService registers the gateway metrics with reg. Pass the GPU
// admission gate to also export queue gauges; nil skips them.
func NewTelemetryService(logger *logrus.Logger, reg prometheus.Registerer, gpu services.GpuAdmission) *TelemetryServiceImpl {
	factory := promauto.With(reg)

	t := &TelemetryServiceImpl{
		logger: logger,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Routed requests by task, tier and final status.",
		}, []string{"task", "tier", "status"}),
		escalations: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_escalations_total",
			Help: "Requests that needed a second backend.",
		}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request duration by tier.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"tier"}),
		costTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cost_usd_total",
			Help: "Estimated spend in USD by tier.",
		}, []string{"tier"}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tokens_total",
			Help: "Estimated tokens processed by tier.",
		}, []string{"tier"}),
	}

	if gpu != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gateway_gpu_queue_depth",
			Help: "Tickets waiting for a GPU slot.",
		}, func() float64 {
			return float64(gpuMetrics(gpu).QueueDepth)
		})
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gateway_gpu_active_workers",
			Help: "GPU slots currently held.",
		}, func() float64 {
			return float64(gpuMetrics(gpu).ActiveWorkers)
		})
	}

	return t
}

func gpuMetrics(gpu services.GpuAdmission) services.GpuQueueMetrics {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return gpu.Metrics(ctx)
}

// EmitQuery records one finished request.
func (t *TelemetryServiceImpl) EmitQuery(event models.MetricEvent) {
	tier := string(event.Tier)
	t.requestsTotal.WithLabelValues(string(event.Task), tier, event.Status).Inc()
	if event.Escalated {
		t.escalations.Inc()
	}
	t.requestDuration.WithLabelValues(tier).Observe(float64(event.LatencyMs) / 1000)
	t.costTotal.WithLabelValues(tier).Add(event.CostEstUSD)
	t.tokensTotal.WithLabelValues(tier).Add(float64(event.TokensTotal))

	t.logger.WithFields(logrus.Fields{
		"ts":           event.TS,
		"prompt_id":    event.PromptID,
		"task":         event.Task,
		"complexity":   event.Complexity,
		"model_id":     event.ModelID,
		"tier":         event.Tier,
		"tokens_total": event.TokensTotal,
		"latency_ms":   event.LatencyMs,
		"cost_est_usd": event.CostEstUSD,
		"status":       event.Status,
		"escalated":    event.Escalated,
	}).Info("METRIC")
}
