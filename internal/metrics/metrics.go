// Package metrics records orchestration and completion metrics with Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Recorder struct {
	workflowsTotal   *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec
	iterations       prometheus.Histogram
	retriesTotal     *prometheus.CounterVec
	satisfaction     *prometheus.HistogramVec
	requestsTotal    *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// New registers the collectors on reg. Use prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		workflowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mindforge_workflows_total",
				Help: "Completed orchestration workflows by terminal reason",
			},
			[]string{"terminal_reason"},
		),
		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mindforge_workflow_duration_seconds",
				Help:    "Wall-clock duration of orchestration workflows",
				Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"terminal_reason"},
		),
		iterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mindforge_workflow_iterations",
				Help:    "Iteration records per workflow",
				Buckets: prometheus.LinearBuckets(0, 1, 11),
			},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mindforge_agent_retries_total",
				Help: "Agent re-executions triggered by low monitor scores",
			},
			[]string{"agent_id"},
		),
		satisfaction: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mindforge_monitor_satisfaction",
				Help:    "Monitor satisfaction scores per agent",
				Buckets: prometheus.LinearBuckets(1, 1, 10),
			},
			[]string{"agent_id"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mindforge_llm_requests_total",
				Help: "Completion requests by model, agent and status",
			},
			[]string{"model", "agent_id", "status"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mindforge_llm_tokens_total",
				Help: "Estimated tokens sent to and received from the completion service",
			},
			[]string{"model", "agent_id", "type"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mindforge_llm_request_duration_seconds",
				Help:    "Duration of completion requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "agent_id"},
		),
	}
}

func (r *Recorder) ObserveWorkflow(reason string, iterations int, duration time.Duration) {
	if r == nil {
		return
	}
	r.workflowsTotal.WithLabelValues(reason).Inc()
	r.workflowDuration.WithLabelValues(reason).Observe(duration.Seconds())
	r.iterations.Observe(float64(iterations))
}

func (r *Recorder) IncRetry(agentID string) {
	if r == nil {
		return
	}
	r.retriesTotal.WithLabelValues(agentID).Inc()
}

func (r *Recorder) ObserveSatisfaction(agentID string, score int) {
	if r == nil {
		return
	}
	r.satisfaction.WithLabelValues(agentID).Observe(float64(score))
}

func (r *Recorder) ObserveRequest(model, agentID string, promptTokens, completionTokens int, success bool, duration time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	r.requestsTotal.WithLabelValues(model, agentID, status).Inc()
	if success {
		r.tokensTotal.WithLabelValues(model, agentID, "prompt").Add(float64(promptTokens))
		r.tokensTotal.WithLabelValues(model, agentID, "completion").Add(float64(completionTokens))
	}
	r.requestDuration.WithLabelValues(model, agentID).Observe(duration.Seconds())
}
