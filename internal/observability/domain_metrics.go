package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	StageSchema   = "schema"
	StageGenerate = "generate"
	StageExecute  = "execute"
	StageChart    = "chart"
	StageExplain  = "explain"
	StageUpload   = "upload"
)

var (
	generationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylens_generation_total",
			Help: "Total number of SQL generation attempts by outcome.",
		},
		[]string{"outcome"},
	)
	guardDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylens_guard_decisions_total",
			Help: "Total number of guard decisions on candidate SQL.",
		},
		[]string{"decision"},
	)
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylens_query_executions_total",
			Help: "Total number of executed queries by outcome.",
		},
		[]string{"outcome"},
	)
	chartSynthesisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylens_chart_synthesis_total",
			Help: "Total number of chart configurations by the path that produced them.",
		},
		[]string{"source"},
	)
	explanationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylens_explanations_total",
			Help: "Total number of explanation attempts by outcome.",
		},
		[]string{"outcome"},
	)
	uploadRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylens_upload_rows_total",
			Help: "Total number of rows imported from uploaded CSV files.",
		},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querylens_stage_duration_seconds",
			Help:    "Pipeline stage latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(
		generationTotal,
		guardDecisionsTotal,
		queryExecutionsTotal,
		chartSynthesisTotal,
		explanationsTotal,
		uploadRowsTotal,
		stageDurationSeconds,
	)
}

func ObserveGeneration(outcome string, elapsed time.Duration) {
	generationTotal.WithLabelValues(outcome).Inc()
	stageDurationSeconds.WithLabelValues(StageGenerate).Observe(elapsed.Seconds())
}

func ObserveGuardDecision(accepted bool) {
	decision := "rejected"
	if accepted {
		decision = "accepted"
	}
	guardDecisionsTotal.WithLabelValues(decision).Inc()
}

func ObserveQueryExecution(outcome string, elapsed time.Duration) {
	queryExecutionsTotal.WithLabelValues(outcome).Inc()
	stageDurationSeconds.WithLabelValues(StageExecute).Observe(elapsed.Seconds())
}

func ObserveChartSynthesis(source string, elapsed time.Duration) {
	chartSynthesisTotal.WithLabelValues(source).Inc()
	stageDurationSeconds.WithLabelValues(StageChart).Observe(elapsed.Seconds())
}

func ObserveExplanation(outcome string, elapsed time.Duration) {
	explanationsTotal.WithLabelValues(outcome).Inc()
	stageDurationSeconds.WithLabelValues(StageExplain).Observe(elapsed.Seconds())
}

func ObserveUpload(rows int, elapsed time.Duration) {
	if rows > 0 {
		uploadRowsTotal.Add(float64(rows))
	}
	stageDurationSeconds.WithLabelValues(StageUpload).Observe(elapsed.Seconds())
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}
