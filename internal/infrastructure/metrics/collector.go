package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bbscout/dbbackup/internal/domain"
)

const namespace = "backup"

// Run outcomes as exported in backup_runs_total.
const (
	OutcomeSuccess         = "success"
	OutcomeRetentionFailed = "success_retention_failed"
	OutcomeFailure         = "failure"
)

// Collector exports backup run metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	stageFailures   *prometheus.CounterVec
	runDuration     prometheus.Histogram
	artifactSize    prometheus.Gauge
	lastSuccess     prometheus.Gauge
	prunedTotal     prometheus.Counter
	runInProgress   prometheus.Gauge
	skippedTriggers prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Backup runs by outcome.",
		}, []string{"outcome"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Backup stage failures by stage.",
		}, []string{"stage"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of backup runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		}),
		artifactSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_size_bytes",
			Help:      "Compressed size of the most recent artifact.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup.",
		}),
		prunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_objects_total",
			Help:      "Artifacts deleted by retention.",
		}),
		runInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_in_progress",
			Help:      "1 while a backup run is executing.",
		}),
		skippedTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_triggers_total",
			Help:      "Triggers skipped because a run was already in progress.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.runsTotal,
		c.stageFailures,
		c.runDuration,
		c.artifactSize,
		c.lastSuccess,
		c.prunedTotal,
		c.runInProgress,
		c.skippedTriggers,
	)

	return c
}

func (c *Collector) RunStarted() {
	c.runInProgress.Set(1)
}

func (c *Collector) RunFinished(result *domain.RunResult) {
	c.runInProgress.Set(0)
	c.runDuration.Observe(result.Duration().Seconds())

	if result.Err != nil {
		c.runsTotal.WithLabelValues(OutcomeFailure).Inc()
		c.stageFailures.WithLabelValues(domain.StageName(domain.StageOf(result.Err))).Inc()
		return
	}

	if result.Artifact != nil {
		c.artifactSize.Set(float64(result.Artifact.Size))
	}
	c.lastSuccess.Set(float64(result.FinishedAt.Unix()))
	c.prunedTotal.Add(float64(len(result.Pruned)))

	if result.RetentionErr != nil {
		c.runsTotal.WithLabelValues(OutcomeRetentionFailed).Inc()
		c.stageFailures.WithLabelValues(domain.StageName(domain.ErrRetention)).Inc()
		return
	}
	c.runsTotal.WithLabelValues(OutcomeSuccess).Inc()
}

func (c *Collector) TriggerSkipped() {
	c.skippedTriggers.Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
