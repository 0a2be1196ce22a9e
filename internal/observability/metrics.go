package observability

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/andresuchdata/catalog-export/internal/domain"
	"github.com/andresuchdata/catalog-export/internal/pipeline"
)

// Metrics holds the batch-job metrics of the export. They live on a private
// registry and are pushed to a Pushgateway at the end of a run.
type Metrics struct {
	job      string
	registry *prometheus.Registry

	LastRun        prometheus.Gauge
	LastSuccess    prometheus.Gauge
	Rows           prometheus.Gauge
	Bytes          prometheus.Gauge
	RunDuration    prometheus.Gauge
	StageDuration  *prometheus.GaugeVec
	RunsByStatus   *prometheus.CounterVec
	FailuresByKind *prometheus.CounterVec
}

func NewMetrics(job string) *Metrics {
	if job == "" {
		job = "catalog_export"
	}

	m := &Metrics{
		job:      job,
		registry: prometheus.NewRegistry(),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_export_last_run_timestamp_seconds",
			Help: "Unix time the last export run finished",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_export_last_success_timestamp_seconds",
			Help: "Unix time the last successful export run finished",
		}),
		Rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_export_rows",
			Help: "Products exported by the last run",
		}),
		Bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_export_bytes",
			Help: "Size of the CSV written by the last run",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_export_duration_seconds",
			Help: "Wall time of the last run",
		}),
		StageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "catalog_export_stage_duration_seconds",
			Help: "Wall time of each stage of the last run",
		}, []string{"stage"}),
		RunsByStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_export_runs_total",
			Help: "Export runs by final status",
		}, []string{"status"}),
		FailuresByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_export_failures_total",
			Help: "Failed export runs by error kind",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.LastRun,
		m.LastSuccess,
		m.Rows,
		m.Bytes,
		m.RunDuration,
		m.StageDuration,
		m.RunsByStatus,
		m.FailuresByKind,
	)
	return m
}

// Registry exposes the private registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun updates the metrics from a finished run.
func (m *Metrics) ObserveRun(run *pipeline.Run) {
	if run == nil || run.CompletedAt == nil || !run.Status.Terminal() {
		return
	}

	finished := float64(run.CompletedAt.Unix())
	m.LastRun.Set(finished)
	m.RunDuration.Set(run.Duration().Seconds())
	m.RunsByStatus.WithLabelValues(string(run.Status)).Inc()

	for _, st := range run.Stages {
		if st.Status == domain.StatusPending {
			continue
		}
		m.StageDuration.WithLabelValues(string(st.Name)).Set(st.Duration.Seconds())
	}

	if run.Succeeded() {
		m.LastSuccess.Set(finished)
		m.Rows.Set(float64(run.Rows))
		m.Bytes.Set(float64(run.Bytes))
		return
	}
	m.FailuresByKind.WithLabelValues(string(run.ErrorKind)).Inc()
}

// Push sends the registry to the Pushgateway at url, replacing the metrics
// previously pushed for the job.
func (m *Metrics) Push(ctx context.Context, url string) error {
	if url == "" {
		return nil
	}
	err := push.New(url, m.job).Gatherer(m.registry).PushContext(ctx)
	if err != nil {
		return domain.E(domain.KindNetwork, "push metrics", errors.Wrap(err, url))
	}
	return nil
}

var _ pipeline.Observer = (*Metrics)(nil)
