// Package metrics holds the Prometheus instrumentation of one pipeline.
// Each Recorder owns its registry, so pipelines rooted in different
// directories never share series. A nil *Recorder records nothing.
package metrics

import (
	"bytes"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/Integrum-Global/kailash-learn/internal/storage"
)

const namespace = "learn"

// Recorder collects pipeline counters and store gauges.
type Recorder struct {
	reg *prometheus.Registry

	observationsAppended *prometheus.CounterVec
	observationsRejected *prometheus.CounterVec
	corruptRecords       prometheus.Counter
	archivesSealed       prometheus.Counter
	lockTimeouts         *prometheus.CounterVec

	instinctOutcomes *prometheus.CounterVec
	evolveOutcomes   *prometheus.CounterVec
	checkpoints      *prometheus.CounterVec

	opDuration *prometheus.HistogramVec

	liveObservations     prometheus.Gauge
	archivedObservations prometheus.Gauge
	archiveFiles         prometheus.Gauge
	instincts            *prometheus.GaugeVec
	artifacts            *prometheus.GaugeVec
}

// New returns a Recorder backed by a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		reg: reg,

		observationsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_appended_total",
			Help:      "Observations durably appended, by type",
		}, []string{"type"}),

		observationsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_rejected_total",
			Help:      "Observations rejected before write, by reason",
		}, []string{"reason"}),

		corruptRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrupt_records_total",
			Help:      "Unparseable stored lines skipped while reading",
		}),

		archivesSealed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_sealed_total",
			Help:      "Live logs sealed into the archive",
		}),

		lockTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_timeouts_total",
			Help:      "Store lock acquisitions that timed out, by store",
		}, []string{"store"}),

		instinctOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instincts_processed_total",
			Help:      "Pattern groups by processing outcome",
		}, []string{"outcome"}),

		evolveOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evolutions_total",
			Help:      "Instincts by evolution outcome",
		}, []string{"outcome"}),

		checkpoints: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoint operations, by operation",
		}, []string{"op"}),

		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of pipeline operations",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"op"}),

		liveObservations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_observations",
			Help:      "Observations in the live log",
		}),

		archivedObservations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archived_observations",
			Help:      "Observations in sealed archives",
		}),

		archiveFiles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_files",
			Help:      "Sealed archive files",
		}),

		instincts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instincts",
			Help:      "Stored instincts, by source",
		}, []string{"source"}),

		artifacts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifacts",
			Help:      "Evolved artifacts, by category and staleness",
		}, []string{"category", "stale"}),
	}
}

// WithProcessCollectors adds Go runtime and process collectors; used by the
// long-running server only.
func (r *Recorder) WithProcessCollectors() *Recorder {
	if r == nil {
		return nil
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry (for promhttp).
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// ObservationAppended counts one durable append.
func (r *Recorder) ObservationAppended(obsType string) {
	if r == nil {
		return
	}
	r.observationsAppended.WithLabelValues(obsType).Inc()
}

// ObservationRejected counts one rejected append.
func (r *Recorder) ObservationRejected(reason string) {
	if r == nil {
		return
	}
	r.observationsRejected.WithLabelValues(reason).Inc()
}

// CorruptRecord counts one skipped line.
func (r *Recorder) CorruptRecord() {
	if r == nil {
		return
	}
	r.corruptRecords.Inc()
}

// ArchiveSealed counts one sealed live log.
func (r *Recorder) ArchiveSealed() {
	if r == nil {
		return
	}
	r.archivesSealed.Inc()
}

// LockTimeout counts one timed-out lock on store.
func (r *Recorder) LockTimeout(store string) {
	if r == nil {
		return
	}
	r.lockTimeouts.WithLabelValues(store).Inc()
}

// InstinctOutcome adds n groups with outcome (created, updated, unchanged, discarded, skipped).
func (r *Recorder) InstinctOutcome(outcome string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.instinctOutcomes.WithLabelValues(outcome).Add(float64(n))
}

// EvolveOutcome adds n instincts with outcome (evolved, skipped, stale, failed).
func (r *Recorder) EvolveOutcome(outcome string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.evolveOutcomes.WithLabelValues(outcome).Add(float64(n))
}

// Checkpoint counts one checkpoint operation (create, restore, recover).
func (r *Recorder) Checkpoint(op string) {
	if r == nil {
		return
	}
	r.checkpoints.WithLabelValues(op).Inc()
}

// Observe records the duration of op since start.
func (r *Recorder) Observe(op string, start time.Time) {
	if r == nil {
		return
	}
	r.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// StoreSnapshot is the point-in-time size of every store.
type StoreSnapshot struct {
	LiveObservations     int
	ArchivedObservations int
	ArchiveFiles         int
	Instincts            map[string]int
	Artifacts            map[string]int
	StaleArtifacts       map[string]int
}

// SetStores replaces the store gauges with snap.
func (r *Recorder) SetStores(snap StoreSnapshot) {
	if r == nil {
		return
	}
	r.liveObservations.Set(float64(snap.LiveObservations))
	r.archivedObservations.Set(float64(snap.ArchivedObservations))
	r.archiveFiles.Set(float64(snap.ArchiveFiles))

	r.instincts.Reset()
	for source, n := range snap.Instincts {
		r.instincts.WithLabelValues(source).Set(float64(n))
	}
	r.artifacts.Reset()
	for category, n := range snap.Artifacts {
		r.artifacts.WithLabelValues(category, "false").Set(float64(n))
	}
	for category, n := range snap.StaleArtifacts {
		r.artifacts.WithLabelValues(category, "true").Set(float64(n))
	}
}

// WriteText writes every gathered family in the Prometheus text format.
func (r *Recorder) WriteText(w io.Writer) error {
	if r == nil {
		return nil
	}
	families, err := r.reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteTextfile atomically writes the text exposition to path, for the
// node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		return err
	}
	return storage.AtomicWrite(path, func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	})
}
