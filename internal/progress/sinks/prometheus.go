package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/renec-harvester/internal/progress"
)

// PrometheusSink exports extraction progress via Prometheus. It owns all
// collectors for runs started/completed/running and per-stage item counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	items            *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	certifiers       prometheus.Counter
	trainingCenters  prometheus.Counter
	checkpointsSaved *prometheus.CounterVec
	corpusStandards  prometheus.Gauge

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renec_runs_started_total",
			Help: "Total extraction runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renec_runs_completed_total",
			Help: "Total extraction runs finished partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "renec_runs_running",
			Help: "Current number of running extractions.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "renec_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renec_items_total",
			Help: "Identifiers processed partitioned by stage and outcome.",
		}, []string{"stage", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "renec_fetch_duration_seconds",
			Help:    "Successful fetch duration partitioned by stage.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),
		certifiers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renec_certifiers_extracted_total",
			Help: "Certifier rows seen on extracted EC detail pages.",
		}),
		trainingCenters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renec_training_centers_extracted_total",
			Help: "Training centre rows seen on extracted EC detail pages.",
		}),
		checkpointsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renec_checkpoints_saved_total",
			Help: "Checkpoints persisted partitioned by stage.",
		}, []string{"stage"}),
		corpusStandards: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "renec_corpus_ec_standards",
			Help: "EC standards in the corpus after the last completed run.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.items,
		s.fetchDuration,
		s.certifiers,
		s.trainingCenters,
		s.checkpointsSaved,
		s.corpusStandards,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindStarted:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.KindCompleted:
		s.finishRun(evt, "success")
		if evt.Stats != nil {
			s.corpusStandards.Set(float64(evt.Stats.ECStandards))
		}
	case progress.KindError:
		if evt.RunFailed() {
			s.finishRun(evt, "error")
		}
	case progress.KindECExtracted:
		s.certifiers.Add(float64(evt.Certifiers))
		s.trainingCenters.Add(float64(evt.Training))
		if evt.Dur > 0 {
			s.fetchDuration.WithLabelValues(string(evt.Stage)).Observe(evt.Dur.Seconds())
		}
	case progress.KindBatchComplete:
		stage := string(evt.Stage)
		s.items.WithLabelValues(stage, "success").Add(float64(evt.Succeeded))
		s.items.WithLabelValues(stage, "skipped").Add(float64(evt.Skipped))
		s.items.WithLabelValues(stage, "error").Add(float64(evt.Failed))
	case progress.KindCheckpointSaved:
		s.checkpointsSaved.WithLabelValues(string(evt.Stage)).Inc()
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	if !s.tracker.complete(evt.RunID) {
		return
	}
	s.runsRunning.Dec()
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
