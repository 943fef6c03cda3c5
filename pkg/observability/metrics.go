// Package observability provides metrics and tracing for transcription runs.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// PipelineMetrics holds all Prometheus metrics for the transcription pipeline.
type PipelineMetrics struct {
	// Run metrics
	RunsTotal       *prometheus.CounterVec
	RunSeconds      prometheus.Histogram
	RunsInFlight    prometheus.Gauge
	AudioBytesTotal prometheus.Counter

	// Stage metrics
	StageSeconds *prometheus.HistogramVec
	ErrorsTotal  *prometheus.CounterVec

	// Output metrics
	WordsTotal         prometheus.Counter
	UnresolvedWords    prometheus.Counter
	TurnsTotal         *prometheus.CounterVec
	TurnIssuesTotal    *prometheus.CounterVec
	SpeakersPerSession prometheus.Histogram
}

// DefaultPipelineMetrics creates metrics on the default registerer.
func DefaultPipelineMetrics() *PipelineMetrics {
	return NewPipelineMetrics(prometheus.DefaultRegisterer)
}

// NewPipelineMetrics creates a new set of pipeline metrics.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)

	return &PipelineMetrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnscribe_runs_total",
				Help: "Total transcription runs by outcome",
			},
			[]string{"status"},
		),
		RunSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "turnscribe_run_seconds",
				Help:    "End-to-end run latency",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 3600},
			},
		),
		RunsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "turnscribe_runs_in_flight",
				Help: "Runs currently executing",
			},
		),
		AudioBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "turnscribe_audio_bytes_total",
				Help: "Raw audio bytes accepted",
			},
		),

		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnscribe_stage_seconds",
				Help:    "Latency per pipeline stage",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"stage"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnscribe_errors_total",
				Help: "Fatal run errors by stage and code",
			},
			[]string{"stage", "code"},
		),

		WordsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "turnscribe_words_total",
				Help: "Recognized words aligned",
			},
		),
		UnresolvedWords: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "turnscribe_unresolved_words_total",
				Help: "Words left without a speaker",
			},
		),
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnscribe_turns_total",
				Help: "Turns materialized, by whether the clip was extracted",
			},
			[]string{"audio"},
		),
		TurnIssuesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnscribe_turn_issues_total",
				Help: "Recoverable per-turn failures",
			},
			[]string{"kind"},
		),
		SpeakersPerSession: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "turnscribe_speakers_per_session",
				Help:    "Distinct speakers found per session",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
			},
		),
	}
}

// RecordRun records a finished run.
func (m *PipelineMetrics) RecordRun(status string, seconds float64) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunSeconds.Observe(seconds)
}

// RecordStage records one stage's latency.
func (m *PipelineMetrics) RecordStage(stage string, seconds float64) {
	m.StageSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordError records a fatal error.
func (m *PipelineMetrics) RecordError(stage, code string) {
	m.ErrorsTotal.WithLabelValues(stage, code).Inc()
}

// RecordAlignment records word attribution counts.
func (m *PipelineMetrics) RecordAlignment(words, unresolved int) {
	m.WordsTotal.Add(float64(words))
	m.UnresolvedWords.Add(float64(unresolved))
}

// RecordTurn records one materialized turn and its issues.
func (m *PipelineMetrics) RecordTurn(hasAudio bool, issueKinds ...string) {
	audio := "missing"
	if hasAudio {
		audio = "extracted"
	}
	m.TurnsTotal.WithLabelValues(audio).Inc()
	for _, kind := range issueKinds {
		m.TurnIssuesTotal.WithLabelValues(kind).Inc()
	}
}

// RecordSpeakers records the distinct speaker count of a session.
func (m *PipelineMetrics) RecordSpeakers(n int) {
	m.SpeakersPerSession.Observe(float64(n))
}
