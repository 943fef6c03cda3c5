// Package pipeline runs a recording through normalization, recognition,
// diarization, speaker assignment, turn grouping and session
// materialization.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/turnscribe/pkg/engine"
	tserrors "github.com/otherjamesbrown/turnscribe/pkg/errors"
	"github.com/otherjamesbrown/turnscribe/pkg/events"
	"github.com/otherjamesbrown/turnscribe/pkg/logging"
	"github.com/otherjamesbrown/turnscribe/pkg/observability"
	"github.com/otherjamesbrown/turnscribe/pkg/runid"
	"github.com/otherjamesbrown/turnscribe/pkg/session"
	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

// Normalizer converts arbitrary audio to the mono format the engines expect.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath, outputPath string) error
	SampleRate() int
}

// Materializer persists turns as a session.
type Materializer interface {
	Materialize(ctx context.Context, turns []transcript.Turn, audioPath string, sampleRate int) (*session.Session, error)
}

// EventPublisher announces run outcomes.
type EventPublisher interface {
	PublishCompleted(ctx context.Context, params events.CompletedParams) error
	PublishFailed(ctx context.Context, params events.FailedParams) error
}

// SessionSaver stores materialized sessions outside the filesystem.
type SessionSaver interface {
	SaveSession(ctx context.Context, sess *session.Session) error
}

// Config holds run settings.
type Config struct {
	// ScratchDir is where per-run temporary directories are created.
	// Empty uses the system temp directory.
	ScratchDir string
	// Timeout bounds recognition and diarization together. Zero means no
	// bound beyond the caller's context.
	Timeout time.Duration
	// Group controls turn grouping.
	Group transcript.GroupOptions
}

// Deps are the collaborators of an Orchestrator. Recognizer, Diarizer,
// Normalizer and Materializer are required.
type Deps struct {
	Recognizer   engine.Recognizer
	Diarizer     engine.Diarizer
	Normalizer   Normalizer
	Materializer Materializer

	Events  EventPublisher
	Store   SessionSaver
	Metrics *observability.PipelineMetrics
	Tracer  *observability.Tracer
	Logger  logging.Logger
}

// Orchestrator runs recordings end to end. It is safe for concurrent use
// when its collaborators are.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  logging.Logger
}

// New validates deps and creates an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Recognizer == nil:
		return nil, fmt.Errorf("recognizer is required: %w", tserrors.ErrValidation)
	case deps.Diarizer == nil:
		return nil, fmt.Errorf("diarizer is required: %w", tserrors.ErrValidation)
	case deps.Normalizer == nil:
		return nil, fmt.Errorf("normalizer is required: %w", tserrors.ErrValidation)
	case deps.Materializer == nil:
		return nil, fmt.Errorf("materializer is required: %w", tserrors.ErrValidation)
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.NewTracer()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.With(logging.F("component", "pipeline")),
	}, nil
}

// Run processes raw audio bytes. On failure it returns a *PipelineError with
// an error result that carries the run ID and no turns.
func (o *Orchestrator) Run(ctx context.Context, raw []byte) (*Result, error) {
	return o.run(ctx, len(raw), func(w io.Writer) error {
		if len(raw) == 0 {
			return tserrors.ErrEmptyAudio
		}
		_, err := w.Write(raw)
		return err
	})
}

// RunFile processes the recording at path.
func (o *Orchestrator) RunFile(ctx context.Context, path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		pe := tserrors.ClassifyError(fmt.Errorf("reading input: %w", err), tserrors.StageScratch)
		return ErrorResult("", pe), pe
	}
	return o.run(ctx, int(info.Size()), func(w io.Writer) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := io.Copy(w, f)
		if err != nil {
			return err
		}
		if n == 0 {
			return tserrors.ErrEmptyAudio
		}
		return nil
	})
}

func (o *Orchestrator) run(ctx context.Context, size int, writeInput func(io.Writer) error) (*Result, error) {
	id := runid.NewRun()
	ctx = logging.ContextWithRunID(ctx, id)
	log := o.log.WithContext(ctx)
	start := time.Now()

	ctx, span := o.deps.Tracer.StartRunSpan(ctx, id, size)
	defer span.End()
	spanHelper := observability.NewSpanHelper(span)

	if m := o.deps.Metrics; m != nil {
		m.RunsInFlight.Inc()
		defer m.RunsInFlight.Dec()
		m.AudioBytesTotal.Add(float64(size))
	}

	log.Info("run started", logging.F("audio_bytes", size))

	sess, err := o.execute(ctx, log, writeInput)
	elapsed := time.Since(start)
	if err != nil {
		pe := tserrors.ClassifyError(err, tserrors.StageOf(err))
		spanHelper.SetError(pe, string(pe.Code), tserrors.IsErrorRetryable(pe))
		o.recordFailure(ctx, log, id, pe, elapsed)
		return ErrorResult(id, pe), pe
	}

	spanHelper.SetSession(sess.Name, sess.IssueCount())
	spanHelper.SetSuccess()
	o.recordSuccess(ctx, log, id, sess, elapsed)
	return SuccessResult(id, sess), nil
}

// execute performs the stages. Every error it returns is a *PipelineError.
func (o *Orchestrator) execute(ctx context.Context, log logging.Logger, writeInput func(io.Writer) error) (*session.Session, error) {
	scratch, err := os.MkdirTemp(o.cfg.ScratchDir, "turnscribe-*")
	if err != nil {
		return nil, tserrors.ClassifyError(fmt.Errorf("creating scratch directory: %w", err), tserrors.StageScratch)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn("failed to remove scratch directory", logging.Err(err), logging.F("path", scratch))
		}
	}()

	inputPath := filepath.Join(scratch, "input")
	if err := o.stage(ctx, tserrors.StageScratch, func(ctx context.Context) error {
		return writeFile(inputPath, writeInput)
	}); err != nil {
		return nil, err
	}

	normalized := filepath.Join(scratch, "normalized.wav")
	if err := o.stage(ctx, tserrors.StageNormalize, func(ctx context.Context) error {
		return o.deps.Normalizer.Normalize(ctx, inputPath, normalized)
	}); err != nil {
		return nil, err
	}

	words, segments, err := o.analyze(ctx, normalized)
	if err != nil {
		return nil, err
	}

	aligned := transcript.Assign(words, segments)
	turns := transcript.GroupWith(aligned, o.cfg.Group)
	log.Info("transcript aligned",
		logging.F("words", len(words)),
		logging.F("segments", len(segments)),
		logging.F("turns", len(turns)))
	observability.NewSpanHelper(trace.SpanFromContext(ctx)).SetCounts(len(words), len(segments), len(turns))
	if m := o.deps.Metrics; m != nil {
		m.RecordAlignment(len(aligned), countUnresolved(aligned))
	}

	var sess *session.Session
	if err := o.stage(ctx, tserrors.StageSession, func(ctx context.Context) error {
		var err error
		sess, err = o.deps.Materializer.Materialize(ctx, turns, normalized, o.deps.Normalizer.SampleRate())
		return err
	}); err != nil {
		return nil, err
	}
	return sess, nil
}

// analyze runs recognition and diarization concurrently under the engine
// timeout. The first failure cancels the other engine.
func (o *Orchestrator) analyze(ctx context.Context, audioPath string) ([]transcript.Word, []transcript.Segment, error) {
	engineCtx := ctx
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		engineCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	var (
		words    []transcript.Word
		segments []transcript.Segment
	)
	g, gctx := errgroup.WithContext(engineCtx)
	g.Go(func() error {
		return o.stage(gctx, tserrors.StageRecognize, func(ctx context.Context) error {
			var err error
			words, err = o.deps.Recognizer.Recognize(ctx, audioPath)
			return err
		}, attribute.String(observability.AttrEngine, o.deps.Recognizer.Name()))
	})
	g.Go(func() error {
		return o.stage(gctx, tserrors.StageDiarize, func(ctx context.Context) error {
			var err error
			segments, err = o.deps.Diarizer.Diarize(ctx, audioPath)
			return err
		}, attribute.String(observability.AttrEngine, o.deps.Diarizer.Name()))
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return words, segments, nil
}

// stage runs fn inside a span, records its latency and classifies its error.
func (o *Orchestrator) stage(ctx context.Context, stage tserrors.Stage, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := o.deps.Tracer.StartStageSpan(ctx, string(stage), attrs...)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if m := o.deps.Metrics; m != nil {
		m.RecordStage(string(stage), elapsed.Seconds())
	}
	if err == nil {
		return nil
	}

	pe := tserrors.ClassifyError(err, stage)
	pe.Duration = elapsed
	if pe.Code == tserrors.ErrTimeout && (stage == tserrors.StageRecognize || stage == tserrors.StageDiarize) {
		pe.Timeout = o.cfg.Timeout
	}
	observability.NewSpanHelper(span).SetError(pe, string(pe.Code), tserrors.IsErrorRetryable(pe))
	return pe
}

func (o *Orchestrator) recordSuccess(ctx context.Context, log logging.Logger, id string, sess *session.Session, elapsed time.Duration) {
	speakers := transcript.Speakers(sess.Turns)
	log.Info("run completed",
		logging.F("session", sess.Name),
		logging.F("turns", len(sess.Turns)),
		logging.F("speakers", len(speakers)),
		logging.F("issues", sess.IssueCount()),
		logging.F("duration", elapsed))

	if m := o.deps.Metrics; m != nil {
		m.RecordRun(observability.StatusSuccess, elapsed.Seconds())
		m.RecordSpeakers(len(speakers))
		for _, t := range sess.Turns {
			kinds := make([]string, len(t.Issues))
			for i, issue := range t.Issues {
				kinds[i] = string(issue.Kind)
			}
			m.RecordTurn(t.HasAudio(), kinds...)
		}
	}

	// Persistence and events are best effort; the session on disk is the
	// result of record.
	if o.deps.Store != nil {
		if err := o.deps.Store.SaveSession(ctx, sess); err != nil {
			log.Warn("failed to store session", logging.Err(err), logging.F("session", sess.Name))
		}
	}
	if o.deps.Events != nil {
		err := o.deps.Events.PublishCompleted(ctx, events.CompletedParams{
			RunID:      id,
			Session:    sess.Name,
			Path:       sess.Root,
			TurnCount:  len(sess.Turns),
			Speakers:   speakers,
			IssueCount: sess.IssueCount(),
			Duration:   elapsed,
		})
		if err != nil {
			log.Warn("failed to publish completion event", logging.Err(err))
		}
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, log logging.Logger, id string, pe *tserrors.PipelineError, elapsed time.Duration) {
	log.Error("run failed",
		logging.Err(pe),
		logging.F("stage", string(pe.Stage)),
		logging.F("code", string(pe.Code)),
		logging.F("duration", elapsed))

	if m := o.deps.Metrics; m != nil {
		m.RecordRun(observability.StatusError, elapsed.Seconds())
		m.RecordError(string(pe.Stage), string(pe.Code))
	}
	if o.deps.Events != nil {
		// The run context may already be cancelled.
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err := o.deps.Events.PublishFailed(pubCtx, events.FailedParams{
			RunID:     id,
			Stage:     string(pe.Stage),
			Code:      string(pe.Code),
			Message:   pe.Message,
			Retryable: tserrors.IsErrorRetryable(pe),
			Duration:  elapsed,
		})
		if err != nil {
			log.Warn("failed to publish failure event", logging.Err(err))
		}
	}
}

func writeFile(path string, writeInput func(io.Writer) error) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err := writeInput(f); err != nil {
		if errors.Is(err, tserrors.ErrEmptyAudio) {
			return err
		}
		return fmt.Errorf("writing input: %w", err)
	}
	return nil
}

func countUnresolved(aligned []transcript.AlignedWord) int {
	n := 0
	for _, w := range aligned {
		if !w.Resolved {
			n++
		}
	}
	return n
}
