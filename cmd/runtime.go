package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/otherjamesbrown/turnscribe/config"
	"github.com/otherjamesbrown/turnscribe/credentials"
	"github.com/otherjamesbrown/turnscribe/pkg/buildinfo"
	"github.com/otherjamesbrown/turnscribe/pkg/db"
	"github.com/otherjamesbrown/turnscribe/pkg/engine"
	"github.com/otherjamesbrown/turnscribe/pkg/events"
	"github.com/otherjamesbrown/turnscribe/pkg/logging"
	"github.com/otherjamesbrown/turnscribe/pkg/media"
	"github.com/otherjamesbrown/turnscribe/pkg/observability"
	"github.com/otherjamesbrown/turnscribe/pkg/pipeline"
	"github.com/otherjamesbrown/turnscribe/pkg/session"
	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

// TokenResolver looks up engine API tokens by name.
type TokenResolver interface {
	Resolve(name string) (string, credentials.Source, error)
}

// RuntimeOptions overrides the collaborators NewRuntime would otherwise
// build from configuration.
type RuntimeOptions struct {
	// Tokens resolves engine tokens. Nil opens the default credential store
	// the first time a token is needed.
	Tokens TokenResolver
	// Runner executes ffmpeg. Nil runs the real binary.
	Runner media.Runner
	// Registry receives the pipeline metrics. Nil creates a new registry.
	Registry *prometheus.Registry
	// Logger overrides the process logger.
	Logger logging.Logger
}

// Runtime is everything a transcription needs, built from configuration.
type Runtime struct {
	Config       *config.CLIConfig
	Logger       logging.Logger
	Recognizer   engine.Recognizer
	Diarizer     engine.Diarizer
	FFmpeg       *media.FFmpeg
	Sessions     *session.Store
	Metrics      *observability.PipelineMetrics
	Registry     *prometheus.Registry
	Orchestrator *pipeline.Orchestrator

	// Pool and Repository are nil without a database.
	Pool       *pgxpool.Pool
	Repository *db.SessionRepository

	closers []func() error
}

// NewRuntime creates engines, storage and sinks for cfg. Optional sinks
// (database, Redis) that cannot be reached are logged and skipped.
func NewRuntime(ctx context.Context, cfg *config.CLIConfig, opts RuntimeOptions) (*Runtime, error) {
	root, err := cfg.ResolvedSessionsRoot()
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config:   cfg,
		Registry: opts.Registry,
		Sessions: session.NewStore(root),
	}
	if rt.Registry == nil {
		rt.Registry = prometheus.NewRegistry()
		rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	ok := false
	defer func() {
		if !ok {
			rt.Close() // nolint: errcheck
		}
	}()

	rt.Logger = opts.Logger
	if rt.Logger == nil {
		rt.Logger = newLogger(cfg)
	}

	if cfg.Database.Enabled() {
		rt.openDatabase(ctx)
	}

	tokens := opts.Tokens
	if tokens == nil {
		tokens = &lazyTokenStore{}
	}

	recSpec, err := engineSpec(cfg.Recognizer, tokens)
	if err != nil {
		return nil, fmt.Errorf("recognizer: %w", err)
	}
	rt.Recognizer, err = engine.Recognizers().Create(recSpec)
	if err != nil {
		return nil, fmt.Errorf("creating recognizer: %w", err)
	}
	rt.closers = append(rt.closers, rt.Recognizer.Close)

	diaSpec, err := engineSpec(cfg.Diarizer, tokens)
	if err != nil {
		return nil, fmt.Errorf("diarizer: %w", err)
	}
	rt.Diarizer, err = engine.Diarizers().Create(diaSpec)
	if err != nil {
		return nil, fmt.Errorf("creating diarizer: %w", err)
	}
	rt.closers = append(rt.closers, rt.Diarizer.Close)

	rt.FFmpeg = media.NewFFmpeg(media.Config{Path: cfg.FFmpegPath, SampleRate: cfg.SampleRate}, opts.Runner, rt.Logger)
	rt.Metrics = observability.NewPipelineMetrics(rt.Registry)

	materializer := session.NewMaterializer(session.Options{
		Root:           root,
		ExtractTimeout: cfg.ExtractTimeout,
	}, rt.FFmpeg, rt.Logger)

	deps := pipeline.Deps{
		Recognizer:   rt.Recognizer,
		Diarizer:     rt.Diarizer,
		Normalizer:   rt.FFmpeg,
		Materializer: materializer,
		Metrics:      rt.Metrics,
		Tracer:       observability.NewTracer(),
		Logger:       rt.Logger,
	}
	if rt.Repository != nil {
		deps.Store = rt.Repository
	}
	if cfg.Redis.Enabled() {
		pub, err := events.NewPublisherFromConfig(events.PublisherConfig{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			ChannelPrefix: cfg.Redis.Channel,
		}, rt.Logger)
		if err != nil {
			rt.Logger.Warn("session events disabled", logging.Err(err))
		} else {
			deps.Events = pub
			rt.closers = append(rt.closers, pub.Close)
		}
	}

	rt.Orchestrator, err = pipeline.New(pipeline.Config{
		ScratchDir: cfg.ScratchDir,
		Timeout:    cfg.Timeout,
		Group:      transcript.GroupOptions{SplitGap: cfg.SplitGap},
	}, deps)
	if err != nil {
		return nil, err
	}

	ok = true
	return rt, nil
}

// openDatabase connects the session repository and, when configured, the
// run-log sink. Failure leaves persistence off.
func (rt *Runtime) openDatabase(ctx context.Context) {
	pool, err := connectToDatabase(ctx, rt.Config)
	if err != nil {
		rt.Logger.Warn("session persistence disabled", logging.Err(err))
		return
	}
	rt.Pool = pool
	rt.closers = append(rt.closers, func() error { db.Close(pool); return nil })

	if _, err := db.RegisterPoolStats(rt.Registry, pool, "turnscribe"); err != nil {
		rt.Logger.Warn("pool metrics unavailable", logging.Err(err))
	}

	if rt.Config.Database.PersistLogs {
		sink := logging.NewBatchSink(logging.BatchSinkConfig{Writer: db.NewRunLogWriter(pool)})
		// Closed before the pool so pending entries are written.
		rt.closers = append(rt.closers, sink.Close)
		rt.Logger = newLogger(rt.Config, sink)
	}
	rt.Repository = db.NewSessionRepository(pool, rt.Logger)
}

// Info reports the binary version and the engines in use.
func (rt *Runtime) Info() buildinfo.Info {
	info := buildinfo.Get("turnscribe").
		With("recognizer", rt.Recognizer.Name()).
		With("diarizer", rt.Diarizer.Name())
	if rt.Repository != nil {
		info = info.With("database", "connected")
	}
	return info
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// engineSpec converts configuration into an engine spec, resolving its token.
func engineSpec(ec config.EngineConfig, tokens TokenResolver) (engine.Spec, error) {
	spec := engine.Spec{
		Backend: ec.Backend,
		Command: ec.Command,
		URL:     ec.URL,
		Model:   ec.Model,
		Options: ec.Options,
	}
	if ec.TokenName != "" {
		token, _, err := tokens.Resolve(ec.TokenName)
		if err != nil {
			return spec, fmt.Errorf("resolving token %q: %w", ec.TokenName, err)
		}
		spec.Token = token
	}
	return spec, nil
}

// lazyTokenStore opens the credential store on first use so commands that
// need no tokens never touch the keyring.
type lazyTokenStore struct {
	store *credentials.Store
}

func (l *lazyTokenStore) Resolve(name string) (string, credentials.Source, error) {
	if v, ok := credentials.ResolveEnv(name); ok {
		return v, credentials.SourceEnv, nil
	}
	if l.store == nil {
		store, err := credentials.NewStore()
		if err != nil {
			return "", "", err
		}
		l.store = store
	}
	return l.store.Resolve(name)
}
