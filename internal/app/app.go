// Package app wires all voxnote subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds and connects every
// subsystem from the config, Run serves the WebSocket and status listeners
// until its context is cancelled, and Shutdown tears everything down in
// order.
//
// For testing, inject mock engines through [Providers] and pre-bound
// listeners through [App.Serve].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxnote/internal/classify"
	"github.com/MrWong99/voxnote/internal/config"
	"github.com/MrWong99/voxnote/internal/health"
	"github.com/MrWong99/voxnote/internal/logging"
	"github.com/MrWong99/voxnote/internal/mcp/notesrv"
	"github.com/MrWong99/voxnote/internal/notes"
	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/internal/pipeline"
	"github.com/MrWong99/voxnote/internal/resilience"
	"github.com/MrWong99/voxnote/internal/segment"
	"github.com/MrWong99/voxnote/internal/session"
	"github.com/MrWong99/voxnote/internal/transcribe"
	"github.com/MrWong99/voxnote/internal/transport"
	"github.com/MrWong99/voxnote/internal/trigger"
	"github.com/MrWong99/voxnote/pkg/provider/vad"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string
	level     *slog.LevelVar
	metrics   *observe.Metrics
	scrape    http.Handler

	registry  *session.Registry
	triggers  *trigger.Detector
	pipeline  *pipeline.Orchestrator
	store     *notes.Store
	transport *transport.Server
	status    http.Handler

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLevel shares the process log level so reloads can change it.
func WithLevel(level *slog.LevelVar) Option {
	return func(a *App) { a.level = level }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics instead of the default Prometheus
// registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// WithVersion sets the version reported by the MCP endpoint.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders] in production and from mocks in tests. New takes
// ownership of providers and closes them in Shutdown.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.VAD == nil || providers.ASR == nil || providers.LLM == nil {
		return nil, errors.New("app: vad, asr and llm providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(logging.ParseLevel(string(cfg.Server.LogLevel)))
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.scrape == nil {
		a.scrape = promhttp.Handler()
	}

	a.store = notes.New(cfg.Notes.Dir,
		notes.WithDateFormat(cfg.Notes.DateFormat),
		notes.WithMetrics(a.metrics),
	)

	classifier, err := a.newClassifier()
	if err != nil {
		return nil, err
	}
	a.pipeline = pipeline.New(classifier, a.store,
		pipeline.WithLowConfidence(*cfg.Classifier.LowConfidence),
		pipeline.WithMetrics(a.metrics),
	)

	tr, err := transcribe.New(providers.ASR,
		transcribe.WithTempDir(cfg.Transcription.TempDir),
		transcribe.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.triggers = trigger.New(cfg.Triggers.Phrases,
		trigger.WithFuzzy(cfg.Triggers.Fuzzy),
		trigger.WithHistory(cfg.Triggers.History),
	)

	segCfg := segment.Config{
		SampleRate:           cfg.Audio.SampleRate,
		FrameSamples:         cfg.Audio.FrameSamples,
		Threshold:            *cfg.Segmenter.Threshold,
		PauseThresholdFrames: cfg.Segmenter.PauseThresholdFrames,
		MinSpeechFrames:      *cfg.Segmenter.MinSpeechFrames,
	}
	if err := segCfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.registry = session.NewRegistry(a.segmenterFactory(segCfg),
		session.WithMaxSessions(cfg.Sessions.MaxSessions),
		session.WithMaxPending(*cfg.Sessions.MaxPendingCommands),
		session.WithHistorySize(cfg.Sessions.MaxTranscripts),
		session.WithMetrics(a.metrics),
	)

	topts := []transport.Option{transport.WithMetrics(a.metrics)}
	if len(cfg.Server.AllowedOrigins) > 0 {
		topts = append(topts, transport.WithOriginPatterns(cfg.Server.AllowedOrigins...))
	}
	a.transport = transport.New(a.registry, tr, a.triggers, a.pipeline, topts...)

	a.status = a.statusHandler()
	return a, nil
}

func (a *App) newClassifier() (*classify.Classifier, error) {
	cc := a.cfg.Classifier
	breaker := resilience.CircuitBreakerConfig{
		Name:          "classifier",
		MaxFailures:   cc.MaxFailures,
		ResetTimeout:  cc.ResetTimeout,
		OnStateChange: breakerObserver(a.metrics),
	}
	opts := []classify.Option{
		classify.WithTemperature(*cc.Temperature),
		classify.WithMaxTokens(cc.MaxTokens),
		classify.WithTimeout(cc.Timeout),
		classify.WithJSONMode(cc.JSONMode),
		classify.WithCircuitBreaker(breaker),
		classify.WithMetrics(a.metrics),
	}
	if cc.PromptFile != "" {
		tmpl, err := os.ReadFile(cc.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("app: read prompt file: %w", err)
		}
		opts = append(opts, classify.WithPromptTemplate(string(tmpl)))
	}
	c, err := classify.New(a.providers.LLM, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return c, nil
}

// segmenterFactory opens one VAD session per voxnote session.
func (a *App) segmenterFactory(cfg segment.Config) session.SegmenterFactory {
	engine := a.providers.VAD
	return func() (*segment.Segmenter, error) {
		h, err := engine.NewSession(vad.Config{
			SampleRate:      cfg.SampleRate,
			FrameSamples:    cfg.FrameSamples,
			SpeechThreshold: cfg.Threshold,
		})
		if err != nil {
			return nil, fmt.Errorf("app: open vad session: %w", err)
		}
		seg, err := segment.New(cfg, h, segment.WithMetrics(a.metrics))
		if err != nil {
			h.Close()
			return nil, err
		}
		return seg, nil
	}
}

// statusHandler builds the mux served on the status address.
func (a *App) statusHandler() http.Handler {
	h := health.New(
		health.WithSessions(a.registry),
		health.WithVersion(a.version),
		health.WithLogTail(logging.Tailer(a.cfg.Logging.File), health.DefaultLogLines),
		health.WithCheckers(
			health.Checker{Name: "sessions", Check: func(ctx context.Context) error {
				_ = a.registry.Len()
				return ctx.Err()
			}},
			health.Checker{Name: "notes_dir", Check: a.store.CheckWritable},
		),
	)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("/metrics", a.scrape)
	mux.Handle("/mcp", notesrv.Handler(notesrv.New(a.store, a.version)))
	return observe.Middleware(a.metrics)(mux)
}

// Handler returns the WebSocket endpoint. It is not wrapped in the observe
// middleware because the upgrade needs the raw connection.
func (a *App) Handler() http.Handler { return a.transport }

// StatusHandler returns the status, metrics and MCP routes.
func (a *App) StatusHandler() http.Handler { return a.status }

// Sessions returns the live session registry.
func (a *App) Sessions() *session.Registry { return a.registry }

// Run listens on the configured addresses and serves until ctx is cancelled
// or a listener fails.
func (a *App) Run(ctx context.Context) error {
	ws, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	st, err := net.Listen("tcp", a.cfg.Server.StatusAddr)
	if err != nil {
		ws.Close()
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.StatusAddr, err)
	}
	return a.Serve(ctx, ws, st)
}

// Serve runs the WebSocket server on ws, the status server on st and the
// idle reaper until ctx is cancelled. It closes both listeners.
func (a *App) Serve(ctx context.Context, ws, st net.Listener) error {
	wsSrv := &http.Server{Handler: a.transport, ReadHeaderTimeout: 10 * time.Second}
	stSrv := &http.Server{Handler: a.status, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("websocket server listening", "addr", ws.Addr().String())
		return serve(wsSrv, ws)
	})
	g.Go(func() error {
		slog.Info("status server listening", "addr", st.Addr().String())
		return serve(stSrv, st)
	})
	g.Go(func() error {
		a.registry.RunReaper(gctx, a.cfg.Sessions.ReapInterval, a.cfg.Sessions.IdleTimeout)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Sessions go first so open connections see their session end and
		// close; http.Server.Shutdown does not wait for hijacked conns.
		a.registry.DestroyAll()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(wsSrv.Shutdown(sctx), stSrv.Shutdown(sctx))
	})
	return g.Wait()
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Reload applies a changed config. Log level, trigger settings and the
// low-confidence threshold take effect immediately; every other change is
// logged and needs a restart. Its signature matches the callback of
// [config.NewWatcher].
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(logging.ParseLevel(string(d.NewLogLevel)))
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.TriggersChanged {
		a.triggers.SetPhrases(d.NewTriggers.Phrases)
		a.triggers.SetFuzzy(d.NewTriggers.Fuzzy)
		a.triggers.SetHistory(d.NewTriggers.History)
		slog.Info("config reload: triggers changed", "phrases", a.triggers.Phrases(), "fuzzy", d.NewTriggers.Fuzzy)
	}
	if d.LowConfidenceChanged {
		a.pipeline.SetLowConfidence(d.NewLowConfidence)
		slog.Info("config reload: low confidence threshold changed", "threshold", d.NewLowConfidence)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes require a restart", "sections", d.RestartRequired)
	}
}

// Shutdown destroys every session, waits for connection handlers and
// releases the engines. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.registry.DestroyAll()

		done := make(chan struct{})
		go func() {
			a.transport.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown: connection handlers still running", "err", ctx.Err())
		}
		err = a.providers.Close()
	})
	return err
}
