// Package app wires the harvester's components together and runs one
// harvest end to end: collect, persist, record and announce.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/ed-forum-harvester/internal/api"
	"github.com/JakeFAU/ed-forum-harvester/internal/client"
	"github.com/JakeFAU/ed-forum-harvester/internal/clock/system"
	"github.com/JakeFAU/ed-forum-harvester/internal/config"
	"github.com/JakeFAU/ed-forum-harvester/internal/corpus"
	"github.com/JakeFAU/ed-forum-harvester/internal/ed"
	collyfetcher "github.com/JakeFAU/ed-forum-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
	"github.com/JakeFAU/ed-forum-harvester/internal/harvest"
	"github.com/JakeFAU/ed-forum-harvester/internal/hash/sha256"
	"github.com/JakeFAU/ed-forum-harvester/internal/id/uuid"
	"github.com/JakeFAU/ed-forum-harvester/internal/logging"
	"github.com/JakeFAU/ed-forum-harvester/internal/metrics"
	"github.com/JakeFAU/ed-forum-harvester/internal/policy/backoff"
	"github.com/JakeFAU/ed-forum-harvester/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/ed-forum-harvester/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/ed-forum-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/ed-forum-harvester/internal/storage"
	gcsstorage "github.com/JakeFAU/ed-forum-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/ed-forum-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/ed-forum-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/ed-forum-harvester/internal/storage/postgres"
)

var tracer = otel.Tracer("github.com/JakeFAU/ed-forum-harvester/internal/app")

// RunSummary describes a finished harvest.
type RunSummary struct {
	RunID        string            `json:"run_id"`
	Status       forum.RunStatus   `json:"status"`
	CorpusURI    string            `json:"corpus_uri,omitempty"`
	CorpusSHA256 string            `json:"corpus_sha256,omitempty"`
	MessageID    string            `json:"message_id,omitempty"`
	Counters     forum.RunCounters `json:"counters"`
	Failures     []harvest.Failure `json:"failures"`
	Duration     time.Duration     `json:"duration"`
}

// deps are the seams between the run pipeline and its infrastructure.
type deps struct {
	source    harvest.Source
	blobs     forum.BlobStore
	runs      forum.RunStore
	publisher forum.Publisher
	ids       forum.IDGenerator
	clock     forum.Clock
	hasher    forum.Hasher
}

type readyCheck func(ctx context.Context) error

// App contains the harvester's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	collector *harvest.Collector
	deps      deps
	topic     string

	checks  []readyCheck
	closers []func() error

	ops       *api.Server
	opsOnce   sync.Once
	opsCancel context.CancelFunc
	opsDone   chan error
}

// New builds every component named by cfg. Clients opened here are released
// by Close.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	source, err := a.setupSource()
	if err != nil {
		return nil, err
	}
	d := deps{
		source: source,
		ids:    uuid.New(),
		clock:  system.New(),
		hasher: sha256.New(),
	}
	if d.blobs, err = a.setupBlobStore(ctx); err != nil {
		a.closeQuietly()
		return nil, err
	}
	if d.runs, err = a.setupRunStore(ctx); err != nil {
		a.closeQuietly()
		return nil, err
	}
	if d.publisher, err = a.setupPublisher(ctx); err != nil {
		a.closeQuietly()
		return nil, err
	}
	a.wire(d)
	if cfg.Ops.Addr != "" {
		a.ops = api.NewServer(d.runs, a.Ready, logging.Component(logger, "api"))
	}
	return a, nil
}

func newWithDeps(cfg config.Config, logger *zap.Logger, d deps) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	a.wire(d)
	return a
}

func (a *App) wire(d deps) {
	a.deps = d
	a.topic = a.cfg.PubSub.TopicName
	a.collector = harvest.NewCollector(d.source, logging.Component(a.logger, "harvest"))
}

func (a *App) setupSource() (*ed.API, error) {
	cfg := a.cfg
	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.API.UserAgent,
		Timeout:      cfg.Timeout(),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}, logging.Component(a.logger, "transport"))
	pauser := system.NewPauser()
	caller := client.New(
		transport,
		backoff.New(),
		ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.MaxRequestsPerSecond}),
		pauser,
		client.Config{MaxAttempts: cfg.HTTP.MaxAttempts, BaseDelay: cfg.BackoffBase()},
		logging.Component(a.logger, "client"),
	)
	politeMin, politeMax := cfg.Politeness()
	source, err := ed.New(caller, pauser, ed.Config{
		Host:               cfg.API.Host,
		Credential:         forum.Credential(cfg.API.Token),
		PageSize:           cfg.Ed.PageSize,
		EmptyPageThreshold: cfg.Ed.EmptyPageThreshold,
		PolitenessMin:      politeMin,
		PolitenessMax:      politeMax,
		Cooldown:           cfg.Cooldown(),
	}, logging.Component(a.logger, "ed"))
	if err != nil {
		return nil, fmt.Errorf("forum api init failed: %w", err)
	}
	a.logger.Info("forum api configured",
		zap.String("host", source.Host()),
		zap.Int("max_attempts", cfg.HTTP.MaxAttempts),
		zap.Duration("timeout", cfg.Timeout()),
	)
	return source, nil
}

func (a *App) setupBlobStore(ctx context.Context) (forum.BlobStore, error) {
	switch a.cfg.Output.Backend {
	case config.BackendGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Output.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.checks = append(a.checks, store.Ping)
		a.logger.Info("using GCS corpus store", zap.String("bucket", a.cfg.Output.GCSBucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Output.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local corpus store", zap.String("base_dir", a.cfg.Output.BaseDir))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown output backend %q", a.cfg.Output.Backend)
	}
}

func (a *App) setupRunStore(ctx context.Context) (forum.RunStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no database configured; keeping the run ledger in memory")
		return memorystorage.NewRunStore(), nil
	}
	store, err := pgstore.NewRunStore(ctx, pgstore.Config{DSN: a.cfg.DB.DSN, Table: a.cfg.DB.Table})
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	a.closers = append(a.closers, func() error { store.Close(); return nil })
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("run store schema: %w", err)
	}
	a.logger.Info("postgres run ledger initialized", zap.String("table", a.cfg.DB.Table))
	return store, nil
}

func (a *App) setupPublisher(ctx context.Context) (forum.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured; completion events stay in memory")
		return memorypublisher.New(), nil
	}
	client, err := gcppublisher.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	pub, err := gcppublisher.New(client, a.cfg.PubSub.TopicName)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	a.checks = append(a.checks, pub.CheckTopic)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

// Ready runs every dependency check registered during New.
func (a *App) Ready(ctx context.Context) error {
	for _, check := range a.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run performs one harvest. A run that fails after it was recorded is still
// finished in the ledger with status failed.
func (a *App) Run(ctx context.Context) (RunSummary, error) {
	a.startOps(ctx)

	runID, err := a.deps.ids.NewID()
	if err != nil {
		return RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	ctx, span := tracer.Start(ctx, "harvest.run")
	defer span.End()
	span.SetAttributes(attribute.String("harvest.run_id", runID))

	logger := a.logger.With(zap.String("run_id", runID))
	started := a.deps.clock.Now()
	run := forum.Run{
		ID:      runID,
		Host:    a.cfg.API.Host,
		Status:  forum.RunStatusRunning,
		Started: started,
	}
	if err := a.deps.runs.StartRun(ctx, run); err != nil {
		return RunSummary{RunID: runID}, fmt.Errorf("record run start: %w", err)
	}
	logger.Info("harvest started", zap.String("host", a.cfg.API.Host))

	summary := RunSummary{RunID: runID, Failures: []harvest.Failure{}}
	err = a.harvest(ctx, &run, &summary)

	finished := a.deps.clock.Now()
	run.Finished = &finished
	run.Status = forum.RunStatusSucceeded
	if err != nil {
		run.Status = forum.RunStatusFailed
		run.ErrorText = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "harvest failed")
	}
	// The ledger must see the outcome even when ctx was canceled.
	if ferr := a.deps.runs.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
		logger.Error("failed to record run outcome", zap.Error(ferr))
		err = errors.Join(err, fmt.Errorf("record run outcome: %w", ferr))
	}
	metrics.ObserveRun(string(run.Status))

	summary.Status = run.Status
	summary.Counters = run.Counters
	summary.Duration = finished.Sub(started)
	if err != nil {
		logger.Error("harvest failed", zap.Error(err))
		return summary, err
	}

	summary.MessageID = a.announce(ctx, logger, run)
	logger.Info("harvest finished",
		zap.String("corpus_uri", run.CorpusURI),
		zap.Int("courses", run.Counters.Courses),
		zap.Int("entries", run.Counters.Entries),
		zap.Int("recovered_failures", len(summary.Failures)),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (a *App) harvest(ctx context.Context, run *forum.Run, summary *RunSummary) error {
	collected, report, err := a.collector.Collect(ctx)
	run.Counters = report.Counters
	summary.Failures = report.Failures
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}

	var buf bytes.Buffer
	if err := corpus.Encode(&buf, collected); err != nil {
		return err
	}
	digest, err := a.deps.hasher.Hash(buf.Bytes())
	if err != nil {
		return fmt.Errorf("hash corpus: %w", err)
	}
	path, err := storage.ObjectPath(a.cfg.Output.Prefix, run.ID, a.cfg.Output.ObjectName)
	if err != nil {
		return fmt.Errorf("corpus path: %w", err)
	}
	uri, err := a.deps.blobs.PutObject(ctx, path, storage.ContentTypeJSON, &buf)
	if err != nil {
		return fmt.Errorf("store corpus: %w", err)
	}
	run.CorpusURI = uri
	run.CorpusSHA256 = digest
	summary.CorpusURI = uri
	summary.CorpusSHA256 = digest
	return nil
}

// announce publishes the completion event. The corpus is already durable, so
// a publish failure is logged rather than failing the run.
func (a *App) announce(ctx context.Context, logger *zap.Logger, run forum.Run) string {
	if a.topic == "" || a.deps.publisher == nil {
		return ""
	}
	event := forum.CorpusReady{
		RunID:        run.ID,
		CorpusURI:    run.CorpusURI,
		CorpusSHA256: run.CorpusSHA256,
		Courses:      run.Counters.Courses,
		Entries:      run.Counters.Entries,
	}
	id, err := a.deps.publisher.Publish(ctx, a.topic, event)
	if err != nil {
		logger.Warn("publish corpus-ready event failed", zap.String("topic", a.topic), zap.Error(err))
		return ""
	}
	return id
}

func (a *App) startOps(ctx context.Context) {
	if a.ops == nil {
		return
	}
	a.opsOnce.Do(func() {
		opsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.opsCancel = cancel
		a.opsDone = make(chan error, 1)
		go func() { a.opsDone <- a.ops.Serve(opsCtx, a.cfg.Ops.Addr) }()
	})
}

// Close stops the ops server and releases every client opened by New.
func (a *App) Close() error {
	var errs []error
	if a.opsCancel != nil {
		a.opsCancel()
		if err := <-a.opsDone; err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(err))
		return err
	}
	return nil
}

func (a *App) closeQuietly() {
	_ = a.Close()
}
