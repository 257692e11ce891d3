// Package server builds the service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/JakeFAU/camara-crawler/internal/api"
	"github.com/JakeFAU/camara-crawler/internal/camara"
	"github.com/JakeFAU/camara-crawler/internal/clock/system"
	"github.com/JakeFAU/camara-crawler/internal/config"
	"github.com/JakeFAU/camara-crawler/internal/crawler"
	"github.com/JakeFAU/camara-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/camara-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/camara-crawler/internal/hash/sha256"
	"github.com/JakeFAU/camara-crawler/internal/id/uuid"
	"github.com/JakeFAU/camara-crawler/internal/logging"
	"github.com/JakeFAU/camara-crawler/internal/metrics"
	"github.com/JakeFAU/camara-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/camara-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/camara-crawler/internal/progress/sinks"
	"github.com/JakeFAU/camara-crawler/internal/publisher"
	gcppublisher "github.com/JakeFAU/camara-crawler/internal/publisher/pubsub"
	memorystore "github.com/JakeFAU/camara-crawler/internal/storage/memory"
	mongostore "github.com/JakeFAU/camara-crawler/internal/storage/mongo"
	pgstore "github.com/JakeFAU/camara-crawler/internal/storage/postgres"
	"github.com/JakeFAU/camara-crawler/internal/store"
)

const (
	httpShutdownTimeout = 10 * time.Second
	setupTimeout        = 30 * time.Second
)

// documentStore is what every backend provides.
type documentStore interface {
	crawler.DocumentStore
	Ping(ctx context.Context) error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	fetcher    crawler.Fetcher
}

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithRegisterer registers progress collectors on reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// WithFetcher replaces the rate limited colly fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *buildOptions) { o.fetcher = f }
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	docs        documentStore
	runs        store.RunRepository
	hub         *progress.Hub
	controllers map[crawler.Resource]*crawler.Controller
	dispatch    *dispatcher.Dispatcher
	apiServer   *api.Server

	// closers release infrastructure in reverse order of creation.
	closers []closer

	closeOnce sync.Once
	closeErr  error
}

// Build creates the application's dependencies. On error everything
// created so far is released.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	baseCtx, cancel := context.WithCancel(context.Background())
	app := &App{
		cfg:         cfg,
		logger:      logger,
		baseCtx:     baseCtx,
		cancelBase:  cancel,
		controllers: make(map[crawler.Resource]*crawler.Controller),
	}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.Bool("progress", cfg.Progress.Enabled),
	)

	setupCtx, cancelSetup := context.WithTimeout(ctx, setupTimeout)
	defer cancelSetup()
	if err := app.build(setupCtx, o); err != nil {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancelClose()
		if cerr := app.Close(closeCtx); cerr != nil {
			logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, o buildOptions) error {
	pool, err := a.setupStore(ctx)
	if err != nil {
		return err
	}
	if err := a.setupRunStore(ctx, pool); err != nil {
		return err
	}
	pub, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	if err := a.setupProgress(o.registerer, pub); err != nil {
		return err
	}
	return a.setupControllers(o.fetcher)
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// setupStore opens the document store. The Postgres pool is returned so
// run history can share it.
func (a *App) setupStore(ctx context.Context) (pgstore.Pool, error) {
	switch a.cfg.Store.Backend {
	case config.BackendMongo:
		client, err := mongostore.Connect(ctx, mongostore.Config{URI: a.cfg.Store.MongoURI, Database: a.cfg.Store.Database})
		if err != nil {
			return nil, fmt.Errorf("mongo init failed: %w", err)
		}
		a.addCloser("mongo", func(ctx context.Context) error { return disconnectMongo(ctx, client) })
		docs, err := mongostore.NewDocumentStore(client.Database(a.cfg.Store.Database))
		if err != nil {
			return nil, fmt.Errorf("mongo store init failed: %w", err)
		}
		if err := docs.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		a.docs = docs
		a.logger.Info("using mongo document store", zap.String("database", a.cfg.Store.Database))
		return nil, nil
	case config.BackendPostgres:
		pool, err := a.connectPostgres(ctx)
		if err != nil {
			return nil, err
		}
		docs, err := pgstore.NewDocumentStore(pool, a.cfg.Store.TablePrefix)
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := docs.EnsureSchema(ctx, crawler.CollectionDeputies, crawler.CollectionPropositions, crawler.CollectionVotes); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		a.docs = docs
		a.logger.Info("using postgres document store", zap.String("table_prefix", a.cfg.Store.TablePrefix))
		return pool, nil
	default:
		a.docs = memorystore.NewDocumentStore()
		a.logger.Warn("using in-memory document store, data is lost on exit")
		return nil, nil
	}
}

func disconnectMongo(ctx context.Context, client *mongo.Client) error {
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

func (a *App) connectPostgres(ctx context.Context) (pgstore.Pool, error) {
	pool, err := pgstore.Connect(ctx, pgstore.PoolConfig{
		DSN:      a.cfg.Store.PostgresDSN,
		MaxConns: int32(a.cfg.Store.MaxConns), //nolint:gosec // bounded by config validation
	})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.addCloser("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	return pool, nil
}

// setupRunStore picks the run history repository: Postgres crawl_runs when
// a DSN is configured, otherwise in memory. Progress off means no history.
func (a *App) setupRunStore(ctx context.Context, pool pgstore.Pool) error {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled, run history unavailable")
		return nil
	}
	if a.cfg.Store.PostgresDSN == "" {
		a.runs = memorystore.NewRunStore()
		a.logger.Info("run history kept in memory")
		return nil
	}
	if pool == nil {
		var err error
		if pool, err = a.connectPostgres(ctx); err != nil {
			return err
		}
	}
	runs, err := pgstore.NewRunStore(pool)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	if err := runs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("run store schema: %w", err)
	}
	a.runs = runs
	a.logger.Info("run history stored in postgres")
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (publisher.Publisher, error) {
	if !a.cfg.Progress.Enabled || a.cfg.PubSub.ProjectID == "" {
		return nil, nil
	}
	pub, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	a.addCloser("pubsub", func(context.Context) error { return pub.Close() })
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) setupProgress(reg prometheus.Registerer, pub publisher.Publisher) error {
	if !a.cfg.Progress.Enabled {
		return nil
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if a.runs != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")))
	}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if pub != nil {
		sinkList = append(sinkList, progresssinks.NewPublishSink(pub, a.cfg.PubSub.TopicName, a.logger.Named("progress_publish")))
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch,
		SinkTimeout:    a.cfg.SinkTimeout(),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	if err := a.hub.RegisterStats(reg); err != nil {
		return fmt.Errorf("progress stats init failed: %w", err)
	}
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func (a *App) setupControllers(fetcher crawler.Fetcher) error {
	if fetcher == nil {
		limiter := ratelimit.New(ratelimit.Config{RPS: a.cfg.Upstream.RateLimitRPS, Burst: a.cfg.Upstream.Burst})
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent: a.cfg.Upstream.UserAgent,
			Timeout:   a.cfg.UpstreamTimeout(),
		}, limiter, a.logger.Named("fetcher"))
		a.logger.Info("using colly fetcher",
			zap.String("user_agent", a.cfg.Upstream.UserAgent),
			zap.Float64("rate_limit_rps", a.cfg.Upstream.RateLimitRPS),
		)
	}
	clock := system.New()
	deps := camara.Deps{
		Client: camara.NewClient(fetcher, a.cfg.Upstream.BaseURL, a.cfg.RetryPolicy(), a.logger.Named("camara")),
		Store:  a.docs,
		Clock:  clock,
		Hasher: sha256.New(),
		Logger: a.logger.Named("pipeline"),
	}
	pipelines, err := camara.NewPipelines(deps, camara.PropositionFilter{
		Types:          a.cfg.Propositions.Filter.Types,
		PresentedSince: a.cfg.Propositions.Filter.PresentedSince,
	})
	if err != nil {
		return fmt.Errorf("pipelines init failed: %w", err)
	}

	var emitter progress.Emitter
	if a.hub != nil {
		emitter = a.hub
	}
	ids := uuid.New()
	var ctrls []dispatcher.Controller
	for _, r := range a.cfg.EnabledResources() {
		ctrl := crawler.NewController(pipelines[r], a.docs, emitter, clock, ids, crawler.ControllerConfig{
			PageSize:    a.cfg.Resource(r).PageSize,
			BaseContext: a.baseCtx,
		}, logging.ForResource(a.logger, "controller", string(r)))
		a.controllers[r] = ctrl
		ctrls = append(ctrls, ctrl)
	}
	a.dispatch = dispatcher.New(a.docs, a.logger.Named("dispatcher"), ctrls...)

	apiKey := ""
	if a.cfg.Auth.Enabled {
		apiKey = a.cfg.Auth.APIKey
	}
	a.apiServer = api.NewServer(a.dispatch, api.Options{
		APIKey: apiKey,
		Runs:   a.runs,
		Ready:  a.docs,
		Logger: a.logger.Named("api"),
	})
	a.logger.Info("controllers ready", zap.Strings("resources", resourceNames(a.dispatch.Resources())))
	return nil
}

func resourceNames(rs []crawler.Resource) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

// Handler exposes the control API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves the control API until ctx is canceled or SIGINT/SIGTERM
// arrives, then stops running crawls within the configured grace period.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopErr := make(chan error, 1)
	go func() {
		stopErr <- a.dispatch.Run(ctx, a.cfg.ShutdownGrace())
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := <-stopErr; err != nil {
		a.logger.Warn("crawls did not stop cleanly", zap.Error(err))
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Crawl runs one crawl of resource in the foreground. Cancelling ctx stops
// it at the next record boundary.
func (a *App) Crawl(ctx context.Context, resource string) (crawler.Status, error) {
	r, ok := crawler.ParseResource(resource)
	if !ok {
		return crawler.Status{}, fmt.Errorf("%w: %q", crawler.ErrUnknownResource, resource)
	}
	ctrl, ok := a.controllers[r]
	if !ok {
		return crawler.Status{}, fmt.Errorf("%w: %q is not enabled", crawler.ErrUnknownResource, resource)
	}
	status, err := ctrl.Run(ctx)
	if err != nil {
		return status, fmt.Errorf("crawl %s: %w", r, err)
	}
	return status, nil
}

// Close releases every dependency. It is safe to call on a partially built
// App and more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { a.closeErr = a.close(ctx) })
	return a.closeErr
}

func (a *App) close(ctx context.Context) error {
	a.cancelBase()
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.logger.Info("shutdown complete")
	//nolint:errcheck // stderr sync fails on some platforms
	a.logger.Sync()
	return errors.Join(errs...)
}
