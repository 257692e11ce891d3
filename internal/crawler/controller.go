package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/camara-crawler/internal/progress"
)

// ControllerConfig tunes one controller.
type ControllerConfig struct {
	PageSize  int
	StartPage int
	// BaseContext is the parent of every run. Runs outlive the request that
	// started them, so this is normally the service lifetime context.
	BaseContext context.Context
}

// Controller owns the crawl loop of one resource. At most one loop runs at a
// time. Start, Stop, and Status are safe for concurrent use.
type Controller struct {
	pipeline Pipeline
	store    DocumentStore
	detector *ChangeDetector
	emitter  progress.Emitter
	clock    Clock
	ids      IDGenerator
	cfg      ControllerConfig
	logger   *zap.Logger

	mu         sync.Mutex
	state      State
	done       chan struct{}
	runID      string
	startedAt  time.Time
	finishedAt time.Time
	lastErr    string

	stopRequested atomic.Bool
	processed     atomic.Int64
	skipped       atomic.Int64
	failed        atomic.Int64
	page          atomic.Int64
}

// NewController wires a controller for pipeline.
func NewController(
	pipeline Pipeline,
	store DocumentStore,
	emitter progress.Emitter,
	clock Clock,
	ids IDGenerator,
	cfg ControllerConfig,
	logger *zap.Logger,
) *Controller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.StartPage <= 0 {
		cfg.StartPage = 1
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		pipeline: pipeline,
		store:    store,
		detector: NewChangeDetector(store),
		emitter:  emitter,
		clock:    clock,
		ids:      ids,
		cfg:      cfg,
		logger:   logger.With(zap.String("resource", string(pipeline.Resource()))),
		state:    StateIdle,
	}
}

// Resource returns the resource this controller crawls.
func (c *Controller) Resource() Resource {
	return c.pipeline.Resource()
}

// Start launches a crawl in the background and returns immediately. It
// returns false when a crawl is already active.
func (c *Controller) Start() (bool, error) {
	return c.start(c.cfg.BaseContext)
}

func (c *Controller) start(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return false, nil
	}
	runID, err := c.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("generate run id: %w", err)
	}
	c.state = StateRunning
	c.done = make(chan struct{})
	c.runID = runID
	c.startedAt = c.clock.Now().UTC()
	c.finishedAt = time.Time{}
	c.lastErr = ""
	c.stopRequested.Store(false)
	c.processed.Store(0)
	c.skipped.Store(0)
	c.failed.Store(0)
	c.page.Store(0)
	go c.run(ctx, runID, c.done)
	return true, nil
}

// Stop asks the active crawl to halt at the next record boundary and waits
// until it has. It returns false when no crawl was active. A ctx expiry
// abandons the wait, not the stop request.
func (c *Controller) Stop(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return false, nil
	}
	c.stopRequested.Store(true)
	c.state = StateStopping
	done := c.done
	c.mu.Unlock()

	c.logger.Info("crawl stop requested")
	select {
	case <-done:
		return true, nil
	case <-ctx.Done():
		return true, fmt.Errorf("wait for crawl stop: %w", ctx.Err())
	}
}

// Wait blocks until the active crawl, if any, finishes.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for crawl: %w", ctx.Err())
	}
}

// Run performs one crawl synchronously. Cancelling ctx stops the loop at the
// next record boundary. The returned error is the run's fatal error, if any.
func (c *Controller) Run(ctx context.Context) (Status, error) {
	started, err := c.start(ctx)
	if err != nil {
		return c.Status(), err
	}
	if !started {
		return c.Status(), errors.New("crawl already running")
	}
	if err := c.Wait(context.Background()); err != nil {
		return c.Status(), err
	}
	status := c.Status()
	if status.LastError != "" {
		return status, errors.New(status.LastError)
	}
	return status, nil
}

// Status returns a snapshot without waiting on the loop.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Resource:  c.pipeline.Resource(),
		State:     c.state,
		Running:   c.state != StateIdle,
		Processed: c.processed.Load(),
		Skipped:   c.skipped.Load(),
		Failed:    c.failed.Load(),
		Page:      c.page.Load(),
		RunID:     c.runID,
		LastError: c.lastErr,
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		st.StartedAt = &started
	}
	if !c.finishedAt.IsZero() {
		finished := c.finishedAt
		st.FinishedAt = &finished
	}
	return st
}

func (c *Controller) shouldStop(ctx context.Context) bool {
	return c.stopRequested.Load() || ctx.Err() != nil
}

func (c *Controller) run(ctx context.Context, runID string, done chan struct{}) {
	runUUID, err := uuid.Parse(runID)
	if err != nil {
		runUUID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(runID))
	}
	rid := progress.UUIDToBytes(runUUID)
	logger := c.logger.With(zap.String("run_id", runID))
	start := c.clock.Now()
	c.emit(progress.Event{RunID: rid, Stage: progress.StageRunStart})
	logger.Info("crawl started", zap.Int("page_size", c.cfg.PageSize))

	outcome, runErr := c.loop(ctx, rid, logger)

	c.mu.Lock()
	c.state = StateIdle
	c.finishedAt = c.clock.Now().UTC()
	if runErr != nil {
		c.lastErr = runErr.Error()
	}
	c.mu.Unlock()

	evt := progress.Event{RunID: rid, Dur: c.clock.Now().Sub(start)}
	fields := []zap.Field{
		zap.Int64("processed", c.processed.Load()),
		zap.Int64("skipped", c.skipped.Load()),
		zap.Int64("failed", c.failed.Load()),
		zap.Int64("page", c.page.Load()),
	}
	switch outcome {
	case OutcomeFailed:
		evt.Stage = progress.StageRunError
		evt.Note = runErr.Error()
		logger.Error("crawl aborted", append(fields, zap.Error(runErr))...)
	case OutcomeStopped:
		evt.Stage = progress.StageRunStopped
		logger.Info("crawl stopped", fields...)
	default:
		evt.Stage = progress.StageRunDone
		logger.Info("crawl finished", fields...)
	}
	c.emit(evt)
	close(done)
}

func (c *Controller) loop(ctx context.Context, rid [16]byte, logger *zap.Logger) (RunOutcome, error) {
	pager := NewPaginator(c.pipeline.ListPage, c.cfg.PageSize, c.cfg.StartPage)
	for {
		if c.shouldStop(ctx) {
			return OutcomeStopped, nil
		}
		pageStart := c.clock.Now()
		page, err := pager.Next(ctx)
		if errors.Is(err, ErrExhausted) {
			return OutcomeSucceeded, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeStopped, nil
			}
			return OutcomeFailed, err
		}
		c.page.Store(int64(page.Number))
		logger.Debug("page fetched", zap.Int("page", page.Number), zap.Int("records", len(page.Records)))
		for _, rec := range page.Records {
			if c.shouldStop(ctx) {
				return OutcomeStopped, nil
			}
			c.handleRecord(ctx, rid, page.Number, rec, logger)
		}
		c.emit(progress.Event{
			RunID:   rid,
			Stage:   progress.StagePageDone,
			Page:    page.Number,
			Records: len(page.Records),
			Dur:     c.clock.Now().Sub(pageStart),
		})
	}
}

func (c *Controller) handleRecord(ctx context.Context, rid [16]byte, pageNum int, rec SourceRecord, logger *zap.Logger) {
	start := c.clock.Now()
	key, outcome, err := c.processRecord(ctx, rec)
	evt := progress.Event{
		RunID:   rid,
		Stage:   progress.StageRecordDone,
		Page:    pageNum,
		Key:     key,
		Outcome: outcome,
		Dur:     c.clock.Now().Sub(start),
	}
	switch outcome {
	case progress.OutcomeProcessed:
		c.processed.Add(1)
	case progress.OutcomeSkipped:
		c.skipped.Add(1)
	default:
		c.failed.Add(1)
		evt.Note = err.Error()
		logger.Warn("record failed",
			zap.String("remote_id", rec.RemoteID),
			zap.String("key", key),
			zap.Int("page", pageNum),
			zap.Error(err),
		)
	}
	c.emit(evt)
}

// processRecord runs inspect, detect, build, and write for one record.
func (c *Controller) processRecord(ctx context.Context, rec SourceRecord) (string, progress.Outcome, error) {
	key := rec.RemoteID
	in, err := c.pipeline.Inspect(ctx, rec)
	if err != nil {
		return key, progress.OutcomeFailed, fmt.Errorf("inspect: %w", err)
	}
	key = in.Target.Key.String()
	changed, err := c.detector.NeedsReprocessing(ctx, in.Target, in.Version)
	if err != nil {
		return key, progress.OutcomeFailed, err
	}
	if !changed {
		return key, progress.OutcomeSkipped, nil
	}
	ws, err := c.pipeline.Build(ctx, in)
	if err != nil {
		return key, progress.OutcomeFailed, fmt.Errorf("build: %w", err)
	}
	if len(ws.Related) > 0 {
		res := c.store.BulkUpsert(ctx, ws.Related)
		if res.Failed() {
			errs := make([]error, 0, len(res.Failures))
			for _, f := range res.Failures {
				errs = append(errs, fmt.Errorf("related[%d] %s: %w", f.Index, f.Key, f.Err))
			}
			return key, progress.OutcomeFailed, fmt.Errorf("%d of %d related writes failed: %w",
				len(res.Failures), len(ws.Related), errors.Join(errs...))
		}
	}
	if err := c.store.Upsert(ctx, ws.Primary); err != nil {
		return key, progress.OutcomeFailed, err
	}
	return key, progress.OutcomeProcessed, nil
}

func (c *Controller) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = c.clock.Now().UTC()
	}
	evt.Resource = string(c.pipeline.Resource())
	c.emitter.Emit(evt)
}
