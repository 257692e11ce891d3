// Package dispatcher keeps one crawl controller per resource and routes
// start, stop, and status requests to it by name.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

// Controller is the part of *crawler.Controller the dispatcher drives.
type Controller interface {
	Resource() crawler.Resource
	Start() (bool, error)
	Stop(ctx context.Context) (bool, error)
	Status() crawler.Status
}

// Counter reports stored document counts.
type Counter interface {
	Count(ctx context.Context, collection string) (int64, error)
}

// Dispatcher fans control requests out to the per-resource controllers.
type Dispatcher struct {
	controllers map[crawler.Resource]Controller
	order       []crawler.Resource
	counter     Counter
	logger      *zap.Logger
}

// New creates a Dispatcher. Controllers are reported in the order given.
func New(counter Counter, logger *zap.Logger, controllers ...Controller) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		controllers: make(map[crawler.Resource]Controller, len(controllers)),
		counter:     counter,
		logger:      logger,
	}
	for _, c := range controllers {
		r := c.Resource()
		if _, dup := d.controllers[r]; !dup {
			d.order = append(d.order, r)
		}
		d.controllers[r] = c
	}
	return d
}

// Resources lists the registered resources.
func (d *Dispatcher) Resources() []crawler.Resource {
	out := make([]crawler.Resource, len(d.order))
	copy(out, d.order)
	return out
}

func (d *Dispatcher) lookup(resource string) (Controller, error) {
	r, ok := crawler.ParseResource(resource)
	if !ok {
		return nil, fmt.Errorf("%w: %q", crawler.ErrUnknownResource, resource)
	}
	c, ok := d.controllers[r]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not enabled", crawler.ErrUnknownResource, resource)
	}
	return c, nil
}

// Start launches the crawl for resource. It reports false when one is
// already running.
func (d *Dispatcher) Start(resource string) (bool, error) {
	c, err := d.lookup(resource)
	if err != nil {
		return false, err
	}
	started, err := c.Start()
	if err != nil {
		return false, fmt.Errorf("start %s: %w", resource, err)
	}
	d.logger.Info("start requested", zap.String("resource", resource), zap.Bool("started", started))
	return started, nil
}

// Stop halts the crawl for resource and waits for it. It reports false when
// nothing was running.
func (d *Dispatcher) Stop(ctx context.Context, resource string) (bool, error) {
	c, err := d.lookup(resource)
	if err != nil {
		return false, err
	}
	stopped, err := c.Stop(ctx)
	if err != nil {
		return stopped, fmt.Errorf("stop %s: %w", resource, err)
	}
	d.logger.Info("stop requested", zap.String("resource", resource), zap.Bool("stopped", stopped))
	return stopped, nil
}

// Status returns the snapshot of one controller.
func (d *Dispatcher) Status(resource string) (crawler.Status, error) {
	c, err := d.lookup(resource)
	if err != nil {
		return crawler.Status{}, err
	}
	return c.Status(), nil
}

// Statuses returns every controller snapshot in registration order.
func (d *Dispatcher) Statuses() []crawler.Status {
	out := make([]crawler.Status, 0, len(d.order))
	for _, r := range d.order {
		out = append(out, d.controllers[r].Status())
	}
	return out
}

// Count returns the number of stored documents for resource.
func (d *Dispatcher) Count(ctx context.Context, resource string) (int64, error) {
	c, err := d.lookup(resource)
	if err != nil {
		return 0, err
	}
	if d.counter == nil {
		return 0, fmt.Errorf("count %s: no document store configured", resource)
	}
	n, err := d.counter.Count(ctx, c.Resource().Collection())
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", resource, err)
	}
	return n, nil
}

// StopAll stops every running controller concurrently.
func (d *Dispatcher) StopAll(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, r := range d.order {
		c := d.controllers[r]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", r, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Run blocks until ctx finishes, then stops every controller within the
// grace period.
func (d *Dispatcher) Run(ctx context.Context, grace time.Duration) error {
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	d.logger.Info("stopping all crawls", zap.Duration("grace", grace))
	return d.StopAll(stopCtx)
}
