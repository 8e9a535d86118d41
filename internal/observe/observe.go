// File: internal/observe/observe.go

// Package observe assembles page observations for the planner. Both sub-calls
// run concurrently; a failure in either is recorded as a diagnostic on the
// observation instead of aborting the task.
package observe

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nulltrace0/webagentd/api/schemas"
	"github.com/nulltrace0/webagentd/internal/config"
)

// PageSource is the slice of the dispatcher the observer needs.
type PageSource interface {
	PageInfo(ctx context.Context) (schemas.PageInfo, error)
	InteractiveElements(ctx context.Context) ([]schemas.Element, error)
}

// Observer captures page snapshots.
type Observer struct {
	source      PageSource
	maxElements int
	logger      *zap.Logger
}

// New creates an Observer capped at cfg.MaxElements elements per snapshot.
func New(source PageSource, cfg config.EngineConfig, logger *zap.Logger) *Observer {
	return &Observer{
		source:      source,
		maxElements: cfg.MaxElements,
		logger:      logger.Named("observe"),
	}
}

// Observe fetches page info and interactive elements in parallel and merges
// them into one observation. It never returns an error: partial failures
// become diagnostics and the planner works with what arrived.
func (o *Observer) Observe(ctx context.Context) schemas.Observation {
	var (
		mu       sync.Mutex
		info     schemas.PageInfo
		elements []schemas.Element
		diag     = make(map[string]string)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := o.source.PageInfo(gctx)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			diag["getPageInfo"] = err.Error()
			return nil
		}
		info = res
		return nil
	})
	g.Go(func() error {
		res, err := o.source.InteractiveElements(gctx)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			diag["getInteractiveElements"] = err.Error()
			return nil
		}
		elements = res
		return nil
	})
	_ = g.Wait()

	if len(elements) > o.maxElements && o.maxElements > 0 {
		elements = elements[:o.maxElements]
	}

	obs := schemas.Observation{
		URL:        info.URL,
		Title:      info.Title,
		ReadyState: info.ReadyState,
		Elements:   elements,
		Taken:      time.Now().UTC(),
	}
	if len(diag) > 0 {
		obs.Diagnostics = diag
		o.logger.Warn("Partial page observation",
			zap.Int("elements", len(elements)),
			zap.Any("diagnostics", diag))
	} else {
		o.logger.Debug("Page observed",
			zap.String("url", info.URL),
			zap.Int("elements", len(elements)))
	}
	return obs
}
