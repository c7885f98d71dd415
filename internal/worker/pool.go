package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Factory builds worker id with its own browser session and queue connection.
// The returned closer releases them.
type Factory func(ctx context.Context, id int) (*Worker, func() error, error)

type Pool struct {
	size    int
	factory Factory
	log     *slog.Logger
}

func NewPool(size int, factory Factory, log *slog.Logger) *Pool {
	return &Pool{size: size, factory: factory, log: log.With("module", "pool")}
}

// Run starts every worker, or none: a failure while building any worker
// releases the ones already built and returns the error. Once running, a
// cancelled ctx lets each worker finish its in-flight job before Run returns.
func (p *Pool) Run(ctx context.Context) (err error) {
	if p.size <= 0 {
		return errors.New("pool size must be > 0")
	}
	workers := make([]*Worker, 0, p.size)
	closers := make([]func() error, 0, p.size)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](); cerr != nil {
				p.log.Warn("release worker resources", "err", cerr)
			}
		}
	}()

	for id := 1; id <= p.size; id++ {
		w, closer, err := p.factory(ctx, id)
		if err != nil {
			return fmt.Errorf("start worker %d: %w", id, err)
		}
		workers = append(workers, w)
		if closer != nil {
			closers = append(closers, closer)
		}
	}
	p.log.Info("pool started", "workers", len(workers))

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	err = g.Wait()
	p.log.Info("pool stopped")
	return err
}
