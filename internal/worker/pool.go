package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"
	concpool "github.com/sourcegraph/conc/pool"

	"github.com/aliskhannn/thumby/internal/engine"
)

// DefaultCount is the number of workers started when none is configured.
const DefaultCount = 4

// engineStorage is where workers read source images from.
type engineStorage interface {
	Load(ctx context.Context, name string) (io.ReadCloser, error)
}

// Pool is a fixed set of workers sharing one endpoint.
type Pool struct {
	workers []*Worker
	group   *concpool.ErrorPool
	log     zerolog.Logger
}

// Start creates count workers on endpoint and runs each on its own
// goroutine. No balancing is done between them: whichever worker is
// blocked in Accept when a connection arrives gets it.
//
// The engine must be initialized; Join shuts it down.
func Start(ctx context.Context, count int, cfg Config, endpoint net.Listener, fs engineStorage, log zerolog.Logger) (*Pool, error) {
	if count <= 0 {
		count = DefaultCount
	}

	p := &Pool{
		workers: make([]*Worker, 0, count),
		group:   concpool.New().WithErrors(),
		log:     log,
	}

	for i := 0; i < count; i++ {
		w, err := New(i, cfg, endpoint, fs, log)
		if err != nil {
			for _, started := range p.workers {
				started.release()
			}
			return nil, fmt.Errorf("failed to create worker %d: %w", i, err)
		}
		p.workers = append(p.workers, w)
	}

	for _, w := range p.workers {
		p.group.Go(func() error {
			return w.Run(ctx)
		})
	}

	log.Info().Int("workers", count).Str("addr", endpoint.Addr().String()).Msg("worker pool started")

	return p, nil
}

// Workers returns the workers of the pool.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Join blocks until every worker has exited, then shuts the engine down.
// It returns the errors of all workers that failed.
func (p *Pool) Join() error {
	err := p.group.Wait()

	var served int64
	for _, w := range p.workers {
		served += w.Served()
	}

	if leaked := engine.Shutdown(); leaked != 0 {
		err = errors.Join(err, fmt.Errorf("%d engine handles still open at shutdown", leaked))
	}

	p.log.Info().Int64("served", served).Msg("worker pool stopped")

	return err
}
