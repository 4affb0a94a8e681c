// Package worker runs the request loops of the service.
//
// A Worker is one run loop: a goroutine that executes request handler logic
// one request at a time, with its own engine handle and its own signal
// subscription. Connection I/O is done by net/http, which accepts from a
// duplicate descriptor of the endpoint shared by every worker of the process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	thumbhandler "github.com/aliskhannn/thumby/internal/api/handlers/thumbnail"
	"github.com/aliskhannn/thumby/internal/api/router"
	"github.com/aliskhannn/thumby/internal/api/server"
	"github.com/aliskhannn/thumby/internal/engine"
	"github.com/aliskhannn/thumby/internal/infra/listener"
	"github.com/aliskhannn/thumby/internal/model"
	thumbsvc "github.com/aliskhannn/thumby/internal/service/thumbnail"
)

const (
	// DefaultGraceDelay is how long a worker keeps serving after a
	// termination signal.
	DefaultGraceDelay = 2 * time.Second
	// DefaultShutdownTimeout bounds the wait for open connections once the
	// worker has stopped accepting.
	DefaultShutdownTimeout = 5 * time.Second
)

// Signals are the process signals every worker subscribes to.
var Signals = []os.Signal{syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM}

// ErrStopped is returned when a worker is run twice.
var ErrStopped = errors.New("worker already stopped")

// Config holds the settings shared by every worker.
type Config struct {
	Prefix          string
	Limits          model.Limits
	GraceDelay      time.Duration
	ShutdownTimeout time.Duration
}

// job is one request waiting to be run on the loop.
type job struct {
	w    http.ResponseWriter
	r    *http.Request
	done chan struct{}
}

// Worker is a single run loop bound to the shared endpoint.
type Worker struct {
	id  int
	cfg Config
	log zerolog.Logger

	handle   *engine.Handle
	router   http.Handler
	server   *http.Server
	listener net.Listener

	jobs    chan job
	signals chan os.Signal
	stopped chan struct{}
	ran     atomic.Bool
	served  atomic.Int64
}

// New creates a worker accepting from endpoint. The worker accepts on its own
// duplicate of the endpoint descriptor, gets a dedicated engine handle reading
// from fs and subscribes to Signals right away, so a signal received before
// Run is not lost.
func New(id int, cfg Config, endpoint net.Listener, fs engineStorage, log zerolog.Logger) (*Worker, error) {
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = DefaultGraceDelay
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Prefix == "" {
		cfg.Prefix = thumbsvc.DefaultPrefix
	}

	handle, err := engine.New(fs)
	if err != nil {
		return nil, fmt.Errorf("worker %d: failed to create engine handle: %w", id, err)
	}

	ln, err := listener.Dup(endpoint)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}

	log = log.With().Int("worker", id).Logger()

	svc := thumbsvc.NewService(handle, cfg.Prefix, cfg.Limits)
	h := thumbhandler.NewHandler(svc, log)

	w := &Worker{
		id:       id,
		cfg:      cfg,
		log:      log,
		handle:   handle,
		router:   router.Setup(cfg.Prefix, h),
		listener: ln,
		jobs:     make(chan job),
		signals:  make(chan os.Signal, 1),
		stopped:  make(chan struct{}),
	}
	w.server = server.New(w)

	signal.Notify(w.signals, Signals...)

	return w, nil
}

// ID returns the worker number.
func (w *Worker) ID() int {
	return w.id
}

// Served returns the number of requests run on the loop so far.
func (w *Worker) Served() int64 {
	return w.served.Load()
}

// ServeHTTP hands the request to the run loop and blocks until the loop has
// finished with it. Requests arriving after the loop stopped get 503.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	j := job{w: rw, r: r, done: make(chan struct{})}

	select {
	case w.jobs <- j:
		<-j.done
	case <-w.stopped:
		rw.Header().Set("Connection", "close")
		http.Error(rw, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	}
}

// Run runs the loop until a termination signal is received or ctx is
// canceled, then keeps serving for the grace delay before it stops
// accepting. Requests on connections that are already open are still run
// while the server drains, up to ShutdownTimeout. The engine handle is
// released last.
func (w *Worker) Run(ctx context.Context) error {
	if !w.ran.CompareAndSwap(false, true) {
		return ErrStopped
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- w.server.Serve(w.listener)
	}()

	w.log.Info().Msg("worker started")

	err := w.loop(ctx, serveErr)
	w.stop()

	return err
}

func (w *Worker) loop(ctx context.Context, serveErr <-chan error) error {
	var (
		exit    <-chan time.Time
		drained chan struct{}
	)
	done := ctx.Done()

	for {
		select {
		case j := <-w.jobs:
			w.dispatch(j)

		case sig := <-w.signals:
			w.log.Info().Str("signal", sig.String()).Dur("grace", w.cfg.GraceDelay).Msg("termination signal received")
			if exit == nil && drained == nil {
				exit = time.After(w.cfg.GraceDelay)
			}

		case <-done:
			w.log.Info().Dur("grace", w.cfg.GraceDelay).Msg("context done")
			done = nil
			if exit == nil && drained == nil {
				exit = time.After(w.cfg.GraceDelay)
			}

		case <-exit:
			exit = nil
			drained = w.drain()

		case <-drained:
			return nil

		case err := <-serveErr:
			serveErr = nil
			if errors.Is(err, http.ErrServerClosed) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				w.log.Info().Msg("listener closed")
				if drained == nil {
					exit = nil
					drained = w.drain()
				}
				continue
			}
			_ = w.server.Close()
			return fmt.Errorf("worker %d: serve: %w", w.id, err)
		}
	}
}

// drain stops accepting and waits in the background for open connections to
// finish. The loop keeps running requests until the returned channel closes.
func (w *Worker) drain() chan struct{} {
	w.log.Info().Msg("stopping, draining open connections")

	drained := make(chan struct{})
	go func() {
		defer close(drained)

		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ShutdownTimeout)
		defer cancel()

		if err := w.server.Shutdown(ctx); err != nil {
			w.log.Info().Err(err).Msg("timeout exceeded, forcing shutdown")
			_ = w.server.Close()
		}
	}()

	return drained
}

// dispatch runs one request to completion on the loop goroutine.
func (w *Worker) dispatch(j job) {
	defer close(j.done)

	w.router.ServeHTTP(j.w, j.r)
	w.served.Add(1)

	if !w.handle.Empty() {
		// The handler resets the handle on every path; this only fires on a bug.
		w.log.Error().Msg("engine handle not empty after request, resetting")
		w.handle.Reset()
	}
}

func (w *Worker) stop() {
	signal.Stop(w.signals)
	close(w.stopped)

	// Serve closes the listener on return; this covers a Serve that failed.
	_ = w.listener.Close()

	w.handle.Close()

	w.log.Info().Int64("served", w.served.Load()).Msg("worker stopped")
}

// release frees the resources of a worker that was never run.
func (w *Worker) release() {
	if w.ran.CompareAndSwap(false, true) {
		signal.Stop(w.signals)
		close(w.stopped)
		_ = w.listener.Close()
		w.handle.Close()
	}
}
