// Package worker runs the restoration engine on a dedicated thread and feeds it
// the most recent preview request.
//
// Requests land in a single-slot mailbox: a new request overwrites one that has
// not started yet, so a burst of slider moves costs at most one extra
// computation. The running computation is never interrupted.
package worker

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"spimpreview/internal/models"
	"spimpreview/pkg/engine"
	"spimpreview/pkg/framecache"
	"spimpreview/pkg/planestore"
)

var (
	// ErrShuttingDown is returned by Submit once Shutdown has begun
	ErrShuttingDown = errors.New("recompute worker is shutting down")

	// ErrInvalidRequest is returned for requests that can never be serviced
	ErrInvalidRequest = errors.New("invalid preview request")

	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("recompute worker already started")
)

// InvocationMarker is told when a compute invocation begins so the next
// initial-frame pull hands out data again.
type InvocationMarker interface {
	Begin()
}

// Options configures a Recompute worker
type Options struct {
	Engine engine.Engine
	Init   engine.InitParams

	Cache    *framecache.Cache
	Loader   framecache.PlaneLoader
	Exchange InvocationMarker

	Logger zerolog.Logger

	// StatusBuffer is the capacity of the Statuses channel; full means drop
	StatusBuffer int
}

// Recompute owns the engine thread and the pending-request slot
type Recompute struct {
	engine   engine.Engine
	init     engine.InitParams
	cache    *framecache.Cache
	loader   framecache.PlaneLoader
	exchange InvocationMarker
	log      zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	pending  *models.Request
	shutdown bool
	started  bool

	state        atomic.Int32
	lastServiced atomic.Int64
	serviced     atomic.Bool

	// needsInit is owned by the worker goroutine
	needsInit bool

	statuses  chan Status
	closeOnce sync.Once
	done      chan struct{}

	submitted   atomic.Uint64
	superseded  atomic.Uint64
	discarded   atomic.Uint64
	executed    atomic.Uint64
	completed   atomic.Uint64
	rejected    atomic.Uint64
	ioFailures  atomic.Uint64
	engFailures atomic.Uint64
	reloads     atomic.Uint64
	dropped     atomic.Uint64
}

// New creates a worker. Requests may be submitted before Start; only the
// latest one survives until the worker begins.
func New(opts Options) (*Recompute, error) {
	if opts.Engine == nil || opts.Cache == nil || opts.Loader == nil || opts.Exchange == nil {
		return nil, errors.New("recompute worker needs an engine, a cache, a loader and an exchange")
	}
	if opts.StatusBuffer <= 0 {
		opts.StatusBuffer = 16
	}

	w := &Recompute{
		engine:   opts.Engine,
		init:     opts.Init,
		cache:    opts.Cache,
		loader:   opts.Loader,
		exchange: opts.Exchange,
		log:      opts.Logger,
		statuses: make(chan Status, opts.StatusBuffer),
		done:     make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	w.state.Store(int32(models.Idle))
	return w, nil
}

// Start spawns the engine thread and initializes the engine on it. An Init
// failure is returned and leaves the worker shut down.
func (w *Recompute) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	if w.shutdown {
		w.mu.Unlock()
		return ErrShuttingDown
	}
	w.started = true
	w.mu.Unlock()

	ready := make(chan error, 1)
	go w.run(ready)

	if err := <-ready; err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	w.log.Info().Int("views", w.init.Views).Str("mode", w.init.Mode.String()).Msg("recompute worker started")
	return nil
}

// Submit stores a request, replacing any request that has not started yet.
// It never blocks on a running computation.
func (w *Recompute) Submit(iterations, plane int) (models.Request, error) {
	if iterations < 0 {
		w.rejected.Add(1)
		return models.Request{}, fmt.Errorf("%w: negative iteration count %d", ErrInvalidRequest, iterations)
	}

	req := models.Request{
		ID:          uuid.NewString(),
		Iterations:  iterations,
		Plane:       plane,
		SubmittedAt: time.Now(),
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.shutdown {
		w.rejected.Add(1)
		return models.Request{}, ErrShuttingDown
	}
	if w.pending != nil {
		w.superseded.Add(1)
		w.log.Debug().Str("request_id", w.pending.ID).Str("by", req.ID).Msg("pending request superseded")
	}
	w.pending = &req
	w.submitted.Add(1)
	w.cond.Signal()
	return req, nil
}

// Shutdown stops accepting requests, waits for the running computation, drops
// any pending request and quits the engine on its own thread. Safe to call
// more than once.
func (w *Recompute) Shutdown() {
	w.mu.Lock()
	first := !w.shutdown
	w.shutdown = true
	started := w.started
	if !started {
		w.state.Store(int32(models.ShuttingDown))
	}
	w.cond.Broadcast()
	w.mu.Unlock()

	if started {
		<-w.done
	} else if first {
		w.discardPending()
		w.closeStatuses()
	}
}

// State reports what the worker is doing. A started worker stays Computing
// while Shutdown drains its last request and turns ShuttingDown once the
// engine thread has exited.
func (w *Recompute) State() models.WorkerState {
	return models.WorkerState(w.state.Load())
}

// LastServicedPlane is the plane of the last request the engine ran, or -1.
// Requests that failed while loading their plane do not count.
func (w *Recompute) LastServicedPlane() int {
	if !w.serviced.Load() {
		return -1
	}
	return int(w.lastServiced.Load())
}

// Statuses delivers one Status per executed request. It is closed after
// Shutdown completes. Reports are dropped when nobody reads.
func (w *Recompute) Statuses() <-chan Status {
	return w.statuses
}

// Stats returns a snapshot of the worker counters
func (w *Recompute) Stats() Stats {
	return Stats{
		Submitted:       w.submitted.Load(),
		Superseded:      w.superseded.Load(),
		Discarded:       w.discarded.Load(),
		Executed:        w.executed.Load(),
		Completed:       w.completed.Load(),
		Rejected:        w.rejected.Load(),
		IOFailures:      w.ioFailures.Load(),
		EngineFailures:  w.engFailures.Load(),
		Reloads:         w.reloads.Load(),
		DroppedStatuses: w.dropped.Load(),
	}
}

func (w *Recompute) run(ready chan<- error) {
	defer close(w.done)
	defer w.closeStatuses()

	// the engine is bound to the thread that initialized it
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := w.initEngine(); err != nil {
		w.mu.Lock()
		w.shutdown = true
		w.state.Store(int32(models.ShuttingDown))
		w.mu.Unlock()
		w.discardPending()
		ready <- err
		return
	}
	ready <- nil

	for {
		req, ok := w.next()
		if !ok {
			break
		}
		w.execute(req)
		w.state.CompareAndSwap(int32(models.Computing), int32(models.Idle))
	}

	w.discardPending()
	if err := w.quitEngine(); err != nil {
		w.log.Error().Err(err).Msg("engine quit failed")
	}
	w.state.Store(int32(models.ShuttingDown))
	w.log.Info().Msg("recompute worker stopped")
}

// next blocks until a request is pending or shutdown begins
func (w *Recompute) next() (models.Request, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.pending == nil && !w.shutdown {
		w.cond.Wait()
	}
	if w.shutdown {
		return models.Request{}, false
	}

	req := *w.pending
	w.pending = nil
	w.state.Store(int32(models.Computing))
	return req, true
}

func (w *Recompute) execute(req models.Request) {
	start := time.Now()
	status := Status{Request: req}
	log := w.log.With().Str("request_id", req.ID).Int("plane", req.Plane).Int("iterations", req.Iterations).Logger()

	if w.needsInit {
		if err := w.initEngine(); err != nil {
			status.Outcome = EngineFatal
			status.Err = err
			w.finish(log, status, start)
			return
		}
		w.needsInit = false
		log.Info().Msg("engine re-initialized after fatal failure")
	}

	// nothing serviced yet means the plane is loaded whatever its index
	if !w.serviced.Load() || int64(req.Plane) != w.lastServiced.Load() {
		loaded, err := w.refresh(req.Plane)
		if err != nil {
			status.Outcome = IOFailed
			status.Err = err
			w.finish(log, status, start)
			return
		}
		if loaded {
			status.Reloaded = true
			w.reloads.Add(1)
		}
	}

	w.exchange.Begin()
	err := w.compute(req.Iterations)
	w.lastServiced.Store(int64(req.Plane))
	w.serviced.Store(true)

	switch {
	case err == nil:
		status.Outcome = Completed
	case engine.IsFatal(err):
		status.Outcome = EngineFatal
		w.needsInit = true
	default:
		status.Outcome = EngineFailed
	}
	status.Err = err
	w.finish(log, status, start)
}

// compute calls the engine and turns a panic into an engine failure
func (w *Recompute) compute(iterations int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &engine.Failure{Op: "compute", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return w.engine.ComputeInteractive(iterations)
}

// initEngine initializes the engine; a panic leaves it unusable and is fatal
func (w *Recompute) initEngine() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &engine.Failure{Op: "init", Fatal: true, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return w.engine.Init(w.init)
}

func (w *Recompute) quitEngine() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &engine.Failure{Op: "quit", Fatal: true, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return w.engine.Quit()
}

// refresh makes plane resident and reports a panicking loader as an IO failure
func (w *Recompute) refresh(plane int) (loaded bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			loaded = false
			err = &planestore.IOFailure{View: -1, Plane: plane, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return w.cache.Refresh(plane, w.loader)
}

func (w *Recompute) finish(log zerolog.Logger, status Status, start time.Time) {
	status.Duration = time.Since(start)
	status.FinishedAt = time.Now()
	w.executed.Add(1)

	switch status.Outcome {
	case Completed:
		w.completed.Add(1)
		log.Debug().Dur("took", status.Duration).Bool("reloaded", status.Reloaded).Msg("preview computed")
	case IOFailed:
		w.ioFailures.Add(1)
		log.Error().Err(status.Err).Msg("failed to load preview plane")
	default:
		w.engFailures.Add(1)
		log.Error().Err(status.Err).Str("outcome", status.Outcome.String()).Msg("engine computation failed")
	}

	select {
	case w.statuses <- status:
	default:
		w.dropped.Add(1)
	}
}

func (w *Recompute) discardPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.log.Debug().Str("request_id", w.pending.ID).Msg("pending request discarded at shutdown")
		w.pending = nil
		w.discarded.Add(1)
	}
}

func (w *Recompute) closeStatuses() {
	w.closeOnce.Do(func() { close(w.statuses) })
}
