// Package preview wires the interactive preview together: it discovers the
// dataset, owns the plane store, frame cache and data exchange, runs the
// recompute worker and forwards result frames to a display.
package preview

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"spimpreview/internal/logger"
	"spimpreview/internal/models"
	"spimpreview/pkg/config"
	"spimpreview/pkg/engine"
	"spimpreview/pkg/exchange"
	"spimpreview/pkg/framecache"
	"spimpreview/pkg/planestore"
	"spimpreview/pkg/worker"
)

// ErrClosed is returned by slider handlers after Close
var ErrClosed = errors.New("preview session is closed")

// Display receives the latest result frame together with the input planes it
// was computed from. planes may describe a newer plane than frame.
type Display interface {
	Show(frame *framecache.ResultFrame, planes *framecache.PlaneSet) error
}

// State is a point-in-time view of the session for status lines
type State struct {
	Plane         int
	Iterations    int
	Depth         int
	MaxIterations int

	Worker            models.WorkerState
	LastServicedPlane int
	WorkerStats       worker.Stats
	ExchangeStats     exchange.Stats
	LastStatus        *worker.Status

	ResultSeq   uint64
	ResultPlane int
	HasResult   bool
}

// Session is one open interactive preview
type Session struct {
	log     zerolog.Logger
	cfg     *config.Config
	layout  *config.Layout
	store   *planestore.Store
	cache   *framecache.Cache
	dx      *exchange.Provider
	worker  *worker.Recompute
	display Display

	mu         sync.Mutex
	plane      int
	iterations int
	lastStatus *worker.Status
	closed     bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// Open discovers the dataset described by cfg, initializes eng on its own
// thread and submits the first request. display may be nil.
func Open(cfg *config.Config, eng engine.Engine, base zerolog.Logger, display Display) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	layout, err := config.Discover(cfg.Input.SPIMFolder, cfg.Input.PSFFolder)
	if err != nil {
		return nil, err
	}

	store, err := planestore.Open(layout.DataFiles, layout.Volume)
	if err != nil {
		return nil, err
	}

	log := logger.Component(base, "preview")
	log.Info().
		Int("views", layout.Views()).
		Str("volume", layout.Volume.String()).
		Int("kernel_width", layout.Kernel.Width).
		Int("kernel_height", layout.Kernel.Height).
		Msg("dataset discovered")

	cache := framecache.New(layout.Views(), layout.Volume)
	dx := exchange.NewProvider(cache)
	if err := exchange.Register(dx); err != nil {
		return nil, err
	}

	w, err := worker.New(worker.Options{
		Engine: eng,
		Init: engine.InitParams{
			Width:        layout.Volume.Width,
			Height:       layout.Volume.Height,
			Views:        layout.Views(),
			WeightFiles:  layout.WeightFiles,
			KernelFiles:  layout.KernelFiles,
			KernelWidth:  layout.Kernel.Width,
			KernelHeight: layout.Kernel.Height,
			Mode:         cfg.KernelMode(),
		},
		Cache:        cache,
		Loader:       store,
		Exchange:     dx,
		Logger:       logger.Component(base, "worker"),
		StatusBuffer: cfg.Preview.StatusBuffer,
	})
	if err != nil {
		exchange.Unregister()
		return nil, err
	}

	s := &Session{
		log:        log,
		cfg:        cfg,
		layout:     layout,
		store:      store,
		cache:      cache,
		dx:         dx,
		worker:     w,
		display:    display,
		plane:      initialPlane(cfg.Preview.Plane, layout.Volume.Depth),
		iterations: cfg.Preview.Iterations,
		stop:       make(chan struct{}),
	}

	if _, err := w.Submit(s.iterations, s.plane); err != nil {
		exchange.Unregister()
		return nil, err
	}
	if err := w.Start(); err != nil {
		w.Shutdown()
		exchange.Unregister()
		return nil, err
	}

	s.wg.Add(2)
	go s.displayLoop()
	go s.statusLoop()

	log.Info().Int("plane", s.plane).Int("iterations", s.iterations).Msg("preview session opened")
	return s, nil
}

func initialPlane(configured, depth int) int {
	if configured < 0 {
		return depth / 2
	}
	return clamp(configured, 0, depth-1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetPlane moves the plane slider and requests a recompute
func (s *Session) SetPlane(plane int) (models.Request, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Request{}, ErrClosed
	}
	s.plane = clamp(plane, 0, s.layout.Volume.Depth-1)
	plane, iterations := s.plane, s.iterations
	s.mu.Unlock()

	return s.worker.Submit(iterations, plane)
}

// SetIterations moves the iteration slider and requests a recompute
func (s *Session) SetIterations(iterations int) (models.Request, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Request{}, ErrClosed
	}
	s.iterations = clamp(iterations, 0, s.cfg.Preview.MaxIterations)
	plane, iterations := s.plane, s.iterations
	s.mu.Unlock()

	return s.worker.Submit(iterations, plane)
}

// State returns a snapshot of sliders, worker and result
func (s *Session) State() State {
	s.mu.Lock()
	state := State{
		Plane:         s.plane,
		Iterations:    s.iterations,
		Depth:         s.layout.Volume.Depth,
		MaxIterations: s.cfg.Preview.MaxIterations,
		LastStatus:    s.lastStatus,
	}
	s.mu.Unlock()

	state.Worker = s.worker.State()
	state.LastServicedPlane = s.worker.LastServicedPlane()
	state.WorkerStats = s.worker.Stats()
	state.ExchangeStats = s.dx.Stats()
	if result := s.cache.Result(); result != nil {
		state.HasResult = true
		state.ResultSeq = result.Seq
		state.ResultPlane = result.Plane
	}
	return state
}

// Layout returns the discovered dataset files
func (s *Session) Layout() *config.Layout {
	return s.layout
}

// Result returns the latest result frame, or nil before the first push
func (s *Session) Result() *framecache.ResultFrame {
	return s.cache.Result()
}

// Close waits for the running computation, quits the engine and stops the
// display. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.worker.Shutdown()
	exchange.Unregister()
	close(s.stop)
	s.wg.Wait()

	s.log.Info().Msg("preview session closed")
}

func (s *Session) displayLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.dx.Updates():
			s.show()
		case <-s.stop:
			// the final push may still be unseen
			select {
			case <-s.dx.Updates():
				s.show()
			default:
			}
			return
		}
	}
}

func (s *Session) show() {
	if s.display == nil {
		return
	}
	if err := s.display.Show(s.cache.Result(), s.cache.Frames()); err != nil {
		s.log.Warn().Err(err).Msg("failed to display result frame")
	}
}

func (s *Session) statusLoop() {
	defer s.wg.Done()

	for status := range s.worker.Statuses() {
		s.mu.Lock()
		s.lastStatus = &status
		s.mu.Unlock()

		event := s.log.Info()
		if status.Err != nil {
			event = s.log.Warn().Err(status.Err)
		}
		event.
			Str("request_id", status.Request.ID).
			Int("plane", status.Request.Plane).
			Int("iterations", status.Request.Iterations).
			Str("outcome", status.Outcome.String()).
			Dur("took", status.Duration).
			Msg("preview request finished")
	}
}

// String renders the state as a one-line status
func (st State) String() string {
	result := "none"
	if st.HasResult {
		result = fmt.Sprintf("#%d (plane %d)", st.ResultSeq, st.ResultPlane)
	}
	return fmt.Sprintf("plane %d/%d, iterations %d/%d, worker %s, result %s, computed %d, superseded %d",
		st.Plane, st.Depth-1, st.Iterations, st.MaxIterations, st.Worker, result,
		st.WorkerStats.Completed, st.WorkerStats.Superseded)
}
