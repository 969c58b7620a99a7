package engine

import (
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"spimpreview/internal/models"
	"spimpreview/pkg/exchange"
)

// FusionOptions tunes the software engine
type FusionOptions struct {
	// IterationDelay is slept after every iteration to mimic a slow backend
	IterationDelay time.Duration

	// Exchange resolves the data exchange; defaults to exchange.Active
	Exchange func() (exchange.DataExchange, bool)
}

// Fusion is a pure-Go stand-in for the native backend. It honours the native
// call contract (one Init, single-threaded compute, pull once, push per
// iteration) and produces a multiplicative multi-view fusion of the pulled
// planes. It is not a deconvolution.
type Fusion struct {
	log  zerolog.Logger
	opts FusionOptions

	mu          sync.Mutex
	initialized bool
	params      InitParams

	busy atomic.Bool

	// per-invocation working state, owned by the computing goroutine
	views    [][]float64
	estimate []float64
	scratch  []float64
	out      []uint16
}

// NewFusion creates an uninitialized software engine
func NewFusion(log zerolog.Logger, opts FusionOptions) *Fusion {
	if opts.Exchange == nil {
		opts.Exchange = exchange.Active
	}
	return &Fusion{log: log, opts: opts}
}

// Init implements Engine
func (f *Fusion) Init(params InitParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return &Failure{Op: "init", Err: ErrAlreadyInitialized}
	}
	if err := params.Validate(); err != nil {
		return &Failure{Op: "init", Fatal: true, Err: err}
	}
	for _, group := range [][]string{params.WeightFiles, params.KernelFiles} {
		for _, path := range group {
			if _, err := os.Stat(path); err != nil {
				return &Failure{Op: "init", Fatal: true, Err: err}
			}
		}
	}

	n := params.Width * params.Height
	f.params = params
	f.views = make([][]float64, params.Views)
	for v := range f.views {
		f.views[v] = make([]float64, n)
	}
	f.estimate = make([]float64, n)
	f.scratch = make([]float64, n)
	f.out = make([]uint16, n)
	f.initialized = true

	f.log.Info().
		Int("width", params.Width).
		Int("height", params.Height).
		Int("views", params.Views).
		Int("kernel_width", params.KernelWidth).
		Int("kernel_height", params.KernelHeight).
		Str("mode", params.Mode.String()).
		Msg("engine initialized")
	return nil
}

// ComputeInteractive implements Engine
func (f *Fusion) ComputeInteractive(iterations int) error {
	if !f.busy.CompareAndSwap(false, true) {
		return &Failure{Op: "compute", Err: ErrConcurrentCall}
	}
	defer f.busy.Store(false)

	f.mu.Lock()
	initialized, params := f.initialized, f.params
	f.mu.Unlock()
	if !initialized {
		return &Failure{Op: "compute", Fatal: true, Err: ErrNotInitialized}
	}
	if iterations < 0 {
		return &Failure{Op: "compute", Err: fmt.Errorf("negative iteration count %d", iterations)}
	}

	dx, ok := f.opts.Exchange()
	if !ok {
		return &Failure{Op: "compute", Err: ErrNoExchange}
	}

	frames := dx.PullInitialFrames()
	if frames == nil {
		return &Failure{Op: "compute", Err: fmt.Errorf("no initial frames provided")}
	}
	if err := f.loadFrames(frames, params); err != nil {
		return &Failure{Op: "compute", Err: err}
	}

	f.initialEstimate()
	if iterations == 0 {
		dx.PushResultFrame(f.quantize())
		return nil
	}

	for i := 0; i < iterations; i++ {
		if params.Mode == models.Independent {
			f.sequentialUpdate()
		} else {
			f.averagedUpdate()
		}
		dx.PushResultFrame(f.quantize())

		if f.opts.IterationDelay > 0 {
			time.Sleep(f.opts.IterationDelay)
		}
	}

	f.log.Debug().Int("iterations", iterations).Msg("compute finished")
	return nil
}

// Quit implements Engine
func (f *Fusion) Quit() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized {
		return &Failure{Op: "quit", Err: ErrNotInitialized}
	}
	f.initialized = false
	f.views, f.estimate, f.scratch, f.out = nil, nil, nil, nil
	f.log.Info().Msg("engine shut down")
	return nil
}

func (f *Fusion) loadFrames(frames [][]uint16, params InitParams) error {
	if len(frames) != params.Views {
		return fmt.Errorf("got %d frames for %d views", len(frames), params.Views)
	}
	n := params.Width * params.Height
	for v, frame := range frames {
		if len(frame) != n {
			return fmt.Errorf("frame %d holds %d samples, want %d", v, len(frame), n)
		}
		for i, s := range frame {
			// +1 keeps the multiplicative updates away from zero
			f.views[v][i] = float64(s) + 1
		}
	}
	return nil
}

// initialEstimate starts from the mean of all views
func (f *Fusion) initialEstimate() {
	for i := range f.estimate {
		f.estimate[i] = 0
	}
	for _, view := range f.views {
		floats.Add(f.estimate, view)
	}
	floats.Scale(1/float64(len(f.views)), f.estimate)
}

// sequentialUpdate applies each view's correction in turn, damped by the view count
func (f *Fusion) sequentialUpdate() {
	exponent := 1 / float64(len(f.views))
	for _, view := range f.views {
		copy(f.scratch, view)
		floats.Div(f.scratch, f.estimate)
		for i, c := range f.scratch {
			f.scratch[i] = math.Pow(c, exponent)
		}
		floats.Mul(f.estimate, f.scratch)
	}
}

// averagedUpdate applies the mean correction of all views at once
func (f *Fusion) averagedUpdate() {
	correction := make([]float64, len(f.estimate))
	for _, view := range f.views {
		copy(f.scratch, view)
		floats.Div(f.scratch, f.estimate)
		floats.Add(correction, f.scratch)
	}
	floats.Scale(1/float64(len(f.views)), correction)
	floats.Mul(f.estimate, correction)
}

func (f *Fusion) quantize() []uint16 {
	for i, v := range f.estimate {
		f.out[i] = uint16(math.Max(0, math.Min(65535, math.Round(v-1))))
	}
	return f.out
}
