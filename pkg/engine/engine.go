// Package engine defines the call contract of the restoration backend.
//
// A backend is single-instance, single-threaded and stateful: Init once, any
// number of ComputeInteractive calls, Quit once, all from the same goroutine.
// While computing it talks back through the registered exchange.DataExchange.
package engine

import (
	"errors"
	"fmt"

	"spimpreview/internal/models"
)

// Engine is the restoration backend reached by the recompute worker
type Engine interface {
	// Init performs one-time setup
	Init(params InitParams) error

	// ComputeInteractive runs iterations of the restoration on the frames pulled
	// through the active data exchange. It blocks for the whole computation.
	ComputeInteractive(iterations int) error

	// Quit tears the backend down
	Quit() error
}

// InitParams carries everything Init needs
type InitParams struct {
	Width  int
	Height int
	Views  int

	WeightFiles []string
	KernelFiles []string

	KernelWidth  int
	KernelHeight int

	Mode models.KernelMode
}

// Validate checks the parameters for internal consistency
func (p InitParams) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("plane size %dx%d must be positive", p.Width, p.Height)
	}
	if p.Views <= 0 {
		return fmt.Errorf("need at least one view, got %d", p.Views)
	}
	if len(p.WeightFiles) != p.Views || len(p.KernelFiles) != p.Views {
		return fmt.Errorf("view count mismatch: %d views, %d weight files, %d kernel files",
			p.Views, len(p.WeightFiles), len(p.KernelFiles))
	}
	if p.KernelWidth <= 0 || p.KernelHeight <= 0 {
		return fmt.Errorf("kernel size %dx%d must be positive", p.KernelWidth, p.KernelHeight)
	}
	return nil
}

var (
	// ErrNotInitialized is returned for calls before Init or after Quit
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrAlreadyInitialized is returned for a second Init
	ErrAlreadyInitialized = errors.New("engine already initialized")

	// ErrConcurrentCall is returned when a second goroutine enters the engine
	ErrConcurrentCall = errors.New("engine is single-threaded and already busy")

	// ErrNoExchange is returned when no data exchange is registered
	ErrNoExchange = errors.New("no data exchange registered")
)

// Failure is an error reported by the engine. Fatal failures mean the engine's
// initialized state is gone and it must be set up again.
type Failure struct {
	Op    string
	Fatal bool
	Err   error
}

func (f *Failure) Error() string {
	if f.Fatal {
		return fmt.Sprintf("engine %s failed (fatal): %v", f.Op, f.Err)
	}
	return fmt.Sprintf("engine %s failed: %v", f.Op, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsFatal reports whether err carries a fatal engine failure
func IsFatal(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Fatal
}
