package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"spimpreview/internal/models"
	"spimpreview/pkg/exchange"
)

// recordingExchange hands out frames once and keeps every pushed frame
type recordingExchange struct {
	frames [][]uint16
	pulls  int
	pushed [][]uint16
}

func (r *recordingExchange) PullInitialFrames() [][]uint16 {
	r.pulls++
	if r.pulls > 1 {
		return nil
	}
	return r.frames
}

func (r *recordingExchange) PushResultFrame(frame []uint16) {
	r.pushed = append(r.pushed, append([]uint16(nil), frame...))
}

func createParams(t *testing.T, views int, mode models.KernelMode) InitParams {
	t.Helper()
	dir := t.TempDir()
	params := InitParams{Width: 4, Height: 4, Views: views, KernelWidth: 3, KernelHeight: 3, Mode: mode}
	for v := 0; v < views; v++ {
		weight := filepath.Join(dir, "weight"+string(rune('a'+v))+".raw")
		kernel := filepath.Join(dir, "kernel"+string(rune('a'+v))+".raw")
		for _, p := range []string{weight, kernel} {
			if err := os.WriteFile(p, []byte{0, 0}, 0644); err != nil {
				t.Fatalf("Failed to write %s: %v", p, err)
			}
		}
		params.WeightFiles = append(params.WeightFiles, weight)
		params.KernelFiles = append(params.KernelFiles, kernel)
	}
	return params
}

func constantFrames(views, n int, values ...uint16) [][]uint16 {
	frames := make([][]uint16, views)
	for v := range frames {
		frames[v] = make([]uint16, n)
		for i := range frames[v] {
			frames[v][i] = values[v%len(values)]
		}
	}
	return frames
}

func newTestFusion(dx exchange.DataExchange) *Fusion {
	return NewFusion(zerolog.Nop(), FusionOptions{
		Exchange: func() (exchange.DataExchange, bool) { return dx, dx != nil },
	})
}

func TestInitValidation(t *testing.T) {
	params := createParams(t, 2, models.Optimization1)

	bad := params
	bad.KernelFiles = bad.KernelFiles[:1]
	f := newTestFusion(nil)
	if err := f.Init(bad); !IsFatal(err) {
		t.Errorf("Expected fatal failure for view count mismatch, got %v", err)
	}

	missing := params
	missing.WeightFiles = []string{params.WeightFiles[0], "/nonexistent/weights.raw"}
	if err := f.Init(missing); !IsFatal(err) {
		t.Errorf("Expected fatal failure for missing weights, got %v", err)
	}

	if err := f.Init(params); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := f.Init(params); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("Expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestComputeBeforeInit(t *testing.T) {
	f := newTestFusion(&recordingExchange{})
	err := f.ComputeInteractive(3)
	if !errors.Is(err, ErrNotInitialized) || !IsFatal(err) {
		t.Errorf("Expected fatal ErrNotInitialized, got %v", err)
	}
}

// TestComputePushesPerIteration checks the callback protocol: one pull, one push per iteration
func TestComputePushesPerIteration(t *testing.T) {
	params := createParams(t, 2, models.Optimization1)
	dx := &recordingExchange{frames: constantFrames(2, 16, 100)}
	f := newTestFusion(dx)
	if err := f.Init(params); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := f.ComputeInteractive(5); err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if dx.pulls != 1 {
		t.Errorf("Expected exactly one pull, got %d", dx.pulls)
	}
	if len(dx.pushed) != 5 {
		t.Fatalf("Expected 5 pushed frames, got %d", len(dx.pushed))
	}
	// identical views are a fixed point of the update
	for i, frame := range dx.pushed {
		if frame[0] != 100 || frame[15] != 100 {
			t.Errorf("Frame %d: expected 100, got %d", i, frame[0])
		}
	}
}

func TestComputeZeroIterations(t *testing.T) {
	params := createParams(t, 2, models.Optimization1)
	dx := &recordingExchange{frames: constantFrames(2, 16, 10, 30)}
	f := newTestFusion(dx)
	if err := f.Init(params); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := f.ComputeInteractive(0); err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if len(dx.pushed) != 1 || dx.pushed[0][0] != 20 {
		t.Errorf("Expected the mean starting estimate 20, got %v", dx.pushed)
	}
}

// TestModesStayBounded checks that every update rule keeps the estimate between the views
func TestModesStayBounded(t *testing.T) {
	for _, mode := range []models.KernelMode{models.Independent, models.EfficientBayesian} {
		t.Run(mode.String(), func(t *testing.T) {
			params := createParams(t, 2, mode)
			dx := &recordingExchange{frames: constantFrames(2, 16, 99, 399)}
			f := newTestFusion(dx)
			if err := f.Init(params); err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			if err := f.ComputeInteractive(20); err != nil {
				t.Fatalf("Compute failed: %v", err)
			}
			if len(dx.pushed) != 20 {
				t.Fatalf("Expected 20 frames, got %d", len(dx.pushed))
			}
			for i, frame := range dx.pushed {
				if frame[0] < 99 || frame[0] > 399 {
					t.Errorf("Frame %d: estimate %d left the range of the views", i, frame[0])
				}
				if frame[7] != frame[0] {
					t.Errorf("Frame %d: expected a uniform estimate", i)
				}
			}
		})
	}
}

func TestComputeWithoutFrames(t *testing.T) {
	params := createParams(t, 1, models.Optimization1)

	f := newTestFusion(nil)
	if err := f.Init(params); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := f.ComputeInteractive(1); !errors.Is(err, ErrNoExchange) || IsFatal(err) {
		t.Errorf("Expected non-fatal ErrNoExchange, got %v", err)
	}

	dx := &recordingExchange{}
	g := newTestFusion(dx)
	if err := g.Init(params); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := g.ComputeInteractive(1); err == nil || IsFatal(err) {
		t.Errorf("Expected non-fatal failure without frames, got %v", err)
	}

	dx.frames = constantFrames(1, 3, 1)
	dx.pulls = 0
	if err := g.ComputeInteractive(1); err == nil {
		t.Error("Expected failure for wrongly sized frames")
	}
}

func TestQuit(t *testing.T) {
	params := createParams(t, 1, models.Optimization1)
	f := newTestFusion(&recordingExchange{})
	if err := f.Quit(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized quitting an idle engine, got %v", err)
	}
	if err := f.Init(params); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := f.Quit(); err != nil {
		t.Errorf("Quit failed: %v", err)
	}
	if err := f.ComputeInteractive(1); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized after Quit, got %v", err)
	}
}
