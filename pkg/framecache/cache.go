// Package framecache holds the resident plane of every view plus the engine's
// latest result frame.
//
// Both are published by pointer swap: the execution goroutine builds a complete
// buffer set off to the side and stores it atomically, so display readers only
// ever observe fully written buffers.
package framecache

import (
	"fmt"
	"sync/atomic"
	"time"

	"spimpreview/internal/models"
)

// PlaneLoader fills one plane of every view into dst
type PlaneLoader interface {
	LoadPlane(plane int, dst [][]uint16) error
}

// PlaneSet is an immutable snapshot of one plane across all views.
// Callers must not modify Views.
type PlaneSet struct {
	Plane    int
	Views    [][]uint16
	LoadedAt time.Time
}

// ResultFrame is an immutable snapshot of the engine output
type ResultFrame struct {
	// Plane the result was computed for
	Plane int

	// Seq increases with every published frame
	Seq uint64

	Pixels    []uint16
	UpdatedAt time.Time
}

// Cache is written by the execution goroutine only; readers may call
// Frames, Result and CurrentPlane from any goroutine.
type Cache struct {
	views int
	dims  models.Dimensions

	planes    atomic.Pointer[PlaneSet]
	result    atomic.Pointer[ResultFrame]
	resultSeq atomic.Uint64
	loads     atomic.Uint64
}

// New creates an empty cache ("no plane loaded")
func New(views int, dims models.Dimensions) *Cache {
	return &Cache{views: views, dims: dims}
}

// Views returns the number of views held
func (c *Cache) Views() int {
	return c.views
}

// Dims returns the per-view geometry
func (c *Cache) Dims() models.Dimensions {
	return c.dims
}

// CurrentPlane returns the resident plane, or (-1, false) before the first successful load
func (c *Cache) CurrentPlane() (int, bool) {
	set := c.planes.Load()
	if set == nil {
		return -1, false
	}
	return set.Plane, true
}

// Frames returns the resident plane set, nil if none has been loaded
func (c *Cache) Frames() *PlaneSet {
	return c.planes.Load()
}

// Loads returns the number of successful refreshes that hit the loader
func (c *Cache) Loads() uint64 {
	return c.loads.Load()
}

// Refresh makes plane resident. It is a no-op when plane already is. Otherwise all
// views are loaded into fresh buffers which are published only if every view
// succeeded; on failure the previous plane stays current and visible.
func (c *Cache) Refresh(plane int, loader PlaneLoader) (bool, error) {
	if current, ok := c.CurrentPlane(); ok && current == plane {
		return false, nil
	}

	staged := make([][]uint16, c.views)
	for v := range staged {
		staged[v] = make([]uint16, c.dims.PlaneLen())
	}

	if err := loader.LoadPlane(plane, staged); err != nil {
		return false, fmt.Errorf("refresh to plane %d: %w", plane, err)
	}

	c.planes.Store(&PlaneSet{Plane: plane, Views: staged, LoadedAt: time.Now()})
	c.loads.Add(1)
	return true, nil
}

// PublishResult copies pixels into a new result frame and makes it visible to readers
func (c *Cache) PublishResult(plane int, pixels []uint16) *ResultFrame {
	frame := &ResultFrame{
		Plane:     plane,
		Seq:       c.resultSeq.Add(1),
		Pixels:    append([]uint16(nil), pixels...),
		UpdatedAt: time.Now(),
	}
	c.result.Store(frame)
	return frame
}

// Result returns the latest published result frame, nil before the first push
func (c *Cache) Result() *ResultFrame {
	return c.result.Load()
}
