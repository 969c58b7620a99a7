// Package exchange implements the callback protocol the restoration engine uses
// during one compute call: pull the starting frames once, push result frames
// as often as it likes.
package exchange

import (
	"errors"
	"sync"
	"sync/atomic"

	"spimpreview/pkg/framecache"
)

// DataExchange is the hook pair an engine calls back into while computing.
// Both methods run on the engine's calling goroutine.
type DataExchange interface {
	// PullInitialFrames returns the per-view planes the first time it is called in
	// a compute invocation and nil ("nothing new") on every later call.
	PullInitialFrames() [][]uint16

	// PushResultFrame publishes an intermediate or final result. It must not block.
	PushResultFrame(frame []uint16)
}

// Stats counts protocol traffic
type Stats struct {
	Invocations     uint64
	InitialPulls    uint64
	EmptyPulls      uint64
	Pushes          uint64
	DroppedNotifies uint64
}

// Provider serves DataExchange from a frame cache and notifies the display
// through a single-slot signal channel.
type Provider struct {
	cache *framecache.Cache

	// delivered is reset by Begin; hooks and Begin run on the execution goroutine
	delivered bool
	plane     int

	updates chan struct{}

	invocations     atomic.Uint64
	initialPulls    atomic.Uint64
	emptyPulls      atomic.Uint64
	pushes          atomic.Uint64
	droppedNotifies atomic.Uint64
}

// NewProvider creates a provider over cache
func NewProvider(cache *framecache.Cache) *Provider {
	return &Provider{
		cache:     cache,
		delivered: true,
		plane:     -1,
		updates:   make(chan struct{}, 1),
	}
}

// Begin marks the start of a compute invocation: the next PullInitialFrames
// hands out the resident frames again.
func (p *Provider) Begin() {
	p.delivered = false
	p.plane, _ = p.cache.CurrentPlane()
	p.invocations.Add(1)
}

// PullInitialFrames implements DataExchange
func (p *Provider) PullInitialFrames() [][]uint16 {
	if p.delivered {
		p.emptyPulls.Add(1)
		return nil
	}
	frames := p.cache.Frames()
	if frames == nil {
		p.emptyPulls.Add(1)
		return nil
	}
	p.delivered = true
	p.initialPulls.Add(1)
	return frames.Views
}

// PushResultFrame implements DataExchange
func (p *Provider) PushResultFrame(frame []uint16) {
	p.cache.PublishResult(p.plane, frame)
	p.pushes.Add(1)

	select {
	case p.updates <- struct{}{}:
	default:
		// a notification is already pending; the reader will pick up the latest frame
		p.droppedNotifies.Add(1)
	}
}

// Updates signals whenever a new result frame was published. Several pushes
// may collapse into one signal; readers fetch the frame from the cache.
func (p *Provider) Updates() <-chan struct{} {
	return p.updates
}

// Stats returns a snapshot of the protocol counters
func (p *Provider) Stats() Stats {
	return Stats{
		Invocations:     p.invocations.Load(),
		InitialPulls:    p.initialPulls.Load(),
		EmptyPulls:      p.emptyPulls.Load(),
		Pushes:          p.pushes.Load(),
		DroppedNotifies: p.droppedNotifies.Load(),
	}
}

// ErrAlreadyRegistered is returned when a second exchange is registered
var ErrAlreadyRegistered = errors.New("a data exchange is already registered")

var registry struct {
	mu     sync.Mutex
	active DataExchange
}

// Register installs dx as the process-wide exchange engines call back into
func Register(dx DataExchange) error {
	if dx == nil {
		return errors.New("cannot register a nil data exchange")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if registry.active != nil {
		return ErrAlreadyRegistered
	}
	registry.active = dx
	return nil
}

// Unregister removes the active exchange. Safe to call when none is registered.
func Unregister() {
	registry.mu.Lock()
	registry.active = nil
	registry.mu.Unlock()
}

// Active returns the registered exchange, if any
func Active() (DataExchange, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.active, registry.active != nil
}
