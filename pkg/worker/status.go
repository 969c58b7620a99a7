package worker

import (
	"time"

	"spimpreview/internal/models"
)

// Outcome classifies how a request ended
type Outcome int

const (
	Completed Outcome = iota
	IOFailed
	EngineFailed
	EngineFatal
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case IOFailed:
		return "io-failed"
	case EngineFailed:
		return "engine-failed"
	case EngineFatal:
		return "engine-fatal"
	default:
		return "unknown"
	}
}

// Status reports one executed request
type Status struct {
	Request    models.Request
	Outcome    Outcome
	Err        error
	Reloaded   bool
	Duration   time.Duration
	FinishedAt time.Time
}

// Stats counts worker activity
type Stats struct {
	Submitted       uint64
	Superseded      uint64
	Discarded       uint64
	Executed        uint64
	Completed       uint64
	Rejected        uint64
	IOFailures      uint64
	EngineFailures  uint64
	Reloads         uint64
	DroppedStatuses uint64
}
