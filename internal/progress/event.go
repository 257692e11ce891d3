// Package progress defines the event structures emitted by the crawl controllers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StageRunStopped Stage = "RUN_STOPPED"
	StagePageDone   Stage = "PAGE_DONE"
	StageRecordDone Stage = "RECORD_DONE"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageRunDone || s == StageRunError || s == StageRunStopped
}

// Outcome is the per-record result carried by RECORD_DONE events.
type Outcome string

// Record outcomes.
const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Event captures a single step of a crawl run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Resource names the pipeline that produced the event.
	Resource string
	// Page is the listing page number for page and record events.
	Page int
	// Records counts the records in a completed page.
	Records int
	// Outcome is set on RECORD_DONE events.
	Outcome Outcome
	// Key identifies the record on RECORD_DONE events.
	Key string
	// Dur captures page, record, or run latency.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Resource == "" {
		return errors.New("resource is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageRunStopped:
	case StagePageDone:
		if e.Page < 1 {
			return errors.New("page done requires page number")
		}
	case StageRecordDone:
		switch e.Outcome {
		case OutcomeProcessed, OutcomeSkipped, OutcomeFailed:
		default:
			return fmt.Errorf("record done has unknown outcome %q", e.Outcome)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
