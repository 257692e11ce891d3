package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/camara-crawler/internal/progress"
	"github.com/JakeFAU/camara-crawler/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Page and record
// events are collapsed into one counter delta per run and batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards lifecycle events in order. Counter deltas accumulated
// before a terminal event are flushed ahead of it so CompleteRun always sees
// the final totals.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*runDelta)
	var order []uuid.UUID

	flush := func(runID uuid.UUID) error {
		d := deltas[runID]
		if d == nil || d.counters.IsZero() {
			return nil
		}
		if err := s.repo.AddCounters(ctx, runID, d.counters, d.at); err != nil {
			return fmt.Errorf("add run counters: %w", err)
		}
		d.counters = store.RunCounters{}
		return nil
	}

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, evt.Resource, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StagePageDone, progress.StageRecordDone:
			d := deltas[runID]
			if d == nil {
				d = &runDelta{}
				deltas[runID] = d
				order = append(order, runID)
			}
			d.add(evt)
		case progress.StageRunDone, progress.StageRunError, progress.StageRunStopped:
			if err := flush(runID); err != nil {
				return err
			}
			status, note := terminalStatus(evt)
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}

	for _, runID := range order {
		if err := flush(runID); err != nil {
			return err
		}
	}
	return nil
}

func terminalStatus(evt progress.Event) (store.RunStatus, *string) {
	var note *string
	if evt.Note != "" {
		n := evt.Note
		note = &n
	}
	switch evt.Stage {
	case progress.StageRunDone:
		return store.RunSuccess, nil
	case progress.StageRunStopped:
		return store.RunStopped, nil
	default:
		return store.RunError, note
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type runDelta struct {
	counters store.RunCounters
	at       time.Time
}

func (d *runDelta) add(evt progress.Event) {
	switch evt.Stage {
	case progress.StagePageDone:
		d.counters.Pages++
	case progress.StageRecordDone:
		switch evt.Outcome {
		case progress.OutcomeProcessed:
			d.counters.Processed++
		case progress.OutcomeSkipped:
			d.counters.Skipped++
		case progress.OutcomeFailed:
			d.counters.Failed++
		}
	}
	if evt.TS.After(d.at) {
		d.at = evt.TS
	}
}
