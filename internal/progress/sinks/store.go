package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/progress"
	"github.com/JakeFAU/markdown-crawler/internal/store"
)

// StoreSink records run and page outcomes through a store.RunRepository.
// Page outcomes in a batch are written in one RecordPages call.
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

// Consume forwards the batch to the repository in event order. It respects
// ctx deadlines and returns repository errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var pending []store.PageRecord
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.repo.RecordPages(ctx, pending); err != nil {
			return fmt.Errorf("record pages: %w", err)
		}
		pending = pending[:0]
		return nil
	}

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			if err := flush(); err != nil {
				return err
			}
			if err := s.repo.UpsertRunStart(ctx, evt.RunUUID(), evt.URL, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StagePageSaved, progress.StagePageFailed, progress.StagePageSkip:
			pending = append(pending, pageRecord(evt))
		case progress.StageRunDone:
			if err := flush(); err != nil {
				return err
			}
			status := store.RunCompleted
			if evt.ErrorKind == progress.KindInterrupted {
				status = store.RunInterrupted
			}
			var note *string
			if evt.Note != "" {
				note = &evt.Note
			}
			if err := s.repo.CompleteRun(ctx, evt.RunUUID(), evt.TS, status, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}
	return flush()
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

func pageRecord(evt progress.Event) store.PageRecord {
	rec := store.PageRecord{
		RunID:      evt.RunUUID(),
		URL:        evt.URL,
		Depth:      evt.Depth,
		RecordedAt: evt.TS,
	}
	switch evt.Stage {
	case progress.StagePageSaved:
		rec.Status = store.PageSaved
		rec.Path = evt.Path
		rec.Bytes = evt.Bytes
		rec.Digest = evt.Digest
	case progress.StagePageFailed:
		rec.Status = store.PageFailed
		rec.ErrorKind = evt.ErrorKind
	default:
		rec.Status = store.PageSkipped
		rec.ErrorKind = evt.Note
	}
	return rec
}
