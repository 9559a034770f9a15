package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/spherical/booklet-extractor/internal/domain"
)

// History records conversion runs across the three repositories.
type History struct {
	db      *sql.DB
	Runs    *RunRepository
	Figures *FigureRepository
	Links   *LinkRepository
}

// NewHistory wraps an open, migrated database.
func NewHistory(db *sql.DB) *History {
	return &History{
		db:      db,
		Runs:    NewRunRepository(db),
		Figures: NewFigureRepository(db),
		Links:   NewLinkRepository(db),
	}
}

// Start records a new running conversion. A nil id is replaced by a fresh one.
func (h *History) Start(ctx context.Context, id uuid.UUID, sourceFile, outputDir string) (*Run, error) {
	run := &Run{ID: id, SourceFile: sourceFile, OutputDir: outputDir}
	if err := h.Runs.Create(ctx, run); err != nil {
		return nil, domain.StorageError("Failed to record run", err)
	}
	return run, nil
}

// Finish stores a successful run's figures, links and summary atomically.
func (h *History) Finish(ctx context.Context, id uuid.UUID, summary RunSummary, figures []domain.Figure, links *domain.QuestionFigureMap) error {
	err := WithTx(ctx, h.db, func(tx *sql.Tx) error {
		if err := NewFigureRepository(tx).CreateBatch(ctx, id, figures); err != nil {
			return err
		}
		if err := NewLinkRepository(tx).Save(ctx, id, links); err != nil {
			return err
		}
		return NewRunRepository(tx).Complete(ctx, id, summary)
	})
	if err != nil {
		return domain.StorageError("Failed to finish run", err)
	}
	return nil
}

// Fail marks a run as failed with cause.
func (h *History) Fail(ctx context.Context, id uuid.UUID, cause error) error {
	if err := h.Runs.Fail(ctx, id, cause); err != nil {
		return domain.StorageError("Failed to mark run failed", err)
	}
	return nil
}

// RunDetail is a run with its figures and question links.
type RunDetail struct {
	*Run
	FigureList []*FigureRecord           `json:"figure_list"`
	Links      *domain.QuestionFigureMap `json:"question_figure_map"`
}

// Get loads a run with its figures and links. Unknown IDs return ErrNotFound.
func (h *History) Get(ctx context.Context, id uuid.UUID) (*RunDetail, error) {
	run, err := h.Runs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, domain.StorageError("Failed to load run", err)
	}
	figures, err := h.Figures.ListByRun(ctx, id)
	if err != nil {
		return nil, domain.StorageError("Failed to load figures", err)
	}
	links, err := h.Links.Map(ctx, id)
	if err != nil {
		return nil, domain.StorageError("Failed to load links", err)
	}
	if figures == nil {
		figures = []*FigureRecord{}
	}
	return &RunDetail{Run: run, FigureList: figures, Links: links}, nil
}

// List returns recent runs, newest first.
func (h *History) List(ctx context.Context, limit int) ([]*Run, error) {
	runs, err := h.Runs.List(ctx, limit)
	if err != nil {
		return nil, domain.StorageError("Failed to list runs", err)
	}
	if runs == nil {
		runs = []*Run{}
	}
	return runs, nil
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}
