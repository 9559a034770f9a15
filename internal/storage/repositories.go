package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/booklet-extractor/internal/domain"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// RunRepository handles run CRUD operations.
type RunRepository struct {
	db DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, source_file, output_dir, status, text_strategy, figure_strategy,
	pages, figures, questions, linked_questions, warnings, error, report, started_at, completed_at`

// Create inserts a new run in the running state.
func (r *RunRepository) Create(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	run.StartedAt = time.Now().UTC()

	query := `
		INSERT INTO runs (id, source_file, output_dir, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.SourceFile, run.OutputDir, run.Status, run.StartedAt,
	)
	return err
}

// Complete marks a run as succeeded and stores its summary.
func (r *RunRepository) Complete(ctx context.Context, id uuid.UUID, summary RunSummary) error {
	query := `
		UPDATE runs SET status = $1, text_strategy = $2, figure_strategy = $3,
			pages = $4, figures = $5, questions = $6, linked_questions = $7,
			warnings = $8, report = $9, completed_at = $10
		WHERE id = $11
	`
	res, err := r.db.ExecContext(ctx, query,
		RunStatusSucceeded, summary.TextStrategy, summary.FigureStrategy,
		summary.Pages, summary.Figures, summary.Questions, summary.LinkedQuestions,
		summary.Warnings, nullableJSON(summary.Report), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// Fail marks a run as failed.
func (r *RunRepository) Fail(ctx context.Context, id uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	query := `UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, RunStatusFailed, msg, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// GetByID retrieves a run by ID.
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// List returns the most recent runs first. A non-positive limit returns all runs.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Delete removes a run and everything recorded for it.
func (r *RunRepository) Delete(ctx context.Context, id uuid.UUID) error {
	for _, query := range []string{
		`DELETE FROM question_links WHERE run_id = $1`,
		`DELETE FROM run_figures WHERE run_id = $1`,
	} {
		if _, err := r.db.ExecContext(ctx, query, id); err != nil {
			return err
		}
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var report sql.NullString
	var completed sql.NullTime
	err := row.Scan(
		&run.ID, &run.SourceFile, &run.OutputDir, &run.Status, &run.TextStrategy, &run.FigureStrategy,
		&run.Pages, &run.Figures, &run.Questions, &run.LinkedQuestions, &run.Warnings, &run.Error,
		&report, &run.StartedAt, &completed,
	)
	if err != nil {
		return nil, err
	}
	if report.Valid && report.String != "" {
		run.Report = json.RawMessage(report.String)
	}
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	return run, nil
}

// FigureRepository handles figure records.
type FigureRepository struct {
	db DB
}

// NewFigureRepository creates a new figure repository.
func NewFigureRepository(db DB) *FigureRepository {
	return &FigureRepository{db: db}
}

// CreateBatch records the figures of a run in extraction order.
func (r *FigureRepository) CreateBatch(ctx context.Context, runID uuid.UUID, figures []domain.Figure) error {
	query := `
		INSERT INTO run_figures (id, run_id, page, sequence_index, filename, source_type, width, height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, f := range figures {
		if _, err := r.db.ExecContext(ctx, query,
			uuid.New(), runID, f.Page, f.SequenceIndex, f.Filename, string(f.SourceType), f.Width, f.Height,
		); err != nil {
			return fmt.Errorf("insert figure %s: %w", f.Filename, err)
		}
	}
	return nil
}

// ListByRun returns a run's figures ordered by page and sequence index.
func (r *FigureRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]*FigureRecord, error) {
	query := `
		SELECT id, run_id, page, sequence_index, filename, source_type, width, height
		FROM run_figures
		WHERE run_id = $1
		ORDER BY page, sequence_index
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var figures []*FigureRecord
	for rows.Next() {
		f := &FigureRecord{}
		if err := rows.Scan(
			&f.ID, &f.RunID, &f.Page, &f.SequenceIndex, &f.Filename, &f.SourceType, &f.Width, &f.Height,
		); err != nil {
			return nil, err
		}
		figures = append(figures, f)
	}
	return figures, rows.Err()
}

// LinkRepository handles question-figure links.
type LinkRepository struct {
	db DB
}

// NewLinkRepository creates a new link repository.
func NewLinkRepository(db DB) *LinkRepository {
	return &LinkRepository{db: db}
}

// Save records every link of m for a run.
func (r *LinkRepository) Save(ctx context.Context, runID uuid.UUID, m *domain.QuestionFigureMap) error {
	query := `
		INSERT INTO question_links (run_id, seq, question_number, filename)
		VALUES ($1, $2, $3, $4)
	`
	seq := 0
	for _, q := range m.Questions() {
		files, _ := m.Get(q)
		for _, f := range files {
			if _, err := r.db.ExecContext(ctx, query, runID, seq, q, f); err != nil {
				return fmt.Errorf("insert link %d -> %s: %w", q, f, err)
			}
			seq++
		}
	}
	return nil
}

// Map rebuilds a run's question-figure map in its original order.
func (r *LinkRepository) Map(ctx context.Context, runID uuid.UUID) (*domain.QuestionFigureMap, error) {
	query := `
		SELECT question_number, filename
		FROM question_links
		WHERE run_id = $1
		ORDER BY seq
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := domain.NewQuestionFigureMap()
	for rows.Next() {
		var q int
		var f string
		if err := rows.Scan(&q, &f); err != nil {
			return nil, err
		}
		m.Add(q, f)
	}
	return m, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableJSON(data json.RawMessage) interface{} {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
