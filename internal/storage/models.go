// Package storage records conversion runs, their figures and question links.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/booklet-extractor/internal/domain"
)

// RunStatus represents the lifecycle state of a conversion run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one conversion of one document.
type Run struct {
	ID              uuid.UUID       `json:"id"`
	SourceFile      string          `json:"source_file"`
	OutputDir       string          `json:"output_dir"`
	Status          RunStatus       `json:"status"`
	TextStrategy    string          `json:"text_strategy,omitempty"`
	FigureStrategy  string          `json:"figure_strategy,omitempty"`
	Pages           int             `json:"pages"`
	Figures         int             `json:"figures"`
	Questions       int             `json:"questions"`
	LinkedQuestions int             `json:"linked_questions"`
	Warnings        int             `json:"warnings"`
	Error           string          `json:"error,omitempty"`
	Report          json.RawMessage `json:"report,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunSummary holds the counters written when a run succeeds.
type RunSummary struct {
	TextStrategy    string
	FigureStrategy  string
	Pages           int
	Figures         int
	Questions       int
	LinkedQuestions int
	Warnings        int
	Report          json.RawMessage
}

// NewRunSummary builds the summary of a finished conversion.
func NewRunSummary(report *domain.Report, stats domain.ProcessingStats) (RunSummary, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return RunSummary{}, fmt.Errorf("encode report: %w", err)
	}
	return RunSummary{
		TextStrategy:    report.TextStrategy,
		FigureStrategy:  report.FigureStrategy,
		Pages:           stats.PagesProcessed,
		Figures:         stats.Figures,
		Questions:       stats.Questions,
		LinkedQuestions: stats.LinkedQuestions,
		Warnings:        report.WarningCount(),
		Report:          raw,
	}, nil
}

// FigureRecord is an extracted figure belonging to a run.
type FigureRecord struct {
	ID            uuid.UUID `json:"id"`
	RunID         uuid.UUID `json:"run_id"`
	Page          int       `json:"page"`
	SequenceIndex int       `json:"index"`
	Filename      string    `json:"filename"`
	SourceType    string    `json:"type"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
}

// QuestionLink attaches one figure to one question of a run. Seq is the
// link's position in the run's map, so reading links back in Seq order
// restores both key order and per-question order.
type QuestionLink struct {
	RunID          uuid.UUID `json:"run_id"`
	Seq            int       `json:"seq"`
	QuestionNumber int       `json:"question"`
	Filename       string    `json:"filename"`
}
