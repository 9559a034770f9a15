package ui

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"

	"github.com/spherical/booklet-extractor/internal/domain"
)

// ProgressBar wraps a progressbar instance for deterministic progress display.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBar creates a new progress bar with the given total and description.
func NewProgressBar(total int64, description string) *ProgressBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)

	return &ProgressBar{bar: bar}
}

// Set moves the progress bar to current.
func (p *ProgressBar) Set(current int64) {
	_ = p.bar.Set64(current)
}

// Finish completes the progress bar.
func (p *ProgressBar) Finish() {
	_ = p.bar.Finish()
}

// Spinner wraps a spinner instance for indeterminate progress display.
type Spinner struct {
	spinner *spinner.Spinner
}

// NewSpinner creates a new spinner with the given message.
func NewSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = stderr
	return &Spinner{spinner: s}
}

// Start starts the spinner animation.
func (s *Spinner) Start() {
	s.spinner.Start()
}

// Stop stops the spinner animation and clears the line.
func (s *Spinner) Stop() {
	s.spinner.Stop()
}

// UpdateMessage updates the spinner's message.
func (s *Spinner) UpdateMessage(message string) {
	s.spinner.Lock()
	s.spinner.Suffix = " " + message
	s.spinner.Unlock()
}

var stageMessages = map[string]string{
	domain.StageLayout:   "Analyzing page layout...",
	domain.StageFigures:  "Extracting figures...",
	domain.StageText:     "Reconstructing page text...",
	domain.StageSegment:  "Segmenting questions...",
	domain.StageLink:     "Linking figures to questions...",
	domain.StageAssemble: "Writing Markdown...",
}

// Progress renders conversion events: a spinner through the document-level
// stages and a bar while page text is reconstructed. Without a terminal it
// prints one line per stage instead.
type Progress struct {
	animate bool
	spinner *Spinner
	bar     *ProgressBar
	pages   int
	figures int
}

// NewProgress creates a progress renderer for one document.
func NewProgress(name string) *Progress {
	p := &Progress{animate: Interactive()}
	if p.animate {
		p.spinner = NewSpinner("Opening " + name + "...")
		p.spinner.Start()
	}
	return p
}

// Run consumes events until the channel is closed.
func (p *Progress) Run(events <-chan domain.StreamEvent) {
	for ev := range events {
		p.Handle(ev)
	}
	p.stop()
}

// Handle renders a single event.
func (p *Progress) Handle(ev domain.StreamEvent) {
	switch ev.Type {
	case domain.EventStage:
		stage, _ := ev.Payload.(string)
		msg, ok := stageMessages[stage]
		if !ok {
			return
		}
		p.finishBar()
		if p.animate {
			if p.spinner == nil {
				p.spinner = NewSpinner(msg)
				p.spinner.Start()
			} else {
				p.spinner.UpdateMessage(msg)
			}
		} else if verboseFlag {
			Step("%s", msg)
		}
	case domain.EventFigure:
		p.figures++
		if p.animate && p.spinner != nil {
			p.spinner.UpdateMessage(fmt.Sprintf("Extracting figures... %d saved", p.figures))
		}
	case domain.EventPageComplete:
		p.pages++
		if !p.animate {
			return
		}
		if p.bar == nil {
			if p.spinner != nil {
				p.spinner.Stop()
				p.spinner = nil
			}
			p.bar = NewProgressBar(int64(ev.Total), "Pages")
		}
		p.bar.Set(int64(p.pages))
	}
}

// Pages returns the number of completed pages seen.
func (p *Progress) Pages() int {
	return p.pages
}

// Figures returns the number of saved figures seen.
func (p *Progress) Figures() int {
	return p.figures
}

func (p *Progress) finishBar() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}

func (p *Progress) stop() {
	p.finishBar()
	if p.spinner != nil {
		p.spinner.Stop()
		p.spinner = nil
	}
}
