package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical/booklet-extractor/cmd/booklet-extractor/ui"
	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/storage"
	"github.com/spherical/booklet-extractor/pkg/extractor"
)

var (
	convertOutput      string
	convertHTML        bool
	convertLayout      string
	convertText        string
	convertWorkers     int
	convertPageRenders bool
	convertRecord      bool
	convertJSON        bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <booklet.pdf>...",
	Short: "Convert test booklets to Markdown",
	Long: `Convert one or more PDF test booklets to Markdown.

Each booklet is written to <output>/<name>/ as <name>.md, <name>_metadata.json,
an images/ directory and, with --html, a <name>.html preview. Recoverable
problems are reported as warnings and do not change the exit status.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "output directory (default: output.dir/<name>; with several inputs, the parent of each <name>/)")
	convertCmd.Flags().BoolVar(&convertHTML, "html", false, "also write an HTML preview")
	convertCmd.Flags().StringVar(&convertLayout, "layout", "", "layout engine: docling, mupdf or none")
	convertCmd.Flags().StringVar(&convertText, "text", "", "text strategy: auto, layout or ocr")
	convertCmd.Flags().IntVarP(&convertWorkers, "workers", "w", 0, "concurrent page OCR workers")
	convertCmd.Flags().BoolVar(&convertPageRenders, "page-renders", false, "also save a full render of every page")
	convertCmd.Flags().BoolVar(&convertRecord, "record", false, "record the run in the history database (default: database.enabled)")
	convertCmd.Flags().BoolVar(&convertJSON, "json", false, "print results as JSON instead of a summary")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	applyConvertFlags(cmd)

	logLevel := "error"
	if convertJSON {
		logLevel = "warn"
	}
	logger := newLogger(cfg, logLevel)

	client, err := extractor.NewClientWithConfig(cfg, extractor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	record := cfg.Database.Enabled
	if cmd.Flags().Changed("record") {
		record = convertRecord
	}
	var history *storage.History
	if record {
		history, err = openHistory(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}
		defer history.Close()
	}

	var results []*extractor.Result
	failed := 0
	for _, path := range args {
		outDir := outputDirFor(client, path, len(args))
		result, err := convertOne(ctx, client, history, path, outDir)
		if err != nil {
			failed++
			ui.Error("%s: %v", filepath.Base(path), err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		results = append(results, result)
		if !convertJSON {
			printSummary(result, outDir)
		}
	}

	if convertJSON {
		if err := printJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, len(args))
	}
	return nil
}

// applyConvertFlags copies explicitly set flags over the loaded config.
func applyConvertFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("html") {
		cfg.Output.HTML = convertHTML
	}
	if flags.Changed("layout") {
		cfg.Layout.Engine = convertLayout
	}
	if flags.Changed("text") {
		cfg.Text.Strategy = convertText
	}
	if flags.Changed("workers") {
		cfg.Text.Workers = convertWorkers
	}
	if flags.Changed("page-renders") {
		cfg.Figures.IncludePageRenders = convertPageRenders
	}
}

func outputDirFor(client *extractor.Client, path string, inputs int) string {
	switch {
	case convertOutput == "":
		return client.OutputDir(path)
	case inputs > 1:
		return filepath.Join(convertOutput, stem(path))
	default:
		return convertOutput
	}
}

// convertOne converts a single booklet, recording it in history when
// history is non-nil.
func convertOne(ctx context.Context, client *extractor.Client, history *storage.History, path, outDir string) (*extractor.Result, error) {
	var runID uuid.UUID
	if history != nil {
		run, err := history.Start(ctx, uuid.Nil, filepath.Base(path), outDir)
		if err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
		runID = run.ID
	}

	if !convertJSON {
		ui.Step("Converting %s", path)
	}

	events := make(chan extractor.StreamEvent, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if convertJSON {
			for range events {
			}
			return
		}
		ui.NewProgress(filepath.Base(path)).Run(events)
	}()

	result, err := client.Convert(ctx, path, outDir, events)
	close(events)
	<-done

	if history != nil {
		// Record the outcome even when the conversion was interrupted.
		recCtx := context.WithoutCancel(ctx)
		if err != nil {
			if ferr := history.Fail(recCtx, runID, err); ferr != nil {
				ui.Warning("Failed to record run: %v", ferr)
			}
		} else if rerr := finishRun(recCtx, history, runID, result); rerr != nil {
			ui.Warning("Failed to record run: %v", rerr)
		}
	}

	return result, err
}

func finishRun(ctx context.Context, history *storage.History, id uuid.UUID, result *extractor.Result) error {
	summary, err := storage.NewRunSummary(result.Report, result.Stats)
	if err != nil {
		return err
	}
	return history.Finish(ctx, id, summary, result.Figures, result.Links)
}

func printSummary(result *extractor.Result, outDir string) {
	if n := len(result.Report.Warnings); n > 0 {
		msgs := make([]string, 0, n)
		for _, w := range result.Report.Warnings {
			msgs = append(msgs, w.Error())
		}
		ui.Warning("%d warnings", n)
		ui.Message("%s", strings.TrimRight(ui.FormatList(msgs), "\n"))
	}

	st := result.Stats
	ui.Success("Converted %s in %s", result.SourceFile, ui.FormatDuration(st.TotalTime))
	ui.Table([]string{"Metric", "Value"}, [][]string{
		{"Output", filepath.Join(outDir, result.Stem+".md")},
		{"Pages", strconv.Itoa(st.PagesProcessed)},
		{"OCR pages", strconv.Itoa(st.OCRPages)},
		{"Native pages", strconv.Itoa(st.NativePages)},
		{"Failed pages", strconv.Itoa(st.FailedPages)},
		{"Figures", strconv.Itoa(st.Figures)},
		{"Questions", strconv.Itoa(st.Questions)},
		{"Linked questions", strconv.Itoa(st.LinkedQuestions)},
		{"Text strategy", result.Report.TextStrategy},
		{"Figure strategy", result.Report.FigureStrategy},
	})
	ui.Newline()
}

type convertOutputJSON struct {
	SourceFile        string                    `json:"source_file"`
	Documents         []string                  `json:"documents"`
	Figures           []domain.Figure           `json:"figures"`
	QuestionFigureMap *domain.QuestionFigureMap `json:"question_figure_map"`
	Report            *domain.Report            `json:"report"`
	Stats             domain.ProcessingStats    `json:"stats"`
}

func printJSON(w io.Writer, results []*extractor.Result) error {
	out := make([]convertOutputJSON, 0, len(results))
	for _, r := range results {
		figs := r.Figures
		if figs == nil {
			figs = []domain.Figure{}
		}
		out = append(out, convertOutputJSON{
			SourceFile:        r.SourceFile,
			Documents:         r.Documents,
			Figures:           figs,
			QuestionFigureMap: r.Links,
			Report:            r.Report,
			Stats:             r.Stats,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
