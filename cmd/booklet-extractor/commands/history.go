package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/booklet-extractor/cmd/booklet-extractor/ui"
	"github.com/spherical/booklet-extractor/internal/storage"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded conversion runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversion runs",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its figures and question links",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run record (output files are kept)",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

func init() {
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs to list (0 for all)")
	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "print JSON")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	h, err := requireHistory(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	runs, err := h.List(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if historyJSON {
		return writeJSON(cmd, runs)
	}

	if len(runs) == 0 {
		ui.Info("No conversion runs recorded")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			shortID(r.ID),
			r.SourceFile,
			string(r.Status),
			strconv.Itoa(r.Pages),
			strconv.Itoa(r.Figures),
			fmt.Sprintf("%d/%d", r.LinkedQuestions, r.Questions),
			strconv.Itoa(r.Warnings),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			durationCell(r),
		})
	}
	ui.Table([]string{"ID", "File", "Status", "Pages", "Figures", "Linked", "Warnings", "Started", "Duration"}, rows)
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	h, err := requireHistory(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	id, err := resolveRunID(ctx, h, args[0])
	if err != nil {
		return err
	}
	detail, err := h.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get run %s: %w", id, err)
	}

	if historyJSON {
		return writeJSON(cmd, detail)
	}

	ui.Section("Run " + detail.ID.String())
	ui.KeyValue("File", detail.SourceFile)
	ui.KeyValue("Output", detail.OutputDir)
	ui.KeyValue("Status", string(detail.Status))
	ui.KeyValue("Started", detail.StartedAt.Local().Format("2006-01-02 15:04:05"))
	ui.KeyValue("Duration", durationCell(detail.Run))
	if detail.Error != "" {
		ui.KeyValue("Error", detail.Error)
	}
	if detail.Status == storage.RunStatusSucceeded {
		ui.KeyValue("Text strategy", detail.TextStrategy)
		ui.KeyValue("Figure strategy", detail.FigureStrategy)
		ui.KeyValue("Pages", strconv.Itoa(detail.Pages))
		ui.KeyValue("Questions", fmt.Sprintf("%d (%d linked)", detail.Questions, detail.LinkedQuestions))
		ui.KeyValue("Warnings", strconv.Itoa(detail.Warnings))
	}

	if len(detail.FigureList) > 0 {
		ui.Section("Figures")
		rows := make([][]string, 0, len(detail.FigureList))
		for _, f := range detail.FigureList {
			rows = append(rows, []string{
				strconv.Itoa(f.Page),
				strconv.Itoa(f.SequenceIndex),
				f.Filename,
				f.SourceType,
				fmt.Sprintf("%dx%d", f.Width, f.Height),
			})
		}
		ui.Table([]string{"Page", "Index", "File", "Type", "Size"}, rows)
	}

	if detail.Links != nil && detail.Links.Len() > 0 {
		ui.Section("Question Figures")
		for _, q := range detail.Links.Questions() {
			files, _ := detail.Links.Get(q)
			ui.KeyValue(fmt.Sprintf("Question %d", q), strings.Join(files, ", "))
		}
	}
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	h, err := requireHistory(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	id, err := resolveRunID(ctx, h, args[0])
	if err != nil {
		return err
	}
	if err := h.Runs.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	ui.Success("Deleted run %s", id)
	return nil
}

func durationCell(r *storage.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return ui.FormatDuration(r.Duration())
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
