package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/booklet-extractor/cmd/booklet-extractor/ui"
	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/storage"
)

// resetFlags restores every flag to its default so runs do not leak into
// each other through the package-level flag variables.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	cfg = nil

	var out bytes.Buffer
	ui.SetOutput(&out, &out)
	t.Cleanup(func() { ui.SetOutput(os.Stdout, os.Stderr) })

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--no-color"))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir string, historyEnabled bool) (string, string) {
	t.Helper()
	dbPath := filepath.Join(dir, "runs.db")
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`output:
  dir: %s
database:
  enabled: %t
  driver: sqlite
  sqlite:
    path: %s
    max_open_conns: 1
observability:
  log_level: error
`, filepath.Join(dir, "out"), historyEnabled, dbPath)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, dbPath
}

func seedRun(t *testing.T, dbPath string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, "sqlite", dbPath, storage.PoolConfig{MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(ctx, db))
	h := storage.NewHistory(db)
	defer h.Close()

	run, err := h.Start(ctx, uuid.Nil, "act-form-1.pdf", "out/act-form-1")
	require.NoError(t, err)

	report := domain.NewReport()
	report.TextStrategy = domain.TextStrategyOCR
	report.FigureStrategy = domain.FigureStrategyLayout
	summary, err := storage.NewRunSummary(report, domain.ProcessingStats{PagesProcessed: 4, Figures: 1, Questions: 12, LinkedQuestions: 1})
	require.NoError(t, err)

	links := domain.NewQuestionFigureMap()
	links.Add(3, "figure_1_1.png")
	require.NoError(t, h.Finish(ctx, run.ID, summary, []domain.Figure{
		{Page: 1, SequenceIndex: 1, Filename: "figure_1_1.png", SourceType: domain.SourceDetectedRegion, Width: 240, Height: 180},
	}, links))
	return run.ID
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "booklet-extractor version dev")
}

func TestHistory_Disabled(t *testing.T) {
	path, _ := writeConfig(t, t.TempDir(), false)

	_, err := execute(t, "history", "list", "-c", path)
	assert.ErrorContains(t, err, "run history is disabled")
}

func TestHistory_ListShowDelete(t *testing.T) {
	path, dbPath := writeConfig(t, t.TempDir(), true)
	id := seedRun(t, dbPath)

	out, err := execute(t, "history", "list", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, shortID(id))
	assert.Contains(t, out, "act-form-1.pdf")
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "1/12")

	out, err = execute(t, "history", "show", shortID(id), "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, id.String())
	assert.Contains(t, out, "figure_1_1.png")
	assert.Contains(t, out, "240x180")
	assert.Contains(t, out, "Question 3")

	out, err = execute(t, "history", "show", id.String(), "--json", "-c", path)
	require.NoError(t, err)
	var detail struct {
		ID    string              `json:"id"`
		Links map[string][]string `json:"question_figure_map"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Equal(t, id.String(), detail.ID)
	assert.Equal(t, map[string][]string{"3": {"figure_1_1.png"}}, detail.Links)

	out, err = execute(t, "history", "delete", id.String(), "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted run")

	out, err = execute(t, "history", "list", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No conversion runs recorded")
}

func TestHistory_ShowUnknownRun(t *testing.T) {
	path, _ := writeConfig(t, t.TempDir(), true)

	_, err := execute(t, "history", "show", "abc", "-c", path)
	assert.ErrorContains(t, err, "too short")

	_, err = execute(t, "history", "show", "abcdef12", "-c", path)
	assert.ErrorContains(t, err, "no run matches")

	_, err = execute(t, "history", "show", uuid.NewString(), "-c", path)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConvert_MissingInputIsRecordedAsFailed(t *testing.T) {
	dir := t.TempDir()
	path, _ := writeConfig(t, dir, true)

	out, err := execute(t, "convert", filepath.Join(dir, "missing.pdf"), "-c", path)
	assert.ErrorContains(t, err, "1 of 1 conversions failed")
	assert.Contains(t, out, "missing.pdf")

	out, err = execute(t, "history", "list", "--json", "-c", path)
	require.NoError(t, err)
	var runs []struct {
		SourceFile string `json:"source_file"`
		Status     string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "missing.pdf", runs[0].SourceFile)
	assert.Equal(t, "failed", runs[0].Status)
}

func TestConvert_InvalidOverride(t *testing.T) {
	path, _ := writeConfig(t, t.TempDir(), false)

	_, err := execute(t, "convert", "booklet.pdf", "--text", "guess", "-c", path)
	assert.ErrorContains(t, err, "invalid text strategy")
}

func TestOutputDirFor(t *testing.T) {
	t.Cleanup(func() { convertOutput = "" })

	convertOutput = "custom"
	assert.Equal(t, "custom", outputDirFor(nil, "in/a.pdf", 1))
	assert.Equal(t, filepath.Join("custom", "a"), outputDirFor(nil, "in/a.pdf", 2))
}
