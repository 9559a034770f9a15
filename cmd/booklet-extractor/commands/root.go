package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/booklet-extractor/cmd/booklet-extractor/ui"
	"github.com/spherical/booklet-extractor/internal/config"
)

var (
	cfgFile string
	verbose bool
	noColor bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "booklet-extractor",
	Short: "Convert standardized test booklets into Markdown with linked figures",
	Long: `booklet-extractor converts PDF and scanned test booklets into clean Markdown.
It reconstructs two-column page text, extracts figures, segments numbered
questions and links each question to the figures it refers to.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.InitUI(noColor, verbose)

		if cmd.Annotations["config"] == "skip" {
			return nil
		}

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			loaded.Observability.LogLevel = "debug"
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
