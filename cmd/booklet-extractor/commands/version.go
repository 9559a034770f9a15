package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/spherical/booklet-extractor/cmd/booklet-extractor/ui"
)

// Version is set by main, usually from -ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Show version information",
	Annotations: map[string]string{"config": "skip"},
	Run: func(cmd *cobra.Command, args []string) {
		ui.Message("booklet-extractor version %s (%s %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
