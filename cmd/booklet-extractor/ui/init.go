// Package ui provides user interface components for the booklet-extractor CLI.
package ui

import (
	"io"
	"os"

	"github.com/fatih/color"
)

var (
	noColorFlag bool
	verboseFlag bool

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// InitUI initializes the UI with color and verbose settings.
func InitUI(noColor, verbose bool) {
	noColorFlag = noColor
	verboseFlag = verbose

	if noColor {
		color.NoColor = true
	}
}

// SetOutput redirects regular and error output. Spinners and progress bars
// follow the error writer.
func SetOutput(out, errOut io.Writer) {
	stdout = out
	stderr = errOut
}

// Verbose reports whether verbose output was requested.
func Verbose() bool {
	return verboseFlag
}

// Interactive reports whether animated progress should be drawn.
func Interactive() bool {
	if noColorFlag {
		return false
	}
	f, ok := stderr.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
