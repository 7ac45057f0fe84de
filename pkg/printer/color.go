package printer

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorState manages global color output settings for the printer
type ColorState struct {
	enabled bool
}

var globalColorState = &ColorState{}

// InitColorState initializes color support based on configuration and environment.
// Priority order (highest to lowest):
//  1. Explicit user setting (via CLI flag)
//  2. NO_COLOR environment variable
//  3. TTY detection
//  4. Default to disabled (for unknown writers)
func InitColorState(explicitSetting *bool, writer io.Writer) {
	enabled := false
	switch {
	case explicitSetting != nil:
		enabled = *explicitSetting
	case os.Getenv("NO_COLOR") != "":
		enabled = false
	default:
		if f, ok := writer.(*os.File); ok {
			enabled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
	}
	globalColorState.enabled = enabled
	color.NoColor = !enabled
}

// IsColorEnabled returns whether color output is currently enabled.
func IsColorEnabled() bool {
	return globalColorState.enabled
}
