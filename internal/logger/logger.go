// Package logger implements the ambient logging stack: a structured
// hclog.Logger for diagnostics (-v/-vv) plus a mitchellh/cli.Ui for the
// always-on, colorized per-runnable run report, matching the split the
// teacher maintains between its internal hclog usage and its cli.Ui output.
package logger

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/cli"

	"github.com/Opus10/qik/internal/scheduler"
)

// IsTTY reports whether stdout is attached to an interactive terminal,
// gating color and spinner usage.
var IsTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

// New constructs the diagnostic logger at the given verbosity (0 maps to
// Warn, 1 to Debug, 2 or more to Trace).
func New(verbosity int) hclog.Logger {
	level := hclog.Warn
	switch {
	case verbosity >= 2:
		level = hclog.Trace
	case verbosity == 1:
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:  "qik",
		Level: level,
	})
}

// RunUI is the always-on, colorized per-runnable status renderer.
type RunUI struct {
	ui cli.Ui
}

// NewRunUI builds a RunUI atop a ConcurrentUi-wrapped ColoredUi, matching
// the teacher's composition for output that's safe to write from multiple
// runnable goroutines at once.
func NewRunUI() *RunUI {
	base := &cli.BasicUi{
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}
	colored := &cli.ColoredUi{
		Ui:          base,
		OutputColor: cli.UiColorNone,
		InfoColor:   cli.UiColor{Code: int(color.FgCyan)},
		WarnColor:   cli.UiColor{Code: int(color.FgYellow)},
		ErrorColor:  cli.UiColor{Code: int(color.FgRed)},
	}
	return &RunUI{ui: &cli.ConcurrentUi{Ui: colored}}
}

// Start prints a one-line "runnable started" message.
func (r *RunUI) Start(name string) {
	r.ui.Info(fmt.Sprintf("%s %s", color.CyanString("→"), name))
}

// Finish prints a colorized finish line for a scheduler result.
func (r *RunUI) Finish(name string, status scheduler.Status, code int) {
	switch status {
	case scheduler.StatusSuccess:
		r.ui.Output(fmt.Sprintf("%s %s", color.GreenString("✓"), name))
	case scheduler.StatusFailed:
		r.ui.Error(fmt.Sprintf("%s %s (code=%d)", color.RedString("✗"), name, code))
	case scheduler.StatusSkipped:
		r.ui.Warn(fmt.Sprintf("%s %s (skipped)", color.YellowString("–"), name))
	}
}

// Summary prints the final aggregated line.
func (r *RunUI) Summary(exitCode int) {
	if exitCode == 0 {
		r.ui.Output(color.GreenString("done"))
	} else {
		r.ui.Error(fmt.Sprintf("%s (exit=%d)", color.RedString("failed"), exitCode))
	}
}
