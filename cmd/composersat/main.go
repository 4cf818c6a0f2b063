// Command composersat resolves the dependencies of a Composer project and maintains its lock file.
package main

import (
	"context"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"github.com/amterp/color"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/rhansen/composersat/internal/logging"
)

var (
	cyanf    = color.New(color.FgCyan).SprintfFunc()
	greenf   = color.New(color.FgGreen).SprintfFunc()
	redf     = color.New(color.FgRed).SprintfFunc()
	yellowf  = color.New(color.FgYellow).SprintfFunc()
	hiblackf = color.New(color.FgHiBlack).SprintfFunc()
)

func ver() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi.Main.Version == "(devel)" {
		return ""
	}
	return bi.Main.Version
}

// logStyles adds labels for the levels charmbracelet/log does not name.
func logStyles() *log.Styles {
	st := log.DefaultStyles()
	for lvl, fg := range map[slog.Level]string{
		logging.LevelTrace:   "240",
		logging.LevelVerbose: "75",
		logging.LevelNotice:  "159",
	} {
		st.Levels[log.Level(lvl)] = lipgloss.NewStyle().
			SetString(strings.ToUpper(logging.Name(lvl))).
			Bold(true).
			MaxWidth(4).
			Foreground(lipgloss.Color(fg))
	}
	return st
}

// logger is the handler behind [slog.Default].  The -v and -q flags adjust its level.
var logger = func() *log.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{Level: log.Level(logging.LevelInfo)})
	l.SetStyles(logStyles())
	slog.SetDefault(slog.New(l))
	return l
}()

func logLevel() slog.Level { return slog.Level(logger.GetLevel()) }

func setLogLevel(lvl slog.Level) { logger.SetLevel(log.Level(lvl)) }

func main() {
	err := fang.Execute(context.Background(), newRootCmd(),
		fang.WithVersion(ver()),
		fang.WithNotifySignal(os.Interrupt))
	if err != nil {
		os.Exit(1)
	}
}
