// Package logging defines the [slog.Level] values used by the solver and the command: the four
// standard levels plus trace (rule-level solver detail), verbose, notice, and fatal.
package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	LevelTrace   = slog.LevelDebug - 4 // -8
	LevelDebug   = slog.LevelDebug     // -4
	LevelVerbose = slog.LevelDebug + 2 // -2
	LevelInfo    = slog.LevelInfo      // 0
	LevelNotice  = slog.LevelInfo + 2  // 2
	LevelWarn    = slog.LevelWarn      // 4
	LevelError   = slog.LevelError     // 8
	LevelFatal   = slog.LevelError + 4 // 12
)

// levels is ordered from least to most severe.
var levels = []struct {
	name string
	lvl  slog.Level
}{
	{"trace", LevelTrace},
	{"debug", LevelDebug},
	{"verbose", LevelVerbose},
	{"info", LevelInfo},
	{"notice", LevelNotice},
	{"warn", LevelWarn},
	{"error", LevelError},
	{"fatal", LevelFatal},
}

// BumpLevel returns lvl bumped to the next higher (more severe) or lower (less severe) named level.
func BumpLevel(lvl slog.Level, lower bool) slog.Level {
	// Take advantage of the symmetry around 0.
	var orient slog.Level = 1
	if lower {
		orient = -1
		lvl *= orient
	}
	var adj slog.Level = 4
	if LevelDebug <= lvl && lvl < LevelWarn {
		adj = 2
	}
	lvl += adj
	lvl *= orient
	return lvl
}

// Name returns the name of lvl, or lvl's [slog.Level.String] form if it has none.
func Name(lvl slog.Level) string {
	for _, l := range levels {
		if l.lvl == lvl {
			return l.name
		}
	}
	return lvl.String()
}

// StringToLevel parses a level name (case insensitive).
func StringToLevel(arg string) (slog.Level, error) {
	arg = strings.ToLower(arg)
	names := make([]string, 0, len(levels))
	for _, l := range levels {
		if l.name == arg {
			return l.lvl, nil
		}
		names = append(names, l.name)
	}
	return 0, fmt.Errorf("invalid log level; expected one of: %v", strings.Join(names, ", "))
}
