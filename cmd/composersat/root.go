package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/amterp/color"
	"github.com/rhansen/composersat"
	"github.com/rhansen/composersat/internal/logging"
	"github.com/rhansen/composersat/lock"
	"github.com/rhansen/composersat/platform"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Names of the files a project directory holds.
const (
	manifestFile      = "composer.json"
	lockFile          = "composer.lock"
	projectConfigFile = "composersat.yaml"
)

// app holds the state shared by all subcommands.
type app struct {
	v       *viper.Viper
	workDir string
	cfgFile string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("php", "php")
	v.SetDefault("detect-platform", true)
	v.SetDefault("repositories", []string{})
	v.SetDefault("max-decisions", 0)
	v.SetDefault("timeout", time.Duration(0))
	v.SetDefault("policy", []string{})
	v.SetEnvPrefix("composersat")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// mergeConfigFile merges the settings in path into v.  Missing files are skipped unless required.
func mergeConfigFile(v *viper.Viper, path string, required bool) error {
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %v: %w", path, err)
	}
	slog.Debug("read config file", "path", path)
	return nil
}

// loadConfig merges the user's config file and then the project's, so project settings win.  An
// explicit --config file replaces both.  Environment variables and flags take precedence over all
// files.
func (a *app) loadConfig() error {
	if a.cfgFile != "" {
		return mergeConfigFile(a.v, a.cfgFile, true)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		if err := mergeConfigFile(a.v, filepath.Join(dir, "composersat", "config.yaml"), false); err != nil {
			return err
		}
	}
	return mergeConfigFile(a.v, filepath.Join(a.workDir, projectConfigFile), false)
}

func (a *app) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(a.workDir, name)
}

func (a *app) loadManifest() (*lock.Manifest, error) {
	return lock.LoadManifest(a.path(manifestFile))
}

// loadLock returns the project's lock file, or nil if there is none.
func (a *app) loadLock() (*lock.Lock, error) {
	l, err := lock.Load(a.path(lockFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return l, err
}

// platformRepository returns the platform packages: detected by running the configured PHP
// interpreter (or only the package manager's own if detection is off), with the manifest's
// overrides applied.
func (a *app) platformRepository(ctx context.Context, m *lock.Manifest) (*composersat.StaticRepository, error) {
	versions := platform.Defaults()
	if a.v.GetBool("detect-platform") {
		var err error
		if versions, err = platform.Detect(ctx, a.v.GetString("php")); err != nil {
			return nil, err
		}
	}
	return platform.NewRepository(platform.Apply(versions, m.PlatformOverrides))
}

func readRepository(path string) (_ *composersat.StaticRepository, retErr error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); retErr == nil {
			retErr = err
		}
	}()
	cands, err := composersat.ReadPackagesJSON(f)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return composersat.NewStaticRepository(path, cands...), nil
}

// repositories returns the platform repository followed by the configured packages.json files in
// priority order.
func (a *app) repositories(ctx context.Context, m *lock.Manifest) ([]composersat.Repository, error) {
	plat, err := a.platformRepository(ctx, m)
	if err != nil {
		return nil, err
	}
	repos := []composersat.Repository{plat}
	for _, p := range a.v.GetStringSlice("repositories") {
		r, err := readRepository(a.path(p))
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	if len(repos) == 1 {
		slog.WarnContext(ctx, "no repositories configured; only platform packages are available")
	}
	return repos, nil
}

// pool fetches every package reachable from req.
func (a *app) pool(ctx context.Context, m *lock.Manifest, req *composersat.Request) (*composersat.Pool, error) {
	repos, err := a.repositories(ctx, m)
	if err != nil {
		return nil, err
	}
	pool, err := composersat.NewPoolLoader(repos...).WithLogger(slog.Default()).Load(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.Log(ctx, logging.LevelVerbose, "pool loaded", "candidates", pool.Len(), "names", len(pool.Names()))
	return pool, nil
}

// solveOptions returns the options common to every solve.
func (a *app) solveOptions() []composersat.SolveOption {
	return []composersat.SolveOption{
		composersat.WithMaxDecisions(a.v.GetInt("max-decisions")),
		composersat.WithLogger(slog.Default()),
	}
}

// withTimeout bounds ctx by the configured timeout, if any.
func (a *app) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := a.v.GetDuration("timeout"); d > 0 {
		return context.WithTimeoutCause(ctx, d, composersat.ErrTimeout)
	}
	return context.WithCancel(ctx)
}

func choiceFlag[T any](flags *pflag.FlagSet, p *T, name string, choices map[string]T, dflt string, usage string) {
	cstr := strings.Join(slices.Sorted(maps.Keys(choices)), ", ")
	var ok bool
	if *p, ok = choices[dflt]; !ok {
		panic(fmt.Errorf("invalid default for %v option: %v", dflt, name))
	}
	usage += fmt.Sprintf(" (one of: %v; default: %v)", cstr, dflt)
	flags.Func(name, usage, func(arg string) error {
		if arg == "" {
			arg = dflt
		}
		v, ok := choices[arg]
		if !ok {
			return fmt.Errorf("expected one of: %v", cstr)
		}
		*p = v
		return nil
	})
}

func addLogFlags(flags *pflag.FlagSet) {
	bump := func(lower bool) {
		slog.Debug("log level pre-change", "level", logLevel())
		setLogLevel(logging.BumpLevel(logLevel(), lower))
		slog.Debug("log level post-change", "level", logLevel())
	}
	set := func(arg string) error {
		lvl, err := logging.StringToLevel(arg)
		if err != nil {
			return err
		}
		setLogLevel(lvl)
		return nil
	}
	flags.BoolFuncP("verbose", "v", "Increase log verbosity, or set the level if given one.", func(arg string) error {
		switch arg {
		case "", "true":
			bump(true)
		default:
			return set(arg)
		}
		return nil
	})
	flags.BoolFuncP("quiet", "q", "Decrease log verbosity, or set the level if given one.", func(arg string) error {
		switch arg {
		case "", "true":
			bump(false)
		default:
			return set(arg)
		}
		return nil
	})
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}
	root := &cobra.Command{
		Use:   "composersat",
		Short: "Resolve Composer dependencies with a CDCL solver",
		Long: `composersat reads a project's composer.json, resolves its requirements against
packages.json repositories and the detected platform, and maintains composer.lock.

Settings come from flags, COMPOSERSAT_* environment variables, the project's
composersat.yaml, and the user's composersat/config.yaml, in that order.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}
			return a.v.BindPFlags(cmd.Flags())
		},
	}
	pf := root.PersistentFlags()
	addLogFlags(pf)
	colorChoices := map[string]bool{
		"auto":   color.NoColor,
		"never":  true,
		"always": false,
	}
	choiceFlag(pf, &color.NoColor, "color", colorChoices, "auto", "Output colors according to `mode`.")
	pf.StringVarP(&a.workDir, "working-dir", "d", ".", "Use `dir` as the project directory.")
	pf.StringVar(&a.cfgFile, "config", "", "Read settings from `file` instead of the user and project config files.")
	pf.String("php", "php", "Detect platform packages by running `binary`.")
	pf.Bool("detect-platform", true, "Detect platform packages; if false, only the overrides in composer.json apply.")
	pf.StringSlice("repositories", nil, "Read packages from the packages.json `files`, in priority order.")
	pf.Int("max-decisions", 0, "Give up after `n` solver decisions (0 means no limit).")
	pf.Duration("timeout", 0, "Give up after `duration` (0 means no limit).")
	root.AddCommand(
		newSolveCmd(a),
		newLockCmd(a),
		newCheckCmd(a),
		newWhyNotCmd(a),
		newScenarioCmd(a),
	)
	return root
}

// reportUnsatisfiable prints the explanation carried by err, if any.  The returned error is
// [composersat.ErrUnsatisfiable] so that the explanation is not repeated.
func reportUnsatisfiable(w io.Writer, err error) error {
	var ue *composersat.UnsatisfiableError
	if !errors.As(err, &ue) {
		return err
	}
	fmt.Fprintln(w, yellowf("Your requirements could not be resolved to an installable set of packages."))
	fmt.Fprintf(w, "\n  %s\n", redf("Problem 1"))
	for _, l := range ue.Problem.Lines() {
		fmt.Fprintf(w, "    - %v\n", l)
	}
	return composersat.ErrUnsatisfiable
}

func printDecisions(w io.Writer, ds *composersat.DecisionSet) {
	for c := range ds.All() {
		name := cyanf("%v", c.PrettyName)
		if platform.IsPlatform(c.Name) {
			name = hiblackf("%v", c.PrettyName)
		}
		fmt.Fprintf(w, "%v %v\n", name, c.PrettyVersion)
	}
}

func printTransaction(w io.Writer, tx composersat.Transaction) {
	header, _, _ := strings.Cut(tx.String(), "\n")
	fmt.Fprintln(w, header)
	for _, op := range tx {
		s := op.String()
		switch {
		case op.Kind == composersat.OpInstall:
			s = greenf("%v", s)
		case op.Kind == composersat.OpRemove:
			s = redf("%v", s)
		case op.To.Version.Less(op.From.Version):
			s = yellowf("%v", s)
		default:
			s = cyanf("%v", s)
		}
		fmt.Fprintf(w, "  - %v\n", s)
	}
}
