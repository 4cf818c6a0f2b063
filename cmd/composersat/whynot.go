package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rhansen/composersat"
	"github.com/rhansen/composersat/internal/scenario"
	"github.com/rhansen/composersat/semver"
	"github.com/spf13/cobra"
)

func newWhyNotCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "why-not package [constraint]",
		Short: "Explain why a package version cannot be installed",
		Long: `Add a requirement on package (any version if no constraint is given) to the project's
requirements and solve.  If that fails, print why.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			out := cmd.OutOrStdout()
			name, constraint := args[0], "*"
			if len(args) > 1 {
				constraint = args[1]
			}
			m, err := a.loadManifest()
			if err != nil {
				return err
			}
			req, err := m.Request()
			if err != nil {
				return err
			}
			if err := req.Require(name, constraint); err != nil {
				return err
			}
			policy, err := a.policy(m.PreferStable, false)
			if err != nil {
				return err
			}
			pool, err := a.pool(ctx, m, req)
			if err != nil {
				return err
			}
			ds, err := composersat.Solve(ctx, pool, req, append(a.solveOptions(), composersat.WithPolicy(policy))...)
			if err != nil {
				if err := reportUnsatisfiable(out, err); !errors.Is(err, composersat.ErrUnsatisfiable) {
					return err
				}
				return nil
			}
			l, err := composersat.NewLink("root", name, composersat.LinkRequire, constraint)
			if err != nil {
				return err
			}
			l.Constraint = l.Constraint.WithDefaultStability(semver.StabilityDev)
			if c, ok := ds.Satisfier(l); ok {
				fmt.Fprintf(out, "%v %v can be installed: %v satisfies it\n", cyanf("%v", name), constraint, c)
			} else {
				fmt.Fprintf(out, "%v %v can be installed\n", cyanf("%v", name), constraint)
			}
			return nil
		},
	}
}

func newScenarioCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scenario path...",
		Short: "Run solver scenario files",
		Long: `Solve each scenario (a YAML file describing packages, a request, and the expected
outcome) and report whether the outcome matches.  A directory stands for the *.yaml
files in it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			out := cmd.OutOrStdout()
			var scenarios []*scenario.Scenario
			for _, p := range args {
				p = a.path(p)
				fi, err := os.Stat(p)
				if err != nil {
					return err
				}
				if fi.IsDir() {
					ss, err := scenario.LoadDir(p)
					if err != nil {
						return err
					}
					scenarios = append(scenarios, ss...)
					continue
				}
				s, err := scenario.Load(p)
				if err != nil {
					return err
				}
				scenarios = append(scenarios, s)
			}
			failed := 0
			for _, s := range scenarios {
				o, err := s.Run(ctx)
				if err == nil {
					err = s.Check(o)
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "%v %v\n%v\n", redf("FAIL"), s.Name, err)
					continue
				}
				detail := "unsatisfiable"
				if o.Err == nil {
					detail = fmt.Sprintf("%d packages", o.Decisions.Len())
				}
				fmt.Fprintf(out, "%v %v %v\n", greenf("ok"), s.Name, hiblackf("(%v)", detail))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(scenarios))
			}
			return nil
		},
	}
}
