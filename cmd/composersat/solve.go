package main

import (
	"fmt"
	"log/slog"

	"github.com/rhansen/composersat"
	"github.com/spf13/cobra"
)

// policy returns the solver policy for m's settings and the configured preference order.
func (a *app) policy(preferStable, preferLowest bool) (composersat.Policy, error) {
	p := composersat.DefaultPolicy()
	p.PreferStable = preferStable
	p.PreferLowest = preferLowest
	if names := a.v.GetStringSlice("policy"); len(names) > 0 {
		p.Order = nil
		for _, n := range names {
			pref, err := composersat.ParsePreference(n)
			if err != nil {
				return composersat.Policy{}, err
			}
			p.Order = append(p.Order, pref)
		}
	}
	return p, nil
}

func newSolveCmd(a *app) *cobra.Command {
	var noDev, preferLowest, useLock bool
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Print the packages that satisfy composer.json",
		Long: `Solve the project's requirements and print the selected packages without writing
anything.  With --use-lock, the versions in composer.lock are preferred.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			m, err := a.loadManifest()
			if err != nil {
				return err
			}
			req, err := m.Request()
			if err != nil {
				return err
			}
			if noDev {
				req = req.WithoutDev()
			}
			policy, err := a.policy(m.PreferStable, preferLowest)
			if err != nil {
				return err
			}
			opts := append(a.solveOptions(), composersat.WithPolicy(policy))
			if useLock {
				l, err := a.loadLock()
				if err != nil {
					return err
				}
				if l != nil {
					locked, err := l.DecisionSet()
					if err != nil {
						return fmt.Errorf("bad lock file: %w", err)
					}
					opts = append(opts, composersat.WithLocked(locked))
				}
			}
			pool, err := a.pool(ctx, m, req)
			if err != nil {
				return err
			}
			ds, err := composersat.Solve(ctx, pool, req, opts...)
			if err != nil {
				return reportUnsatisfiable(cmd.OutOrStdout(), err)
			}
			slog.DebugContext(ctx, "solved", "packages", ds.Len())
			printDecisions(cmd.OutOrStdout(), ds)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&noDev, "no-dev", false, "Leave out require-dev.")
	f.BoolVar(&preferLowest, "prefer-lowest", false, "Prefer the lowest acceptable versions.")
	f.BoolVar(&useLock, "use-lock", false, "Prefer the versions recorded in composer.lock.")
	f.StringSlice("policy", nil, "Rank candidates by the `preferences` (locked, name, stability, version), in order.")
	return cmd
}
