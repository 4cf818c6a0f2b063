package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rhansen/composersat/lock"
	"github.com/spf13/cobra"
)

func newLockCmd(a *app) *cobra.Command {
	var update, preferLowest, dryRun bool
	cmd := &cobra.Command{
		Use:   "lock [package...]",
		Short: "Create or refresh composer.lock",
		Long: `Bring composer.lock up to date with composer.json.  A lock file that still matches
the manifest is left alone.  Otherwise the requirements are solved again, keeping the
locked versions where possible.

With --update, every package may change.  Naming packages restricts the update to them;
all other locked packages keep their versions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			out := cmd.OutOrStdout()
			m, err := a.loadManifest()
			if err != nil {
				return err
			}
			l, err := a.loadLock()
			if err != nil {
				return err
			}
			opts := []lock.Option{
				lock.WithPreferLowest(preferLowest),
				lock.WithSolveOptions(a.solveOptions()...),
				lock.WithLogger(slog.Default()),
			}
			switch {
			case len(args) > 0:
				opts = append(opts, lock.WithUpdate(args...))
			case update:
				opts = append(opts, lock.WithUpdate())
			case l != nil:
				// A fresh lock file needs no pool.
				if stale, err := lock.IsStale(l, m); err != nil {
					return err
				} else if !stale {
					fmt.Fprintln(out, greenf("Lock file is up to date"))
					return nil
				}
				fmt.Fprintln(out, yellowf("Lock file is out of date; updating"))
			}
			req, err := m.Request()
			if err != nil {
				return err
			}
			pool, err := a.pool(ctx, m, req)
			if err != nil {
				return err
			}
			res, err := lock.Reconcile(ctx, pool, m, l, opts...)
			if err != nil {
				return reportUnsatisfiable(out, err)
			}
			printTransaction(out, res.Transaction)
			if dryRun || !res.Solved {
				return nil
			}
			fmt.Fprintln(out, "Writing lock file")
			return res.Lock.Save(a.path(lockFile))
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&update, "update", "u", false, "Allow every package to change.")
	f.BoolVar(&preferLowest, "prefer-lowest", false, "Prefer the lowest acceptable versions.")
	f.BoolVar(&dryRun, "dry-run", false, "Print the operations without writing the lock file.")
	return cmd
}

var errStale = errors.New("lock file is out of date")

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that composer.lock matches composer.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.loadManifest()
			if err != nil {
				return err
			}
			l, err := a.loadLock()
			if err != nil {
				return err
			}
			if l == nil {
				return fmt.Errorf("no %v in %v", lockFile, a.workDir)
			}
			stale, err := lock.IsStale(l, m)
			if err != nil {
				return err
			}
			if stale {
				fmt.Fprintln(cmd.OutOrStdout(), yellowf("The lock file is not up to date with the latest changes in composer.json."))
				return errStale
			}
			fmt.Fprintln(cmd.OutOrStdout(), greenf("Lock file is up to date"))
			return nil
		},
	}
}
