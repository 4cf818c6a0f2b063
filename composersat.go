// Package composersat resolves PHP package dependencies the way Composer does: it selects at most
// one version of every package such that all requirements, conflicts, provides, and replaces hold.
//
// # Quick Start
//
// (The following is also available as a package-level example.)
//
// Describe the project's root requirements with a [Request]:
//
//	req := composersat.NewRequest()
//	if err := req.Require("monolog/monolog", "^3.0"); err != nil {
//		return err
//	}
//
// Build a [Pool] of candidates, either directly with [NewPool] or by fetching every reachable name
// from one or more [Repository] implementations:
//
//	ctx := context.Background()
//	pool, err := composersat.LoadPool(ctx, req, repo)
//	if err != nil {
//		return err
//	}
//
// Solve:
//
//	ds, err := composersat.Solve(ctx, pool, req)
//	if ue := (*composersat.UnsatisfiableError)(nil); errors.As(err, &ue) {
//		fmt.Print(ue.Problem)
//		return err
//	} else if err != nil {
//		return err
//	}
//	for c := range ds.All() {
//		fmt.Println(c)
//	}
//
// To re-solve while keeping previously chosen versions where possible, pass the old [DecisionSet]
// with [WithLocked], and compute the changes with [Diff]:
//
//	next, err := composersat.Solve(ctx, pool, req, composersat.WithLocked(ds))
//	if err != nil {
//		return err
//	}
//	fmt.Print(composersat.Diff(ds, next))
//
// The lock file format and the staleness check live in the lock sub-package.
//
// # Terminology
//
//   - A candidate is one concrete version of a package as a repository describes it: a name, a
//     version, and links.
//   - A link is a require, require-dev, conflict, provide, or replace relationship from a candidate
//     to a constraint on another package name.
//   - A provider of a name is a candidate with a provide or replace link to that name.  Providers
//     can satisfy requirements addressed to names they do not carry.  A replacer additionally
//     counts as a package of the replaced name, so it can never be installed alongside it.
//   - A decision set is the result of a solve: the selected candidate for each installed name.
//
// # Solver Behavior
//
// [Solve] translates the request and every candidate reachable from it into rules (clauses over
// "candidate is installed" variables):
//
//  1. For each root requirement, one of its satisfiers must be installed.
//  2. For each fixed package, that candidate must be installed.
//  3. For each require link of a reachable candidate, installing the candidate implies installing
//     one of the link's satisfiers.
//  4. For each conflict link, the candidate and each matching candidate are not both installed.
//  5. No two candidates sharing a name are both installed.
//
// The search is conflict-driven clause learning.  Decisions are taken in the order the rules were
// generated, so root requirements are decided first in the order they were declared, and a
// [Policy] picks among the satisfiers of a rule.  A contradiction produces a learned rule and a
// non-chronological backjump.  A contradiction that needs no decision at all means the request is
// unsatisfiable; the returned [UnsatisfiableError] explains it with the rules involved, minimized
// so that removing any one of them would make the rest consistent.
//
// # Stability
//
// Each version has a stability tier: dev < alpha < beta < RC < stable.  A constraint without an
// explicit stability flag only matches versions at or above the request's minimum stability (stable
// by default), or the package's own stability flag.  A flag written in the constraint, as in
// "^2.0@beta", or a pre-release in a bound, as in ">=2.0-beta1", always wins for that link.
//
// # Determinism
//
// Given a pool built from the same candidates in the same order and the same request, [Solve]
// returns the same [DecisionSet] every time.  [PoolLoader] sorts fetched names before building the
// pool so that concurrent fetches do not perturb the order.
package composersat
