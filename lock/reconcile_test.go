package lock_test

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rhansen/composersat"
	"github.com/rhansen/composersat/internal/itertools"
	fr "github.com/rhansen/composersat/internal/test/fakerepo"
	"github.com/rhansen/composersat/lock"
)

const projectManifest = `{
    "name": "acme/project",
    "require": {
        "php": ">=8.1",
        "acme/a": "^1.0"
    },
    "require-dev": {
        "acme/test": "^1.0"
    },
    "config": {
        "platform": {
            "php": "8.1.12"
        }
    }
}`

const projectLock = `{
    "_readme": [
        "This file locks the dependencies of your project to a known state",
        "Read more about it at https://getcomposer.org/doc/01-basic-usage.md#installing-dependencies",
        "This file is @generated automatically"
    ],
    "content-hash": "24b7bfb0c831c0f95ef78e1693ec2972",
    "packages": [
        {
            "name": "acme/a",
            "version": "1.0.0",
            "require": {
                "acme/b": "^1.0"
            }
        },
        {
            "name": "acme/b",
            "version": "1.0.0"
        }
    ],
    "packages-dev": [
        {
            "name": "acme/mock",
            "version": "1.0.0"
        },
        {
            "name": "acme/test",
            "version": "1.0.0",
            "require": {
                "acme/b": "^1.0",
                "acme/mock": "^1.0"
            }
        }
    ],
    "aliases": [],
    "minimum-stability": "stable",
    "stability-flags": {},
    "prefer-stable": false,
    "prefer-lowest": false,
    "platform": {
        "php": ">=8.1"
    },
    "platform-dev": {},
    "platform-overrides": {
        "php": "8.1.12"
    },
    "plugin-api-version": "2.6.0"
}
`

func newProjectRepo(t *testing.T) *fr.TestFakeRepo {
	t.Helper()
	return fr.NewTestFakeRepo(t).AddAll(
		[]fr.Option{fr.Id("acme/a@1.0.0"), fr.Require("acme/b", "^1.0")},
		[]fr.Option{fr.Id("acme/b@1.0.0")},
		[]fr.Option{fr.Id("acme/test@1.0.0"), fr.Require("acme/b", "^1.0"), fr.Require("acme/mock", "^1.0")},
		[]fr.Option{fr.Id("acme/mock@1.0.0")},
		[]fr.Option{fr.Id("php@8.1.12"), fr.Metadata("type", "platform")},
	)
}

func parseManifest(t *testing.T, s string) *lock.Manifest {
	t.Helper()
	m, err := lock.ParseManifest([]byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func lockText(t *testing.T, l *lock.Lock) string {
	t.Helper()
	var buf bytes.Buffer
	if err := l.Write(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func ids(ds *composersat.DecisionSet) []string {
	return slices.Collect(itertools.Stringify(slices.Values(ds.Ids())))
}

func TestReconcile_NoLock(t *testing.T) {
	t.Parallel()
	pool := newProjectRepo(t).Pool()
	m := parseManifest(t, projectManifest)
	res, err := lock.Reconcile(t.Context(), pool, m, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Solved {
		t.Errorf("Solved = false, want true")
	}
	if diff := cmp.Diff(projectLock, lockText(t, res.Lock)); diff != "" {
		t.Errorf("lock file differs from expected (-want, +got):\n%s", diff)
	}
	const wantTx = "Lock file operations: 4 installs, 0 updates, 0 removals\n" +
		"  - Installing acme/a (1.0.0)\n" +
		"  - Installing acme/b (1.0.0)\n" +
		"  - Installing acme/mock (1.0.0)\n" +
		"  - Installing acme/test (1.0.0)\n"
	if diff := cmp.Diff(wantTx, res.Transaction.String()); diff != "" {
		t.Errorf("transaction differs from expected (-want, +got):\n%s", diff)
	}
	if stale, err := lock.IsStale(res.Lock, m); err != nil || stale {
		t.Errorf("IsStale(new lock) = %v, %v; want false, nil", stale, err)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	t.Parallel()
	pool := newProjectRepo(t).Pool()
	m := parseManifest(t, projectManifest)
	l, err := lock.Read(strings.NewReader(projectLock))
	if err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		res, err := lock.Reconcile(t.Context(), pool, m, l)
		if err != nil {
			t.Fatal(err)
		}
		if res.Solved {
			t.Errorf("round %v: Solved = true for a fresh lock file", i)
		}
		if len(res.Transaction) != 0 {
			t.Errorf("round %v: got transaction %v, want none", i, res.Transaction)
		}
		if diff := cmp.Diff(projectLock, lockText(t, res.Lock)); diff != "" {
			t.Errorf("round %v: lock file changed (-want, +got):\n%s", i, diff)
		}
		l = res.Lock
	}
}

func TestReconcile_Stale(t *testing.T) {
	t.Parallel()
	repo := newProjectRepo(t)
	m := parseManifest(t, projectManifest)
	res, err := lock.Reconcile(t.Context(), repo.Pool(), m, nil)
	if err != nil {
		t.Fatal(err)
	}
	old := res.Lock
	// A newer acme/b is published and the manifest gains a requirement.
	repo.AddAll(
		[]fr.Option{fr.Id("acme/b@1.1.0")},
		[]fr.Option{fr.Id("acme/c@1.0.0")},
	)
	pool := repo.Pool()
	m2 := parseManifest(t, strings.Replace(projectManifest, `"acme/a": "^1.0"`,
		`"acme/a": "^1.0",
        "acme/c": "^1.0"`, 1))
	if stale, err := lock.IsStale(old, m2); err != nil || !stale {
		t.Fatalf("IsStale() = %v, %v; want true, nil", stale, err)
	}
	for _, tc := range []struct {
		desc   string
		opts   []lock.Option
		want   []string
		wantTx []string
	}{
		{
			desc:   "locked versions kept",
			want:   []string{"acme/a@1.0.0", "acme/b@1.0.0", "acme/c@1.0.0", "acme/mock@1.0.0", "acme/test@1.0.0", "php@8.1.12"},
			wantTx: []string{"Installing acme/c (1.0.0)"},
		},
		{
			desc:   "allow list",
			opts:   []lock.Option{lock.WithUpdate("acme/b")},
			want:   []string{"acme/a@1.0.0", "acme/b@1.1.0", "acme/c@1.0.0", "acme/mock@1.0.0", "acme/test@1.0.0", "php@8.1.12"},
			wantTx: []string{"Upgrading acme/b (1.0.0 => 1.1.0)", "Installing acme/c (1.0.0)"},
		},
		{
			desc:   "full update preferring lowest",
			opts:   []lock.Option{lock.WithUpdate(), lock.WithPreferLowest(true)},
			want:   []string{"acme/a@1.0.0", "acme/b@1.0.0", "acme/c@1.0.0", "acme/mock@1.0.0", "acme/test@1.0.0", "php@8.1.12"},
			wantTx: []string{"Installing acme/c (1.0.0)"},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			res, err := lock.Reconcile(t.Context(), pool, m2, old, tc.opts...)
			if err != nil {
				t.Fatal(err)
			}
			if !res.Solved {
				t.Errorf("Solved = false for a stale lock file")
			}
			if diff := cmp.Diff(tc.want, ids(res.Decisions)); diff != "" {
				t.Errorf("decision set differs from expected (-want, +got):\n%s", diff)
			}
			var tx []string
			for _, op := range res.Transaction {
				tx = append(tx, op.String())
			}
			if diff := cmp.Diff(tc.wantTx, tx); diff != "" {
				t.Errorf("transaction differs from expected (-want, +got):\n%s", diff)
			}
			if stale, err := lock.IsStale(res.Lock, m2); err != nil || stale {
				t.Errorf("IsStale(new lock) = %v, %v; want false, nil", stale, err)
			}
		})
	}
}

func TestReconcile_ForcedFullUpdate(t *testing.T) {
	t.Parallel()
	repo := newProjectRepo(t)
	m := parseManifest(t, projectManifest)
	res, err := lock.Reconcile(t.Context(), repo.Pool(), m, nil)
	if err != nil {
		t.Fatal(err)
	}
	repo.Add(fr.Id("acme/b@1.1.0"))
	pool := repo.Pool()
	if res, err := lock.Reconcile(t.Context(), pool, m, res.Lock); err != nil || res.Solved {
		t.Fatalf("Reconcile(fresh lock) = %+v, %v; want no solve", res, err)
	}
	res, err = lock.Reconcile(t.Context(), pool, m, res.Lock, lock.WithUpdate())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("Lock file operations: 0 installs, 1 update, 0 removals\n"+
		"  - Upgrading acme/b (1.0.0 => 1.1.0)\n", res.Transaction.String()); diff != "" {
		t.Errorf("transaction differs from expected (-want, +got):\n%s", diff)
	}
}

func TestReconcile_Unsatisfiable(t *testing.T) {
	t.Parallel()
	pool := newProjectRepo(t).Pool()
	m := parseManifest(t, `{"require":{"acme/a":"^9.0"}}`)
	res, err := lock.Reconcile(t.Context(), pool, m, nil)
	if !errors.Is(err, composersat.ErrUnsatisfiable) {
		t.Errorf("Reconcile() = %+v, %v; want %v", res, err, composersat.ErrUnsatisfiable)
	}
}

func TestReconcile_InlineAlias(t *testing.T) {
	t.Parallel()
	m := parseManifest(t, `{"require":{"acme/a":"dev-feature as 1.2.0","acme/b":"^1.0"}}`)
	req, err := m.Request()
	if err != nil {
		t.Fatal(err)
	}
	repo := fr.NewTestFakeRepo(t).AddAll(
		[]fr.Option{fr.Id("acme/a@1.0.0")},
		[]fr.Option{fr.Id("acme/a@dev-feature")},
		[]fr.Option{fr.Id("acme/b@1.0.0"), fr.Require("acme/a", "^1.2")},
	)
	pool, err := composersat.NewPool(repo.Candidates(), req.Aliases...)
	if err != nil {
		t.Fatal(err)
	}
	res, err := lock.Reconcile(t.Context(), pool, m, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"acme/a@dev-feature", "acme/b@1.0.0"}, ids(res.Decisions)); diff != "" {
		t.Errorf("decision set differs from expected (-want, +got):\n%s", diff)
	}
	want := []lock.Alias{{
		Package:         "acme/a",
		Version:         "dev-feature",
		Alias:           "1.2.0",
		AliasNormalized: "1.2.0.0",
	}}
	if diff := cmp.Diff(want, res.Lock.Aliases); diff != "" {
		t.Errorf("aliases differ from expected (-want, +got):\n%s", diff)
	}
	l, err := lock.Read(strings.NewReader(lockText(t, res.Lock)))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, l.Aliases); diff != "" {
		t.Errorf("aliases read back differ from expected (-want, +got):\n%s", diff)
	}
}
