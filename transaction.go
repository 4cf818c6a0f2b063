package composersat

import (
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// OperationKind is the kind of change an [Operation] makes to an installation.
type OperationKind int

const (
	OpInstall OperationKind = iota
	OpUpdate
	OpRemove
)

func (k OperationKind) String() string {
	switch k {
	case OpInstall:
		return "install"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	}
	return fmt.Sprintf("OperationKind(%d)", int(k))
}

// An Operation is one step of a [Transaction].  From is nil for installs and To is nil for
// removals.
type Operation struct {
	Kind OperationKind
	From *Candidate
	To   *Candidate
}

// Name returns the name of the affected package.
func (op Operation) Name() string {
	if op.To != nil {
		return op.To.Name
	}
	return op.From.Name
}

func (op Operation) String() string {
	switch op.Kind {
	case OpInstall:
		return fmt.Sprintf("Installing %v (%v)", op.To.PrettyName, op.To.PrettyVersion)
	case OpUpdate:
		verb := "Upgrading"
		if op.To.Version.Less(op.From.Version) {
			verb = "Downgrading"
		}
		return fmt.Sprintf("%v %v (%v => %v)", verb, op.To.PrettyName, op.From.PrettyVersion,
			op.To.PrettyVersion)
	default:
		return fmt.Sprintf("Removing %v (%v)", op.From.PrettyName, op.From.PrettyVersion)
	}
}

// A Transaction is the list of operations that turns one [DecisionSet] into another, sorted by
// package name.
type Transaction []Operation

// Diff returns the operations needed to go from old to new.  Either may be nil, which stands for
// an empty decision set.
func Diff(old, new *DecisionSet) Transaction {
	if old == nil {
		old, _ = NewDecisionSet()
	}
	if new == nil {
		new, _ = NewDecisionSet()
	}
	names := mapset.NewThreadUnsafeSet(old.Names()...)
	names.Append(new.Names()...)
	var t Transaction
	for _, n := range slices.Sorted(mapset.Elements(names)) {
		from, hadOld := old.Selected(n)
		to, hasNew := new.Selected(n)
		switch {
		case hadOld && hasNew:
			if from.Version.Equal(to.Version) && from.PrettyVersion == to.PrettyVersion {
				continue
			}
			t = append(t, Operation{Kind: OpUpdate, From: from, To: to})
		case hasNew:
			t = append(t, Operation{Kind: OpInstall, To: to})
		default:
			t = append(t, Operation{Kind: OpRemove, From: from})
		}
	}
	return t
}

// Counts returns the number of installs, updates, and removals.
func (t Transaction) Counts() (installs, updates, removals int) {
	for _, op := range t {
		switch op.Kind {
		case OpInstall:
			installs++
		case OpUpdate:
			updates++
		case OpRemove:
			removals++
		}
	}
	return
}

func (t Transaction) String() string {
	if len(t) == 0 {
		return "Nothing to install, update or remove"
	}
	inst, upd, rem := t.Counts()
	var b strings.Builder
	fmt.Fprintf(&b, "Lock file operations: %d install%v, %d update%v, %d removal%v\n",
		inst, plural(inst), upd, plural(upd), rem, plural(rem))
	for _, op := range t {
		fmt.Fprintf(&b, "  - %v\n", op)
	}
	return b.String()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
