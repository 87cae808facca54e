// Package statemachine implements the Rtx status state machine: the ten
// states an Rtx can be in, which of them are terminal, and the
// (operation, current status) -> (transient status, final status)
// transition table.
package statemachine

import "fmt"

// Status is one of the ten states an Rtx can be in. The persisted form is
// a single character (see Byte/ParseStatus); in memory it is a small
// closed enum instead of a bare string so invalid values can't silently
// propagate.
type Status byte

const (
	// InProgress: the Rtx is accumulating calls. Not terminal.
	InProgress Status = 'i'
	// Aborting: rolling back an InProgress Rtx. Not terminal.
	Aborting Status = 'a'
	// Undoing: running the undo program. Not terminal.
	Undoing Status = 'u'
	// Redoing: running the redo program. Not terminal.
	Redoing Status = 'd'
	// AbortingUndo: rolling back a failed Undoing. Not terminal.
	AbortingUndo Status = 'v'
	// AbortingRedo: rolling back a failed Redoing. Not terminal.
	AbortingRedo Status = 'e'
	// Committed: terminal.
	Committed Status = 'C'
	// RolledBack: terminal.
	RolledBack Status = 'R'
	// Undone: committed, then undone. Terminal.
	Undone Status = 'U'
	// Inconsistent: rollback itself failed. Terminal; only Discard clears it.
	Inconsistent Status = 'X'
)

// all is the closed set of valid statuses, used by ParseStatus and tests.
var all = []Status{InProgress, Aborting, Undoing, Redoing, AbortingUndo, AbortingRedo, Committed, RolledBack, Undone, Inconsistent}

// transient is the set of non-terminal, mid-operation statuses. Recovery
// scans only the RecoveryCandidates subset of it at startup.
var transient = map[Status]bool{
	InProgress:   true,
	Aborting:     true,
	Undoing:      true,
	Redoing:      true,
	AbortingUndo: true,
	AbortingRedo: true,
}

// terminal is the set of statuses Recovery never touches.
var terminal = map[Status]bool{
	Committed:    true,
	RolledBack:   true,
	Undone:       true,
	Inconsistent: true,
}

// RecoveryCandidates is the set of transient statuses Recovery drives to a
// terminal state at startup: {i, a, u, d}. InProgress is included so that
// an Rtx whose process died between recording undo data and running the
// real call is rolled back. Manager operations hold only a shared lock,
// and only for the duration of one operation, so every i Rtx found at
// construction is rolled back, including one that another live Manager
// on the same data directory is still accumulating calls into.
// AbortingUndo (v) and AbortingRedo (e) are not included: CallLoop's
// Phase A persists them, so a crash mid-rollback can leave an Rtx in v or
// e, and it stays there until a rollback is requested for it.
// IsTransient still reports them as non-terminal.
var RecoveryCandidates = []Status{InProgress, Aborting, Undoing, Redoing}

// IsTerminal reports whether s is one of {C, R, U, X}.
func (s Status) IsTerminal() bool { return terminal[s] }

// IsTransient reports whether s is one of {i, a, u, d, v, e}.
func (s Status) IsTransient() bool { return !terminal[s] }

// Byte returns the persisted single-character form.
func (s Status) Byte() byte { return byte(s) }

func (s Status) String() string {
	switch s {
	case InProgress:
		return "in progress"
	case Aborting:
		return "aborting"
	case Undoing:
		return "undoing"
	case Redoing:
		return "redoing"
	case AbortingUndo:
		return "aborting undo"
	case AbortingRedo:
		return "aborting redo"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled back"
	case Undone:
		return "undone"
	case Inconsistent:
		return "inconsistent"
	default:
		return fmt.Sprintf("unknown(%c)", byte(s))
	}
}

// ParseStatus validates a persisted single-character status, failing on
// anything outside the ten known values.
func ParseStatus(b byte) (Status, bool) {
	s := Status(b)
	for _, v := range all {
		if v == s {
			return s, true
		}
	}
	return 0, false
}
