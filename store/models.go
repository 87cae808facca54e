package store

import "github.com/joshjon/rtx/statemachine"

// Tx is a persisted logical transaction record.
type Tx struct {
	SerID      int64
	StrID      string
	OwnerID    string
	Summary    string
	Status     statemachine.Status
	CTime      float64
	CommitTime *float64
	LastCallID *int64
}

// Table names the call or undo_call table a Call belongs to.
type Table string

const (
	TableCall     Table = "call"
	TableUndoCall Table = "undo_call"
)

// Call is a persisted row in either the call or undo_call table: one
// recorded invocation (forward or inverse) belonging to an Rtx.
type Call struct {
	ID      int64
	TxSerID int64
	SP      *string
	CTime   float64
	Func    string
	Args    map[string]any
}

// Order controls the direction SelectCalls returns rows in.
type Order int

const (
	// Ascending orders by (ctime, id) ascending — the forward program order.
	Ascending Order = iota
	// Descending orders by (ctime, id) descending — the reversal order used
	// by undo, redo, and rollback.
	Descending
)
