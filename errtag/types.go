package errtag

// NoChange tags an error-shaped result that really means "304: nothing to
// do"; envelope.FromTaggedErr maps it to a 304 envelope. Nothing in this
// module produces it (an empty dry-run undo_data payload, for one, is
// returned as a plain 304 envelope).
type NoChange struct{ ErrorTag[codeNoChange] }

// BadRequest tags malformed input: an over-long or empty tx_id, a
// malformed fully qualified function name.
type BadRequest struct{ ErrorTag[codeBadRequest] }

// Conflict tags a duplicate str_id at Begin.
type Conflict struct{ ErrorTag[codeConflict] }

// PreconditionFailed tags: no current Rtx for trash/tmp dir access, a
// function missing a required capability, no candidate Rtx for undo/redo.
type PreconditionFailed struct{ ErrorTag[codePreconditionFailed] }

// WrongStatus tags an Rtx whose status does not permit the requested
// operation.
type WrongStatus struct{ ErrorTag[codeWrongStatus] }

// NoSuchTx tags a str_id that does not resolve to any Rtx.
type NoSuchTx struct{ ErrorTag[codeNoSuchTx] }

// Internal tags implementation bugs and function-registry load failures.
type Internal struct{ ErrorTag[codeInternal] }

// NotImplemented tags Prepare/Savepoint/ReleaseSavepoint.
type NotImplemented struct{ ErrorTag[codeNotImplemented] }

// Environmental tags lock timeouts, Store errors, and rollback failures.
type Environmental struct{ ErrorTag[codeEnvironmental] }
