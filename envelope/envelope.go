// Package envelope models the response envelope every TM operation
// returns: a status code, a human-readable message, an optional payload,
// and an optional extra map of side-channel instructions. The original
// convention is a heterogeneous [status_code, message, payload, extra]
// list; here it is a typed struct (per the design note on structuring a
// wire envelope as a struct), with ToTuple/FromTuple kept for anyone that
// still wants the list form.
package envelope

import "github.com/joshjon/rtx/errtag"

// Well-known extra keys.
const (
	// ExtraRollback, when present and false, tells the Wrapper to skip its
	// own SQL-tx rollback because the body already resolved the SQL tx
	// itself (e.g. a duplicate str_id at Begin, which must not roll back
	// the outer SQL tx since the Rtx belongs to someone else).
	ExtraRollback = "rollback"

	// ExtraUndoData carries the []registry.Call a dry-run probe produced.
	ExtraUndoData = "undo_data"
)

// Envelope is the result of every TM operation.
type Envelope struct {
	Code    int
	Message string
	Payload any
	Extra   map[string]any
}

// New builds an Envelope with no payload or extra.
func New(code int, message string) Envelope {
	return Envelope{Code: code, Message: message}
}

// WithPayload returns a copy of e with Payload set.
func (e Envelope) WithPayload(payload any) Envelope {
	e.Payload = payload
	return e
}

// WithExtra returns a copy of e with key set in Extra.
func (e Envelope) WithExtra(key string, value any) Envelope {
	cpy := make(map[string]any, len(e.Extra)+1)
	for k, v := range e.Extra {
		cpy[k] = v
	}
	cpy[key] = value
	e.Extra = cpy
	return e
}

// SkipRollback marks the envelope so the Wrapper does not roll back the
// SQL transaction on an error outcome — used by Begin's duplicate-str_id
// case.
func (e Envelope) SkipRollback() Envelope {
	return e.WithExtra(ExtraRollback, false)
}

// RollbackAllowed reports whether the Wrapper should roll back the SQL
// transaction for this envelope (true unless SkipRollback was applied).
func (e Envelope) RollbackAllowed() bool {
	if v, ok := e.Extra[ExtraRollback]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return true
}

// ToTuple renders the envelope in the original [status_code, message,
// payload, extra] list form, for wire compatibility with callers that
// expect that shape.
func (e Envelope) ToTuple() []any {
	return []any{e.Code, e.Message, e.Payload, e.Extra}
}

// FromTuple parses the [status_code, message, payload?, extra?] list form
// back into an Envelope.
func FromTuple(tuple []any) (Envelope, bool) {
	if len(tuple) < 2 {
		return Envelope{}, false
	}
	code, ok := tuple[0].(int)
	if !ok {
		return Envelope{}, false
	}
	msg, ok := tuple[1].(string)
	if !ok {
		return Envelope{}, false
	}
	e := Envelope{Code: code, Message: msg}
	if len(tuple) > 2 {
		e.Payload = tuple[2]
	}
	if len(tuple) > 3 {
		if extra, ok := tuple[3].(map[string]any); ok {
			e.Extra = extra
		}
	}
	return e, true
}

// FromTaggedErr converts an errtag-tagged error into its Envelope. Errors
// that don't carry a tag become a generic 500.
func FromTaggedErr(err error) Envelope {
	if err == nil {
		return New(200, "OK")
	}
	if tagger, ok := anyTag(err); ok {
		return New(tagger.Code(), tagger.Msg())
	}
	return New(500, err.Error())
}

// anyTag tries each known Tagger type in turn since errtag.AsTag is
// generic over a single concrete type and there is no type-erased
// "as any tagger" helper in that package.
func anyTag(err error) (errtag.Tagger, bool) {
	if t, ok := errtag.AsTag[errtag.NoChange](err); ok {
		return t, true
	}
	if t, ok := errtag.AsTag[errtag.BadRequest](err); ok {
		return t, true
	}
	if t, ok := errtag.AsTag[errtag.Conflict](err); ok {
		return t, true
	}
	if t, ok := errtag.AsTag[errtag.PreconditionFailed](err); ok {
		return t, true
	}
	if t, ok := errtag.AsTag[errtag.WrongStatus](err); ok {
		return t, true
	}
	if t, ok := errtag.AsTag[errtag.NoSuchTx](err); ok {
		return t, true
	}
	if t, ok := errtag.AsTag[errtag.Internal](err); ok {
		return t, true
	}
	if t, ok := errtag.AsTag[errtag.NotImplemented](err); ok {
		return t, true
	}
	if t, ok := errtag.AsTag[errtag.Environmental](err); ok {
		return t, true
	}
	return nil, false
}
