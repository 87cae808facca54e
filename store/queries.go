package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	lib "modernc.org/sqlite/lib"

	"github.com/joshjon/rtx/ref"
	"github.com/joshjon/rtx/statemachine"
)

// ErrNotFound is returned by the single-row Select methods when no
// matching row exists.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by InsertTx when str_id's unique constraint is
// violated — the real mutual-exclusion mechanism behind a duplicate
// begin(), since two Wrapper operations only ever hold a shared, not
// exclusive, file lock (see rtx.wrap).
var ErrConflict = errors.New("store: tx already exists")

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure, the same detection the teacher's tx package uses for
// busy/locked errors (see tx.TagSQLiteTimeoutErr).
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func (s *Store) encodeArgs(ctx context.Context, args map[string]any) ([]byte, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("store: marshal args: %w", err)
	}
	if s.crypt == nil {
		return raw, nil
	}
	return s.crypt.Encrypt(ctx, raw)
}

func (s *Store) decodeArgs(ctx context.Context, blob []byte) (map[string]any, error) {
	raw := blob
	if s.crypt != nil {
		var err error
		raw, err = s.crypt.Decrypt(ctx, blob)
		if err != nil {
			return nil, fmt.Errorf("store: decrypt args: %w", err)
		}
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("store: unmarshal args: %w", err)
	}
	return args, nil
}

// InsertTx inserts a new Rtx row and returns its assigned ser_id. Returns
// ErrConflict if str_id is already taken.
func (s *Store) InsertTx(ctx context.Context, t Tx) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO tx (str_id, owner_id, summary, status, ctime)
		VALUES (?, ?, ?, ?, ?)`,
		t.StrID, t.OwnerID, t.Summary, t.Status.Byte(), t.CTime)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("store: insert tx: %w", err)
	}
	return res.LastInsertId()
}

func scanTx(row *sql.Row) (Tx, error) {
	var (
		t          Tx
		statusByte []byte
		commitTime sql.NullFloat64
		lastCallID sql.NullInt64
	)
	err := row.Scan(&t.SerID, &t.StrID, &t.OwnerID, &t.Summary, &statusByte, &t.CTime, &commitTime, &lastCallID)
	if errors.Is(err, sql.ErrNoRows) {
		return Tx{}, ErrNotFound
	}
	if err != nil {
		return Tx{}, fmt.Errorf("store: scan tx: %w", err)
	}
	status, ok := statemachine.ParseStatus(statusByte[0])
	if !ok {
		return Tx{}, fmt.Errorf("store: unknown status byte %q", statusByte)
	}
	t.Status = status
	if commitTime.Valid {
		t.CommitTime = ref.Ptr(commitTime.Float64)
	}
	if lastCallID.Valid {
		t.LastCallID = ref.Ptr(lastCallID.Int64)
	}
	return t, nil
}

const selectTxColumns = `ser_id, str_id, owner_id, summary, status, ctime, commit_time, last_call_id`

// SelectTxByStrID loads an Rtx by its caller-supplied string identity.
// Returns ErrNotFound if absent.
func (s *Store) SelectTxByStrID(ctx context.Context, strID string) (Tx, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+selectTxColumns+` FROM tx WHERE str_id = ?`, strID)
	return scanTx(row)
}

// SelectTxBySerID loads an Rtx by its internal monotonic identity.
func (s *Store) SelectTxBySerID(ctx context.Context, serID int64) (Tx, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+selectTxColumns+` FROM tx WHERE ser_id = ?`, serID)
	return scanTx(row)
}

// SelectMostRecentCommitted returns the Rtx with status C most recently
// committed (commit_time desc, ser_id desc tiebreak) — the implicit
// target of undo() when no tx_id is given.
func (s *Store) SelectMostRecentCommitted(ctx context.Context) (Tx, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+selectTxColumns+` FROM tx
		WHERE status = ?
		ORDER BY commit_time DESC, ser_id DESC
		LIMIT 1`, statemachine.Committed.Byte())
	return scanTx(row)
}

// SelectEarliestUndone returns the Rtx with status U earliest undone
// (commit_time asc, ser_id asc tiebreak) — the implicit target of redo()
// when no tx_id is given.
func (s *Store) SelectEarliestUndone(ctx context.Context) (Tx, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+selectTxColumns+` FROM tx
		WHERE status = ?
		ORDER BY commit_time ASC, ser_id ASC
		LIMIT 1`, statemachine.Undone.Byte())
	return scanTx(row)
}

// UpdateTxStatusAutocommit writes newStatus (and, if clearLastCallID,
// nulls last_call_id) in a standalone statement issued directly against
// the pool, bypassing any ambient SQL transaction. Phase A of CallLoop
// requires this: the transient-status write must be visible to concurrent
// readers immediately, before CallLoop's per-call work begins. It returns
// ErrNotFound if no row has that ser_id, letting the caller verify the
// update actually applied.
func (s *Store) UpdateTxStatusAutocommit(ctx context.Context, serID int64, newStatus statemachine.Status, clearLastCallID bool) error {
	query := `UPDATE tx SET status = ?`
	args := []any{newStatus.Byte()}
	if clearLastCallID {
		query += `, last_call_id = NULL`
	}
	query += ` WHERE ser_id = ?`
	args = append(args, serID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: update tx status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update tx status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTxStatus writes newStatus through s.q: inside the SQL transaction
// when s is tx-bound (Commit's plain branch), or as its own autocommitted
// statement on the root Store (CallLoop's final-status write, which runs
// with no enclosing SQL transaction).
func (s *Store) UpdateTxStatus(ctx context.Context, serID int64, newStatus statemachine.Status) error {
	_, err := s.q.ExecContext(ctx, `UPDATE tx SET status = ? WHERE ser_id = ?`, newStatus.Byte(), serID)
	if err != nil {
		return fmt.Errorf("store: update tx status: %w", err)
	}
	return nil
}

// UpdateTxCommitTime sets commit_time, within the current SQL-tx scope.
func (s *Store) UpdateTxCommitTime(ctx context.Context, serID int64, commitTime float64) error {
	_, err := s.q.ExecContext(ctx, `UPDATE tx SET commit_time = ? WHERE ser_id = ?`, commitTime, serID)
	if err != nil {
		return fmt.Errorf("store: update tx commit_time: %w", err)
	}
	return nil
}

// UpdateTxLastCallID sets the resume marker to callID, issued standalone
// against the pool (not tx-scoped — a crash between the real call and
// this update is tolerated; Recovery simply re-executes one idempotent
// step). Binds both placeholders: the source this was distilled from
// passed only one argument to a two-placeholder UPDATE, a latent bug this
// implementation does not reproduce.
func (s *Store) UpdateTxLastCallID(ctx context.Context, serID, callID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tx SET last_call_id = ? WHERE ser_id = ?`, callID, serID)
	if err != nil {
		return fmt.Errorf("store: update tx last_call_id: %w", err)
	}
	return nil
}

// InsertCall inserts one row into table (call or undo_call) and returns
// its assigned id. sp, if non-nil, is the savepoint label — only the
// first row of a batch should carry one, per the unique-per-table index.
func (s *Store) InsertCall(ctx context.Context, table Table, txSerID int64, sp *string, ctime float64, f string, args map[string]any) (int64, error) {
	blob, err := s.encodeArgs(ctx, args)
	if err != nil {
		return 0, err
	}
	res, err := s.q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (tx_ser_id, sp, ctime, f, args) VALUES (?, ?, ?, ?, ?)`, table),
		txSerID, sp, ctime, f, blob)
	if err != nil {
		return 0, fmt.Errorf("store: insert %s: %w", table, err)
	}
	return res.LastInsertId()
}

// SelectCalls returns the rows belonging to txSerID in table, ordered by
// (ctime, id) per order, optionally excluding the resume cursor: when
// afterOrBeforeID is non-nil and names a row of table, rows are filtered
// by that row's ctime — ctime at or after it for Ascending, at or before
// it for Descending — and the row whose id equals afterOrBeforeID is
// always excluded (the resume cursor points at the last *completed* call,
// which this implementation mirrors precisely rather than "fixing").
func (s *Store) SelectCalls(ctx context.Context, table Table, txSerID int64, order Order, afterOrBeforeID *int64) ([]Call, error) {
	query := fmt.Sprintf(`SELECT id, tx_ser_id, sp, ctime, f, args FROM %s WHERE tx_ser_id = ?`, table)
	args := []any{txSerID}

	if afterOrBeforeID != nil {
		var cursorCtime float64
		row := s.q.QueryRowContext(ctx, fmt.Sprintf(`SELECT ctime FROM %s WHERE id = ?`, table), *afterOrBeforeID)
		if err := row.Scan(&cursorCtime); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: select calls: resolve cursor: %w", err)
		} else if err == nil {
			if order == Descending {
				query += ` AND ctime <= ? AND id != ?`
			} else {
				query += ` AND ctime >= ? AND id != ?`
			}
			args = append(args, cursorCtime, *afterOrBeforeID)
		}
	}

	if order == Descending {
		query += ` ORDER BY ctime DESC, id DESC`
	} else {
		query += ` ORDER BY ctime ASC, id ASC`
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: select calls: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var calls []Call
	for rows.Next() {
		var (
			c    Call
			sp   sql.NullString
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.TxSerID, &sp, &c.CTime, &c.Func, &blob); err != nil {
			return nil, fmt.Errorf("store: select calls: scan: %w", err)
		}
		if sp.Valid {
			v := sp.String
			c.SP = &v
		}
		c.Args, err = s.decodeArgs(ctx, blob)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// DeleteCalls removes all rows belonging to txSerID from table.
func (s *Store) DeleteCalls(ctx context.Context, table Table, txSerID int64) error {
	_, err := s.q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tx_ser_id = ?`, table), txSerID)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", table, err)
	}
	return nil
}

// DeleteTx removes the Rtx row; call and undo_call rows cascade.
func (s *Store) DeleteTx(ctx context.Context, serID int64) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM tx WHERE ser_id = ?`, serID)
	if err != nil {
		return fmt.Errorf("store: delete tx: %w", err)
	}
	return nil
}

// ListFilter narrows ListTx's result set. A nil/zero field means
// unfiltered on that dimension.
type ListFilter struct {
	StrID  *string
	Status *statemachine.Status
}

// ListTx enumerates Rtx records ordered by (ctime, ser_id) ascending.
func (s *Store) ListTx(ctx context.Context, filter ListFilter) ([]Tx, error) {
	query := `SELECT ` + selectTxColumns + ` FROM tx WHERE 1=1`
	var args []any
	if filter.StrID != nil {
		query += ` AND str_id = ?`
		args = append(args, *filter.StrID)
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, filter.Status.Byte())
	}
	query += ` ORDER BY ctime ASC, ser_id ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tx: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Tx
	for rows.Next() {
		var (
			t          Tx
			statusByte []byte
			commitTime sql.NullFloat64
			lastCallID sql.NullInt64
		)
		if err := rows.Scan(&t.SerID, &t.StrID, &t.OwnerID, &t.Summary, &statusByte, &t.CTime, &commitTime, &lastCallID); err != nil {
			return nil, fmt.Errorf("store: list tx: scan: %w", err)
		}
		status, ok := statemachine.ParseStatus(statusByte[0])
		if !ok {
			return nil, fmt.Errorf("store: unknown status byte %q", statusByte)
		}
		t.Status = status
		if commitTime.Valid {
			t.CommitTime = ref.Ptr(commitTime.Float64)
		}
		if lastCallID.Valid {
			t.LastCallID = ref.Ptr(lastCallID.Int64)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
