// Package filelock provides the advisory file lock the TM uses to
// serialize access to a data directory across processes: shared for
// routine operations, exclusive for recovery. It never locks the database
// file itself — SQLite manages that on its own — but a sidecar path
// (conventionally tx.db.lck) so the two locking mechanisms never collide.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
)

// ErrLockTimeout is returned when the lock could not be acquired within
// the retry schedule. It usually means another process holds the lock for
// a long-running recovery.
var ErrLockTimeout = errors.New("filelock: timed out acquiring lock (recovery probably in progress)")

// retrySchedule is the linear backoff spec'd for lock acquisition: 1, 2,
// 3, 4, 5 seconds, summing to 15s total.
var retrySchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	4 * time.Second,
	5 * time.Second,
}

// linearBackOff implements backoff.BackOff with a fixed increasing
// schedule. The teacher's own backoff.Retry usage (sqlitedb.waitHealthy)
// reaches for backoff.NewConstantBackOff, which can't express an
// increasing 1-2-3-4-5s schedule, so this is a small custom BackOff
// plugged into the same Retry driver instead of a hand-rolled retry loop.
type linearBackOff struct {
	next int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	if b.next >= len(retrySchedule) {
		return backoff.Stop
	}
	d := retrySchedule[b.next]
	b.next++
	return d
}

func (b *linearBackOff) Reset() { b.next = 0 }

// Locker wraps an advisory lock file.
type Locker struct {
	fl *flock.Flock
}

// New returns a Locker for the sidecar lock file at path. The file is
// created on first Acquire if it does not already exist.
func New(path string) *Locker {
	return &Locker{fl: flock.New(path)}
}

// Acquire takes the lock, shared or exclusive, retrying on the 1,2,3,4,5s
// schedule before giving up with ErrLockTimeout. ctx can shorten the wait
// further but cannot lengthen it past the fixed schedule.
func (l *Locker) Acquire(ctx context.Context, shared bool) error {
	tryLock := l.fl.TryLock
	if shared {
		tryLock = l.fl.TryRLock
	}

	attempt := func() error {
		ok, err := tryLock()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("filelock: acquire: %w", err))
		}
		if !ok {
			return ErrLockTimeout
		}
		return nil
	}

	bo := backoff.WithContext(&linearBackOff{}, ctx)
	if err := backoff.Retry(attempt, bo); err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return ErrLockTimeout
		}
		return err
	}
	return nil
}

// Release releases the lock. Safe to call even if the lock is not
// currently held.
func (l *Locker) Release() error {
	return l.fl.Unlock()
}
