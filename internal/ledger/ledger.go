// Package ledger holds the daemon's shared state: commands currently running,
// keyed by shell pid, and per-command aggregates, keyed by exact command text.
package ledger

import (
	"sync"
	"time"
)

// Ledger is safe for concurrent use. Every operation takes the same exclusive
// lock; there is no reader/writer split.
type Ledger struct {
	mu       sync.Mutex
	inFlight map[uint32]InFlightCommand
	stats    Stats

	now func() time.Time
}

// New returns a ledger seeded with previously persisted aggregates. The
// in-flight map always starts empty.
func New(initial Stats) *Ledger {
	return &Ledger{
		inFlight: make(map[uint32]InFlightCommand),
		stats:    initial.Clone(),
		now:      time.Now,
	}
}

// Begin records that pid started command, overwriting any unmatched entry
// for the same pid. replaced reports whether such an entry was discarded.
func (l *Ledger) Begin(pid uint32, command string) (replaced bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, replaced = l.inFlight[pid]
	l.inFlight[pid] = InFlightCommand{
		Started: l.now(),
		Command: command,
	}
	return replaced
}

// End closes the in-flight entry for pid and folds its elapsed time into the
// aggregate for its command text. ok is false when no entry existed, in which
// case nothing changes.
func (l *Ledger) End(pid uint32, exitCode int32) (elapsed time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cmd, ok := l.inFlight[pid]
	if !ok {
		return 0, false
	}
	delete(l.inFlight, pid)

	// time.Time carries a monotonic reading, so Sub is immune to wall clock jumps.
	elapsed = l.now().Sub(cmd.Started)
	if elapsed < 0 {
		elapsed = 0
	}

	s := l.stats[cmd.Command]
	s.Count++
	s.TotalDuration += elapsed
	s.LastRunDuration = elapsed
	if exitCode == 0 {
		s.SuccessCount++
	} else {
		s.FailCount++
	}
	l.stats[cmd.Command] = s

	return elapsed, true
}

// Snapshot returns a copy of the aggregates. The result is never nil.
func (l *Ledger) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.Clone()
}

// Persist snapshots the aggregates and hands them to save without releasing
// the lock, so no update can slip between the snapshot and the write. The
// snapshot is returned even when save fails.
func (l *Ledger) Persist(save func(Stats) error) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.stats.Clone()
	return snap, save(snap)
}

// InFlight returns the number of commands awaiting their end notification.
func (l *Ledger) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inFlight)
}

// Pending returns a copy of the in-flight entry for pid, if any.
func (l *Ledger) Pending(pid uint32) (InFlightCommand, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cmd, ok := l.inFlight[pid]
	return cmd, ok
}
