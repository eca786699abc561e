package credits

import (
	"sync"
	"time"

	"github.com/calorietrack/calorietrack-golang/internal/models"
)

// record tracks one user's call count for one calendar day.
type record struct {
	day   string
	count int
}

// Ledger counts upstream calls per user per local calendar day.
// It is purely in-memory: counts reset on process restart, so the daily
// limit is a best-effort usage cap, not a security boundary.
type Ledger struct {
	mu      sync.Mutex
	limit   int
	records map[string]*record

	// now is the injected clock. Tests swap it to exercise day rollover
	// without waiting for real midnight.
	now func() time.Time
}

// NewLedger creates an empty ledger with the given daily per-user limit.
func NewLedger(limit int) *Ledger {
	return &Ledger{
		limit:   limit,
		records: make(map[string]*record),
		now:     time.Now,
	}
}

// Limit returns the configured daily cap.
func (l *Ledger) Limit() int {
	return l.limit
}

// dayKey formats the current local day. A new day means a fresh record,
// so counts implicitly start at 0 after midnight.
func (l *Ledger) dayKey() string {
	return l.now().Format("2006-01-02")
}

// get returns today's record for the user, creating it lazily.
// Callers must hold l.mu.
func (l *Ledger) get(userID string) *record {
	day := l.dayKey()
	key := userID + ":" + day
	rec, ok := l.records[key]
	if !ok {
		rec = &record{day: day}
		l.records[key] = rec
	}
	return rec
}

// Admit reports whether the user may make another upstream call today.
func (l *Ledger) Admit(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(userID).count < l.limit
}

// Increment records one completed upstream call. It must be called only
// after the call succeeded and its content validated, never before, so a
// failed call never consumes a credit.
func (l *Ledger) Increment(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.get(userID).count++
}

// Used returns how many calls the user has made today.
func (l *Ledger) Used(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(userID).count
}

// Remaining returns how many calls the user has left today, clamped at 0.
func (l *Ledger) Remaining(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := l.limit - l.get(userID).count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Status returns the caller-facing credit summary for today.
func (l *Ledger) Status(userID string) models.CreditStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.get(userID)
	remaining := l.limit - rec.count
	if remaining < 0 {
		remaining = 0
	}
	return models.CreditStatus{
		Remaining: remaining,
		Used:      rec.count,
		Limit:     l.limit,
		ResetTime: l.resetTime().Format(time.RFC3339),
	}
}

// resetTime is the next local midnight, when a fresh dayKey takes over.
func (l *Ledger) resetTime() time.Time {
	now := l.now()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}

// Sweep drops records from previous days and returns how many it removed.
// Stale records are harmless for admission checks (each day has its own
// key) but would otherwise accumulate for the life of the process.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	today := l.dayKey()
	removed := 0
	for key, rec := range l.records {
		if rec.day != today {
			delete(l.records, key)
			removed++
		}
	}
	return removed
}
