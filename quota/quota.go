// Package quota implements the per-user monthly request quota the proxy uses
// for cost control. Counts are in-memory and reset on the calendar month
// boundary; this is a spend guard, not an accounting system.
package quota

import (
	"sync"
	"time"
)

// DefaultMonthlyLimit is the default number of requests a user may make per
// calendar month.
const DefaultMonthlyLimit = 40

// Usage is a read-only view of one user's quota consumption.
type Usage struct {
	UserID       string `json:"user_id"`
	CurrentUsage int    `json:"current_usage"`
	MonthlyLimit int    `json:"monthly_limit"`
	Remaining    int    `json:"remaining"`
	Month        string `json:"month"`
}

type entry struct {
	count int
	month string
}

// Tracker tracks per-user request counts within the current calendar month.
type Tracker struct {
	mu    sync.Mutex
	limit int
	users map[string]*entry

	now func() time.Time
}

// NewTracker creates a Tracker with the given monthly limit.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultMonthlyLimit
	}
	return &Tracker{
		limit: limit,
		users: make(map[string]*entry),
		now:   time.Now,
	}
}

// Allow reports whether the user is under their monthly quota. It does not
// consume quota; call Record after a request actually succeeds so failed
// attempts don't burn the user's allowance.
func (t *Tracker) Allow(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.rollover(userID)
	return e.count < t.limit
}

// Record consumes one unit of the user's quota.
func (t *Tracker) Record(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.rollover(userID)
	e.count++
}

// Usage returns the user's current consumption.
func (t *Tracker) Usage(userID string) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.rollover(userID)
	return Usage{
		UserID:       userID,
		CurrentUsage: e.count,
		MonthlyLimit: t.limit,
		Remaining:    t.limit - e.count,
		Month:        e.month,
	}
}

// rollover returns the user's entry, resetting the count when the calendar
// month has changed. Caller holds t.mu.
func (t *Tracker) rollover(userID string) *entry {
	month := t.now().Format("2006-01")
	e, ok := t.users[userID]
	if !ok || e.month != month {
		e = &entry{month: month}
		t.users[userID] = e
	}
	return e
}
