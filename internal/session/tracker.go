// Package session tracks live work sessions for tasks.
//
// A session exists while a task is in progress or paused. The Tracker holds
// only the task id and ephemeral metadata, never the task itself, and caps
// the number of live sessions. It is driven by the orchestrator; nothing else
// should call its mutating methods.
package session

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// State is the state of a live session.
type State string

const (
	StateActive State = "active"
	StatePaused State = "paused"
)

// DefaultProtectionThreshold is the focus intensity from which a running
// session is protected.
const DefaultProtectionThreshold = 3

var (
	// ErrCeilingReached is returned by Start when every slot is taken.
	ErrCeilingReached = errors.New("maximum concurrent sessions reached")
	// ErrNoSession is returned when a task has no live session.
	ErrNoSession = errors.New("no live session for task")
)

// Session is a snapshot of a live session.
type Session struct {
	TaskID            string        `json:"taskId"`
	State             State         `json:"state"`
	StartTime         time.Time     `json:"startTime"`
	PausedAt          *time.Time    `json:"pausedAt,omitempty"`
	EstimatedDuration time.Duration `json:"estimatedDuration"`
	FocusIntensity    int           `json:"focusIntensity"`
	InterruptionCount int           `json:"interruptionCount"`
}

// Config configures a Tracker.
type Config struct {
	MaxConcurrent       int
	ProtectionThreshold int
	Clock               func() time.Time
}

// Tracker is the table of live sessions keyed by task id. A single mutex
// guards the table so the ceiling check and the insert cannot interleave.
type Tracker struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	max       int
	threshold int
	now       func() time.Time
}

// NewTracker creates a Tracker. A non-positive MaxConcurrent means unbounded.
func NewTracker(cfg Config) *Tracker {
	if cfg.ProtectionThreshold <= 0 {
		cfg.ProtectionThreshold = DefaultProtectionThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Tracker{
		sessions:  make(map[string]*Session),
		max:       cfg.MaxConcurrent,
		threshold: cfg.ProtectionThreshold,
		now:       cfg.Clock,
	}
}

// Max returns the configured ceiling (0 when unbounded).
func (t *Tracker) Max() int {
	return t.max
}

// Start opens a session for taskID. A paused session is resumed instead and
// resumed is true; an active one is returned unchanged. Returns
// ErrCeilingReached, without recording anything, when a new session would
// exceed the ceiling.
func (t *Tracker) Start(taskID string, estimated time.Duration, focus int) (s Session, resumed bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.sessions[taskID]; ok {
		if cur.State == StatePaused {
			cur.State = StateActive
			cur.PausedAt = nil
			log.Debug(log.CatSession, "session resumed", "taskID", taskID)
			return *cur, true, nil
		}
		return *cur, false, nil
	}

	if t.max > 0 && len(t.sessions) >= t.max {
		log.Warn(log.CatSession, "session ceiling reached", "taskID", taskID, "max", t.max)
		return Session{}, false, ErrCeilingReached
	}

	cur := &Session{
		TaskID:            taskID,
		State:             StateActive,
		StartTime:         t.now(),
		EstimatedDuration: estimated,
		FocusIntensity:    focus,
	}
	t.sessions[taskID] = cur
	log.Debug(log.CatSession, "session started", "taskID", taskID, "live", len(t.sessions))
	return *cur, false, nil
}

// Restore records a session for a task that was already in progress or
// paused when the process started. startedAt is taken as the session start.
// Restoring never counts an interruption. It returns ErrCeilingReached when
// the table is full.
func (t *Tracker) Restore(taskID string, paused bool, startedAt time.Time, estimated time.Duration, focus int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[taskID]; ok {
		return nil
	}
	if t.max > 0 && len(t.sessions) >= t.max {
		return ErrCeilingReached
	}

	cur := &Session{
		TaskID:            taskID,
		State:             StateActive,
		StartTime:         startedAt,
		EstimatedDuration: estimated,
		FocusIntensity:    focus,
	}
	if paused {
		cur.State = StatePaused
		at := t.now()
		cur.PausedAt = &at
	}
	t.sessions[taskID] = cur
	return nil
}

// Pause pauses an active session. Pausing a protected session counts as an
// interruption; interrupted reports whether it did.
func (t *Tracker) Pause(taskID string) (s Session, interrupted bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.sessions[taskID]
	if !ok {
		return Session{}, false, ErrNoSession
	}
	if cur.State == StatePaused {
		return *cur, false, nil
	}

	now := t.now()
	if t.protected(cur, now) {
		cur.InterruptionCount++
		interrupted = true
	}
	cur.State = StatePaused
	cur.PausedAt = &now
	return *cur, interrupted, nil
}

// Interrupt counts an interruption against a protected session. It reports
// whether the session was protected (and so whether anything was counted).
func (t *Tracker) Interrupt(taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.sessions[taskID]
	if !ok || !t.protected(cur, t.now()) {
		return false
	}
	cur.InterruptionCount++
	log.Debug(log.CatSession, "protected session interrupted", "taskID", taskID, "count", cur.InterruptionCount)
	return true
}

// Complete ends the session of a finished task. It returns the final
// snapshot and false if there was none.
func (t *Tracker) Complete(taskID string) (Session, bool) {
	s, ok := t.remove(taskID)
	if ok {
		log.Debug(log.CatSession, "session completed", "taskID", taskID,
			"elapsed", t.now().Sub(s.StartTime), "interruptions", s.InterruptionCount)
	}
	return s, ok
}

// Remove drops a session without completion semantics, e.g. when its task
// is deleted or a reservation is rolled back.
func (t *Tracker) Remove(taskID string) bool {
	_, ok := t.remove(taskID)
	return ok
}

func (t *Tracker) remove(taskID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.sessions[taskID]
	if !ok {
		return Session{}, false
	}
	delete(t.sessions, taskID)
	return *cur, true
}

// Get returns a snapshot of the session for taskID.
func (t *Tracker) Get(taskID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.sessions[taskID]
	if !ok {
		return Session{}, false
	}
	return *cur, true
}

// List returns snapshots of every live session, oldest first.
func (t *Tracker) List() []Session {
	t.mu.Lock()
	out := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b Session) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return strings.Compare(a.TaskID, b.TaskID)
	})
	return out
}

// IsProtected reports whether taskID has a protected session.
func (t *Tracker) IsProtected(taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.sessions[taskID]
	return ok && t.protected(cur, t.now())
}

// protected: running, focused enough, and still within its estimate.
func (t *Tracker) protected(s *Session, now time.Time) bool {
	return s.State == StateActive &&
		s.FocusIntensity >= t.threshold &&
		now.Sub(s.StartTime) < s.EstimatedDuration
}

// Count returns the number of live (active or paused) sessions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Insights summarizes the live sessions. The average focus intensity is
// taken over active sessions only.
func (t *Tracker) Insights() domain.SessionInsights {
	t.mu.Lock()
	defer t.mu.Unlock()

	var in domain.SessionInsights
	now := t.now()
	focus := 0
	for _, s := range t.sessions {
		switch s.State {
		case StateActive:
			in.ActiveSessions++
			focus += s.FocusIntensity
		case StatePaused:
			in.PausedSessions++
		}
		if t.protected(s, now) {
			in.ProtectedSessions++
		}
		in.TotalInterruptions += s.InterruptionCount
	}
	if in.ActiveSessions > 0 {
		in.AverageFocusIntensity = float64(focus) / float64(in.ActiveSessions)
	}
	return in
}
