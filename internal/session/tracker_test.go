package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTracker(max int) (*Tracker, *fakeClock) {
	clock := newFakeClock()
	return NewTracker(Config{MaxConcurrent: max, Clock: clock.Now}), clock
}

func TestTracker_StartEnforcesCeiling(t *testing.T) {
	tr, _ := newTracker(3)
	for i := 0; i < 3; i++ {
		_, _, err := tr.Start(fmt.Sprintf("t%d", i), time.Hour, 5)
		require.NoError(t, err)
	}

	_, _, err := tr.Start("t4", time.Hour, 5)
	require.ErrorIs(t, err, ErrCeilingReached)

	_, ok := tr.Get("t4")
	require.False(t, ok, "rejected start must not leave an entry")
	require.Equal(t, 3, tr.Count())
}

func TestTracker_PausedSessionsCountTowardCeiling(t *testing.T) {
	tr, _ := newTracker(1)
	_, _, err := tr.Start("t1", time.Hour, 5)
	require.NoError(t, err)
	_, _, err = tr.Pause("t1")
	require.NoError(t, err)

	_, _, err = tr.Start("t2", time.Hour, 5)
	require.ErrorIs(t, err, ErrCeilingReached)
}

func TestTracker_StartResumesPausedSession(t *testing.T) {
	tr, clock := newTracker(1)
	first, _, err := tr.Start("t1", time.Hour, 5)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	paused, interrupted, err := tr.Pause("t1")
	require.NoError(t, err)
	require.True(t, interrupted)
	require.Equal(t, StatePaused, paused.State)
	require.NotNil(t, paused.PausedAt)

	resumed, wasResumed, err := tr.Start("t1", time.Hour, 5)
	require.NoError(t, err)
	require.True(t, wasResumed)
	require.Equal(t, StateActive, resumed.State)
	require.Nil(t, resumed.PausedAt)
	require.Equal(t, first.StartTime, resumed.StartTime)
	require.Equal(t, 1, resumed.InterruptionCount)
}

func TestTracker_StartIsIdempotentForActiveSession(t *testing.T) {
	tr, _ := newTracker(1)
	_, _, err := tr.Start("t1", time.Hour, 5)
	require.NoError(t, err)

	s, resumed, err := tr.Start("t1", time.Hour, 5)
	require.NoError(t, err)
	require.False(t, resumed)
	require.Equal(t, StateActive, s.State)
	require.Equal(t, 1, tr.Count())
}

func TestTracker_Protection(t *testing.T) {
	tr, clock := newTracker(0)
	_, _, _ = tr.Start("deep", 30*time.Minute, 3)
	_, _, _ = tr.Start("shallow", 30*time.Minute, 2)

	require.True(t, tr.IsProtected("deep"))
	require.False(t, tr.IsProtected("shallow"))
	require.False(t, tr.IsProtected("missing"))

	clock.Advance(30 * time.Minute)
	require.False(t, tr.IsProtected("deep"), "protection ends with the estimate")
}

func TestTracker_InterruptOnlyCountsProtectedSessions(t *testing.T) {
	tr, _ := newTracker(0)
	_, _, _ = tr.Start("deep", time.Hour, 8)
	_, _, _ = tr.Start("shallow", time.Hour, 1)

	require.True(t, tr.Interrupt("deep"))
	require.True(t, tr.Interrupt("deep"))
	require.False(t, tr.Interrupt("shallow"))
	require.False(t, tr.Interrupt("missing"))

	s, _ := tr.Get("deep")
	require.Equal(t, 2, s.InterruptionCount)
	s, _ = tr.Get("shallow")
	require.Zero(t, s.InterruptionCount)
}

func TestTracker_PauseUnprotectedDoesNotCount(t *testing.T) {
	tr, _ := newTracker(0)
	_, _, _ = tr.Start("t1", time.Hour, 1)

	s, interrupted, err := tr.Pause("t1")
	require.NoError(t, err)
	require.False(t, interrupted)
	require.Zero(t, s.InterruptionCount)

	_, _, err = tr.Pause("missing")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestTracker_CompleteAndRemove(t *testing.T) {
	tr, _ := newTracker(0)
	_, _, _ = tr.Start("t1", time.Hour, 5)
	_, _, _ = tr.Start("t2", time.Hour, 5)

	s, ok := tr.Complete("t1")
	require.True(t, ok)
	require.Equal(t, "t1", s.TaskID)

	_, ok = tr.Complete("t1")
	require.False(t, ok, "second completion finds nothing")

	require.True(t, tr.Remove("t2"))
	require.False(t, tr.Remove("t2"))
	require.Zero(t, tr.Count())
}

func TestTracker_ListOrderedByStart(t *testing.T) {
	tr, clock := newTracker(0)
	_, _, _ = tr.Start("b", time.Hour, 5)
	clock.Advance(time.Second)
	_, _, _ = tr.Start("a", time.Hour, 5)

	list := tr.List()
	require.Len(t, list, 2)
	require.Equal(t, "b", list[0].TaskID)
	require.Equal(t, "a", list[1].TaskID)
}

func TestTracker_Insights(t *testing.T) {
	tr, _ := newTracker(0)
	_, _, _ = tr.Start("t1", time.Hour, 4)
	_, _, _ = tr.Start("t2", time.Hour, 8)
	_, _, _ = tr.Start("t3", time.Hour, 2)
	_, _, _ = tr.Pause("t3")
	tr.Interrupt("t1")

	in := tr.Insights()
	require.Equal(t, 2, in.ActiveSessions)
	require.Equal(t, 1, in.PausedSessions)
	require.Equal(t, 2, in.ProtectedSessions)
	require.Equal(t, 1, in.TotalInterruptions)
	require.InDelta(t, 6.0, in.AverageFocusIntensity, 0.0001)

	empty, _ := newTracker(0)
	require.Zero(t, empty.Insights().AverageFocusIntensity)
}

func TestTracker_ConcurrentStartsNeverExceedCeiling(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.IntRange(1, 5).Draw(t, "max")
		starters := rapid.IntRange(1, 20).Draw(t, "starters")
		tr := NewTracker(Config{MaxConcurrent: max})

		var wg sync.WaitGroup
		var mu sync.Mutex
		accepted := 0
		for i := 0; i < starters; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, _, err := tr.Start(fmt.Sprintf("t%d", i), time.Hour, 5); err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		want := min(max, starters)
		if accepted != want || tr.Count() != want {
			t.Fatalf("accepted %d, live %d, want %d", accepted, tr.Count(), want)
		}
	})
}

func TestTracker_Restore(t *testing.T) {
	tr, clock := newTracker(2)
	started := clock.Now().Add(-10 * time.Minute)

	require.NoError(t, tr.Restore("a", false, started, time.Hour, 8))
	require.NoError(t, tr.Restore("b", true, started, time.Hour, 8))
	require.ErrorIs(t, tr.Restore("c", false, started, time.Hour, 8), ErrCeilingReached)

	a, ok := tr.Get("a")
	require.True(t, ok)
	require.Equal(t, StateActive, a.State)
	require.Equal(t, started, a.StartTime)
	require.True(t, tr.IsProtected("a"))

	b, ok := tr.Get("b")
	require.True(t, ok)
	require.Equal(t, StatePaused, b.State)
	require.Zero(t, b.InterruptionCount)

	// Restoring an existing session is a no-op even at the ceiling.
	require.NoError(t, tr.Restore("a", true, started, time.Hour, 8))
	a, _ = tr.Get("a")
	require.Equal(t, StateActive, a.State)
}
