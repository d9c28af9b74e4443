package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/store/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLedger(t *testing.T) (*Ledger, *memory.Store, *clock) {
	t.Helper()
	s := memory.New()
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New(s, Options{Now: c.Now}), s, c
}

func violation(user string) Violation {
	return Violation{UserID: user, TargetType: "text", TargetID: "c1", Category: safety.CategorySpam, Confidence: 0.9}
}

func TestLadder(t *testing.T) {
	tests := []struct {
		active   int
		action   safety.LogAction
		cooldown time.Duration
		severity safety.Severity
	}{
		{0, safety.LogWarning, 0, safety.SeverityLow},
		{1, safety.LogSoftBlock, 24 * time.Hour, safety.SeverityMedium},
		{2, safety.LogHardBan, 7 * 24 * time.Hour, safety.SeverityHigh},
		{3, safety.LogUserBanned, safety.Permanent, safety.SeverityCritical},
		{9, safety.LogUserBanned, safety.Permanent, safety.SeverityCritical},
	}

	for _, tt := range tests {
		step := strikeAction(tt.active, safety.CategorySpam)
		assert.Equal(t, tt.action, step.Action)
		assert.Equal(t, tt.active+1, step.StrikeCount)
		assert.Equal(t, tt.cooldown, step.Cooldown)
		assert.Equal(t, tt.severity, step.Severity)
		assert.NotEmpty(t, step.Reason)
	}
	assert.True(t, strikeAction(3, safety.CategorySpam).IsPermanent())
}

func TestRecordViolation_Escalates(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger(t)

	want := []safety.LogAction{safety.LogWarning, safety.LogSoftBlock, safety.LogHardBan, safety.LogUserBanned, safety.LogUserBanned}
	for i, action := range want {
		entry, step, err := l.RecordViolation(ctx, violation("u1"))
		require.NoError(t, err)
		assert.Equal(t, action, entry.Action)
		assert.Equal(t, action, step.Action)
		assert.Equal(t, i+1, step.StrikeCount)
		assert.True(t, entry.Automated)
		assert.Equal(t, entry.CreatedAt.Add(safety.DefaultAppealWindow), entry.AppealDeadline)
	}

	n, err := l.StrikeCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestRecordViolation_ConcurrentDistinctSteps(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger(t)

	var wg sync.WaitGroup
	steps := make(chan int, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, step, err := l.RecordViolation(ctx, violation("u1"))
			if assert.NoError(t, err) {
				steps <- step.StrikeCount
			}
		}()
	}
	wg.Wait()
	close(steps)

	seen := map[int]bool{}
	for s := range steps {
		assert.False(t, seen[s], "strike %d computed twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, 10)
}

// racingStore inserts a competing strike the first time AppendStrike is
// called, as another instance would.
type racingStore struct {
	*memory.Store
	raced atomic.Bool
}

func (r *racingStore) AppendStrike(ctx context.Context, e safety.LogEntry, expected int) error {
	if r.raced.CompareAndSwap(false, true) {
		other := e
		other.ID = "other"
		if err := r.Store.AppendStrike(ctx, other, expected); err != nil {
			return err
		}
	}
	return r.Store.AppendStrike(ctx, e, expected)
}

func TestRecordViolation_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	s := &racingStore{Store: memory.New()}
	l := New(s, Options{})

	entry, step, err := l.RecordViolation(ctx, violation("u1"))
	require.NoError(t, err)
	assert.Equal(t, 2, step.StrikeCount, "recomputed after the competing strike")
	assert.Equal(t, safety.LogSoftBlock, entry.Action)
}

func TestRecordViolation_Validation(t *testing.T) {
	l, _, _ := newLedger(t)
	_, _, err := l.RecordViolation(context.Background(), Violation{Category: safety.CategorySpam})
	assert.True(t, safety.IsValidationError(err))
}

func TestCanUserPerformAction(t *testing.T) {
	ctx := context.Background()
	l, _, c := newLedger(t)

	_, _, err := l.RecordViolation(ctx, violation("u1"))
	require.NoError(t, err)
	ok, err := l.CanUserPerformAction(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok, "a warning has no cooldown")

	_, _, err = l.RecordViolation(ctx, violation("u1"))
	require.NoError(t, err)
	ok, _ = l.CanUserPerformAction(ctx, "u1")
	assert.False(t, ok, "soft block holds for 24h")

	c.Advance(25 * time.Hour)
	ok, _ = l.CanUserPerformAction(ctx, "u1")
	assert.True(t, ok)
}

func TestResolve_StopsCounting(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger(t)

	first, _, err := l.RecordViolation(ctx, violation("u1"))
	require.NoError(t, err)
	require.NoError(t, l.Reverse(ctx, first.ID, "mod"))
	assert.ErrorIs(t, l.Resolve(ctx, first.ID, "mod"), safety.ErrAlreadyResolved)

	step, err := l.DetermineStrikeAction(ctx, "u1", safety.CategorySpam)
	require.NoError(t, err)
	assert.Equal(t, safety.LogWarning, step.Action)
}

func TestAppeal(t *testing.T) {
	ctx := context.Background()
	l, _, c := newLedger(t)

	entry, _, err := l.RecordViolation(ctx, violation("u1"))
	require.NoError(t, err)

	rejected, err := l.Appeal(ctx, entry.ID, false, "mod", "upheld")
	require.NoError(t, err)
	assert.Equal(t, safety.LogAppealRejected, rejected.Action)
	assert.Equal(t, entry.ID, rejected.TargetID)
	assert.False(t, rejected.Automated)

	approved, err := l.Appeal(ctx, entry.ID, true, "mod", "overturned")
	require.NoError(t, err)
	assert.Equal(t, safety.LogAppealApproved, approved.Action)

	n, _ := l.StrikeCount(ctx, "u1")
	assert.Zero(t, n)

	_, err = l.Appeal(ctx, entry.ID, true, "mod", "again")
	assert.ErrorIs(t, err, safety.ErrAlreadyResolved)

	late, _, err := l.RecordViolation(ctx, violation("u1"))
	require.NoError(t, err)
	c.Advance(8 * 24 * time.Hour)
	_, err = l.Appeal(ctx, late.ID, true, "mod", "too late")
	assert.ErrorIs(t, err, safety.ErrAppealExpired)

	_, err = l.Appeal(ctx, "missing", true, "mod", "")
	assert.ErrorIs(t, err, safety.ErrNotFound)
}

func TestManualBanAndUnban(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger(t)

	ban, err := l.ManualBan(ctx, "u1", "mod", "ban evasion")
	require.NoError(t, err)
	assert.Equal(t, safety.LogUserBanned, ban.Action)
	assert.False(t, ban.Automated)

	ok, _ := l.CanUserPerformAction(ctx, "u1")
	assert.False(t, ok)

	lifted, err := l.ManualUnban(ctx, "u1", "mod")
	require.NoError(t, err)
	assert.Equal(t, 1, lifted)

	ok, _ = l.CanUserPerformAction(ctx, "u1")
	assert.True(t, ok)

	_, err = l.ManualBan(ctx, "u1", "mod", "")
	assert.True(t, safety.IsValidationError(err))
}

func TestRecordActionAndHistory(t *testing.T) {
	ctx := context.Background()
	l, _, c := newLedger(t)

	_, err := l.RecordAction(ctx, safety.LogEntry{UserID: "u1", Action: safety.LogWarning})
	assert.True(t, safety.IsValidationError(err))

	first, err := l.RecordAction(ctx, safety.LogEntry{UserID: "u1", Action: safety.LogBlockedImage, Category: safety.CategoryNSFW})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.True(t, first.Automated)

	c.Advance(time.Second)
	_, err = l.RecordAction(ctx, safety.LogEntry{UserID: "u1", Action: safety.LogUserMuted, ModeratorID: "cap"})
	require.NoError(t, err)

	history, err := l.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, safety.LogUserMuted, history[0].Action)

	n, _ := l.StrikeCount(ctx, "u1")
	assert.Zero(t, n)
}
