package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/store"
)

func strike(id, user string, action safety.LogAction, at time.Time) safety.LogEntry {
	return safety.LogEntry{
		ID:        id,
		UserID:    user,
		Action:    action,
		Severity:  safety.SeverityMedium,
		Category:  safety.CategorySpam,
		Automated: true,
		CreatedAt: at,
	}
}

func TestAppendStrike_ConditionalOnCount(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	require.NoError(t, s.AppendStrike(ctx, strike("l1", "u1", safety.LogWarning, now), 0))
	assert.ErrorIs(t, s.AppendStrike(ctx, strike("l2", "u1", safety.LogSoftBlock, now), 0), safety.ErrRevisionConflict)
	require.NoError(t, s.AppendStrike(ctx, strike("l2", "u1", safety.LogSoftBlock, now), 1))

	// non-strike entries do not move the count
	require.NoError(t, s.AppendLog(ctx, strike("l3", "u1", safety.LogBlockedText, now)))
	n, err := s.CountActiveStrikes(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetLog(ctx, "missing")
	assert.ErrorIs(t, err, safety.ErrNotFound)
}

func TestAppendStrike_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := "l" + string(rune('a'+i))
			if s.AppendStrike(ctx, strike(id, "u1", safety.LogWarning, time.Now()), 0) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	n, _ := s.CountActiveStrikes(ctx, "u1")
	assert.Equal(t, 1, n)
}

func TestResolveLog(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	require.NoError(t, s.AppendStrike(ctx, strike("l1", "u1", safety.LogWarning, now), 0))
	require.NoError(t, s.ResolveLog(ctx, "l1", "mod", now))
	assert.ErrorIs(t, s.ResolveLog(ctx, "l1", "mod", now), safety.ErrAlreadyResolved)
	assert.ErrorIs(t, s.ResolveLog(ctx, "nope", "mod", now), safety.ErrNotFound)

	e, err := s.GetLog(ctx, "l1")
	require.NoError(t, err)
	assert.False(t, e.IsActive())
	assert.Equal(t, "mod", e.ResolvedBy)

	active, err := s.ListActiveLogs(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestListLogs_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.AppendLog(ctx, strike(id, "u1", safety.LogBlockedImage, now.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.AppendLog(ctx, strike("x", "u2", safety.LogBlockedImage, now)))

	logs, err := s.ListLogs(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "c", logs[0].ID)
	assert.Equal(t, "b", logs[1].ID)
}

func report(id, reporter string, at time.Time) safety.Report {
	return safety.Report{
		ID:           id,
		ReporterID:   reporter,
		TargetUserID: "t1",
		TargetType:   "user",
		TargetID:     "t1",
		Reason:       "spam",
		Status:       safety.ReportPending,
		Priority:     safety.PriorityLow,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func TestReports_ActiveUniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	target := safety.ReportTarget{TargetUserID: "t1", TargetType: "user", TargetID: "t1"}

	require.NoError(t, s.CreateReport(ctx, report("r1", "a", now)))
	err := s.CreateReport(ctx, report("r2", "a", now))
	assert.ErrorIs(t, err, safety.ErrDuplicateReport)
	assert.ErrorIs(t, err, safety.ErrDuplicateActive)

	found, err := s.FindActiveReport(ctx, "a", target)
	require.NoError(t, err)
	assert.Equal(t, "r1", found.ID)

	// resolving frees the tuple
	r := *found
	r.Status = safety.ReportResolved
	r.Resolution = &safety.Resolution{Action: safety.ResolutionNoAction, ResolvedAt: now, ResolvedBy: "mod"}
	require.NoError(t, s.UpdateReport(ctx, r))
	assert.ErrorIs(t, s.UpdateReport(ctx, r), safety.ErrAlreadyResolved)

	_, err = s.FindActiveReport(ctx, "a", target)
	assert.ErrorIs(t, err, safety.ErrNotFound)
	require.NoError(t, s.CreateReport(ctx, report("r3", "a", now)))
}

func TestReports_DuplicateCollapse(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	target := safety.ReportTarget{TargetUserID: "t1", TargetType: "user", TargetID: "t1"}

	for i, rep := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateReport(ctx, report("r"+rep, rep, now.Add(time.Duration(i)*time.Minute))))
	}

	active, err := s.ListActiveByTarget(ctx, target)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "ra", active[0].ID)

	changed, err := s.DismissDuplicate(ctx, "rb", "ra", now)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.DismissDuplicate(ctx, "rb", "ra", now)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, s.AddDuplicates(ctx, "ra", 1, safety.PriorityHigh, now))
	require.NoError(t, s.AddDuplicates(ctx, "ra", 1, safety.PriorityHigh, now))

	primary, err := s.GetReport(ctx, "ra")
	require.NoError(t, err)
	assert.Equal(t, 2, primary.DuplicateCount)
	assert.Equal(t, safety.PriorityHigh, primary.Priority)

	dup, err := s.GetReport(ctx, "rb")
	require.NoError(t, err)
	assert.Equal(t, safety.ReportDismissed, dup.Status)
	assert.Equal(t, "ra", dup.DuplicateOf)

	pending, err := s.ListReports(ctx, store.ReportFilter{Statuses: store.ActiveReportStatuses})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestBlocks_Mutual(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	mutual, err := s.CreateBlock(ctx, safety.BlockRelationship{BlockerID: "a", BlockedUserID: "b", Reason: "spam", CreatedAt: now})
	require.NoError(t, err)
	assert.False(t, mutual)

	_, err = s.CreateBlock(ctx, safety.BlockRelationship{BlockerID: "a", BlockedUserID: "b", Reason: "spam", CreatedAt: now})
	assert.ErrorIs(t, err, safety.ErrAlreadyBlocked)

	mutual, err = s.CreateBlock(ctx, safety.BlockRelationship{BlockerID: "b", BlockedUserID: "a", Reason: "other", CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, mutual)

	ab, err := s.GetBlock(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, ab.Mutual)

	require.NoError(t, s.DeleteBlock(ctx, "b", "a"))
	assert.ErrorIs(t, s.DeleteBlock(ctx, "b", "a"), safety.ErrNotFound)

	ab, err = s.GetBlock(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, ab.Mutual, "reverse row stays but is no longer mutual")

	list, err := s.ListBlocks(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEnforcement_AutoMuteEveryThird(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	st, err := s.GetEnforcement(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Zero(t, st.ViolationCount)
	assert.Equal(t, safety.DefaultNotificationSettings(), st.NotificationSettings)

	var mutes []int
	for i := 1; i <= 6; i++ {
		st, muted, err := s.IncrementViolation(ctx, "u1", "t1", now, safety.AutoMuteViolations, safety.AutoMuteDuration)
		require.NoError(t, err)
		assert.Equal(t, i, st.ViolationCount)
		if muted {
			mutes = append(mutes, i)
			assert.True(t, st.MutedAt(now))
			assert.False(t, st.MutedAt(now.Add(safety.AutoMuteDuration)))
		}
	}
	assert.Equal(t, []int{3, 6}, mutes)
}

func TestEnforcement_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RecordMessage(ctx, "u1", "t1", now)
		}()
	}
	wg.Wait()

	st, err := s.GetEnforcement(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 50, st.MessageCount)
}

func TestEnforcement_AdminState(t *testing.T) {
	ctx := context.Background()
	s := New()
	until := time.Now().Add(time.Hour)

	require.NoError(t, s.SetMute(ctx, "u1", "t1", &until, "cap", "flood"))
	require.NoError(t, s.SetShadowban(ctx, "u1", "t1", nil, "bot"))
	require.NoError(t, s.AddTribeBlock(ctx, "u1", "t1", "u2"))
	require.NoError(t, s.AddTribeBlock(ctx, "u1", "t1", "u2"))

	st, _ := s.GetEnforcement(ctx, "u1", "t1")
	assert.True(t, st.IsMuted)
	assert.Equal(t, "cap", st.MutedBy)
	assert.True(t, st.IsShadowbanned)
	assert.Equal(t, []string{"u2"}, st.BlockedUsers)

	require.NoError(t, s.ClearMute(ctx, "u1", "t1"))
	require.NoError(t, s.ClearShadowban(ctx, "u1", "t1"))
	require.NoError(t, s.RemoveTribeBlock(ctx, "u1", "t1", "u2"))
	require.NoError(t, s.SetNotificationSettings(ctx, "u1", "t1", safety.NotificationSettings{Muted: true}))

	st, _ = s.GetEnforcement(ctx, "u1", "t1")
	assert.True(t, st.CanSendMessage(time.Now()))
	assert.Empty(t, st.BlockedUsers)
	assert.True(t, st.NotificationSettings.Muted)

	// returned state is a copy
	st.BlockedUsers = append(st.BlockedUsers, "x")
	again, _ := s.GetEnforcement(ctx, "u1", "t1")
	assert.Empty(t, again.BlockedUsers)
}
