package sql

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "safety.db") + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open(DialectSQLite.DriverName(), dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := NewWithDB(db, DialectSQLite)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)"))

	my := &Store{dialect: DialectMySQL}
	assert.Equal(t, "SELECT ?", my.rebind("SELECT ?"))
}

func TestInsertIgnore(t *testing.T) {
	my := &Store{dialect: DialectTiDB}
	assert.Equal(t, "INSERT IGNORE INTO row_guard (guard_key, revision) VALUES (?, ?)",
		my.insertIgnore("row_guard", "guard_key, revision", "guard_key", 2))

	pg := &Store{dialect: DialectPostgres}
	assert.Equal(t, "INSERT INTO row_guard (guard_key, revision) VALUES ($1, $2) ON CONFLICT (guard_key) DO NOTHING",
		pg.insertIgnore("row_guard", "guard_key, revision", "guard_key", 2))
}

func TestSchema_Dialects(t *testing.T) {
	mysqlDDL := Schema(DialectMySQL)
	assert.Len(t, mysqlDDL, len(tables))
	assert.Contains(t, mysqlDDL[1], "UNIQUE KEY uk_report_active (active_key)")
	assert.Contains(t, mysqlDDL[0], "VARCHAR(191)")

	pgDDL := Schema(DialectPostgres)
	assert.Greater(t, len(pgDDL), len(tables))
	assert.Contains(t, pgDDL, "CREATE UNIQUE INDEX IF NOT EXISTS uk_report_active ON report (active_key)")
	assert.Equal(t, "mysql", DialectTiDB.DriverName())
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func logEntry(id, user string, action safety.LogAction, at time.Time) safety.LogEntry {
	return safety.LogEntry{
		ID:             id,
		UserID:         user,
		TargetType:     "text",
		TargetID:       "c1",
		Action:         action,
		Reason:         "spam_content",
		Severity:       safety.SeverityMedium,
		Category:       safety.CategorySpam,
		Automated:      true,
		Confidence:     0.9,
		Metadata:       map[string]any{"content_type": "text_content"},
		Appealable:     true,
		AppealDeadline: at.Add(safety.DefaultAppealWindow),
		CreatedAt:      at,
	}
}

func TestLogs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.UnixMilli(time.Now().UnixMilli())

	require.NoError(t, s.AppendStrike(ctx, logEntry("l1", "u1", safety.LogWarning, now), 0))
	assert.ErrorIs(t, s.AppendStrike(ctx, logEntry("l2", "u1", safety.LogSoftBlock, now), 0), safety.ErrRevisionConflict)
	require.NoError(t, s.AppendStrike(ctx, logEntry("l2", "u1", safety.LogSoftBlock, now.Add(time.Second)), 1))
	require.NoError(t, s.AppendLog(ctx, logEntry("l3", "u1", safety.LogBlockedText, now.Add(2*time.Second))))

	err := s.AppendLog(ctx, logEntry("l3", "u1", safety.LogBlockedText, now))
	assert.ErrorIs(t, err, safety.ErrPersistence)

	n, err := s.CountActiveStrikes(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e, err := s.GetLog(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, safety.LogWarning, e.Action)
	assert.Equal(t, "text_content", e.Metadata["content_type"])
	assert.True(t, e.CreatedAt.Equal(now))
	assert.True(t, e.IsActive())

	require.NoError(t, s.ResolveLog(ctx, "l1", "mod", now))
	assert.ErrorIs(t, s.ResolveLog(ctx, "l1", "mod", now), safety.ErrAlreadyResolved)
	assert.ErrorIs(t, s.ResolveLog(ctx, "missing", "mod", now), safety.ErrNotFound)

	active, err := s.ListActiveLogs(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "l2", active[0].ID)

	recent, err := s.ListLogs(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "l3", recent[0].ID)
}

func TestAppendStrike_Serialized(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := "l" + string(rune('a'+i))
			if s.AppendStrike(ctx, logEntry(id, "u1", safety.LogWarning, time.Now()), 0) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func testReport(id, reporter string, at time.Time) safety.Report {
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

func TestReports(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.UnixMilli(time.Now().UnixMilli())
	target := safety.ReportTarget{TargetUserID: "t1", TargetType: "user", TargetID: "t1"}

	require.NoError(t, s.CreateReport(ctx, testReport("ra", "a", now)))
	require.NoError(t, s.CreateReport(ctx, testReport("rb", "b", now.Add(time.Second))))
	assert.ErrorIs(t, s.CreateReport(ctx, testReport("rx", "a", now)), safety.ErrDuplicateReport)

	found, err := s.FindActiveReport(ctx, "b", target)
	require.NoError(t, err)
	assert.Equal(t, "rb", found.ID)

	active, err := s.ListActiveByTarget(ctx, target)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "ra", active[0].ID)

	changed, err := s.DismissDuplicate(ctx, "rb", "ra", now)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.DismissDuplicate(ctx, "rb", "ra", now)
	require.NoError(t, err)
	assert.False(t, changed)
	_, err = s.DismissDuplicate(ctx, "nope", "ra", now)
	assert.ErrorIs(t, err, safety.ErrNotFound)

	require.NoError(t, s.AddDuplicates(ctx, "ra", 1, safety.PriorityHigh, now))
	require.NoError(t, s.AddDuplicates(ctx, "ra", 2, safety.PriorityMedium, now))
	primary, err := s.GetReport(ctx, "ra")
	require.NoError(t, err)
	assert.Equal(t, 3, primary.DuplicateCount)
	assert.Equal(t, safety.PriorityHigh, primary.Priority)

	// a dismissed report frees the tuple for its reporter
	require.NoError(t, s.CreateReport(ctx, testReport("rc", "b", now)))

	r := *primary
	r.Status = safety.ReportResolved
	r.Resolution = &safety.Resolution{Action: safety.ResolutionWarn, Notes: "ok", ResolvedAt: now, ResolvedBy: "mod"}
	r.UpdatedAt = now
	require.NoError(t, s.UpdateReport(ctx, r))
	assert.ErrorIs(t, s.UpdateReport(ctx, r), safety.ErrAlreadyResolved)

	got, err := s.GetReport(ctx, "ra")
	require.NoError(t, err)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, safety.ResolutionWarn, got.Resolution.Action)

	resolved, err := s.ListReports(ctx, store.ReportFilter{Statuses: []safety.ReportStatus{safety.ReportResolved}})
	require.NoError(t, err)
	assert.Len(t, resolved, 1)
}

func TestBlocks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	mutual, err := s.CreateBlock(ctx, safety.BlockRelationship{BlockerID: "a", BlockedUserID: "b", Reason: "spam", CreatedAt: now})
	require.NoError(t, err)
	assert.False(t, mutual)

	_, err = s.CreateBlock(ctx, safety.BlockRelationship{BlockerID: "a", BlockedUserID: "b", Reason: "spam", CreatedAt: now})
	assert.ErrorIs(t, err, safety.ErrAlreadyBlocked)

	mutual, err = s.CreateBlock(ctx, safety.BlockRelationship{BlockerID: "b", BlockedUserID: "a", Reason: "harassment", CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, mutual)

	ab, err := s.GetBlock(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, ab.Mutual)

	require.NoError(t, s.DeleteBlock(ctx, "a", "b"))
	assert.ErrorIs(t, s.DeleteBlock(ctx, "a", "b"), safety.ErrNotFound)

	ba, err := s.GetBlock(ctx, "b", "a")
	require.NoError(t, err)
	assert.False(t, ba.Mutual)

	list, err := s.ListBlocks(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEnforcement(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.UnixMilli(time.Now().UnixMilli())

	st, err := s.GetEnforcement(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, safety.DefaultNotificationSettings(), st.NotificationSettings)

	var mutes []int
	for i := 1; i <= 6; i++ {
		st, muted, err := s.IncrementViolation(ctx, "u1", "t1", now, safety.AutoMuteViolations, safety.AutoMuteDuration)
		require.NoError(t, err)
		assert.Equal(t, i, st.ViolationCount)
		if muted {
			mutes = append(mutes, i)
			require.NotNil(t, st.MutedUntil)
			assert.True(t, st.MutedUntil.Equal(now.Add(safety.AutoMuteDuration)))
			assert.Equal(t, safety.AutoMuteReason, st.MuteReason)
		}
	}
	assert.Equal(t, []int{3, 6}, mutes)

	require.NoError(t, s.RecordMessage(ctx, "u1", "t1", now))
	require.NoError(t, s.RecordMessage(ctx, "u1", "t1", now))
	require.NoError(t, s.ClearMute(ctx, "u1", "t1"))
	require.NoError(t, s.SetShadowban(ctx, "u1", "t1", nil, "bot"))
	require.NoError(t, s.AddTribeBlock(ctx, "u1", "t1", "u2"))
	require.NoError(t, s.AddTribeBlock(ctx, "u1", "t1", "u2"))
	require.NoError(t, s.AddTribeBlock(ctx, "u1", "t1", "u3"))
	require.NoError(t, s.RemoveTribeBlock(ctx, "u1", "t1", "u2"))
	require.NoError(t, s.SetNotificationSettings(ctx, "u1", "t1", safety.NotificationSettings{Mentions: true}))

	st, err = s.GetEnforcement(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.MessageCount)
	assert.False(t, st.IsMuted)
	assert.True(t, st.IsShadowbanned)
	assert.Nil(t, st.ShadowbanUntil)
	assert.Equal(t, []string{"u3"}, st.BlockedUsers)
	assert.False(t, st.NotificationSettings.AllMessages)
}

func TestWithTx_RollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.WithTx(ctx, func(tx store.Store) error {
		require.NoError(t, tx.AppendLog(ctx, logEntry("l1", "u1", safety.LogBlockedImage, time.Now())))
		return safety.ErrPermissionDenied
	})
	assert.ErrorIs(t, err, safety.ErrPermissionDenied)

	_, err = s.GetLog(ctx, "l1")
	assert.ErrorIs(t, err, safety.ErrNotFound)
}
