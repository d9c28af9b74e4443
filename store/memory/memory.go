// Package memory is an in-process store for tests and single-instance
// deployments. All state lives behind one mutex.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/store"
	"github.com/heibot/safety/utils"
)

type blockKey struct{ blocker, blocked string }

type stateKey struct{ user, tribe string }

// Store implements store.Store in memory.
type Store struct {
	mu sync.Mutex

	logs     map[string]*safety.LogEntry
	logOrder []string

	reports      map[string]*safety.Report
	reportOrder  []string
	activeReport map[string]string // tuple key -> report id

	blocks map[blockKey]*safety.BlockRelationship
	states map[stateKey]*safety.ChatEnforcementState

	// txMu serializes WithTx callers.
	txMu sync.Mutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		logs:         make(map[string]*safety.LogEntry),
		reports:      make(map[string]*safety.Report),
		activeReport: make(map[string]string),
		blocks:       make(map[blockKey]*safety.BlockRelationship),
		states:       make(map[stateKey]*safety.ChatEnforcementState),
	}
}

func activeKey(reporterID string, t safety.ReportTarget) string {
	return utils.TupleKey(reporterID, t.TargetUserID, t.TargetType, t.TargetID)
}

func targetOf(r *safety.Report) safety.ReportTarget {
	return safety.ReportTarget{TargetUserID: r.TargetUserID, TargetType: r.TargetType, TargetID: r.TargetID}
}

func cloneLog(e *safety.LogEntry) safety.LogEntry {
	out := *e
	out.Metadata = maps.Clone(e.Metadata)
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

func cloneReport(r *safety.Report) safety.Report {
	out := *r
	if r.Resolution != nil {
		res := *r.Resolution
		out.Resolution = &res
	}
	return out
}

func cloneState(s *safety.ChatEnforcementState) safety.ChatEnforcementState {
	out := *s
	out.BlockedUsers = slices.Clone(s.BlockedUsers)
	if out.BlockedUsers == nil {
		out.BlockedUsers = []string{}
	}
	return out
}

// Log entries

func (s *Store) countActiveStrikes(userID string) int {
	n := 0
	for _, id := range s.logOrder {
		if e := s.logs[id]; e.UserID == userID && e.CountsAsStrike() {
			n++
		}
	}
	return n
}

func (s *Store) insertLog(entry safety.LogEntry) {
	e := cloneLog(&entry)
	s.logs[e.ID] = &e
	s.logOrder = append(s.logOrder, e.ID)
}

// AppendStrike implements store.LogStore.
func (s *Store) AppendStrike(ctx context.Context, entry safety.LogEntry, expectedActive int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.logs[entry.ID]; ok {
		return safety.NewStoreError("insert", "moderation_log", safety.ErrDuplicateActive)
	}
	if s.countActiveStrikes(entry.UserID) != expectedActive {
		return safety.ErrRevisionConflict
	}
	s.insertLog(entry)
	return nil
}

// AppendLog implements store.LogStore.
func (s *Store) AppendLog(ctx context.Context, entry safety.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.logs[entry.ID]; ok {
		return safety.NewStoreError("insert", "moderation_log", safety.ErrDuplicateActive)
	}
	s.insertLog(entry)
	return nil
}

// GetLog implements store.LogStore.
func (s *Store) GetLog(ctx context.Context, id string) (*safety.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.logs[id]
	if !ok {
		return nil, safety.ErrNotFound
	}
	out := cloneLog(e)
	return &out, nil
}

// CountActiveStrikes implements store.LogStore.
func (s *Store) CountActiveStrikes(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActiveStrikes(userID), nil
}

// ListActiveLogs implements store.LogStore.
func (s *Store) ListActiveLogs(ctx context.Context, userID string) ([]safety.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []safety.LogEntry
	for _, id := range s.logOrder {
		if e := s.logs[id]; e.UserID == userID && e.IsActive() {
			out = append(out, cloneLog(e))
		}
	}
	return out, nil
}

// ListLogs implements store.LogStore.
func (s *Store) ListLogs(ctx context.Context, userID string, limit int) ([]safety.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []safety.LogEntry
	for i := len(s.logOrder) - 1; i >= 0; i-- {
		e := s.logs[s.logOrder[i]]
		if e.UserID != userID {
			continue
		}
		out = append(out, cloneLog(e))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ResolveLog implements store.LogStore.
func (s *Store) ResolveLog(ctx context.Context, id, resolvedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.logs[id]
	if !ok {
		return safety.ErrNotFound
	}
	if !e.IsActive() {
		return safety.ErrAlreadyResolved
	}
	e.ResolvedAt = &at
	e.ResolvedBy = resolvedBy
	return nil
}

// Reports

// CreateReport implements store.ReportStore.
func (s *Store) CreateReport(ctx context.Context, r safety.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[r.ID]; ok {
		return safety.NewStoreError("insert", "report", safety.ErrDuplicateActive)
	}
	key := activeKey(r.ReporterID, targetOf(&r))
	if r.IsActive() {
		if _, ok := s.activeReport[key]; ok {
			return safety.ErrDuplicateReport
		}
		s.activeReport[key] = r.ID
	}
	c := cloneReport(&r)
	s.reports[r.ID] = &c
	s.reportOrder = append(s.reportOrder, r.ID)
	return nil
}

// GetReport implements store.ReportStore.
func (s *Store) GetReport(ctx context.Context, id string) (*safety.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, safety.ErrNotFound
	}
	out := cloneReport(r)
	return &out, nil
}

// FindActiveReport implements store.ReportStore.
func (s *Store) FindActiveReport(ctx context.Context, reporterID string, target safety.ReportTarget) (*safety.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.activeReport[activeKey(reporterID, target)]
	if !ok {
		return nil, safety.ErrNotFound
	}
	out := cloneReport(s.reports[id])
	return &out, nil
}

func sortReports(rs []safety.Report) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

// ListActiveByTarget implements store.ReportStore.
func (s *Store) ListActiveByTarget(ctx context.Context, target safety.ReportTarget) ([]safety.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []safety.Report
	for _, id := range s.reportOrder {
		r := s.reports[id]
		if r.IsActive() && targetOf(r) == target {
			out = append(out, cloneReport(r))
		}
	}
	sortReports(out)
	return out, nil
}

// ListReports implements store.ReportStore.
func (s *Store) ListReports(ctx context.Context, f store.ReportFilter) ([]safety.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []safety.Report
	for _, id := range s.reportOrder {
		r := s.reports[id]
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
			continue
		}
		if f.TargetUserID != "" && r.TargetUserID != f.TargetUserID {
			continue
		}
		if f.AssignedModerator != "" && r.AssignedModerator != f.AssignedModerator {
			continue
		}
		out = append(out, cloneReport(r))
	}
	sortReports(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// UpdateReport implements store.ReportStore.
func (s *Store) UpdateReport(ctx context.Context, r safety.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.reports[r.ID]
	if !ok {
		return safety.ErrNotFound
	}
	if !cur.IsActive() {
		return safety.ErrAlreadyResolved
	}

	cur.Status = r.Status
	cur.Priority = r.Priority
	cur.AssignedModerator = r.AssignedModerator
	cur.DuplicateOf = r.DuplicateOf
	cur.DuplicateCount = r.DuplicateCount
	cur.UpdatedAt = r.UpdatedAt
	cur.Resolution = nil
	if r.Resolution != nil {
		res := *r.Resolution
		cur.Resolution = &res
	}
	if !cur.IsActive() {
		delete(s.activeReport, activeKey(cur.ReporterID, targetOf(cur)))
	}
	return nil
}

// DismissDuplicate implements store.ReportStore.
func (s *Store) DismissDuplicate(ctx context.Context, id, primaryID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return false, safety.ErrNotFound
	}
	if !r.IsActive() {
		return false, nil
	}
	r.Status = safety.ReportDismissed
	r.DuplicateOf = primaryID
	r.UpdatedAt = at
	delete(s.activeReport, activeKey(r.ReporterID, targetOf(r)))
	return true, nil
}

// AddDuplicates implements store.ReportStore.
func (s *Store) AddDuplicates(ctx context.Context, primaryID string, n int, minPriority safety.Priority, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[primaryID]
	if !ok {
		return safety.ErrNotFound
	}
	// accumulates across calls; each duplicate adds to the running count
	r.DuplicateCount += n
	if r.Priority.Rank() < minPriority.Rank() {
		r.Priority = minPriority
	}
	r.UpdatedAt = at
	return nil
}

// Blocks

// CreateBlock implements store.BlockStore.
func (s *Store) CreateBlock(ctx context.Context, b safety.BlockRelationship) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := blockKey{b.BlockerID, b.BlockedUserID}
	if _, ok := s.blocks[key]; ok {
		return false, safety.ErrAlreadyBlocked
	}
	reverse, mutual := s.blocks[blockKey{b.BlockedUserID, b.BlockerID}]
	if mutual {
		reverse.Mutual = true
	}
	b.Mutual = mutual
	s.blocks[key] = &b
	return mutual, nil
}

// DeleteBlock implements store.BlockStore.
func (s *Store) DeleteBlock(ctx context.Context, blockerID, blockedUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := blockKey{blockerID, blockedUserID}
	if _, ok := s.blocks[key]; !ok {
		return safety.ErrNotFound
	}
	delete(s.blocks, key)
	if reverse, ok := s.blocks[blockKey{blockedUserID, blockerID}]; ok {
		reverse.Mutual = false
	}
	return nil
}

// GetBlock implements store.BlockStore.
func (s *Store) GetBlock(ctx context.Context, blockerID, blockedUserID string) (*safety.BlockRelationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[blockKey{blockerID, blockedUserID}]
	if !ok {
		return nil, safety.ErrNotFound
	}
	out := *b
	return &out, nil
}

// ListBlocks implements store.BlockStore.
func (s *Store) ListBlocks(ctx context.Context, blockerID string) ([]safety.BlockRelationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []safety.BlockRelationship
	for k, b := range s.blocks {
		if k.blocker == blockerID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].BlockedUserID < out[j].BlockedUserID
	})
	return out, nil
}

// Chat enforcement

func (s *Store) state(userID, tribeID string) *safety.ChatEnforcementState {
	key := stateKey{userID, tribeID}
	st, ok := s.states[key]
	if !ok {
		st = &safety.ChatEnforcementState{
			UserID:               userID,
			TribeID:              tribeID,
			BlockedUsers:         []string{},
			NotificationSettings: safety.DefaultNotificationSettings(),
		}
		s.states[key] = st
	}
	return st
}

// GetEnforcement implements store.EnforcementStore.
func (s *Store) GetEnforcement(ctx context.Context, userID, tribeID string) (safety.ChatEnforcementState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.states[stateKey{userID, tribeID}]; ok {
		return cloneState(st), nil
	}
	return safety.ChatEnforcementState{
		UserID:               userID,
		TribeID:              tribeID,
		BlockedUsers:         []string{},
		NotificationSettings: safety.DefaultNotificationSettings(),
	}, nil
}

// IncrementViolation implements store.EnforcementStore.
func (s *Store) IncrementViolation(ctx context.Context, userID, tribeID string, at time.Time, muteEvery int, muteFor time.Duration) (safety.ChatEnforcementState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID, tribeID)
	st.ViolationCount++
	st.LastViolationAt = &at

	muted := muteEvery > 0 && st.ViolationCount%muteEvery == 0
	if muted {
		until := at.Add(muteFor)
		st.IsMuted = true
		st.MutedUntil = &until
		st.MutedBy = ""
		st.MuteReason = safety.AutoMuteReason
	}
	return cloneState(st), muted, nil
}

// RecordMessage implements store.EnforcementStore.
func (s *Store) RecordMessage(ctx context.Context, userID, tribeID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID, tribeID)
	st.MessageCount++
	st.LastMessageAt = &at
	return nil
}

// SetMute implements store.EnforcementStore.
func (s *Store) SetMute(ctx context.Context, userID, tribeID string, until *time.Time, mutedBy, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID, tribeID)
	st.IsMuted = true
	st.MutedUntil = until
	st.MutedBy = mutedBy
	st.MuteReason = reason
	return nil
}

// ClearMute implements store.EnforcementStore.
func (s *Store) ClearMute(ctx context.Context, userID, tribeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID, tribeID)
	st.IsMuted = false
	st.MutedUntil = nil
	st.MutedBy = ""
	st.MuteReason = ""
	return nil
}

// SetShadowban implements store.EnforcementStore.
func (s *Store) SetShadowban(ctx context.Context, userID, tribeID string, until *time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID, tribeID)
	st.IsShadowbanned = true
	st.ShadowbanUntil = until
	st.ShadowbanReason = reason
	return nil
}

// ClearShadowban implements store.EnforcementStore.
func (s *Store) ClearShadowban(ctx context.Context, userID, tribeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID, tribeID)
	st.IsShadowbanned = false
	st.ShadowbanUntil = nil
	st.ShadowbanReason = ""
	return nil
}

// AddTribeBlock implements store.EnforcementStore.
func (s *Store) AddTribeBlock(ctx context.Context, userID, tribeID, blockedUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID, tribeID)
	if !slices.Contains(st.BlockedUsers, blockedUserID) {
		st.BlockedUsers = append(st.BlockedUsers, blockedUserID)
	}
	return nil
}

// RemoveTribeBlock implements store.EnforcementStore.
func (s *Store) RemoveTribeBlock(ctx context.Context, userID, tribeID, blockedUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID, tribeID)
	st.BlockedUsers = slices.DeleteFunc(st.BlockedUsers, func(id string) bool { return id == blockedUserID })
	return nil
}

// SetNotificationSettings implements store.EnforcementStore.
func (s *Store) SetNotificationSettings(ctx context.Context, userID, tribeID string, settings safety.NotificationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state(userID, tribeID).NotificationSettings = settings
	return nil
}

// WithTx runs fn with other WithTx callers excluded. Writes are applied
// immediately and are not rolled back when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close implements store.Store.
func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
