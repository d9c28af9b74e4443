// Package report takes in user reports, collapses pile-ons against a single
// target into one high-priority report, and carries the moderator workflow
// from assignment to resolution.
package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/hooks"
	"github.com/heibot/safety/ledger"
	"github.com/heibot/safety/store"
	"github.com/heibot/safety/utils"
)

// Options configures a Service.
type Options struct {
	Logger *zap.Logger
	Hooks  hooks.Hooks

	// Ledger applies the consequences of resolved reports. Without it,
	// resolving with escalate, warn, remove_content or ban fails.
	Ledger *ledger.Ledger

	// EscalationThreshold is the number of distinct reporters with active
	// reports on one target that triggers a collapse.
	EscalationThreshold int

	IDGen *utils.IDGenerator
	Now   func() time.Time
}

// Service is the report intake and review service.
type Service struct {
	store  store.ReportStore
	locks  *xsync.MapOf[string, *sync.Mutex]
	logger *zap.Logger
	opts   Options
}

// New creates a service over s.
func New(s store.ReportStore, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.NopHooks{}
	}
	if opts.EscalationThreshold == 0 {
		opts.EscalationThreshold = safety.ReportEscalationReports
	}
	if opts.IDGen == nil {
		opts.IDGen = utils.NewIDGenerator()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:  s,
		locks:  xsync.NewMapOf[string, *sync.Mutex](),
		logger: opts.Logger.Named("report"),
		opts:   opts,
	}
}

// SubmitInput is a new report.
type SubmitInput struct {
	ReporterID   string `json:"reporter_id"`
	TargetUserID string `json:"target_user_id"`
	TargetType   string `json:"target_type"`
	TargetID     string `json:"target_id"`
	Reason       string `json:"reason"`
	Description  string `json:"description"`
}

func (in SubmitInput) target() safety.ReportTarget {
	return safety.ReportTarget{
		TargetUserID: in.TargetUserID,
		TargetType:   in.TargetType,
		TargetID:     in.TargetID,
	}
}

func (in SubmitInput) validate() error {
	switch {
	case in.ReporterID == "":
		return safety.NewValidationError("reporter_id", "required")
	case in.TargetUserID == "":
		return safety.NewValidationError("target_user_id", "required")
	case in.TargetType == "":
		return safety.NewValidationError("target_type", "required")
	case in.Reason == "":
		return safety.NewValidationError("reason", "required")
	case in.ReporterID == in.TargetUserID:
		return safety.NewValidationError("target_user_id", "cannot report yourself")
	}
	return nil
}

// SubmitResult is the outcome of Submit.
type SubmitResult struct {
	// Success is false when the reporter already had an active report on
	// the target; ReportID is then the existing report.
	Success  bool   `json:"success"`
	ReportID string `json:"report_id"`

	// Escalated is true when this submission collapsed the target's reports.
	Escalated bool `json:"escalated"`
}

func (s *Service) lock(key string) func() {
	mu, _ := s.locks.LoadOrCompute(key, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	return mu.Unlock
}

// Submit files a report. A reporter may hold one active report per target;
// a repeat returns Success=false with the existing report's ID.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	if err := in.validate(); err != nil {
		return SubmitResult{}, err
	}
	target := in.target()

	existing, err := s.store.FindActiveReport(ctx, in.ReporterID, target)
	switch {
	case err == nil:
		reportsDuplicate.Inc()
		return SubmitResult{Success: false, ReportID: existing.ID}, nil
	case !errors.Is(err, safety.ErrNotFound):
		return SubmitResult{}, err
	}

	now := s.opts.Now()
	r := safety.Report{
		ID:           s.opts.IDGen.GenerateWithPrefix(utils.PrefixReport),
		ReporterID:   in.ReporterID,
		TargetUserID: in.TargetUserID,
		TargetType:   in.TargetType,
		TargetID:     in.TargetID,
		Reason:       in.Reason,
		Description:  in.Description,
		Status:       safety.ReportPending,
		Priority:     PriorityFor(in.Reason, in.Description),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateReport(ctx, r); err != nil {
		if errors.Is(err, safety.ErrDuplicateReport) {
			// lost a race with the same reporter's concurrent submission
			if existing, ferr := s.store.FindActiveReport(ctx, in.ReporterID, target); ferr == nil {
				reportsDuplicate.Inc()
				return SubmitResult{Success: false, ReportID: existing.ID}, nil
			}
		}
		return SubmitResult{}, err
	}
	reportsSubmitted.WithLabelValues(string(r.Priority)).Inc()

	s.logger.Info("report submitted",
		zap.String("report_id", r.ID),
		zap.String("reporter_id", r.ReporterID),
		zap.String("target_user_id", r.TargetUserID),
		zap.String("reason", r.Reason),
		zap.String("priority", string(r.Priority)))

	res := SubmitResult{Success: true, ReportID: r.ID}
	escalated, err := s.collapse(ctx, target)
	if err != nil {
		// the next submission on this target retries the collapse
		s.logger.Warn("report collapse failed", zap.String("report_id", r.ID), zap.Error(err))
		return res, nil
	}
	res.Escalated = escalated
	return res, nil
}

// collapse folds the target's active reports onto the earliest once enough
// distinct reporters have one open.
func (s *Service) collapse(ctx context.Context, target safety.ReportTarget) (bool, error) {
	unlock := s.lock(utils.TupleKey(target.TargetUserID, target.TargetType, target.TargetID))
	defer unlock()

	active, err := s.store.ListActiveByTarget(ctx, target)
	if err != nil {
		return false, err
	}

	reporters := make(map[string]struct{}, len(active))
	for _, r := range active {
		reporters[r.ReporterID] = struct{}{}
	}
	if len(reporters) < s.opts.EscalationThreshold {
		return false, nil
	}

	primary := active[0]
	now := s.opts.Now()
	var dismissed []string
	for _, r := range active[1:] {
		ok, err := s.store.DismissDuplicate(ctx, r.ID, primary.ID, now)
		if err != nil {
			return false, err
		}
		if ok {
			dismissed = append(dismissed, r.ID)
		}
	}
	if len(dismissed) == 0 {
		return false, nil
	}

	if err := s.store.AddDuplicates(ctx, primary.ID, len(dismissed), safety.PriorityHigh, now); err != nil {
		return false, err
	}
	reportsEscalated.Inc()

	priority := primary.Priority
	if priority.Rank() < safety.PriorityHigh.Rank() {
		priority = safety.PriorityHigh
	}
	s.logger.Info("reports collapsed",
		zap.String("primary_report_id", primary.ID),
		zap.String("target_user_id", target.TargetUserID),
		zap.Int("reporters", len(reporters)),
		zap.Int("dismissed", len(dismissed)))

	err = s.opts.Hooks.OnReportEscalated(ctx, hooks.ReportEscalatedEvent{
		PrimaryReportID: primary.ID,
		Target:          target,
		Reporters:       len(reporters),
		Dismissed:       dismissed,
		Priority:        priority,
		Timestamp:       now,
	})
	if err != nil {
		s.logger.Warn("escalation hook failed", zap.String("primary_report_id", primary.ID), zap.Error(err))
	}
	return true, nil
}

// Get returns a report.
func (s *Service) Get(ctx context.Context, reportID string) (*safety.Report, error) {
	return s.store.GetReport(ctx, reportID)
}

// ListActive lists reports matching filter; with no statuses given it lists
// pending and reviewing reports.
func (s *Service) ListActive(ctx context.Context, filter store.ReportFilter) ([]safety.Report, error) {
	if len(filter.Statuses) == 0 {
		filter.Statuses = store.ActiveReportStatuses
	}
	return s.store.ListReports(ctx, filter)
}

func (s *Service) active(ctx context.Context, reportID string) (*safety.Report, error) {
	r, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !r.IsActive() {
		return nil, safety.ErrAlreadyResolved
	}
	return r, nil
}

// Assign puts a report under review by moderatorID.
func (s *Service) Assign(ctx context.Context, reportID, moderatorID string) (*safety.Report, error) {
	if moderatorID == "" {
		return nil, safety.NewValidationError("moderator_id", "required")
	}
	r, err := s.active(ctx, reportID)
	if err != nil {
		return nil, err
	}

	r.Status = safety.ReportReviewing
	r.AssignedModerator = moderatorID
	r.UpdatedAt = s.opts.Now()
	if err := s.store.UpdateReport(ctx, *r); err != nil {
		return nil, err
	}
	s.logger.Info("report assigned", zap.String("report_id", reportID), zap.String("moderator_id", moderatorID))
	return r, nil
}

func validResolution(a safety.ResolutionAction) bool {
	switch a {
	case safety.ResolutionNoAction, safety.ResolutionWarn, safety.ResolutionEscalate,
		safety.ResolutionRemove, safety.ResolutionBan:
		return true
	}
	return false
}

// Resolve closes a report with res. The report is closed first, which makes
// a concurrent second resolution fail with safety.ErrAlreadyResolved, and
// the action's consequence for the target user is applied afterwards.
func (s *Service) Resolve(ctx context.Context, reportID string, res safety.Resolution) (*safety.Report, error) {
	if !validResolution(res.Action) {
		return nil, safety.NewValidationError("action", fmt.Sprintf("unknown resolution %q", res.Action))
	}
	if res.ResolvedBy == "" {
		return nil, safety.NewValidationError("resolved_by", "required")
	}
	if res.Action != safety.ResolutionNoAction && s.opts.Ledger == nil {
		return nil, fmt.Errorf("resolve with %s: %w", res.Action, safety.ErrStoreNotConfigured)
	}

	r, err := s.active(ctx, reportID)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now()
	res.ResolvedAt = now
	r.Status = safety.ReportResolved
	r.Resolution = &res
	r.UpdatedAt = now
	if r.AssignedModerator == "" {
		r.AssignedModerator = res.ResolvedBy
	}
	if err := s.store.UpdateReport(ctx, *r); err != nil {
		return nil, err
	}
	reportsClosed.WithLabelValues(string(res.Action)).Inc()

	s.logger.Info("report resolved",
		zap.String("report_id", reportID),
		zap.String("action", string(res.Action)),
		zap.String("resolved_by", res.ResolvedBy))

	if err := s.apply(ctx, r, res); err != nil {
		return r, fmt.Errorf("apply %s for report %s: %w", res.Action, reportID, err)
	}
	return r, nil
}

// apply carries out a resolution against the reported user.
func (s *Service) apply(ctx context.Context, r *safety.Report, res safety.Resolution) error {
	reason := fmt.Sprintf("report %s upheld: %s", r.ID, r.Reason)
	if res.Notes != "" {
		reason += ": " + res.Notes
	}

	switch res.Action {
	case safety.ResolutionWarn, safety.ResolutionEscalate:
		v := ledger.Violation{
			UserID:      r.TargetUserID,
			TargetType:  r.TargetType,
			TargetID:    r.TargetID,
			Category:    CategoryFor(r.Reason),
			Reason:      reason,
			Confidence:  1,
			ModeratorID: res.ResolvedBy,
			Metadata:    map[string]any{"report_id": r.ID, "duplicate_count": r.DuplicateCount},
		}
		if res.Action == safety.ResolutionWarn {
			v.Severity = safety.SeverityLow
		}
		_, _, err := s.opts.Ledger.RecordViolation(ctx, v)
		return err

	case safety.ResolutionRemove:
		action := safety.LogBlockedText
		if r.TargetType == "image" || r.TargetType == string(safety.ContentImageUpload) {
			action = safety.LogBlockedImage
		}
		_, err := s.opts.Ledger.RecordAction(ctx, safety.LogEntry{
			UserID:      r.TargetUserID,
			TargetType:  r.TargetType,
			TargetID:    r.TargetID,
			Action:      action,
			Reason:      reason,
			Category:    CategoryFor(r.Reason),
			Severity:    safety.SeverityMedium,
			ModeratorID: res.ResolvedBy,
			Confidence:  1,
			Appealable:  true,
			Metadata:    map[string]any{"report_id": r.ID},
		})
		return err

	case safety.ResolutionBan:
		_, err := s.opts.Ledger.ManualBan(ctx, r.TargetUserID, res.ResolvedBy, reason)
		return err
	}
	return nil
}

// Dismiss closes a report without action.
func (s *Service) Dismiss(ctx context.Context, reportID, moderatorID, notes string) (*safety.Report, error) {
	if moderatorID == "" {
		return nil, safety.NewValidationError("moderator_id", "required")
	}
	r, err := s.active(ctx, reportID)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now()
	r.Status = safety.ReportDismissed
	r.Resolution = &safety.Resolution{
		Action:     safety.ResolutionNoAction,
		Notes:      notes,
		ResolvedAt: now,
		ResolvedBy: moderatorID,
	}
	r.UpdatedAt = now
	if err := s.store.UpdateReport(ctx, *r); err != nil {
		return nil, err
	}
	reportsClosed.WithLabelValues("dismissed").Inc()
	s.logger.Info("report dismissed", zap.String("report_id", reportID), zap.String("moderator_id", moderatorID))
	return r, nil
}
