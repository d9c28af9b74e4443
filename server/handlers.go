package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/client"
	"github.com/heibot/safety/report"
	"github.com/heibot/safety/store"
	"github.com/heibot/safety/visibility"
)

type evaluateRequest struct {
	UserID      string             `json:"user_id"`
	ContentType safety.ContentType `json:"content_type"`
	Text        string             `json:"text"`
	Image       []byte             `json:"image"` // base64 in JSON
	ImageURL    string             `json:"image_url"`
	TargetID    string             `json:"target_id"`
}

func (r evaluateRequest) content() client.Content {
	return client.Content{Text: r.Text, Image: r.Image, ImageURL: r.ImageURL, TargetID: r.TargetID}
}

type evaluateResponse struct {
	safety.Decision
	// Recorded is false when a denial could not be written to the ledger.
	Recorded bool `json:"recorded"`
}

func (s *Server) handleEvaluate(c echo.Context) error {
	var req evaluateRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	d, err := s.svc.Client.EvaluateContent(c.Request().Context(), req.content(), req.ContentType, req.UserID)
	if err != nil && d.Action == "" {
		return err
	}
	if err != nil {
		// the denial stands even though it was not recorded
		s.logger.Error("denial not recorded", zap.String("user_id", req.UserID), zap.Error(err))
	}
	return c.JSON(http.StatusOK, evaluateResponse{Decision: d, Recorded: err == nil})
}

type fieldsRequest struct {
	UserID   string `json:"user_id"`
	TargetID string `json:"target_id"`
	Fields   []struct {
		Field       string             `json:"field"`
		ContentType safety.ContentType `json:"content_type"`
		Text        string             `json:"text"`
		OnBlock     client.BlockAction `json:"on_block"`
		ReplaceWith string             `json:"replace_with"`
	} `json:"fields"`
}

func (s *Server) handleEvaluateFields(c echo.Context) error {
	var req fieldsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	in := client.FieldsInput{UserID: req.UserID, TargetID: req.TargetID}
	for _, f := range req.Fields {
		in.Fields = append(in.Fields, client.FieldInput{
			Field:       f.Field,
			ContentType: f.ContentType,
			Text:        f.Text,
			OnBlock:     f.OnBlock,
			ReplaceWith: f.ReplaceWith,
		})
	}

	res, err := s.svc.Client.EvaluateFields(c.Request().Context(), in)
	if err != nil && res == nil {
		return err
	}
	if err != nil {
		s.logger.Error("field denial not recorded", zap.String("user_id", req.UserID), zap.Error(err))
	}
	return c.JSON(http.StatusOK, res)
}

type batchRequest struct {
	Items []struct {
		ID string `json:"id"`
		evaluateRequest
	} `json:"items"`
	Concurrency int `json:"concurrency"`
}

type batchItemResponse struct {
	Decision *safety.Decision `json:"decision,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (s *Server) handleEvaluateBatch(c echo.Context) error {
	var req batchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	items := make([]client.BatchItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = client.BatchItem{ID: it.ID, UserID: it.UserID, ContentType: it.ContentType, Content: it.content()}
	}

	res, err := s.svc.Client.EvaluateBatch(c.Request().Context(), items, client.BatchOptions{Concurrency: req.Concurrency})
	if err != nil {
		return err
	}

	out := make(map[string]batchItemResponse, len(res.Results))
	for id, r := range res.Results {
		var item batchItemResponse
		if r.Decision.Action != "" {
			d := r.Decision
			item.Decision = &d
		}
		if r.Err != nil {
			item.Error = r.Err.Error()
		}
		out[id] = item
	}
	return c.JSON(http.StatusOK, map[string]any{
		"results":       out,
		"action":        res.Action,
		"blocked_count": res.BlockedCount,
		"passed_count":  res.PassedCount,
		"error_count":   res.ErrorCount,
	})
}

func (s *Server) handleSanitize(c echo.Context) error {
	var req struct {
		Text string `json:"text"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	out, changed := s.svc.Client.Sanitize(req.Text)
	return c.JSON(http.StatusOK, map[string]any{"text": out, "changed": changed})
}

func (s *Server) handleCanAct(c echo.Context) error {
	ok, err := s.svc.Ledger.CanUserPerformAction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"allowed": ok})
}

func (s *Server) handleSubmitReport(c echo.Context) error {
	var req report.SubmitInput
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.svc.Reports.Submit(c.Request().Context(), req)
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if !res.Success {
		status = http.StatusOK
	}
	return c.JSON(status, res)
}

type blockRequest struct {
	BlockerID     string `json:"blocker_id"`
	BlockedUserID string `json:"blocked_user_id"`
	Reason        string `json:"reason"`
	Description   string `json:"description"`
}

func (s *Server) handleBlock(c echo.Context) error {
	var req blockRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	b, err := s.svc.Blocks.Block(c.Request().Context(), req.BlockerID, req.BlockedUserID, req.Reason, req.Description)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (s *Server) handleUnblock(c echo.Context) error {
	var req blockRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.svc.Blocks.Unblock(c.Request().Context(), req.BlockerID, req.BlockedUserID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListBlocks(c echo.Context) error {
	list, err := s.svc.Blocks.ListBlocked(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"blocks": list})
}

type renderRequest struct {
	ViewerRole visibility.ViewerRole `json:"viewer_role"`
	Fields     []struct {
		Field       string             `json:"field"`
		ContentType safety.ContentType `json:"content_type"`
		Value       string             `json:"value"`
		Masked      string             `json:"masked"`
		Decision    *safety.Decision   `json:"decision"`
	} `json:"fields"`
}

func (s *Server) handleRender(c echo.Context) error {
	var req renderRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	role := req.ViewerRole
	switch role {
	case "":
		role = visibility.ViewerPublic
	case visibility.ViewerPublic, visibility.ViewerCreator, visibility.ViewerAdmin:
	default:
		return safety.NewValidationError("viewer_role", "unknown role")
	}
	if len(req.Fields) == 0 {
		return safety.NewValidationError("fields", "required")
	}

	fields := make([]visibility.FieldData, 0, len(req.Fields))
	for _, f := range req.Fields {
		if f.Field == "" {
			return safety.NewValidationError("field", "required")
		}
		if !f.ContentType.Valid() {
			return safety.NewValidationError("content_type", "unknown content type")
		}
		fields = append(fields, visibility.FieldData{
			Field:       f.Field,
			ContentType: f.ContentType,
			RawValue:    f.Value,
			Masked:      f.Masked,
			Decision:    f.Decision,
		})
	}
	return c.JSON(http.StatusOK, s.svc.Renderer.Render(role, fields))
}

type chatRequest struct {
	TribeID string `json:"tribe_id"`
	UserID  string `json:"user_id"`
	Text    string `json:"text"`

	// ActorID is the captain or moderator performing an admin action.
	ActorID string `json:"actor_id"`
	Hours   int    `json:"hours"`
	Reason  string `json:"reason"`

	BlockedUserID string                       `json:"blocked_user_id"`
	Settings      *safety.NotificationSettings `json:"settings"`

	ViewerID   string                `json:"viewer_id"`
	ViewerRole visibility.ViewerRole `json:"viewer_role"`
}

type chatCheckResponse struct {
	Allowed    bool   `json:"allowed"`
	MaskedText string `json:"masked_text"`
	Violation  bool   `json:"violation"`
	AutoMuted  bool   `json:"auto_muted"`
	Remaining  int    `json:"remaining"`
	ResetAt    int64  `json:"reset_at"`
}

func (s *Server) handleChatCheck(c echo.Context) error {
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.svc.Chat.CheckCanSend(c.Request().Context(), req.UserID, req.TribeID, req.Text)
	if err != nil {
		if !res.RateLimit.ResetAt.IsZero() {
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter(res.RateLimit.ResetAt)))
		}
		return err
	}
	return c.JSON(http.StatusOK, chatCheckResponse{
		Allowed:    res.Allowed,
		MaskedText: res.MaskedText,
		Violation:  res.Violation,
		AutoMuted:  res.AutoMuted,
		Remaining:  res.RateLimit.Remaining,
		ResetAt:    res.RateLimit.ResetAt.Unix(),
	})
}

func (s *Server) handleChatMute(c echo.Context) error {
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.svc.Chat.Mute(c.Request().Context(), req.TribeID, req.UserID, req.ActorID, req.Hours, req.Reason); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleChatBlock(c echo.Context) error {
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.svc.Chat.BlockInTribe(c.Request().Context(), req.TribeID, req.UserID, req.BlockedUserID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleChatUnblock(c echo.Context) error {
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.svc.Chat.UnblockInTribe(c.Request().Context(), req.TribeID, req.UserID, req.BlockedUserID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleChatNotifications(c echo.Context) error {
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Settings == nil {
		return safety.NewValidationError("settings", "required")
	}
	if err := s.svc.Chat.SetNotificationSettings(c.Request().Context(), req.TribeID, req.UserID, *req.Settings); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleChatCanView(c echo.Context) error {
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := required("tribe_id", req.TribeID, "user_id", req.UserID, "viewer_id", req.ViewerID); err != nil {
		return err
	}
	role := req.ViewerRole
	if role == "" {
		role = visibility.ViewerPublic
	}
	ok, err := s.svc.Chat.CanView(c.Request().Context(), req.TribeID, req.UserID, req.ViewerID, role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"visible": ok})
}

// Admin routes.

type moderatorRequest struct {
	ModeratorID string                  `json:"moderator_id"`
	Action      safety.ResolutionAction `json:"action"`
	Notes       string                  `json:"notes"`
	Reason      string                  `json:"reason"`
	Approved    bool                    `json:"approved"`
}

func (s *Server) handleListReports(c echo.Context) error {
	f := store.ReportFilter{
		TargetUserID:      c.QueryParam("target_user_id"),
		AssignedModerator: c.QueryParam("assigned_moderator"),
	}
	for _, st := range c.QueryParams()["status"] {
		f.Statuses = append(f.Statuses, safety.ReportStatus(st))
	}
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return safety.NewValidationError("limit", "must be a non-negative integer")
		}
		f.Limit = n
	}
	list, err := s.svc.Reports.ListActive(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"reports": list})
}

func (s *Server) handleGetReport(c echo.Context) error {
	r, err := s.svc.Reports.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleAssignReport(c echo.Context) error {
	var req moderatorRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	r, err := s.svc.Reports.Assign(c.Request().Context(), c.Param("id"), req.ModeratorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleResolveReport(c echo.Context) error {
	var req moderatorRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	r, err := s.svc.Reports.Resolve(c.Request().Context(), c.Param("id"), safety.Resolution{
		Action:     req.Action,
		Notes:      req.Notes,
		ResolvedBy: req.ModeratorID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleDismissReport(c echo.Context) error {
	var req moderatorRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	r, err := s.svc.Reports.Dismiss(c.Request().Context(), c.Param("id"), req.ModeratorID, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleReverse(c echo.Context) error {
	var req moderatorRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.svc.Ledger.Reverse(c.Request().Context(), c.Param("id"), req.ModeratorID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAppeal(c echo.Context) error {
	var req moderatorRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	e, err := s.svc.Ledger.Appeal(c.Request().Context(), c.Param("id"), req.Approved, req.ModeratorID, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handleHistory(c echo.Context) error {
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			return safety.NewValidationError("limit", "must be a positive integer")
		}
		limit = n
	}
	entries, err := s.svc.Ledger.History(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleBan(c echo.Context) error {
	var req moderatorRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	e, err := s.svc.Ledger.ManualBan(c.Request().Context(), c.Param("id"), req.ModeratorID, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e)
}

func (s *Server) handleUnban(c echo.Context) error {
	var req moderatorRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	n, err := s.svc.Ledger.ManualUnban(c.Request().Context(), c.Param("id"), req.ModeratorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"resolved": n})
}

func (s *Server) handleChatUnmute(c echo.Context) error {
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.svc.Chat.Unmute(c.Request().Context(), req.TribeID, req.UserID, req.ActorID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleChatShadowban(c echo.Context) error {
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.svc.Chat.Shadowban(c.Request().Context(), req.TribeID, req.UserID, req.ActorID, req.Hours, req.Reason); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleChatUnshadowban(c echo.Context) error {
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.svc.Chat.LiftShadowban(c.Request().Context(), req.TribeID, req.UserID, req.ActorID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
