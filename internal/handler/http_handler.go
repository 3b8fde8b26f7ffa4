package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/unboundops/be-cmd-gateway/internal/errors"
	"github.com/unboundops/be-cmd-gateway/internal/platform/logger"
	"github.com/unboundops/be-cmd-gateway/internal/repository"
	"github.com/unboundops/be-cmd-gateway/internal/service"
)

// HTTPHandler exposes the gateway API over HTTP.
type HTTPHandler struct {
	users     *service.UserService
	rules     *service.RuleService
	commands  *service.CommandService
	approvals *service.ApprovalService
	audit     *service.AuditService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	users *service.UserService,
	rules *service.RuleService,
	commands *service.CommandService,
	approvals *service.ApprovalService,
	audit *service.AuditService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		users:     users,
		rules:     rules,
		commands:  commands,
		approvals: approvals,
		audit:     audit,
		log:       log,
	}
}

// Routes builds the API mux. Member endpoints require a valid API key; rule
// management, approvals and the audit trail are admin-only.
func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /users", h.CreateUser)
	mux.HandleFunc("POST /users/switch", h.SwitchUser)
	mux.HandleFunc("GET /users/me", h.authenticate(h.Me))

	mux.HandleFunc("POST /rules", h.requireAdmin(h.CreateRule))
	mux.HandleFunc("GET /rules", h.authenticate(h.ListRules))
	mux.HandleFunc("GET /rules/{id}", h.authenticate(h.GetRule))
	mux.HandleFunc("PUT /rules/{id}", h.requireAdmin(h.UpdateRule))
	mux.HandleFunc("DELETE /rules/{id}", h.requireAdmin(h.DeleteRule))
	mux.HandleFunc("POST /rules/conflicts", h.requireAdmin(h.CheckRuleConflicts))

	mux.HandleFunc("POST /commands", h.authenticate(h.SubmitCommand))
	mux.HandleFunc("GET /commands", h.authenticate(h.ListCommands))
	mux.HandleFunc("GET /commands/{id}", h.authenticate(h.GetCommand))

	mux.HandleFunc("GET /approvals", h.requireAdmin(h.ListApprovals))
	mux.HandleFunc("GET /approvals/{id}", h.requireAdmin(h.GetApproval))
	mux.HandleFunc("POST /approvals/{id}/vote", h.requireAdmin(h.CastVote))
	mux.HandleFunc("GET /approvals/{id}/votes", h.requireAdmin(h.ListVotes))

	mux.HandleFunc("GET /audit-logs", h.requireAdmin(h.ListAuditLogs))
	mux.HandleFunc("GET /audit-logs/{id}", h.requireAdmin(h.GetAuditLog))

	return mux
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── users ────────────────────────────────────────────────────────────────────

type createUserRequest struct {
	Username          string  `json:"username"`
	Email             *string `json:"email"`
	NotificationEmail *string `json:"notification_email"`
	Role              string  `json:"role"`
	UserTier          string  `json:"user_tier"`
}

type userResponse struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	Email             *string   `json:"email"`
	NotificationEmail *string   `json:"notification_email"`
	Role              string    `json:"role"`
	UserTier          string    `json:"user_tier"`
	CreditBalance     int       `json:"credit_balance"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

type userWithKeyResponse struct {
	userResponse
	APIKey string `json:"api_key"`
}

// CreateUser registers a user. The plaintext API key appears only in this
// response.
func (h *HTTPHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	user, apiKey, err := h.users.CreateUser(r.Context(), &service.CreateUserRequest{
		Username:          req.Username,
		Email:             req.Email,
		NotificationEmail: req.NotificationEmail,
		Role:              repository.Role(req.Role),
		Tier:              repository.Tier(req.UserTier),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, userWithKeyResponse{
		userResponse: toUserResponse(user),
		APIKey:       apiKey,
	})
}

// SwitchUser rotates the API key for a username and returns the new key.
func (h *HTTPHandler) SwitchUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	user, apiKey, err := h.users.RotateAPIKey(r.Context(), req.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, userWithKeyResponse{
		userResponse: toUserResponse(user),
		APIKey:       apiKey,
	})
}

// Me returns the authenticated user.
func (h *HTTPHandler) Me(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, toUserResponse(currentUser(r)))
}

// ── rules ────────────────────────────────────────────────────────────────────

type ruleRequest struct {
	Pattern           string         `json:"pattern"`
	Action            string         `json:"action"`
	Description       *string        `json:"description"`
	ApprovalThreshold int            `json:"approval_threshold"`
	TierThresholds    map[string]int `json:"tier_thresholds"`
}

type ruleResponse struct {
	ID                string         `json:"id"`
	Pattern           string         `json:"pattern"`
	Action            string         `json:"action"`
	Description       *string        `json:"description"`
	ApprovalThreshold int            `json:"approval_threshold"`
	TierThresholds    map[string]int `json:"tier_thresholds,omitempty"`
	IsActive          bool           `json:"is_active"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// CreateRule creates a classification rule.
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	rule, err := h.rules.CreateRule(r.Context(), &service.CreateRuleRequest{
		Pattern:           req.Pattern,
		Action:            repository.Action(req.Action),
		Description:       req.Description,
		ApprovalThreshold: req.ApprovalThreshold,
		TierThresholds:    toTierThresholds(req.TierThresholds),
		ActorID:           currentUser(r).ID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toRuleResponse(rule))
}

// ListRules returns rules in match-priority order. active_only=true narrows
// to live rules.
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"
	list, err := h.rules.ListRules(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]ruleResponse, 0, len(list))
	for _, rule := range list {
		out = append(out, toRuleResponse(rule))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

// GetRule returns one rule.
func (h *HTTPHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

// UpdateRule applies a partial update to a rule.
func (h *HTTPHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pattern           *string        `json:"pattern"`
		Action            *string        `json:"action"`
		Description       *string        `json:"description"`
		ApprovalThreshold *int           `json:"approval_threshold"`
		TierThresholds    map[string]int `json:"tier_thresholds"`
		IsActive          *bool          `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	update := &service.UpdateRuleRequest{
		ID:                r.PathValue("id"),
		Pattern:           req.Pattern,
		Description:       req.Description,
		ApprovalThreshold: req.ApprovalThreshold,
		TierThresholds:    toTierThresholds(req.TierThresholds),
		IsActive:          req.IsActive,
		ActorID:           currentUser(r).ID,
	}
	if req.Action != nil {
		action := repository.Action(*req.Action)
		update.Action = &action
	}

	rule, err := h.rules.UpdateRule(r.Context(), update)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

// DeleteRule soft-deletes a rule.
func (h *HTTPHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.DeleteRule(r.Context(), r.PathValue("id"), currentUser(r).ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckRuleConflicts runs the advisory conflict probe for a candidate rule.
func (h *HTTPHandler) CheckRuleConflicts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pattern string `json:"pattern"`
		Action  string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	conflicts, err := h.rules.CheckConflicts(r.Context(), req.Pattern, repository.Action(req.Action))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	type conflictResponse struct {
		RuleID   string `json:"rule_id"`
		Pattern  string `json:"pattern"`
		Action   string `json:"action"`
		TestCase string `json:"test_case"`
		Severity string `json:"severity"`
	}
	out := make([]conflictResponse, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, conflictResponse{
			RuleID:   c.Rule.ID,
			Pattern:  c.Rule.Pattern,
			Action:   string(c.Rule.Action),
			TestCase: c.TestCase,
			Severity: string(c.Severity),
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"has_conflicts": len(out) > 0,
		"conflicts":     out,
	})
}

// ── commands ─────────────────────────────────────────────────────────────────

type commandResponse struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	CommandText   string     `json:"command_text"`
	Status        string     `json:"status"`
	MatchedRuleID *string    `json:"matched_rule_id"`
	CreditsUsed   int        `json:"credits_used"`
	Output        *string    `json:"output"`
	ErrorMessage  *string    `json:"error_message"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// SubmitCommand admits a command for the authenticated user.
func (h *HTTPHandler) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommandText string `json:"command_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	result, err := h.commands.Submit(r.Context(), currentUser(r), req.CommandText)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := map[string]any{
		"command":        toCommandResponse(result.Command),
		"credit_balance": result.CreditBalance,
	}
	if result.ApprovalRequest != nil {
		resp["approval_request"] = toApprovalResponse(result.ApprovalRequest)
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// ListCommands returns command history for the caller (all users for admins).
func (h *HTTPHandler) ListCommands(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.commands.ListCommands(r.Context(), currentUser(r), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]commandResponse, 0, len(list))
	for _, cmd := range list {
		out = append(out, toCommandResponse(cmd))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"commands": out})
}

// GetCommand returns one command, scoped to the caller unless admin.
func (h *HTTPHandler) GetCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.commands.GetCommand(r.Context(), r.PathValue("id"), currentUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toCommandResponse(cmd))
}

// ── approvals ────────────────────────────────────────────────────────────────

type approvalResponse struct {
	ID                string     `json:"id"`
	CommandID         string     `json:"command_id"`
	RequestedBy       string     `json:"requested_by"`
	RequiredApprovals int        `json:"required_approvals"`
	CurrentApprovals  int        `json:"current_approvals"`
	ThresholdMet      bool       `json:"threshold_met"`
	Status            string     `json:"status"`
	RejectionReason   *string    `json:"rejection_reason"`
	ExpiresAt         time.Time  `json:"expires_at"`
	NotifiedAt        *time.Time `json:"notified_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ListApprovals returns approval requests, filterable by status and requester.
func (h *HTTPHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	var status *repository.ApprovalStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := repository.ApprovalStatus(s)
		status = &st
	}
	var requestedBy *string
	if u := r.URL.Query().Get("requested_by"); u != "" {
		requestedBy = &u
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.approvals.ListRequests(r.Context(), status, requestedBy, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]approvalResponse, 0, len(list))
	for _, req := range list {
		out = append(out, toApprovalResponse(req))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"approval_requests": out})
}

// GetApproval returns one approval request, expiring it first when overdue.
func (h *HTTPHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	req, err := h.approvals.GetRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toApprovalResponse(req))
}

// CastVote records the calling admin's vote.
func (h *HTTPHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vote    string  `json:"vote"`
		Comment *string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	result, err := h.approvals.CastVote(r.Context(), &service.CastVoteRequest{
		RequestID: r.PathValue("id"),
		Admin:     currentUser(r),
		Vote:      repository.Vote(req.Vote),
		Comment:   req.Comment,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := map[string]any{
		"approval_request": toApprovalResponse(result.Request),
	}
	if result.Command != nil {
		resp["command"] = toCommandResponse(result.Command)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ListVotes returns the votes cast on a request.
func (h *HTTPHandler) ListVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := h.approvals.GetVotes(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	type voteResponse struct {
		ID            string    `json:"id"`
		AdminID       string    `json:"admin_id"`
		AdminUsername string    `json:"admin_username"`
		Vote          string    `json:"vote"`
		Comment       *string   `json:"comment"`
		CreatedAt     time.Time `json:"created_at"`
	}
	out := make([]voteResponse, 0, len(votes))
	for _, v := range votes {
		out = append(out, voteResponse{
			ID:            v.ID,
			AdminID:       v.AdminID,
			AdminUsername: v.AdminUsername,
			Vote:          string(v.Vote),
			Comment:       v.Comment,
			CreatedAt:     v.CreatedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"votes": out})
}

// ── audit trail ──────────────────────────────────────────────────────────────

type auditResponse struct {
	ID           string         `json:"id"`
	UserID       *string        `json:"user_id"`
	ActionType   string         `json:"action_type"`
	ResourceType *string        `json:"resource_type"`
	ResourceID   *string        `json:"resource_id"`
	OldValues    map[string]any `json:"old_values,omitempty"`
	NewValues    map[string]any `json:"new_values,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ListAuditLogs returns audit entries newest-first.
func (h *HTTPHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	filter := repository.AuditFilter{}
	if v := r.URL.Query().Get("user_id"); v != "" {
		filter.UserID = &v
	}
	if v := r.URL.Query().Get("action_type"); v != "" {
		filter.ActionType = &v
	}
	if v := r.URL.Query().Get("resource_type"); v != "" {
		filter.ResourceType = &v
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.audit.ListEntries(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditResponse(e))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"audit_logs": out})
}

// GetAuditLog returns one audit entry.
func (h *HTTPHandler) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	entry, err := h.audit.GetEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toAuditResponse(entry))
}

// ── response helpers ─────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	code := errors.CodeOf(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs.
		h.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		message = "internal server error"
	}

	h.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func toUserResponse(u *repository.User) userResponse {
	return userResponse{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		NotificationEmail: u.NotificationEmail,
		Role:              string(u.Role),
		UserTier:          string(u.Tier),
		CreditBalance:     u.CreditBalance,
		IsActive:          u.IsActive,
		CreatedAt:         u.CreatedAt,
	}
}

func toRuleResponse(rule *repository.Rule) ruleResponse {
	var thresholds map[string]int
	if rule.TierThresholds != nil {
		thresholds = make(map[string]int, len(rule.TierThresholds))
		for tier, n := range rule.TierThresholds {
			thresholds[string(tier)] = n
		}
	}
	return ruleResponse{
		ID:                rule.ID,
		Pattern:           rule.Pattern,
		Action:            string(rule.Action),
		Description:       rule.Description,
		ApprovalThreshold: rule.ApprovalThreshold,
		TierThresholds:    thresholds,
		IsActive:          rule.IsActive,
		CreatedAt:         rule.CreatedAt,
		UpdatedAt:         rule.UpdatedAt,
	}
}

func toCommandResponse(cmd *repository.Command) commandResponse {
	return commandResponse{
		ID:            cmd.ID,
		UserID:        cmd.UserID,
		CommandText:   cmd.CommandText,
		Status:        string(cmd.Status),
		MatchedRuleID: cmd.MatchedRuleID,
		CreditsUsed:   cmd.CreditsUsed,
		Output:        cmd.Output,
		ErrorMessage:  cmd.ErrorMessage,
		StartedAt:     cmd.StartedAt,
		CompletedAt:   cmd.CompletedAt,
		CreatedAt:     cmd.CreatedAt,
	}
}

func toApprovalResponse(req *repository.ApprovalRequest) approvalResponse {
	return approvalResponse{
		ID:                req.ID,
		CommandID:         req.CommandID,
		RequestedBy:       req.RequestedBy,
		RequiredApprovals: req.RequiredApprovals,
		CurrentApprovals:  req.CurrentApprovals,
		ThresholdMet:      req.ThresholdMet(),
		Status:            string(req.EffectiveStatus(time.Now().UTC())),
		RejectionReason:   req.RejectionReason,
		ExpiresAt:         req.ExpiresAt,
		NotifiedAt:        req.NotifiedAt,
		CreatedAt:         req.CreatedAt,
	}
}

func toAuditResponse(e *repository.AuditLogEntry) auditResponse {
	return auditResponse{
		ID:           e.ID,
		UserID:       e.UserID,
		ActionType:   e.ActionType,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		OldValues:    e.OldValues,
		NewValues:    e.NewValues,
		Metadata:     e.Metadata,
		CreatedAt:    e.CreatedAt,
	}
}

func toTierThresholds(m map[string]int) repository.TierThresholds {
	if m == nil {
		return nil
	}
	tt := make(repository.TierThresholds, len(m))
	for tier, n := range m {
		tt[repository.Tier(tier)] = n
	}
	return tt
}
