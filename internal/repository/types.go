package repository

import "time"

// ── Closed enums over the produced contract ──────────────────────────────────

// Action is the classification a rule assigns to matching commands.
type Action string

const (
	ActionAutoAccept    Action = "AUTO_ACCEPT"
	ActionAutoReject    Action = "AUTO_REJECT"
	ActionNeedsApproval Action = "NEEDS_APPROVAL"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionAutoAccept, ActionAutoReject, ActionNeedsApproval:
		return true
	}
	return false
}

// CommandStatus is the lifecycle state of a submitted command. EXECUTED,
// REJECTED and FAILED are terminal.
type CommandStatus string

const (
	CommandPending       CommandStatus = "PENDING"
	CommandExecuted      CommandStatus = "EXECUTED"
	CommandRejected      CommandStatus = "REJECTED"
	CommandNeedsApproval CommandStatus = "NEEDS_APPROVAL"
	CommandFailed        CommandStatus = "FAILED"
)

// ApprovalStatus is the lifecycle state of an approval request. All states
// except PENDING are terminal.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
)

// Vote is an admin's decision on an approval request.
type Vote string

const (
	VoteApprove Vote = "APPROVE"
	VoteReject  Vote = "REJECT"
)

// Valid reports whether v is a known vote value.
func (v Vote) Valid() bool {
	return v == VoteApprove || v == VoteReject
}

// Role is a user's authorization level.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleAdmin
}

// Tier is a user's seniority classification, which can modulate how many
// admin approvals their commands need.
type Tier string

const (
	TierJunior Tier = "junior"
	TierMid    Tier = "mid"
	TierSenior Tier = "senior"
	TierLead   Tier = "lead"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierJunior, TierMid, TierSenior, TierLead:
		return true
	}
	return false
}

// Tiers lists all known tiers.
func Tiers() []Tier {
	return []Tier{TierJunior, TierMid, TierSenior, TierLead}
}

// TierThresholds maps tiers to per-tier approval-count overrides. Stored as
// JSONB on the rule row.
type TierThresholds map[Tier]int

// Audit action types recorded on state transitions.
const (
	AuditCommandExecuted        = "COMMAND_EXECUTED"
	AuditCommandRejected        = "COMMAND_REJECTED"
	AuditCommandPendingApproval = "COMMAND_PENDING_APPROVAL"
	AuditApprovalVoteCast       = "APPROVAL_VOTE_CAST"
	AuditApprovalRejected       = "APPROVAL_REJECTED"
	AuditApprovalExpired        = "APPROVAL_EXPIRED"
	AuditRuleCreated            = "RULE_CREATED"
	AuditRuleUpdated            = "RULE_UPDATED"
	AuditRuleDeleted            = "RULE_DELETED"
	AuditUserCreated            = "USER_CREATED"
)

// ── Entities ─────────────────────────────────────────────────────────────────

// User is an authenticated principal. CreditBalance never goes negative.
type User struct {
	ID                string
	Username          string
	Email             *string
	NotificationEmail *string
	Role              Role
	Tier              Tier
	CreditBalance     int
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Rule maps a regular-expression pattern to an action. Rules are soft-deleted
// only; CreatedAt doubles as match priority (earliest wins).
type Rule struct {
	ID                string
	Pattern           string
	Action            Action
	Description       *string
	ApprovalThreshold int
	TierThresholds    TierThresholds
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Command is one submitted command and its recorded fate. Execution is always
// a simulated placeholder, never a real process.
type Command struct {
	ID            string
	UserID        string
	CommandText   string
	Status        CommandStatus
	MatchedRuleID *string
	CreditsUsed   int
	Output        *string
	ErrorMessage  *string
	StartedAt     time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

// ApprovalRequest is the pending-decision record for one NEEDS_APPROVAL
// command. RequiredApprovals is immutable once set.
type ApprovalRequest struct {
	ID                string
	CommandID         string
	RequestedBy       string
	RequiredApprovals int
	CurrentApprovals  int
	Status            ApprovalStatus
	RejectionReason   *string
	NotifiedAt        *time.Time
	ExpiresAt         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ThresholdMet reports whether the quorum has been reached.
func (r *ApprovalRequest) ThresholdMet() bool {
	return r.CurrentApprovals >= r.RequiredApprovals
}

// EffectiveStatus is the status as of now: a stored PENDING past its deadline
// reads as EXPIRED even before a touch point persists the transition.
func (r *ApprovalRequest) EffectiveStatus(now time.Time) ApprovalStatus {
	if r.Status == ApprovalPending && !now.Before(r.ExpiresAt) {
		return ApprovalExpired
	}
	return r.Status
}

// ApprovalVote is one admin's vote on a request. At most one vote exists per
// (request, admin) pair.
type ApprovalVote struct {
	ID                string
	ApprovalRequestID string
	AdminID           string
	AdminUsername     string
	Vote              Vote
	Comment           *string
	CreatedAt         time.Time
}

// AuditLogEntry is one immutable record in the audit trail.
type AuditLogEntry struct {
	ID           string
	UserID       *string
	ActionType   string
	ResourceType *string
	ResourceID   *string
	OldValues    map[string]any
	NewValues    map[string]any
	Metadata     map[string]any
	IPAddress    *string
	UserAgent    *string
	CreatedAt    time.Time
}

// AuditFilter narrows audit trail queries.
type AuditFilter struct {
	UserID       *string
	ActionType   *string
	ResourceType *string
	Limit        int
}
