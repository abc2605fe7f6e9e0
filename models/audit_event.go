package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity ranks an audit event by operational impact
type Severity string

const (
	SeverityLow    Severity = "BAIXA"
	SeverityMedium Severity = "MEDIA"
	SeverityHigh   Severity = "ALTA"
)

// Severities lists every severity from lowest to highest impact
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh}

// Rank orders severities; unknown values rank below BAIXA
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the known severities
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// ParseSeverity accepts a severity in any letter case
func ParseSeverity(value string) (Severity, error) {
	s := Severity(strings.ToUpper(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", value)
	}
	return s, nil
}

// Audit actions written by this service
const (
	ActionLogin                    = "LOGIN"
	ActionLoginFailed              = "LOGIN_FAILED"
	ActionLoginUnauthorizedService = "LOGIN_UNAUTHORIZED_SERVICE"
	ActionLogout                   = "LOGOUT"
	ActionTokenRefresh             = "TOKEN_REFRESH"
	ActionTokenRefreshDenied       = "TOKEN_REFRESH_DENIED"
	ActionPasswordChanged          = "PASSWORD_CHANGED"
	ActionPasswordResetRequested   = "PASSWORD_RESET_REQUESTED"
	ActionPasswordReset            = "PASSWORD_RESET"
	ActionAccessDenied             = "ACCESS_DENIED"
)

// Audit modules
const (
	ModuleAuth   = "AUTH"
	ModuleAudit  = "AUDIT"
	ModuleCFTV   = "CFTV"
	ModuleFiles  = "FILES"
	ModuleSystem = "SYSTEM"
)

// TargetNone is stored when an event has no meaningful target
const TargetNone = "N/A"

// Actor is a snapshot of who performed an action
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// TenantRef is a snapshot of the organization an action happened in
type TenantRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AuditEvent is an immutable audit trail row. Actor and tenant are copied by value
// so the row stays readable after either is changed or deleted.
type AuditEvent struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Action     string    `json:"action" db:"action"`
	Module     string    `json:"module" db:"module"`
	Target     string    `json:"target" db:"target"`
	Details    string    `json:"details" db:"details"`
	Severity   Severity  `json:"severity" db:"severity"`
	ActorID    string    `json:"actorId" db:"actor_id"`
	ActorName  string    `json:"actorName" db:"actor_name"`
	ActorRole  string    `json:"actorRole" db:"actor_role"`
	TenantID   string    `json:"tenantId" db:"tenant_id"`
	TenantName string    `json:"tenantName" db:"tenant_name"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// TableName returns the table name for the AuditEvent model
func (AuditEvent) TableName() string {
	return "audit_events"
}

// AuditFilter narrows audit queries. Zero values mean "no constraint".
type AuditFilter struct {
	Start    *time.Time
	End      *time.Time // exclusive
	Severity Severity
	Actor    string // case-insensitive substring of actor name
}

// SeverityCounts is the number of events per severity
type SeverityCounts map[Severity]int64

// Total sums all severities
func (c SeverityCounts) Total() int64 {
	var total int64
	for _, n := range c {
		total += n
	}
	return total
}
