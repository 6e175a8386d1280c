package model

import "time"

// AuditAction names a recorded state transition.
type AuditAction string

const (
	AuditConnect       AuditAction = "connect"
	AuditRefresh       AuditAction = "refresh"
	AuditRefreshFailed AuditAction = "refresh_failed"
	AuditDisconnect    AuditAction = "disconnect"
	AuditRekey         AuditAction = "rekey"
	AuditStage         AuditAction = "stage"
	AuditHandoff       AuditAction = "handoff"
)

// AuditEvent is one structured audit record. It never carries token
// material or third-party content.
type AuditEvent struct {
	ID        int64
	UserID    string
	Provider  ProviderType
	SessionID string
	Action    AuditAction
	Outcome   string // "ok" or a failure reason.
	Detail    string
	At        time.Time
}
