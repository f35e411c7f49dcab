package models

import (
	"time"
)

// Case lifecycle states. Transitions are enforced by the cases service;
// nothing ever moves back to "open".
const (
	CaseStatusOpen      = "open"
	CaseStatusActioned  = "actioned"
	CaseStatusDismissed = "dismissed"
	CaseStatusEscalated = "escalated"
	CaseStatusClosed    = "closed"
)

const (
	AppealStatusOpen     = "open"
	AppealStatusAccepted = "accepted"
	AppealStatusRejected = "rejected"
)

type ModerationCase struct {
	ID          uint64 `gorm:"primaryKey"`
	SubjectType string `gorm:"not null;index:idx_case_subject"`
	SubjectID   string `gorm:"not null;index:idx_case_subject"`
	// OpenKey is "<subject_type>/<subject_id>" while the case can still
	// aggregate reports, and NULL once dismissed or closed. The unique index
	// collapses concurrent first-report races onto a single case row.
	OpenKey         *string `gorm:"uniqueIndex"`
	Status          string  `gorm:"not null;index"`
	Reason          string
	Severity        string
	PolicyID        string
	AssignedTo      *string
	EscalationLevel int  `gorm:"not null;default:0"`
	AppealOpen      bool `gorm:"not null;default:false"`
	AppealedBy      *string
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type ModerationReport struct {
	ID          uint64 `gorm:"primaryKey"`
	CaseID      uint64 `gorm:"not null;index"`
	SubjectType string `gorm:"not null;index:idx_report_dedupe,unique"`
	SubjectID   string `gorm:"not null;index:idx_report_dedupe,unique"`
	ReporterID  string `gorm:"not null;index:idx_report_dedupe,unique"`
	ReasonCode  string `gorm:"not null"`
	Note        string
	CreatedAt   time.Time `gorm:"not null"`
}

// ModerationAction rows are append-only. The most recent row per
// (case, action) is authoritative for revert lookups.
type ModerationAction struct {
	ID      uint64 `gorm:"primaryKey"`
	CaseID  uint64 `gorm:"not null;index:idx_action_case"`
	Action  string `gorm:"not null;index:idx_action_case"`
	Payload []byte
	// nil actor means the action was taken by automated policy evaluation
	ActorID   *string
	CreatedAt time.Time `gorm:"not null"`
}

type ModerationAppeal struct {
	ID          uint64 `gorm:"primaryKey"`
	CaseID      uint64 `gorm:"not null;index"`
	AppellantID string `gorm:"not null"`
	Note        string
	Status      string `gorm:"not null;index"`
	ReviewedBy  *string
	ReviewNote  string
	CreatedAt   time.Time `gorm:"not null"`
	ReviewedAt  *time.Time
}
