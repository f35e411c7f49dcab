package models

import (
	"time"
)

// Reputation bands, derived from score thresholds (see reputation.BandForScore).
const (
	BandBanned  = "banned"
	BandLow     = "low"
	BandNormal  = "normal"
	BandTrusted = "trusted"
)

// ReputationScore is a materialized cache of the event ledger sum. It is only
// ever updated in the same transaction as a ReputationEvent insert.
type ReputationScore struct {
	UserID      string `gorm:"primaryKey"`
	Score       int    `gorm:"not null;default:0"`
	Band        string `gorm:"not null"`
	LastEventAt *time.Time
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type ReputationEvent struct {
	ID        uint64 `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	Surface   string
	Kind      string `gorm:"not null"`
	Delta     int    `gorm:"not null"`
	DeviceFP  string
	IP        string
	Meta      []byte
	CreatedAt time.Time `gorm:"not null;index"`
}

// Restriction modes.
const (
	RestrictionMute           = "mute"
	RestrictionShadow         = "shadow"
	RestrictionCaptcha        = "captcha"
	RestrictionBan            = "ban"
	RestrictionRestrictCreate = "restrict_create"
)

// ScopeGlobal applies a restriction to every surface.
const ScopeGlobal = "global"

type Restriction struct {
	ID     uint64 `gorm:"primaryKey"`
	UserID string `gorm:"not null;index:idx_restriction_user"`
	Scope  string `gorm:"not null;index:idx_restriction_user"`
	Mode   string `gorm:"not null"`
	Reason string
	// nil ExpiresAt means indefinite
	TTLSeconds *int64
	ExpiresAt  *time.Time `gorm:"index"`
	RevokedAt  *time.Time
	CreatedBy  string
	CreatedAt  time.Time `gorm:"not null"`
}

// Active reports whether the restriction currently applies. Expiry is never
// swept; activeness is always computed from the row itself.
func (r *Restriction) Active(now time.Time) bool {
	if r.RevokedAt != nil {
		return false
	}
	return r.ExpiresAt == nil || r.ExpiresAt.After(now)
}

// LinkageRecord is a soft account-clustering edge. It is a signal input only
// and never directly triggers enforcement.
type LinkageRecord struct {
	ID        uint64 `gorm:"primaryKey"`
	ClusterID string `gorm:"not null;index"`
	UserID    string `gorm:"not null;index"`
	Relation  string `gorm:"not null"`
	Strength  float64
	CreatedAt time.Time `gorm:"not null"`
}

// ActionRecord is a versioned catalog entry for an atomic action or macro.
// (Key, Version) is immutable once created; only IsActive mutates.
type ActionRecord struct {
	ID        uint64 `gorm:"primaryKey"`
	Key       string `gorm:"not null;index:idx_catalog_key_version,unique"`
	Version   int    `gorm:"not null;index:idx_catalog_key_version,unique"`
	Kind      string `gorm:"not null"`
	Spec      []byte `gorm:"not null"`
	IsActive  bool   `gorm:"not null;default:true"`
	CreatedBy string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

const (
	ActionKindAtomic = "atomic"
	ActionKindMacro  = "macro"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type BatchJob struct {
	ID         string `gorm:"primaryKey"`
	Kind       string `gorm:"not null"`
	Status     string `gorm:"not null;index"`
	DryRun     bool   `gorm:"not null"`
	SampleSize int
	TotalCount int
	OkCount    int
	ErrCount   int
	Note       string
	CreatedBy  string
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type BatchJobItem struct {
	ID         uint64 `gorm:"primaryKey"`
	JobID      string `gorm:"not null;index:idx_job_item,unique"`
	TargetType string `gorm:"not null;index:idx_job_item,unique"`
	TargetID   string `gorm:"not null;index:idx_job_item,unique"`
	OK         bool   `gorm:"not null"`
	Error      string
	Result     []byte
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type Notification struct {
	ID        uint64 `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	Type      string `gorm:"not null"`
	RefID     string `gorm:"not null"`
	ActorID   *string
	Payload   []byte
	CreatedAt time.Time `gorm:"not null;index"`
}

// All returns every model migrated at daemon startup.
func All() []any {
	return []any{
		&ModerationCase{},
		&ModerationReport{},
		&ModerationAction{},
		&ModerationAppeal{},
		&ReputationScore{},
		&ReputationEvent{},
		&Restriction{},
		&LinkageRecord{},
		&ActionRecord{},
		&BatchJob{},
		&BatchJobItem{},
		&Notification{},
	}
}
