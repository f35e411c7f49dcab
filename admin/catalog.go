// Package admin implements staff tooling: the versioned action catalog, macro
// execution with guards and payload templating, batch jobs with partial
// success, signed bundle import/export, and revert handlers. Everything here
// flows through the same case/enforcer pipeline as automated decisions, so the
// audit trail stays whole.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/haven-social/guardrail/models"
	"github.com/haven-social/guardrail/policy"
)

// StepSpec is one enforcement step of a catalog entry. Payload values may
// carry {{key}} placeholders resolved at run time.
type StepSpec struct {
	Action   string            `json:"action"`
	Severity string            `json:"severity,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`
	Guards   []Guard           `json:"guards,omitempty"`
}

// ActionSpec is the JSON document stored in a catalog entry. Atomic entries
// have exactly one step; macros have one or more.
type ActionSpec struct {
	Description string     `json:"description,omitempty"`
	Steps       []StepSpec `json:"steps"`
}

func ParseSpec(kind string, raw []byte) (*ActionSpec, error) {
	var spec ActionSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parsing action spec: %w", err)
	}
	if len(spec.Steps) == 0 {
		return nil, fmt.Errorf("action spec has no steps")
	}
	if kind == models.ActionKindAtomic && len(spec.Steps) != 1 {
		return nil, fmt.Errorf("atomic action must have exactly one step, got %d", len(spec.Steps))
	}
	for i, step := range spec.Steps {
		if !policy.ValidAction(step.Action) {
			return nil, fmt.Errorf("step %d: unknown action %q", i, step.Action)
		}
	}
	return &spec, nil
}

// Catalog is the versioned registry of atomic actions and macros. Rows are
// append-only; deactivation is the only mutation.
type Catalog struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewCatalog(db *gorm.DB, logger *slog.Logger) *Catalog {
	return &Catalog{db: db, logger: logger.With("system", "admin")}
}

// CreateVersion appends a new catalog version. Version 0 auto-assigns the
// next version for the key. Re-using an existing (key, version) fails with
// ErrVersionExists; published versions never change in place.
func (c *Catalog) CreateVersion(ctx context.Context, key string, version int, kind string, spec []byte, createdBy string) (*models.ActionRecord, error) {
	if kind != models.ActionKindAtomic && kind != models.ActionKindMacro {
		return nil, fmt.Errorf("unknown action kind %q", kind)
	}
	if _, err := ParseSpec(kind, spec); err != nil {
		return nil, err
	}

	if version == 0 {
		latest, err := c.latestVersion(ctx, key)
		if err != nil {
			return nil, err
		}
		version = latest + 1
	}

	now := time.Now()
	rec := models.ActionRecord{
		Key:       key,
		Version:   version,
		Kind:      kind,
		Spec:      spec,
		IsActive:  true,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrVersionExists
		}
		return nil, err
	}
	catalogVersionsCreated.WithLabelValues(kind).Inc()
	return &rec, nil
}

func (c *Catalog) latestVersion(ctx context.Context, key string) (int, error) {
	var rec models.ActionRecord
	err := c.db.WithContext(ctx).Where("key = ?", key).Order("version desc").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return rec.Version, nil
}

// Get returns a specific version, or the latest active one for version 0.
func (c *Catalog) Get(ctx context.Context, key string, version int) (*models.ActionRecord, error) {
	q := c.db.WithContext(ctx).Where("key = ?", key)
	if version == 0 {
		q = q.Where("is_active = ?", true).Order("version desc")
	} else {
		q = q.Where("version = ?", version)
	}
	var rec models.ActionRecord
	if err := q.First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActionNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Deactivate retires a version without deleting it; Get with version 0 skips
// it from then on.
func (c *Catalog) Deactivate(ctx context.Context, key string, version int) error {
	res := c.db.WithContext(ctx).Model(&models.ActionRecord{}).
		Where("key = ? AND version = ?", key, version).
		Updates(map[string]any{"is_active": false, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrActionNotFound
	}
	return nil
}

// List returns every catalog row, newest versions first within a key.
func (c *Catalog) List(ctx context.Context) ([]models.ActionRecord, error) {
	var out []models.ActionRecord
	err := c.db.WithContext(ctx).Order("key asc, version desc").Find(&out).Error
	return out, err
}
