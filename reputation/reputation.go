// Package reputation maintains a per-user trust score as a materialized sum
// over an append-only event ledger, plus the coarse "band" derived from it.
package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/haven-social/guardrail/models"
)

// Band thresholds: banned < 0 <= low < 20 <= normal < 80 <= trusted.
const (
	ThresholdLow     = 0
	ThresholdNormal  = 20
	ThresholdTrusted = 80
)

// BandForScore is a pure function from score to band.
func BandForScore(score int) string {
	switch {
	case score < ThresholdLow:
		return models.BandBanned
	case score < ThresholdNormal:
		return models.BandLow
	case score < ThresholdTrusted:
		return models.BandNormal
	default:
		return models.BandTrusted
	}
}

var ErrDeltaOutOfRange = errors.New("manual adjustment delta out of range")

type ServiceConfig struct {
	// ManualClamp bounds a single staff adjustment, in either direction.
	ManualClamp int
	// InitialScore seeds newly-created score rows.
	InitialScore int
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ManualClamp:  50,
		InitialScore: 20,
	}
}

type Service struct {
	db     *gorm.DB
	logger *slog.Logger
	config ServiceConfig
}

func NewService(db *gorm.DB, logger *slog.Logger, config ServiceConfig) *Service {
	return &Service{
		db:     db,
		logger: logger.With("system", "reputation"),
		config: config,
	}
}

func (s *Service) GetOrCreate(ctx context.Context, userID string) (*models.ReputationScore, error) {
	var score models.ReputationScore
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&score).Error
	if err == nil {
		return &score, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	now := time.Now()
	score = models.ReputationScore{
		UserID:    userID,
		Score:     s.config.InitialScore,
		Band:      BandForScore(s.config.InitialScore),
		CreatedAt: now,
		UpdatedAt: now,
	}
	// the initial score is itself a ledger event, so that summing the ledger
	// always reproduces the stored score exactly
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&score).Error; err != nil {
			return err
		}
		return tx.Create(&models.ReputationEvent{
			UserID:    userID,
			Kind:      "seed",
			Delta:     s.config.InitialScore,
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		// lost a create race; the row exists now
		var existing models.ReputationScore
		if err2 := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error; err2 == nil {
			return &existing, nil
		}
		return nil, err
	}
	reputationScoresCreated.Inc()
	return &score, nil
}

// RecordEvent appends a ledger event and updates the materialized score in
// the same transaction; the ledger remains the source of truth.
func (s *Service) RecordEvent(ctx context.Context, userID, surface, kind string, delta int, meta map[string]any) (*models.ReputationScore, error) {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}
	var metaJSON []byte
	if meta != nil {
		var err error
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encoding event meta: %w", err)
		}
	}
	var out models.ReputationScore
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		evt := models.ReputationEvent{
			UserID:    userID,
			Surface:   surface,
			Kind:      kind,
			Delta:     delta,
			Meta:      metaJSON,
			CreatedAt: now,
		}
		if err := tx.Create(&evt).Error; err != nil {
			return err
		}
		if err := tx.Exec(
			"UPDATE reputation_scores SET score = score + ?, last_event_at = ?, updated_at = ? WHERE user_id = ?",
			delta, now, now, userID,
		).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).First(&out).Error; err != nil {
			return err
		}
		band := BandForScore(out.Score)
		if band != out.Band {
			if err := tx.Model(&models.ReputationScore{}).Where("user_id = ?", userID).
				Update("band", band).Error; err != nil {
				return err
			}
			out.Band = band
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	reputationEventsRecorded.WithLabelValues(kind).Inc()
	s.logger.Info("reputation event recorded", "userID", userID, "kind", kind, "delta", delta, "score", out.Score, "band", out.Band)
	return &out, nil
}

// AdjustManual records a staff adjustment, clamped to the configured bound.
func (s *Service) AdjustManual(ctx context.Context, userID string, delta int, note, actorID string) (*models.ReputationScore, error) {
	if delta > s.config.ManualClamp || delta < -s.config.ManualClamp {
		return nil, fmt.Errorf("%w: %d (clamp %d)", ErrDeltaOutOfRange, delta, s.config.ManualClamp)
	}
	return s.RecordEvent(ctx, userID, "", "manual_adjust", delta, map[string]any{
		"note":  note,
		"actor": actorID,
	})
}

// ListRecentEvents pages newest-first by (created_at, id) keyset; beforeID of
// zero starts at the head.
func (s *Service) ListRecentEvents(ctx context.Context, userID string, beforeID uint64, limit int) ([]models.ReputationEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var events []models.ReputationEvent
	if err := q.Order("id desc").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// RecomputeScore sums the ledger directly. Used by audit tooling to verify
// that the materialized score column has not drifted.
func (s *Service) RecomputeScore(ctx context.Context, userID string) (int, error) {
	var sum int
	err := s.db.WithContext(ctx).Model(&models.ReputationEvent{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(delta), 0)").Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	return sum, nil
}
