// Package notifs persists fire-and-forget notification records. The sink is
// best-effort by contract: it rate-limits per user, suppresses duplicates
// within a short window, and callers log-and-continue on failure — a
// notification must never block or fail the operation that produced it.
package notifs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/haven-social/guardrail/models"
)

type SinkConfig struct {
	// per-user notification ceiling
	PerUserRate  rate.Limit
	PerUserBurst int
	// window within which an identical (user, type, ref) is suppressed
	DedupeWindow time.Duration
}

func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		PerUserRate:  rate.Limit(2),
		PerUserBurst: 5,
		DedupeWindow: 10 * time.Minute,
	}
}

type Sink struct {
	db     *gorm.DB
	logger *slog.Logger
	config SinkConfig

	lk       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewSink(db *gorm.DB, logger *slog.Logger, config SinkConfig) *Sink {
	return &Sink{
		db:       db,
		logger:   logger.With("system", "notifs"),
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Persist writes a notification record. The second return reports whether a
// record was actually created; false means it was rate-limited or deduped.
func (s *Sink) Persist(ctx context.Context, userID, typ, refID string, actorID *string, payload map[string]any) (*models.Notification, bool, error) {
	if !s.limiter(userID).Allow() {
		notificationsDropped.WithLabelValues("rate_limited").Inc()
		return nil, false, nil
	}

	since := time.Now().Add(-s.config.DedupeWindow)
	var existing models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND ref_id = ? AND created_at > ?", userID, typ, refID, since).
		First(&existing).Error
	if err == nil {
		notificationsDropped.WithLabelValues("dedupe").Inc()
		return &existing, false, nil
	}

	var payloadJSON []byte
	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return nil, false, err
		}
	}
	n := models.Notification{
		UserID:    userID,
		Type:      typ,
		RefID:     refID,
		ActorID:   actorID,
		Payload:   payloadJSON,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return nil, false, err
	}
	notificationsPersisted.WithLabelValues(typ).Inc()
	return &n, true, nil
}

func (s *Sink) limiter(userID string) *rate.Limiter {
	s.lk.Lock()
	defer s.lk.Unlock()
	l, ok := s.limiters[userID]
	if !ok {
		l = rate.NewLimiter(s.config.PerUserRate, s.config.PerUserBurst)
		s.limiters[userID] = l
	}
	return l
}
