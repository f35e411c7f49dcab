// Package restriction stores time-boxed capability limitations (mute, shadow,
// captcha, ban, restrict_create) and answers hot-path "is this actor
// restricted right now" lookups through a keyed cache.
//
// Activeness is always computed from the row (`expires_at IS NULL OR
// expires_at > now()`, and not revoked); no sweeper is required for
// correctness.
package restriction

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/haven-social/guardrail/cachestore"
	"github.com/haven-social/guardrail/models"
)

var ErrRestrictionNotFound = errors.New("restriction not found")

const (
	cacheName = "rst"
	// how long a computed active-mode set may be served before re-reading;
	// Apply and Revoke purge eagerly, so this only bounds cross-process lag
	cacheTTL = 15 * time.Second
	// sentinel cache value for "no active restrictions"
	cacheNone = "-"
)

type Service struct {
	db     *gorm.DB
	cache  cachestore.CacheStore
	logger *slog.Logger
}

func NewService(db *gorm.DB, cache cachestore.CacheStore, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		cache:  cache,
		logger: logger.With("system", "restriction"),
	}
}

// Apply creates a restriction row. A nil ttl means indefinite.
func (s *Service) Apply(ctx context.Context, userID, scope, mode, reason string, ttl *time.Duration, createdBy string) (*models.Restriction, error) {
	now := time.Now()
	r := models.Restriction{
		UserID:    userID,
		Scope:     scope,
		Mode:      mode,
		Reason:    reason,
		CreatedBy: createdBy,
		CreatedAt: now,
	}
	if ttl != nil {
		secs := int64(ttl.Seconds())
		exp := now.Add(*ttl)
		r.TTLSeconds = &secs
		r.ExpiresAt = &exp
	}
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		return nil, err
	}
	restrictionsApplied.WithLabelValues(mode).Inc()
	s.purgeCache(ctx, userID, scope)
	s.logger.Info("restriction applied", "userID", userID, "scope", scope, "mode", mode, "ttl", ttl, "createdBy", createdBy)
	return &r, nil
}

// ListActive returns the user's currently-active restrictions across all scopes.
func (s *Service) ListActive(ctx context.Context, userID string) ([]models.Restriction, error) {
	now := time.Now()
	var rows []models.Restriction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > ?)", userID, now).
		Order("created_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Revoke deactivates a restriction immediately, regardless of expiry.
func (s *Service) Revoke(ctx context.Context, id uint64) error {
	var r models.Restriction
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRestrictionNotFound
		}
		return err
	}
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&r).Update("revoked_at", now).Error; err != nil {
		return err
	}
	restrictionsRevoked.WithLabelValues(r.Mode).Inc()
	s.purgeCache(ctx, r.UserID, r.Scope)
	return nil
}

// ActiveModes returns the set of active restriction modes for a user on the
// given scope (including global-scope restrictions), served from cache on the
// hot path. One DB query on miss, O(1) amortized.
func (s *Service) ActiveModes(ctx context.Context, userID, scope string) (map[string]bool, error) {
	key := userID + "/" + scope
	if cached, err := s.cache.Get(ctx, cacheName, key); err == nil && cached != "" {
		return parseModes(cached), nil
	}
	now := time.Now()
	var rows []models.Restriction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND scope IN ? AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > ?)",
			userID, []string{scope, models.ScopeGlobal}, now).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	modes := make(map[string]bool, len(rows))
	ttl := cacheTTL
	for _, r := range rows {
		modes[r.Mode] = true
		// never cache past the earliest expiry
		if r.ExpiresAt != nil {
			if remain := r.ExpiresAt.Sub(now); remain < ttl {
				ttl = remain
			}
		}
	}
	if err := s.cache.Set(ctx, cacheName, key, encodeModes(modes), ttl); err != nil {
		s.logger.Warn("restriction cache set failed", "err", err)
	}
	return modes, nil
}

// IsRestricted answers whether the user has an active restriction of the
// given mode on the scope (or globally).
func (s *Service) IsRestricted(ctx context.Context, userID, scope, mode string) (bool, error) {
	modes, err := s.ActiveModes(ctx, userID, scope)
	if err != nil {
		return false, err
	}
	return modes[mode], nil
}

func (s *Service) purgeCache(ctx context.Context, userID, scope string) {
	for _, sc := range invalidationScopes(scope) {
		if err := s.cache.Purge(ctx, cacheName, userID+"/"+sc); err != nil {
			s.logger.Warn("restriction cache purge failed", "err", err)
		}
	}
}

// a global-scope change invalidates every per-surface entry we know about;
// surfaces are a small fixed set
var knownSurfaces = []string{"post", "comment", "message"}

func invalidationScopes(scope string) []string {
	if scope == models.ScopeGlobal {
		return append([]string{models.ScopeGlobal}, knownSurfaces...)
	}
	return []string{scope}
}

func encodeModes(modes map[string]bool) string {
	if len(modes) == 0 {
		return cacheNone
	}
	out := make([]string, 0, len(modes))
	for m := range modes {
		out = append(out, m)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func parseModes(cached string) map[string]bool {
	modes := make(map[string]bool)
	if cached == cacheNone {
		return modes
	}
	for _, m := range strings.Split(cached, ",") {
		if m != "" {
			modes[m] = true
		}
	}
	return modes
}
