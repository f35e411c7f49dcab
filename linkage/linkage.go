// Package linkage maintains a graph of soft signals (device fingerprint, IP,
// content similarity) connecting accounts suspected of coordination. Edges
// are consulted by detectors as one more signal; they never directly trigger
// enforcement.
package linkage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/haven-social/guardrail/models"
)

const (
	RelationDeviceFP   = "device_fp"
	RelationIP         = "ip"
	RelationSimilarity = "content_similarity"
)

type Service struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewService(db *gorm.DB, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With("system", "linkage"),
	}
}

// RecordEdge attaches a user to a cluster with the given relation; repeated
// observations of the same edge bump strength rather than duplicating rows.
func (s *Service) RecordEdge(ctx context.Context, clusterID, userID, relation string, strength float64) (*models.LinkageRecord, error) {
	var edge models.LinkageRecord
	err := s.db.WithContext(ctx).
		Where("cluster_id = ? AND user_id = ? AND relation = ?", clusterID, userID, relation).
		First(&edge).Error
	if err == nil {
		if strength > edge.Strength {
			if err := s.db.WithContext(ctx).Model(&edge).Update("strength", strength).Error; err != nil {
				return nil, err
			}
			edge.Strength = strength
		}
		return &edge, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	edge = models.LinkageRecord{
		ClusterID: clusterID,
		UserID:    userID,
		Relation:  relation,
		Strength:  strength,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&edge).Error; err != nil {
		return nil, err
	}
	return &edge, nil
}

// ClustersFor returns the distinct cluster IDs the user belongs to.
func (s *Service) ClustersFor(ctx context.Context, userID string) ([]string, error) {
	var clusters []string
	err := s.db.WithContext(ctx).Model(&models.LinkageRecord{}).
		Where("user_id = ?", userID).
		Distinct("cluster_id").
		Pluck("cluster_id", &clusters).Error
	if err != nil {
		return nil, err
	}
	return clusters, nil
}

// ClusterSize counts distinct accounts in a cluster.
func (s *Service) ClusterSize(ctx context.Context, clusterID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.LinkageRecord{}).
		Where("cluster_id = ?", clusterID).
		Distinct("user_id").
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// LargestClusterSize is the detector-facing lookup: the size of the biggest
// cluster the user belongs to (zero when unclustered).
func (s *Service) LargestClusterSize(ctx context.Context, userID string) (int, error) {
	clusters, err := s.ClustersFor(ctx, userID)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, c := range clusters {
		n, err := s.ClusterSize(ctx, c)
		if err != nil {
			return 0, err
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

// RelatedAccounts lists the other users sharing any cluster with this one.
func (s *Service) RelatedAccounts(ctx context.Context, userID string) ([]string, error) {
	clusters, err := s.ClustersFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(clusters) == 0 {
		return nil, nil
	}
	var related []string
	err = s.db.WithContext(ctx).Model(&models.LinkageRecord{}).
		Where("cluster_id IN ? AND user_id != ?", clusters, userID).
		Distinct("user_id").
		Pluck("user_id", &related).Error
	if err != nil {
		return nil, err
	}
	return related, nil
}
