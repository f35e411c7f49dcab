package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/haven-social/guardrail/models"
)

// TargetRef identifies one batch target.
type TargetRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ItemFunc applies a batch operation to a single target, returning a result
// payload recorded on the job item. Item errors are recorded, never fatal.
type ItemFunc func(ctx context.Context, target TargetRef) (map[string]any, error)

type JobOptions struct {
	DryRun bool
	// SampleSize > 0 runs against a random subsample, for canarying a batch
	// before committing to the full target list
	SampleSize int
	Note       string
	CreatedBy  string
}

// Scheduler runs batch jobs: one BatchJobItem per (job, target), upserted so a
// re-run of an interrupted job overwrites its partial items instead of
// duplicating them. A job never aborts on an item error; the summary carries
// the split.
type Scheduler struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewScheduler(db *gorm.DB, logger *slog.Logger) *Scheduler {
	return &Scheduler{db: db, logger: logger.With("system", "admin")}
}

func (s *Scheduler) Run(ctx context.Context, kind string, targets []TargetRef, opts JobOptions, fn ItemFunc) (*models.BatchJob, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("batch job %q has no targets", kind)
	}
	if opts.SampleSize > 0 && opts.SampleSize < len(targets) {
		targets = sampleTargets(targets, opts.SampleSize)
	}

	now := time.Now()
	job := models.BatchJob{
		ID:         uuid.NewString(),
		Kind:       kind,
		Status:     models.JobStatusQueued,
		DryRun:     opts.DryRun,
		SampleSize: opts.SampleSize,
		TotalCount: len(targets),
		Note:       opts.Note,
		CreatedBy:  opts.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, fmt.Errorf("creating batch job: %w", err)
	}

	if err := s.setStatus(ctx, &job, models.JobStatusRunning); err != nil {
		return nil, err
	}
	batchJobsStarted.WithLabelValues(kind).Inc()
	s.logger.Info("batch job started", "jobID", job.ID, "kind", kind, "targets", len(targets), "dryRun", opts.DryRun)

	interrupted := false
	for _, target := range targets {
		// interruptible between items; completed items stay checkpointed
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		result, itemErr := s.runItem(ctx, opts.DryRun, target, fn)
		if err := s.recordItem(ctx, &job, target, result, itemErr); err != nil {
			s.logger.Error("batch item checkpoint failed", "err", err, "jobID", job.ID, "target", target)
			job.ErrCount++
			continue
		}
		if itemErr != nil {
			job.ErrCount++
		} else {
			job.OkCount++
		}
	}

	final := models.JobStatusCompleted
	if interrupted || job.ErrCount > 0 {
		final = models.JobStatusFailed
	}
	if err := s.finalize(ctx, &job, final); err != nil {
		return nil, err
	}
	batchJobsFinished.WithLabelValues(kind, final).Inc()
	s.logger.Info("batch job finished", "jobID", job.ID, "status", final, "ok", job.OkCount, "errors", job.ErrCount)
	return &job, nil
}

func (s *Scheduler) runItem(ctx context.Context, dryRun bool, target TargetRef, fn ItemFunc) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("item panicked: %v", r)
		}
	}()
	if dryRun {
		return map[string]any{"planned": true}, nil
	}
	return fn(ctx, target)
}

func (s *Scheduler) recordItem(ctx context.Context, job *models.BatchJob, target TargetRef, result map[string]any, itemErr error) error {
	var raw []byte
	if result != nil {
		raw, _ = json.Marshal(result)
	}
	now := time.Now()
	item := models.BatchJobItem{
		JobID:      job.ID,
		TargetType: target.Type,
		TargetID:   target.ID,
		OK:         itemErr == nil,
		Result:     raw,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if itemErr != nil {
		item.Error = itemErr.Error()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "target_type"}, {Name: "target_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"ok", "error", "result", "updated_at"}),
	}).Create(&item).Error
}

func (s *Scheduler) setStatus(ctx context.Context, job *models.BatchJob, status string) error {
	job.Status = status
	return s.db.WithContext(ctx).Model(job).
		Updates(map[string]any{"status": status, "updated_at": time.Now()}).Error
}

func (s *Scheduler) finalize(ctx context.Context, job *models.BatchJob, status string) error {
	job.Status = status
	return s.db.WithContext(ctx).Model(job).Updates(map[string]any{
		"status":      status,
		"total_count": job.TotalCount,
		"ok_count":    job.OkCount,
		"err_count":   job.ErrCount,
		"updated_at":  time.Now(),
	}).Error
}

func (s *Scheduler) GetJob(ctx context.Context, jobID string) (*models.BatchJob, error) {
	var job models.BatchJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *Scheduler) ListItems(ctx context.Context, jobID string) ([]models.BatchJobItem, error) {
	var items []models.BatchJobItem
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("id asc").Find(&items).Error
	return items, err
}

func sampleTargets(targets []TargetRef, n int) []TargetRef {
	shuffled := make([]TargetRef, len(targets))
	copy(shuffled, targets)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}
