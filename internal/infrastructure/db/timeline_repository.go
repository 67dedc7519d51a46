package db

import (
	"context"
	"time"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
	"gorm.io/gorm"
)

const defaultListLimit = 100

type timelineRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTimelineRepository(db *gorm.DB, log *logger.Logger) ports.TimelineRepository {
	return &timelineRepository{
		db:  db,
		log: log,
	}
}

func (r *timelineRepository) Create(ctx context.Context, event *domain.TimelineEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		r.log.Errorw("timeline_repo_create_failed", "type", event.Type, "task", event.Task, "error", err)
		return err
	}
	r.log.Debugw("timeline_repo_create_ok", "id", event.ID, "type", event.Type, "status", event.Status)
	return nil
}

func (r *timelineRepository) GetByID(ctx context.Context, id uint) (*domain.TimelineEvent, error) {
	var event domain.TimelineEvent
	if err := r.db.WithContext(ctx).First(&event, id).Error; err != nil {
		r.log.Errorw("timeline_repo_get_failed", "id", id, "error", err)
		return nil, err
	}
	return &event, nil
}

// GetByRun lists a run's events oldest first.
func (r *timelineRepository) GetByRun(ctx context.Context, runID string) ([]domain.TimelineEvent, error) {
	var events []domain.TimelineEvent
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at asc").
		Find(&events).Error
	if err != nil {
		r.log.Errorw("timeline_repo_get_by_run_failed", "run_id", runID, "error", err)
		return nil, err
	}
	return events, nil
}

func (r *timelineRepository) GetByHost(ctx context.Context, host string, limit int) ([]domain.TimelineEvent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var events []domain.TimelineEvent
	err := r.db.WithContext(ctx).
		Where("host = ?", host).
		Order("created_at desc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		r.log.Errorw("timeline_repo_get_by_host_failed", "host", host, "error", err)
		return nil, err
	}
	return events, nil
}

func (r *timelineRepository) GetAll(ctx context.Context, limit int) ([]domain.TimelineEvent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var events []domain.TimelineEvent
	err := r.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		r.log.Errorw("timeline_repo_list_failed", "error", err)
		return nil, err
	}
	return events, nil
}

// CleanupOld removes events older than the specified duration
func (r *timelineRepository) CleanupOld(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.TimelineEvent{})
	if res.Error != nil {
		r.log.Errorw("timeline_repo_cleanup_failed", "error", res.Error)
		return res.Error
	}
	r.log.Infow("timeline_repo_cleanup_ok", "deleted", res.RowsAffected)
	return nil
}
