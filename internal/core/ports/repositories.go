package ports

import (
	"context"
	"time"

	"github.com/stackbuild/stackbuild/internal/domain"
)

type TimelineRepository interface {
	Create(ctx context.Context, event *domain.TimelineEvent) error
	GetByID(ctx context.Context, id uint) (*domain.TimelineEvent, error)
	GetByRun(ctx context.Context, runID string) ([]domain.TimelineEvent, error)
	GetByHost(ctx context.Context, host string, limit int) ([]domain.TimelineEvent, error)
	GetAll(ctx context.Context, limit int) ([]domain.TimelineEvent, error)
	CleanupOld(ctx context.Context, olderThan time.Duration) error
}
