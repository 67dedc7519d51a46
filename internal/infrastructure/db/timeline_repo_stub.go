package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
	"gorm.io/gorm"
)

// TimelineRepoStub keeps the journal in memory when no database is
// configured. Events are also written to the log.
type TimelineRepoStub struct {
	logger *logger.Logger

	mu     sync.RWMutex
	events []domain.TimelineEvent
	nextID uint
}

func NewTimelineRepoStub(log *logger.Logger) ports.TimelineRepository {
	if log == nil {
		log = logger.NewNop()
	}
	return &TimelineRepoStub{logger: log}
}

func (r *TimelineRepoStub) Create(ctx context.Context, event *domain.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	event.ID = r.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.UpdatedAt = event.CreatedAt
	r.events = append(r.events, *event)

	r.logger.Infow("timeline event",
		"run_id", event.RunID,
		"host", event.Host,
		"task", event.Task,
		"type", event.Type,
		"status", event.Status,
		"message", event.Message,
	)
	return nil
}

func (r *TimelineRepoStub) GetByID(ctx context.Context, id uint) (*domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.events {
		if r.events[i].ID == id {
			ev := r.events[i]
			return &ev, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *TimelineRepoStub) GetByRun(ctx context.Context, runID string) ([]domain.TimelineEvent, error) {
	return r.filter(func(ev domain.TimelineEvent) bool { return ev.RunID == runID }, 0, false), nil
}

func (r *TimelineRepoStub) GetByHost(ctx context.Context, host string, limit int) ([]domain.TimelineEvent, error) {
	return r.filter(func(ev domain.TimelineEvent) bool { return ev.Host == host }, limit, true), nil
}

func (r *TimelineRepoStub) GetAll(ctx context.Context, limit int) ([]domain.TimelineEvent, error) {
	return r.filter(func(domain.TimelineEvent) bool { return true }, limit, true), nil
}

func (r *TimelineRepoStub) CleanupOld(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	for _, ev := range r.events {
		if !ev.CreatedAt.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	r.events = kept
	return nil
}

func (r *TimelineRepoStub) filter(match func(domain.TimelineEvent) bool, limit int, newestFirst bool) []domain.TimelineEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.TimelineEvent
	for _, ev := range r.events {
		if match(ev) {
			out = append(out, ev)
		}
	}
	if newestFirst {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if newestFirst && len(out) > limit {
		out = out[:limit]
	}
	return out
}
