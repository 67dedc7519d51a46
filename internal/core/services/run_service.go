package services

import (
	"context"
	"sync"
	"time"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
	"github.com/stackbuild/stackbuild/pkg/utils/keygen"
)

const subscriberBuffer = 64

type runState struct {
	run    *domain.Run
	events []domain.RunEvent
	subs   map[int]chan domain.RunEvent
	nextID int
	done   bool
}

// RunService starts deploys in the background and keeps their progress in
// memory so callers can poll or stream it.
type RunService struct {
	deploy ports.DeployService
	logger *logger.Logger

	mu   sync.RWMutex
	runs map[string]*runState
	wg   sync.WaitGroup
}

func NewRunService(deploy ports.DeployService, log *logger.Logger) *RunService {
	if log == nil {
		log = logger.NewNop()
	}
	return &RunService{
		deploy: deploy,
		logger: log,
		runs:   make(map[string]*runState),
	}
}

// StartRun registers a run and executes it asynchronously. The run outlives
// ctx's cancellation but keeps its values.
func (s *RunService) StartRun(ctx context.Context, req ports.DeployRequest) (*domain.Run, error) {
	if len(req.Invocations) == 0 {
		return nil, ErrNoInvocations
	}

	now := time.Now()
	req.RunID = keygen.GenerateUUID()
	run := &domain.Run{
		ID:          req.RunID,
		Hosts:       req.Hosts,
		Invocations: req.Invocations,
		Status:      domain.RunStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.runs[run.ID] = &runState{run: run, subs: make(map[int]chan domain.RunEvent)}
	s.mu.Unlock()

	s.logger.Infow("run_started", "run_id", run.ID, "hosts", req.Hosts, "tasks", len(req.Invocations))

	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(runCtx, req)
	}()

	runCopy := *run
	return &runCopy, nil
}

func (s *RunService) execute(ctx context.Context, req ports.DeployRequest) {
	s.update(req.RunID, func(r *domain.Run) { r.Status = domain.RunStatusRunning })

	reports, err := s.deploy.Deploy(ctx, req, func(ev domain.RunEvent) {
		s.publish(req.RunID, ev)
	})

	final := domain.RunEvent{Kind: domain.RunEventRunFinished, Time: time.Now(), Message: string(domain.RunStatusCompleted)}
	s.update(req.RunID, func(r *domain.Run) {
		r.Reports = reports
		r.Status = domain.RunStatusCompleted
		if err != nil {
			r.Status = domain.RunStatusFailed
			r.Error = err.Error()
			final.Message = err.Error()
		}
	})
	if err != nil {
		s.logger.Errorw("run_failed", "run_id", req.RunID, "error", err)
	} else {
		s.logger.Infow("run_completed", "run_id", req.RunID)
	}
	s.publish(req.RunID, final)
	s.finish(req.RunID)
}

func (s *RunService) update(id string, fn func(*domain.Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runs[id]
	if !ok {
		return
	}
	fn(st.run)
	st.run.UpdatedAt = time.Now()
}

func (s *RunService) publish(id string, ev domain.RunEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runs[id]
	if !ok || st.done {
		return
	}
	st.events = append(st.events, ev)
	for subID, ch := range st.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warnw("run_subscriber_lagging", "run_id", id, "subscriber", subID)
		}
	}
}

func (s *RunService) finish(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runs[id]
	if !ok {
		return
	}
	st.done = true
	for subID, ch := range st.subs {
		close(ch)
		delete(st.subs, subID)
	}
}

func (s *RunService) GetRun(id string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	runCopy := *st.run
	runCopy.Reports = append([]domain.HostReport(nil), st.run.Reports...)
	return &runCopy, nil
}

// Events returns every event the run has published so far.
func (s *RunService) Events(id string) ([]domain.RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return append([]domain.RunEvent(nil), st.events...), nil
}

// Subscribe returns the events published so far and a channel carrying the
// rest. The channel is closed when the run finishes or cancel is called.
func (s *RunService) Subscribe(id string) (<-chan domain.RunEvent, []domain.RunEvent, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.runs[id]
	if !ok {
		return nil, nil, nil, ErrRunNotFound
	}
	backlog := append([]domain.RunEvent(nil), st.events...)
	ch := make(chan domain.RunEvent, subscriberBuffer)
	if st.done {
		close(ch)
		return ch, backlog, func() {}, nil
	}

	subID := st.nextID
	st.nextID++
	st.subs[subID] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := st.subs[subID]; ok {
				close(c)
				delete(st.subs, subID)
			}
		})
	}
	return ch, backlog, cancel, nil
}

// Wait blocks until every started run has finished.
func (s *RunService) Wait() {
	s.wg.Wait()
}
