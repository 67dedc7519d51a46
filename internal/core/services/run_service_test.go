package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/testutil"
)

// blockingDeploy holds every deploy until release is closed.
type blockingDeploy struct {
	release chan struct{}
	err     error
}

func (d *blockingDeploy) Deploy(ctx context.Context, req ports.DeployRequest, sink func(domain.RunEvent)) ([]domain.HostReport, error) {
	sink(domain.RunEvent{Kind: domain.RunEventTaskStarted, Host: "web1", Task: req.Invocations[0].Task})
	<-d.release
	sink(domain.RunEvent{Kind: domain.RunEventTaskFinished, Host: "web1", Task: req.Invocations[0].Task})
	return []domain.HostReport{{Host: "web1"}}, d.err
}

func (d *blockingDeploy) Check(ctx context.Context, hosts []string, overrides map[string]string) ([]domain.CheckResult, error) {
	return nil, nil
}

func TestRunService_CompletesRun(t *testing.T) {
	t.Parallel()

	deploy := NewDeployService(testConfig("web1", "web2"), testRegistry(t), testutil.NewFactory(), nil, nil, nil, nil)
	runs := NewRunService(deploy, nil)

	run, err := runs.StartRun(context.Background(), appRequest)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, domain.RunStatusPending, run.Status)

	runs.Wait()

	got, err := runs.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	require.Len(t, got.Reports, 2)

	events, err := runs.Events(run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.RunEventRunFinished, events[len(events)-1].Kind)
}

func TestRunService_FailedRun(t *testing.T) {
	t.Parallel()

	deploy := &blockingDeploy{release: make(chan struct{}), err: ErrHostFailed}
	close(deploy.release)
	runs := NewRunService(deploy, nil)

	run, err := runs.StartRun(context.Background(), appRequest)
	require.NoError(t, err)
	runs.Wait()

	got, err := runs.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Equal(t, ErrHostFailed.Error(), got.Error)
}

func TestRunService_SubscribeStreamsBacklogAndLiveEvents(t *testing.T) {
	t.Parallel()

	deploy := &blockingDeploy{release: make(chan struct{})}
	runs := NewRunService(deploy, nil)

	run, err := runs.StartRun(context.Background(), appRequest)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, _ := runs.Events(run.ID)
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)

	ch, backlog, cancel, err := runs.Subscribe(run.ID)
	require.NoError(t, err)
	defer cancel()
	require.Len(t, backlog, 1)
	assert.Equal(t, domain.RunEventTaskStarted, backlog[0].Kind)

	close(deploy.release)

	var kinds []domain.RunEventKind
	for ev := range ch {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []domain.RunEventKind{domain.RunEventTaskFinished, domain.RunEventRunFinished}, kinds)

	runs.Wait()

	// Subscribing to a finished run yields the full history and a closed channel.
	ch, backlog, _, err = runs.Subscribe(run.ID)
	require.NoError(t, err)
	assert.Len(t, backlog, 3)
	_, open := <-ch
	assert.False(t, open)
}

func TestRunService_CancelSubscription(t *testing.T) {
	t.Parallel()

	deploy := &blockingDeploy{release: make(chan struct{})}
	runs := NewRunService(deploy, nil)

	run, err := runs.StartRun(context.Background(), appRequest)
	require.NoError(t, err)

	ch, _, cancel, err := runs.Subscribe(run.ID)
	require.NoError(t, err)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	close(deploy.release)
	runs.Wait()
}

func TestRunService_Errors(t *testing.T) {
	t.Parallel()

	runs := NewRunService(&blockingDeploy{release: make(chan struct{})}, nil)

	_, err := runs.StartRun(context.Background(), ports.DeployRequest{})
	assert.ErrorIs(t, err, ErrNoInvocations)

	_, err = runs.GetRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = runs.Events("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, _, _, err = runs.Subscribe("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
