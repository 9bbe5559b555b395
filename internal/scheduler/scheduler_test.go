package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/propstrack/maintenance-server/internal/cleanup"
	"github.com/propstrack/maintenance-server/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRunner struct {
	mu    sync.Mutex
	runs  []string
	err   error
	block bool
}

func (r *fakeRunner) job(name string) Job {
	return func(ctx context.Context) (int, error) {
		r.mu.Lock()
		r.runs = append(r.runs, name)
		block, err := r.block, r.err
		r.mu.Unlock()

		if block {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 3, err
	}
}

func (r *fakeRunner) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func TestRunNowRecordsOutcome(t *testing.T) {
	m := metrics.NewUnregistered()
	runner := &fakeRunner{}
	s := New(m, zerolog.Nop(), time.Second)
	defer s.Stop()
	require.NoError(t, s.Add(cleanup.JobProcessed, "0 3 * * *", runner.job(cleanup.JobProcessed)))

	require.NoError(t, s.RunNow(cleanup.JobProcessed))
	runner.setErr(errors.New("backend down"))
	require.Error(t, s.RunNow(cleanup.JobProcessed))
	assert.Error(t, s.RunNow("unknown"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues(cleanup.JobProcessed, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues(cleanup.JobProcessed, "error")))
}

func TestAddRejectsBadSpecsAndDuplicates(t *testing.T) {
	runner := &fakeRunner{}
	s := New(metrics.NewUnregistered(), zerolog.Nop(), 0)
	defer s.Stop()

	assert.Error(t, s.Add(cleanup.JobFailed, "not a cron spec", runner.job(cleanup.JobFailed)))
	require.NoError(t, s.Add(cleanup.JobFailed, "30 3 * * 0", runner.job(cleanup.JobFailed)))
	assert.Error(t, s.Add(cleanup.JobFailed, "0 * * * *", runner.job(cleanup.JobFailed)))

	_, ok := s.Next(cleanup.JobProcessed)
	assert.False(t, ok)
}

func TestNextActivation(t *testing.T) {
	s := New(metrics.NewUnregistered(), zerolog.Nop(), 0)
	require.NoError(t, s.Add(cleanup.JobExpiredCodes, "0 * * * *", (&fakeRunner{}).job(cleanup.JobExpiredCodes)))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		next, ok := s.Next(cleanup.JobExpiredCodes)
		return ok && !next.IsZero()
	}, time.Second, 10*time.Millisecond)

	next, _ := s.Next(cleanup.JobExpiredCodes)
	assert.Zero(t, next.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestScheduledJobRuns(t *testing.T) {
	runner := &fakeRunner{}
	s := New(metrics.NewUnregistered(), zerolog.Nop(), time.Second)
	require.NoError(t, s.Add(cleanup.JobProcessed, "@every 1s", runner.job(cleanup.JobProcessed)))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return runner.count() > 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestStopCancelsRunningJob(t *testing.T) {
	runner := &fakeRunner{block: true}
	s := New(metrics.NewUnregistered(), zerolog.Nop(), 0)
	require.NoError(t, s.Add(cleanup.JobProcessed, "0 3 * * *", runner.job(cleanup.JobProcessed)))

	done := make(chan error, 1)
	go func() { done <- s.RunNow(cleanup.JobProcessed) }()
	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("job did not observe cancellation")
	}
}

func TestSweepRunsBesideCleanupJobs(t *testing.T) {
	m := metrics.NewUnregistered()
	s := New(m, zerolog.Nop(), time.Second)
	defer s.Stop()

	released := 0
	require.NoError(t, s.Add("counters-sweep", "45 * * * *", func(context.Context) (int, error) {
		released += 2
		return 2, nil
	}))
	require.NoError(t, s.Add(cleanup.JobFailed, "30 3 * * 0", (&fakeRunner{}).job(cleanup.JobFailed)))

	require.NoError(t, s.RunNow("counters-sweep"))
	assert.Equal(t, 2, released)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("counters-sweep", "success")))
}
