package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type blockingJob struct {
	mu      sync.Mutex
	runs    int
	release chan struct{}
	err     error
	panics  bool
}

func (j *blockingJob) Name() string { return "blocking" }

func (j *blockingJob) Run(ctx context.Context) error {
	j.mu.Lock()
	j.runs++
	j.mu.Unlock()
	if j.release != nil {
		<-j.release
	}
	if j.panics {
		panic("boom")
	}
	return j.err
}

func (j *blockingJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func TestWrap_SkipsOverlappingRuns(t *testing.T) {
	s := NewCronScheduler()
	job := &blockingJob{release: make(chan struct{})}
	run := s.wrap(job, "* * * * *")

	started := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		close(started)
		run()
		close(finished)
	}()
	<-started
	require.Eventually(t, func() bool { return job.count() == 1 }, timeoutShort, tick)
	run()
	require.Equal(t, 1, job.count())
	close(job.release)
	<-finished

	run()
	require.Equal(t, 2, job.count())
}

func TestWrap_AbsorbsPanicsAndErrors(t *testing.T) {
	s := NewCronScheduler()
	job := &blockingJob{panics: true}
	run := s.wrap(job, "* * * * *")
	require.NotPanics(t, run)
	job.panics = false
	job.err = errors.New("failed")
	require.NotPanics(t, run)
	require.Equal(t, 2, job.count())
}

func TestAddJob_InvalidSpec(t *testing.T) {
	s := NewCronScheduler()
	require.Error(t, s.AddJob(&blockingJob{}, "not a spec"))
	require.NoError(t, s.AddJob(&blockingJob{}, "*/15 * * * *"))
	require.NoError(t, s.AddJob(&blockingJob{}, "*/5 * * * *"))
	require.Len(t, s.entries, 1)
	require.Len(t, s.cron.Entries(), 1)
}

const (
	timeoutShort = 2 * time.Second
	tick         = 5 * time.Millisecond
)

func TestRunJob_ConvertsPanic(t *testing.T) {
	_, err := runJob(context.Background(), &blockingJob{panics: true})
	require.ErrorContains(t, err, "boom")
	elapsed, err := runJob(context.Background(), &blockingJob{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, elapsed, time.Duration(0))
}
