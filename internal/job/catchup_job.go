package job

import "context"

type catchUpRunner interface {
	RunCatchUpCheck(ctx context.Context)
}

// CatchUpJob periodically re-issues tokens to voters who still lack a valid one.
type CatchUpJob struct {
	distribution catchUpRunner
}

func NewCatchUpJob(distribution catchUpRunner) *CatchUpJob {
	return &CatchUpJob{distribution: distribution}
}

func (j *CatchUpJob) Name() string {
	return "token_catch_up"
}

func (j *CatchUpJob) Run(ctx context.Context) error {
	if j.distribution == nil {
		return nil
	}
	j.distribution.RunCatchUpCheck(ctx)
	return nil
}
