package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

func newSecondsCron(s *Scheduler) *cron.Cron {
	return cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithLogger(s.logger),
		cron.WithChain(cron.Recover(s.logger)),
	)
}
