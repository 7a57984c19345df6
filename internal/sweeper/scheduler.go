package sweeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const defaultSchedule = "@hourly"

// Scheduler runs the sweeper on a cron schedule. A run that is still going when the
// next tick fires causes that tick to be skipped, so sweeps never overlap.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  *Sweeper
	schedule string
	timeout  time.Duration
	entry    cron.EntryID
}

// cronLogger routes robfig/cron messages to logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.WithFields(cronFields(keysAndValues)).Debug("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.WithError(err).WithFields(cronFields(keysAndValues)).Warn("cron: " + msg)
}

func cronFields(keysAndValues []interface{}) log.Fields {
	fields := log.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

// NewScheduler constructs a scheduler. timeout bounds a single sweep; zero means 30 minutes.
func NewScheduler(s *Sweeper, schedule string, timeout time.Duration) (*Scheduler, error) {
	if s == nil {
		return nil, fmt.Errorf("sweeper scheduler: nil sweeper")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = defaultSchedule
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	sch := &Scheduler{cron: c, sweeper: s, schedule: schedule, timeout: timeout}
	id, err := c.AddFunc(schedule, sch.tick)
	if err != nil {
		return nil, fmt.Errorf("sweeper scheduler: invalid schedule %q: %w", schedule, err)
	}
	sch.entry = id
	return sch, nil
}

func (sch *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(WithTrigger(context.Background(), TriggerCron), sch.timeout)
	defer cancel()
	if _, err := sch.sweeper.RunNow(ctx); err != nil {
		if errors.Is(err, ErrSweepRunning) {
			log.Info("billing sweeper: previous sweep still running, skipping tick")
			return
		}
		log.WithError(err).Error("billing sweeper: scheduled sweep failed")
	}
}

// Start begins scheduling in the background.
func (sch *Scheduler) Start() {
	if sch == nil {
		return
	}
	sch.cron.Start()
	log.Infof("billing sweeper scheduled (%s, next=%s)", sch.schedule, sch.Next().Format(time.RFC3339))
}

// Next returns the next scheduled run time.
func (sch *Scheduler) Next() time.Time {
	if sch == nil {
		return time.Time{}
	}
	return sch.cron.Entry(sch.entry).Next
}

// Stop stops scheduling and waits for a running sweep to finish or ctx to end.
func (sch *Scheduler) Stop(ctx context.Context) {
	if sch == nil {
		return
	}
	done := sch.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn("billing sweeper: stop timed out waiting for running sweep")
	}
}
