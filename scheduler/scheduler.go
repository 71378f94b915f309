// Package scheduler periodically triggers connector.Driver.RunIncrementalSync
// for every registered connector instance, on a per-instance cron schedule,
// with a jittered initial delay so a fleet of instances restarted together
// doesn't all fire their first sync in the same instant.
package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"eve.evalgo.org/ingest/connector"
)

// DefaultSchedule runs an instance's incremental sync every five minutes
// when its InstanceConfig doesn't specify one.
const DefaultSchedule = "*/5 * * * *"

// MaxInitialJitter bounds the random delay before an instance's first tick,
// so instances started in the same deploy don't all sync at once.
const MaxInitialJitter = 30 * time.Second

// Instance is one connector instance the scheduler drives: its runtime and
// the driver to call RunIncrementalSync on.
type Instance struct {
	RT       *connector.Runtime
	Driver   connector.Driver
	Schedule string // cron expression; DefaultSchedule if empty
}

// Scheduler owns one cron entry per registered instance.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Entry
	jitter func(time.Duration) time.Duration
}

// New builds a Scheduler. log may be nil.
func New(log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		cron: cron.New(),
		log:  log.WithField("component", "scheduler"),
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// Register adds one instance's RunIncrementalSync as a cron job. The first
// run is delayed by a random jitter up to MaxInitialJitter; every run after
// that follows inst.Schedule (or DefaultSchedule).
func (s *Scheduler) Register(inst Instance) error {
	schedule := inst.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	entryLog := s.log.WithFields(logrus.Fields{
		"connector_id":   inst.RT.Config.ConnectorID,
		"connector_name": inst.RT.Config.ConnectorName,
	})

	first := true
	delay := s.jitter(MaxInitialJitter)
	_, err := s.cron.AddFunc(schedule, func() {
		if first {
			first = false
			time.Sleep(delay)
		}
		s.runOnce(entryLog, inst)
	})
	return err
}

func (s *Scheduler) runOnce(log *logrus.Entry, inst Instance) {
	ctx := context.Background()
	start := time.Now()
	if err := inst.Driver.RunIncrementalSync(ctx); err != nil {
		log.WithError(err).WithField("duration", time.Since(start)).Error("incremental sync failed")
		return
	}
	log.WithField("duration", time.Since(start)).Info("incremental sync completed")
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler without waiting; the returned context is done once
// any in-flight job has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
