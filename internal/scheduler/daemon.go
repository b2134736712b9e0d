package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec validates a six-field cron expression (seconds first) or a
// descriptor such as "@hourly".
func ParseSpec(spec string) (cron.Schedule, error) {
	schedule, err := specParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return schedule, nil
}

// Daemon repeats a job on a cron schedule. A firing that overlaps a
// still-running job is skipped.
type Daemon struct {
	spec     string
	location *time.Location
	logger   zerolog.Logger
}

// NewDaemon constructs a Daemon for spec evaluated in loc.
func NewDaemon(spec string, loc *time.Location, logger zerolog.Logger) *Daemon {
	if loc == nil {
		loc = time.Local
	}
	return &Daemon{
		spec:     spec,
		location: loc,
		logger:   logger.With().Str("component", "daemon").Logger(),
	}
}

// Run registers job and blocks until ctx is cancelled, then waits for a
// running job to return.
func (d *Daemon) Run(ctx context.Context, job func(ctx context.Context), runOnStart bool) error {
	schedule, err := ParseSpec(d.spec)
	if err != nil {
		return err
	}

	log := cronLogger{logger: d.logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(d.location),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	id, err := c.AddFunc(d.spec, func() { job(ctx) })
	if err != nil {
		return fmt.Errorf("register collection job: %w", err)
	}

	c.Start()
	d.logger.Info().Str("cron", d.spec).Time("next", schedule.Next(time.Now().In(d.location))).Msg("daemon started")

	var startup sync.WaitGroup
	if runOnStart {
		startup.Add(1)
		go func() {
			defer startup.Done()
			c.Entry(id).WrappedJob.Run()
		}()
	}

	<-ctx.Done()
	<-c.Stop().Done()
	startup.Wait()
	d.logger.Info().Msg("daemon stopped")
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
