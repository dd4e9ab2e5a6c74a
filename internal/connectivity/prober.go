package connectivity

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs a job on a fixed interval. Satisfied by
// service.SchedulerService.
type Scheduler interface {
	ScheduleInterval(interval time.Duration, job func()) (cron.EntryID, error)
}

// Prober periodically checks whether the remote API answers and feeds the
// result into the observer. The check is whatever the caller supplies,
// normally the gateway health endpoint.
type Prober struct {
	observer *Observer
	check    func(ctx context.Context) error
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

func NewProber(observer *Observer, check func(ctx context.Context) error, interval, timeout time.Duration, log zerolog.Logger) *Prober {
	return &Prober{
		observer: observer,
		check:    check,
		interval: interval,
		timeout:  timeout,
		log:      log,
	}
}

// Run registers the probe on the scheduler. The scheduler's own Start/Stop
// controls the loop.
func (p *Prober) Run(s Scheduler) error {
	_, err := s.ScheduleInterval(p.interval, p.Probe)
	return err
}

// Probe performs a single check and reports the outcome.
func (p *Prober) Probe() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := p.check(ctx)
	if err != nil {
		p.log.Debug().Err(err).Msg("gateway probe failed")
	}
	p.observer.Report(err == nil)
}
