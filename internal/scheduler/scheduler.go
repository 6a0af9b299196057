// Package scheduler drives the publishers and the receipt consumer as
// supervised periodic work, gated by leader election. A tick runs to
// completion before the next one is considered, so the same job never
// overlaps itself.
package scheduler

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"vedtaksync/internal/leader"
	"vedtaksync/internal/publish"
)

// Health carries the process liveness and readiness flags the serve command
// exposes. The consumer failing abnormally clears Alive to force a restart.
type Health struct {
	alive atomic.Bool
	ready atomic.Bool
}

func NewHealth() *Health {
	h := &Health{}
	h.alive.Store(true)
	return h
}

func (h *Health) Alive() bool  { return h.alive.Load() }
func (h *Health) Ready() bool  { return h.ready.Load() }
func (h *Health) SetReady()    { h.ready.Store(true) }
func (h *Health) SetNotReady() { h.ready.Store(false) }
func (h *Health) fail()        { h.alive.Store(false) }

// Job is one periodic unit of work.
type Job struct {
	Name         string
	InitialDelay time.Duration
	Interval     time.Duration
	Run          func(ctx context.Context) error
}

type Scheduler struct {
	Elector leader.Elector
	Logger  *log.Logger
	Health  *Health

	jobs     []Job
	consumer func(ctx context.Context) error
}

func New(elector leader.Elector, health *Health, logger *log.Logger) *Scheduler {
	return &Scheduler{Elector: elector, Health: health, Logger: logger}
}

func (s *Scheduler) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s *Scheduler) AddJob(j Job) {
	s.jobs = append(s.jobs, j)
}

// SetConsumer registers the long-lived receipt consumer. Unlike job ticks,
// its abnormal exit stops the scheduler and clears the liveness flag: queue
// session state is assumed corrupted and only a restart recovers it.
func (s *Scheduler) SetConsumer(run func(ctx context.Context) error) {
	s.consumer = run
}

// PublisherJob wraps one publisher tick in outcome logging.
func PublisherJob(p publish.Publisher, initialDelay, interval time.Duration, logger *log.Logger) Job {
	return Job{
		Name:         p.Name(),
		InitialDelay: initialDelay,
		Interval:     interval,
		Run: func(ctx context.Context) error {
			outcomes, err := p.Publish(ctx)
			if err != nil {
				return err
			}
			succeeded, failed := publish.Summarize(outcomes)
			if succeeded > 0 || failed > 0 {
				logger.Printf("%s: converged %d, failed %d", p.Name(), succeeded, failed)
			}
			for _, o := range outcomes {
				if o.Err != nil {
					logger.Printf("%s: decision %s: %s failure: %v", p.Name(), o.DecisionID, o.Kind, o.Err)
				}
			}
			return nil
		},
	}
}

// Run blocks until ctx is cancelled or the consumer dies.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Health != nil {
		s.Health.SetReady()
		defer s.Health.SetNotReady()
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			s.runJob(ctx, job)
			return nil
		})
	}
	if s.consumer != nil {
		g.Go(func() error {
			err := s.consumer(ctx)
			if err != nil && ctx.Err() == nil {
				if s.Health != nil {
					s.Health.fail()
				}
				s.logger().Printf("receipt consumer died: %v", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	if job.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(job.InitialDelay):
		}
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		s.tick(ctx, job)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs one leader-gated invocation. Job errors are logged and retried on
// the next tick; an elector failure skips the tick on the safe side.
func (s *Scheduler) tick(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	isLeader, err := s.Elector.IsLeader(ctx)
	if err != nil {
		s.logger().Printf("%s: leader check failed, skipping tick: %v", job.Name, err)
		return
	}
	if !isLeader {
		return
	}
	if err := job.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger().Printf("%s: tick failed: %v", job.Name, err)
	}
}
