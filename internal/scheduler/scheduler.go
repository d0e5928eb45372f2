// Package scheduler runs the periodic billing sweep. An external timer
// remains the primary trigger in production; this in-process ticker
// covers self-hosted deployments without one.
package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/credora/internal/clock"
	"github.com/smallbiznis/credora/internal/config"
	subscriptiondomain "github.com/smallbiznis/credora/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log             *zap.Logger
	Cfg             config.Config
	Clock           clock.Clock
	SubscriptionSvc subscriptiondomain.Service
	Locker          *Locker `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             config.SchedulerConfig
	clock           clock.Clock
	subscriptionSvc subscriptiondomain.Service
	locker          *Locker

	stop chan struct{}
	done chan struct{}
}

func New(p Params) *Scheduler {
	return &Scheduler{
		log:             p.Log.Named("scheduler"),
		cfg:             p.Cfg.Scheduler,
		clock:           p.Clock,
		subscriptionSvc: p.SubscriptionSvc,
		locker:          p.Locker,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.run()
}

func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)

	interval := time.Duration(s.cfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("billing scheduler started", zap.Duration("interval", interval))
	for {
		select {
		case <-s.stop:
			s.log.Info("billing scheduler stopped")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if s.locker != nil {
		ttl := time.Duration(s.cfg.LockTTLSec) * time.Second
		lease, err := s.locker.TryLock(ctx, s.cfg.LockKey, ttl)
		if err != nil {
			s.log.Error("billing lock failed", zap.Error(err))
			return
		}
		if lease == nil {
			s.log.Debug("billing lock held elsewhere, skipping run")
			return
		}
		defer func() {
			if err := s.locker.Release(ctx, lease); err != nil {
				s.log.Warn("billing lock release failed", zap.Error(err))
			}
		}()
	}

	result, err := s.subscriptionSvc.RunBillingCycle(ctx, s.clock.Now())
	if err != nil {
		s.log.Error("billing cycle failed", zap.Error(err))
		return
	}
	s.log.Info("billing cycle finished",
		zap.Int("due", result.Due),
		zap.Int("granted", result.Granted),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
}
