package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/credora/internal/clock"
	"github.com/smallbiznis/credora/internal/config"
	ledgerdomain "github.com/smallbiznis/credora/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/credora/internal/observability/metrics"
	"github.com/smallbiznis/credora/internal/subscription/domain"
	"github.com/smallbiznis/credora/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultBillingBatch = 100

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Ledger     ledgerdomain.Service
	Rewards    *config.RewardConfigHolder
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	ledger       ledgerdomain.Service
	rewards      *config.RewardConfigHolder
	billingBatch int
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	batch := p.Cfg.Scheduler.BillingBatch
	if batch <= 0 {
		batch = defaultBillingBatch
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("subscription.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		ledger:       p.Ledger,
		rewards:      p.Rewards,
		billingBatch: batch,
		obsMetrics:   p.ObsMetrics,
	}
}

// BillingDedupKey is the ledger idempotency key for one subscription
// billing period.
func BillingDedupKey(id snowflake.ID, periodStart time.Time) string {
	return fmt.Sprintf("subscription:%s:%s", id, periodStart.UTC().Format(time.RFC3339))
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Subscription, error) {
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	tier := strings.ToLower(strings.TrimSpace(req.Tier))
	if tier == "" {
		return nil, domain.ErrInvalidTier
	}

	credits := req.CreditsPerMonth
	if credits <= 0 {
		tc, ok := s.rewards.Tier(tier)
		if !ok {
			return nil, domain.ErrInvalidTier
		}
		credits = tc.CreditsPerMonth
	}

	now := s.clock.Now()
	sub := &domain.Subscription{
		ID:              s.genID.Generate(),
		UserID:          req.UserID,
		Tier:            tier,
		Status:          domain.StatusPending,
		CreditsPerMonth: credits,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	sub, err := db.RetryRead(ctx, func() (*domain.Subscription, error) {
		return s.repo.FindByID(ctx, s.db, id)
	})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// Activate transitions pending to active and starts the billing clock.
// Activating an already active subscription is a no-op so payment
// redeliveries stay idempotent.
func (s *Service) Activate(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case domain.StatusActive:
		return sub, nil
	case domain.StatusPending:
	default:
		return nil, domain.ErrInvalidStatus
	}

	now := s.clock.Now()
	next := now.AddDate(0, 1, 0)
	sub.Status = domain.StatusActive
	sub.ActivatedAt = &now
	sub.NextBillingDate = &next
	sub.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, sub); err != nil {
		return nil, err
	}

	s.log.Info("subscription activated",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("tier", sub.Tier),
	)
	return sub, nil
}

// Cancel stops billing. Cancelling a subscription that is not active
// succeeds without changing it.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.StatusActive {
		return sub, nil
	}

	now := s.clock.Now()
	sub.Status = domain.StatusCancelled
	sub.CancelledAt = &now
	sub.NextBillingDate = nil
	sub.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) Expire(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.StatusActive {
		return nil, domain.ErrNotActive
	}

	now := s.clock.Now()
	sub.Status = domain.StatusExpired
	sub.NextBillingDate = nil
	sub.UpdatedAt = now
	return sub, s.repo.Update(ctx, s.db, sub)
}

// RunBillingCycle grants the monthly credits for every active
// subscription whose billing date has arrived, then advances the date.
// The per-period dedup key and the guarded date advance make the sweep
// safe to re-run and safe to race with another worker.
func (s *Service) RunBillingCycle(ctx context.Context, now time.Time) (domain.BillingCycleResult, error) {
	var result domain.BillingCycleResult
	for {
		due, err := db.RetryRead(ctx, func() ([]*domain.Subscription, error) {
			return s.repo.ListDue(ctx, s.db, now, s.billingBatch)
		})
		if err != nil {
			return result, err
		}
		if len(due) == 0 {
			break
		}

		progressed := false
		for _, sub := range due {
			result.Due++
			advanced, err := s.billPeriod(ctx, sub)
			if err != nil {
				result.Failed++
				s.log.Error("billing period failed",
					zap.String("subscription_id", sub.ID.String()),
					zap.Error(err),
				)
				continue
			}
			if advanced {
				result.Granted++
				progressed = true
			} else {
				result.Skipped++
			}
		}
		if !progressed {
			break
		}
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordBillingRun(ctx)
	}
	return result, nil
}

func (s *Service) billPeriod(ctx context.Context, sub *domain.Subscription) (bool, error) {
	periodStart := sub.NextBillingDate.UTC()
	_, err := s.ledger.AddCredits(ctx, ledgerdomain.AddCreditsRequest{
		UserID:                sub.UserID,
		Type:                  ledgerdomain.TransactionTypeEarned,
		Amount:                sub.CreditsPerMonth,
		Source:                ledgerdomain.SourceSubscription,
		Description:           fmt.Sprintf("Monthly credits (%s)", sub.Tier),
		DedupKey:              BillingDedupKey(sub.ID, periodStart),
		RelatedSubscriptionID: &sub.ID,
	})
	if err != nil {
		return false, err
	}

	next := periodStart.AddDate(0, 1, 0)
	return s.repo.AdvanceBillingDate(ctx, s.db, sub.ID, *sub.NextBillingDate, next)
}
