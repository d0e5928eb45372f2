package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/credora/internal/clock"
	"github.com/smallbiznis/credora/internal/config"
	ledgerdomain "github.com/smallbiznis/credora/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/credora/internal/observability/metrics"
	"github.com/smallbiznis/credora/internal/reward/domain"
	"github.com/smallbiznis/credora/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Ledger     ledgerdomain.Service
	Rewards    *config.RewardConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	ledger     ledgerdomain.Service
	rewards    *config.RewardConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reward.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		ledger:     p.Ledger,
		rewards:    p.Rewards,
		obsMetrics: p.ObsMetrics,
	}
}

// DedupKey is the ledger idempotency key for a user's claim of a reward.
func DedupKey(userID snowflake.ID, rewardKey string) string {
	return fmt.Sprintf("reward:%s:%s", userID, rewardKey)
}

func (s *Service) Claim(ctx context.Context, req domain.ClaimRequest) (*domain.ClaimResult, error) {
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	req.RewardKey = strings.TrimSpace(req.RewardKey)
	if req.RewardKey == "" {
		return nil, domain.ErrInvalidReward
	}

	offer, err := s.resolveOffer(ctx, req)
	if err != nil {
		return nil, err
	}
	if !offer.Active {
		return nil, domain.ErrOfferInactive
	}

	claim := &domain.RewardClaim{
		ID:             s.genID.Generate(),
		UserID:         req.UserID,
		RewardKey:      offer.RewardKey,
		Status:         domain.ClaimStatusClaimed,
		CreditsAwarded: offer.Credits,
		OfferTitle:     offer.Title,
		ClaimedAt:      s.clock.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertClaim(ctx, tx, claim); err != nil {
			return err
		}
		ok, err := s.repo.ConsumeOfferSlot(ctx, tx, offer.RewardKey)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrMaxClaimsReached
		}
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.resumeClaim(ctx, req.UserID, offer)
		}
		if err == domain.ErrMaxClaimsReached {
			s.recordClaim(ctx, "capped")
		}
		return nil, err
	}

	item, err := s.grant(ctx, req.UserID, offer, claim.CreditsAwarded)
	if err != nil {
		return nil, err
	}

	s.recordClaim(ctx, "granted")
	return &domain.ClaimResult{Claim: claim, Transaction: item}, nil
}

// GiveFreeCredits grants the one-time signup credits. Zero or negative
// amount falls back to the configured free tier allowance. A positive
// amount only seeds the offer row on its first ever use; once the
// free_tier offer exists the stored credits win so every signup gets
// the same grant.
func (s *Service) GiveFreeCredits(ctx context.Context, userID snowflake.ID, amount int64, description string) (*domain.ClaimResult, error) {
	if amount <= 0 {
		amount = s.rewards.Get().FreeTierCredits
	}
	if description == "" {
		description = "Free tier credits"
	}
	return s.Claim(ctx, domain.ClaimRequest{
		UserID:      userID,
		RewardKey:   domain.FreeTierKey,
		Credits:     amount,
		Source:      ledgerdomain.SourceFreeTier,
		Description: description,
	})
}

// SyncOffers seeds offer rows for every configured reward so caps are
// enforced from the shared counter, not from per-node config copies.
func (s *Service) SyncOffers(ctx context.Context) error {
	cfg := s.rewards.Get()
	offers := make([]*domain.RewardOffer, 0, len(cfg.Offers)+1)
	offers = append(offers, &domain.RewardOffer{
		ID:        s.genID.Generate(),
		RewardKey: domain.FreeTierKey,
		Title:     "Free tier credits",
		Credits:   cfg.FreeTierCredits,
		Source:    string(ledgerdomain.SourceFreeTier),
		Active:    true,
		CreatedAt: s.clock.Now(),
		UpdatedAt: s.clock.Now(),
	})
	for _, oc := range cfg.Offers {
		offers = append(offers, &domain.RewardOffer{
			ID:        s.genID.Generate(),
			RewardKey: oc.Key,
			Title:     oc.Title,
			Credits:   oc.Credits,
			MaxClaims: oc.MaxClaims,
			Source:    oc.Source,
			Active:    true,
			CreatedAt: s.clock.Now(),
			UpdatedAt: s.clock.Now(),
		})
	}
	for _, offer := range offers {
		if err := s.repo.InsertOfferIfAbsent(ctx, s.db, offer); err != nil {
			return err
		}
	}
	return nil
}

// resolveOffer loads the offer row, seeding it from the reward
// catalogue or from the request on first use. The stored row always
// wins over request values so caps and amounts stay consistent.
func (s *Service) resolveOffer(ctx context.Context, req domain.ClaimRequest) (*domain.RewardOffer, error) {
	offer, err := db.RetryRead(ctx, func() (*domain.RewardOffer, error) {
		return s.repo.FindOffer(ctx, s.db, req.RewardKey)
	})
	if err != nil {
		return nil, err
	}
	if offer != nil {
		return offer, nil
	}

	seed := &domain.RewardOffer{
		ID:        s.genID.Generate(),
		RewardKey: req.RewardKey,
		Active:    true,
		CreatedAt: s.clock.Now(),
		UpdatedAt: s.clock.Now(),
	}
	if oc, ok := s.rewards.Offer(req.RewardKey); ok {
		seed.Title = oc.Title
		seed.Credits = oc.Credits
		seed.MaxClaims = oc.MaxClaims
		seed.Source = oc.Source
	} else if req.RewardKey == domain.FreeTierKey {
		seed.Title = "Free tier credits"
		seed.Credits = s.rewards.Get().FreeTierCredits
		seed.Source = string(ledgerdomain.SourceFreeTier)
	} else if req.Credits > 0 {
		seed.Title = strings.TrimSpace(req.Description)
		seed.Credits = req.Credits
		seed.MaxClaims = req.MaxClaims
		seed.Source = string(req.Source)
	} else {
		return nil, domain.ErrOfferNotFound
	}
	if seed.Credits <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	if err := s.repo.InsertOfferIfAbsent(ctx, s.db, seed); err != nil {
		return nil, err
	}
	return db.RetryRead(ctx, func() (*domain.RewardOffer, error) {
		return s.repo.FindOffer(ctx, s.db, req.RewardKey)
	})
}

// resumeClaim handles a duplicate claim. When the claim row exists but
// the ledger grant never landed (a crash between the two commits), the
// grant is replayed; otherwise the claim is rejected.
func (s *Service) resumeClaim(ctx context.Context, userID snowflake.ID, offer *domain.RewardOffer) (*domain.ClaimResult, error) {
	claim, err := db.RetryRead(ctx, func() (*domain.RewardClaim, error) {
		return s.repo.FindClaim(ctx, s.db, userID, offer.RewardKey)
	})
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, domain.ErrAlreadyClaimed
	}

	existing, err := s.ledger.FindByDedupKey(ctx, DedupKey(userID, offer.RewardKey))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.recordClaim(ctx, "duplicate")
		return nil, domain.ErrAlreadyClaimed
	}

	s.log.Warn("replaying missing reward grant",
		zap.String("user_id", userID.String()),
		zap.String("reward_key", offer.RewardKey),
	)
	item, err := s.grant(ctx, userID, offer, claim.CreditsAwarded)
	if err != nil {
		return nil, err
	}
	s.recordClaim(ctx, "granted")
	return &domain.ClaimResult{Claim: claim, Transaction: item}, nil
}

func (s *Service) grant(ctx context.Context, userID snowflake.ID, offer *domain.RewardOffer, amount int64) (*ledgerdomain.CreditTransaction, error) {
	source := ledgerdomain.Source(offer.Source)
	if !ledgerdomain.ValidSource(source) {
		source = ledgerdomain.SourcePromotion
	}
	txType := ledgerdomain.TransactionTypeBonus
	if source == ledgerdomain.SourceFreeTier {
		txType = ledgerdomain.TransactionTypeEarned
	}
	return s.ledger.AddCredits(ctx, ledgerdomain.AddCreditsRequest{
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Source:      source,
		Description: offer.Title,
		DedupKey:    DedupKey(userID, offer.RewardKey),
	})
}

func (s *Service) recordClaim(ctx context.Context, outcome string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordRewardClaim(ctx, outcome)
}
