package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/credora/internal/ledger/domain"
	"gorm.io/gorm"
)

// FreeTierKey is the reward key used for the one-time free credit grant.
const FreeTierKey = "free_tier"

// ClaimRequest asks for one consumption of a reward.
type ClaimRequest struct {
	UserID    snowflake.ID
	RewardKey string

	// Credits applies when no offer record exists for the key.
	// A stored offer always wins over the request value.
	Credits     int64
	Source      ledgerdomain.Source
	Description string

	// MaxClaims caps total consumptions across users (0 = uncapped).
	// Used only when the claim creates the offer record on first use.
	MaxClaims int64
}

// ClaimResult reports an accepted claim and its ledger posting.
type ClaimResult struct {
	Claim       *RewardClaim
	Transaction *ledgerdomain.CreditTransaction
}

type Service interface {
	Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error)
	GiveFreeCredits(ctx context.Context, userID snowflake.ID, amount int64, description string) (*ClaimResult, error)
	SyncOffers(ctx context.Context) error
}

type Repository interface {
	FindOffer(ctx context.Context, db *gorm.DB, rewardKey string) (*RewardOffer, error)
	InsertOfferIfAbsent(ctx context.Context, db *gorm.DB, offer *RewardOffer) error
	// ConsumeOfferSlot increments current_claims when below max_claims
	// in one statement; returns false when the cap is exhausted.
	ConsumeOfferSlot(ctx context.Context, db *gorm.DB, rewardKey string) (bool, error)
	InsertClaim(ctx context.Context, db *gorm.DB, claim *RewardClaim) error
	FindClaim(ctx context.Context, db *gorm.DB, userID snowflake.ID, rewardKey string) (*RewardClaim, error)
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidReward    = errors.New("invalid_reward")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrAlreadyClaimed   = errors.New("already_claimed")
	ErrMaxClaimsReached = errors.New("max_claims_reached")
	ErrOfferNotFound    = errors.New("offer_not_found")
	ErrOfferInactive    = errors.New("offer_inactive")
)
