package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// CreateRequest opens a pending subscription. CreditsPerMonth may be
// left zero to resolve the monthly grant from the tier catalogue.
type CreateRequest struct {
	UserID          snowflake.ID
	Tier            string
	CreditsPerMonth int64
}

// BillingCycleResult summarizes one billing sweep.
type BillingCycleResult struct {
	Due     int
	Granted int
	Skipped int
	Failed  int
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Subscription, error)
	Get(ctx context.Context, id snowflake.ID) (*Subscription, error)
	Activate(ctx context.Context, id snowflake.ID) (*Subscription, error)
	Cancel(ctx context.Context, id snowflake.ID) (*Subscription, error)
	Expire(ctx context.Context, id snowflake.ID) (*Subscription, error)
	RunBillingCycle(ctx context.Context, now time.Time) (BillingCycleResult, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*Subscription, error)
	Update(ctx context.Context, db *gorm.DB, sub *Subscription) error
	// AdvanceBillingDate moves next_billing_date from a known value in
	// one guarded statement; returns false when another worker already
	// advanced the period.
	AdvanceBillingDate(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to time.Time) (bool, error)
}

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidTier          = errors.New("invalid_tier")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrNotActive            = errors.New("subscription_not_active")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)
