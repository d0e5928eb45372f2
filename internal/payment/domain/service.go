package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/credora/internal/ledger/domain"
	"gorm.io/gorm"
)

// CreateIntentRequest opens a payment awaiting processor confirmation.
type CreateIntentRequest struct {
	UserID    snowflake.ID
	Type      PaymentType
	Amount    int64
	Currency  string
	Processor string

	// CreditsPurchased is required for credits payments and names the
	// amount added to the ledger when the payment settles.
	CreditsPurchased *int64

	// SubscriptionID links a subscription payment to the subscription
	// it activates on settlement.
	SubscriptionID *snowflake.ID

	ExternalPaymentID string
	ExternalOrderID   string
}

// WebhookEvent is the processor-agnostic shape of a payment webhook.
type WebhookEvent struct {
	Event     string `json:"event"`
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Processor string `json:"-"`
}

// SettlementResult reports what one webhook delivery changed. Applied
// is false for redeliveries and unrecognized statuses.
type SettlementResult struct {
	Payment     *Payment
	Transaction *ledgerdomain.CreditTransaction
	Applied     bool
}

type Service interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Payment, error)
	Get(ctx context.Context, id snowflake.ID) (*Payment, error)
	Settle(ctx context.Context, ev WebhookEvent) (*SettlementResult, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, p *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByExternalPaymentID(ctx context.Context, db *gorm.DB, processor, externalID string) (*Payment, error)
	FindByExternalOrderID(ctx context.Context, db *gorm.DB, processor, orderID string) (*Payment, error)
	Update(ctx context.Context, db *gorm.DB, p *Payment) error
	InsertEvent(ctx context.Context, db *gorm.DB, ev *PaymentEvent) error
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidType         = errors.New("invalid_payment_type")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidProcessor    = errors.New("invalid_processor")
	ErrInvalidEvent        = errors.New("invalid_event")
	ErrPaymentNotFound     = errors.New("payment_not_found")
	ErrAmbiguousExternalID = errors.New("ambiguous_external_id")
)
