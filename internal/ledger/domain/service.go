package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/credora/pkg/db/pagination"
	"gorm.io/gorm"
)

// AddCreditsRequest appends a positive posting to a user's ledger.
type AddCreditsRequest struct {
	UserID      snowflake.ID
	Amount      int64
	Type        TransactionType
	Source      Source
	Description string

	// DedupKey suppresses duplicate effects of a repeated grant
	// (payment settlement, billing period, reward claim). When a
	// transaction already carries the key the existing row is returned.
	DedupKey string

	RelatedPaymentID      *snowflake.ID
	RelatedSubscriptionID *snowflake.ID
	RelatedProjectID      *snowflake.ID
	Metadata              map[string]any
}

// UseCreditsRequest spends credits from a user's balance.
type UseCreditsRequest struct {
	UserID      snowflake.ID
	Amount      int64
	Source      Source
	Description string

	RelatedProjectID *snowflake.ID
	Metadata         map[string]any
}

type ListTransactionsRequest struct {
	UserID    snowflake.ID
	PageToken string
	PageSize  int
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []CreditTransaction `json:"transactions"`
}

// Service is the only writer and reader of the credit ledger.
type Service interface {
	GetBalance(ctx context.Context, userID snowflake.ID) (int64, error)
	AddCredits(ctx context.Context, req AddCreditsRequest) (*CreditTransaction, error)
	UseCredits(ctx context.Context, req UseCreditsRequest) (*CreditTransaction, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
	FindByDedupKey(ctx context.Context, dedupKey string) (*CreditTransaction, error)
}

type Repository interface {
	Latest(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*CreditTransaction, error)
	Insert(ctx context.Context, db *gorm.DB, tx *CreditTransaction) error
	FindByDedupKey(ctx context.Context, db *gorm.DB, dedupKey string) (*CreditTransaction, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, beforeID snowflake.ID, limit int) ([]*CreditTransaction, error)
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidType         = errors.New("invalid_transaction_type")
	ErrInvalidSource       = errors.New("invalid_source")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInsufficientBalance = errors.New("insufficient_balance")
)
