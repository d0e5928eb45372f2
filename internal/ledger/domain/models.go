// Package domain contains the append-only credit ledger model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TransactionType classifies a ledger posting.
type TransactionType string

const (
	TransactionTypeEarned    TransactionType = "earned"
	TransactionTypePurchased TransactionType = "purchased"
	TransactionTypeUsed      TransactionType = "used"
	TransactionTypeRefunded  TransactionType = "refunded"
	TransactionTypeBonus     TransactionType = "bonus"
)

// Source identifies where a credit movement originated.
type Source string

const (
	SourceFreeTier       Source = "free_tier"
	SourceSubscription   Source = "subscription"
	SourcePurchase       Source = "purchase"
	SourceReferral       Source = "referral"
	SourcePromotion      Source = "promotion"
	SourceAppDevelopment Source = "app_development"
	SourceRefund         Source = "refund"
	SourceMentorship     Source = "mentorship"
	SourceService        Source = "service"
)

// CreditTransaction is one immutable ledger row. The latest row's
// BalanceAfter is the user's balance; rows are never updated or deleted.
type CreditTransaction struct {
	ID                    snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID                snowflake.ID      `json:"user_id" gorm:"not null;index"`
	Type                  TransactionType   `json:"type" gorm:"type:text;not null"`
	Amount                int64             `json:"amount" gorm:"not null"`
	BalanceAfter          int64             `json:"balance_after" gorm:"not null"`
	Source                Source            `json:"source" gorm:"type:text;not null"`
	Description           string            `json:"description" gorm:"type:text"`
	DedupKey              *string           `json:"dedup_key,omitempty" gorm:"type:text;uniqueIndex"`
	RelatedPaymentID      *snowflake.ID     `json:"related_payment_id,omitempty" gorm:"index"`
	RelatedSubscriptionID *snowflake.ID     `json:"related_subscription_id,omitempty"`
	RelatedProjectID      *snowflake.ID     `json:"related_project_id,omitempty"`
	Metadata              datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt             time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// ValidTransactionType reports whether t is a known posting type.
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TransactionTypeEarned,
		TransactionTypePurchased,
		TransactionTypeUsed,
		TransactionTypeRefunded,
		TransactionTypeBonus:
		return true
	default:
		return false
	}
}

// ValidSource reports whether s is a known credit source.
func ValidSource(s Source) bool {
	switch s {
	case SourceFreeTier,
		SourceSubscription,
		SourcePurchase,
		SourceReferral,
		SourcePromotion,
		SourceAppDevelopment,
		SourceRefund,
		SourceMentorship,
		SourceService:
		return true
	default:
		return false
	}
}
