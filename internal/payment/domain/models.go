// Package domain contains the payment intent model. Settlement is
// driven by processor webhooks; the (processor, external id) pairs are
// the only join between processor events and local payments.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PaymentType describes what a payment buys.
type PaymentType string

const (
	PaymentTypeOneTime      PaymentType = "one_time"
	PaymentTypeSubscription PaymentType = "subscription"
	PaymentTypeCredits      PaymentType = "credits"
)

// Status is the payment lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition applies. Webhook
// redeliveries against a terminal payment are acknowledged unchanged.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRefunded, StatusCancelled:
		return true
	default:
		return false
	}
}

type Payment struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	UserID            snowflake.ID  `json:"user_id" gorm:"not null;index"`
	Type              PaymentType   `json:"type" gorm:"type:text;not null"`
	Amount            int64         `json:"amount" gorm:"not null"`
	Currency          string        `json:"currency" gorm:"type:text;not null;default:usd"`
	Status            Status        `json:"status" gorm:"type:text;not null"`
	Processor         string        `json:"processor" gorm:"type:text;not null;uniqueIndex:ux_payments_processor_payment,priority:1;uniqueIndex:ux_payments_processor_order,priority:1"`
	ExternalPaymentID *string       `json:"external_payment_id,omitempty" gorm:"type:text;uniqueIndex:ux_payments_processor_payment,priority:2"`
	ExternalOrderID   *string       `json:"external_order_id,omitempty" gorm:"type:text;uniqueIndex:ux_payments_processor_order,priority:2"`
	CreditsPurchased  *int64        `json:"credits_purchased,omitempty"`
	SubscriptionID    *snowflake.ID `json:"subscription_id,omitempty"`
	ProcessedAt       *time.Time    `json:"processed_at,omitempty"`
	RefundedAt        *time.Time    `json:"refunded_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time     `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// PaymentEvent is the audit row written for every webhook delivery
// that matched a local payment, including redeliveries.
type PaymentEvent struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey"`
	PaymentID snowflake.ID   `json:"payment_id" gorm:"not null;index"`
	Processor string         `json:"processor" gorm:"type:text;not null"`
	Event     string         `json:"event" gorm:"type:text"`
	Status    string         `json:"status" gorm:"type:text;not null"`
	Payload   datatypes.JSON `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentEvent) TableName() string { return "payment_events" }

// ValidPaymentType reports whether t is a known payment type.
func ValidPaymentType(t PaymentType) bool {
	switch t {
	case PaymentTypeOneTime, PaymentTypeSubscription, PaymentTypeCredits:
		return true
	default:
		return false
	}
}
