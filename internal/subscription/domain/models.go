// Package domain contains the subscription model. A subscription is
// created pending and only starts billing once a payment activates it.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the subscription lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

type Subscription struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID          snowflake.ID `json:"user_id" gorm:"not null;index"`
	Tier            string       `json:"tier" gorm:"type:text;not null"`
	Status          Status       `json:"status" gorm:"type:text;not null"`
	CreditsPerMonth int64        `json:"credits_per_month" gorm:"not null"`
	NextBillingDate *time.Time   `json:"next_billing_date,omitempty" gorm:"index"`
	ActivatedAt     *time.Time   `json:"activated_at,omitempty"`
	CancelledAt     *time.Time   `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
