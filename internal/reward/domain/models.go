// Package domain contains reward offers and claim records. The
// (user_id, reward_key) unique constraint is the anti-double-spend
// primitive for one-time grants.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ClaimStatus tracks the lifecycle of a claim record.
type ClaimStatus string

const (
	ClaimStatusPending   ClaimStatus = "pending"
	ClaimStatusCompleted ClaimStatus = "completed"
	ClaimStatusClaimed   ClaimStatus = "claimed"
)

// RewardOffer is a claimable reward. MaxClaims = 0 means the offer has
// no global cap; per-user uniqueness still applies.
type RewardOffer struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	RewardKey     string       `json:"reward_key" gorm:"type:text;not null;uniqueIndex"`
	Title         string       `json:"title" gorm:"type:text;not null"`
	Credits       int64        `json:"credits" gorm:"not null"`
	MaxClaims     int64        `json:"max_claims" gorm:"not null;default:0"`
	CurrentClaims int64        `json:"current_claims" gorm:"not null;default:0"`
	Source        string       `json:"source" gorm:"type:text;not null"`
	Active        bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RewardOffer) TableName() string { return "reward_offers" }

// RewardClaim records one consumption of a reward by one user.
// OfferTitle is a projection copied from the offer by the claim writer.
type RewardClaim struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID         snowflake.ID `json:"user_id" gorm:"not null;uniqueIndex:ux_reward_claims_user_key,priority:1"`
	RewardKey      string       `json:"reward_key" gorm:"type:text;not null;uniqueIndex:ux_reward_claims_user_key,priority:2"`
	Status         ClaimStatus  `json:"status" gorm:"type:text;not null"`
	CreditsAwarded int64        `json:"credits_awarded" gorm:"not null"`
	OfferTitle     string       `json:"offer_title" gorm:"type:text"`
	ClaimedAt      time.Time    `json:"claimed_at" gorm:"not null"`
}

// TableName sets the database table name.
func (RewardClaim) TableName() string { return "reward_claims" }
