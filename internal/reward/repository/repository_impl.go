package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/credora/internal/reward/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindOffer(ctx context.Context, db *gorm.DB, rewardKey string) (*domain.RewardOffer, error) {
	var item domain.RewardOffer
	err := db.WithContext(ctx).
		Where("reward_key = ?", rewardKey).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) InsertOfferIfAbsent(ctx context.Context, db *gorm.DB, offer *domain.RewardOffer) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reward_key"}},
			DoNothing: true,
		}).
		Create(offer).Error
}

func (r *repo) ConsumeOfferSlot(ctx context.Context, db *gorm.DB, rewardKey string) (bool, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE reward_offers
		SET current_claims = current_claims + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE reward_key = ?
		  AND active
		  AND (max_claims = 0 OR current_claims < max_claims)
	`, rewardKey)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertClaim(ctx context.Context, db *gorm.DB, claim *domain.RewardClaim) error {
	return db.WithContext(ctx).Create(claim).Error
}

func (r *repo) FindClaim(ctx context.Context, db *gorm.DB, userID snowflake.ID, rewardKey string) (*domain.RewardClaim, error) {
	var item domain.RewardClaim
	err := db.WithContext(ctx).
		Where("user_id = ? AND reward_key = ?", userID, rewardKey).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}
