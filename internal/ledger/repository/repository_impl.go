package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/credora/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Latest(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.CreditTransaction, error) {
	var item domain.CreditTransaction
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tx *domain.CreditTransaction) error {
	return db.WithContext(ctx).Create(tx).Error
}

func (r *repo) FindByDedupKey(ctx context.Context, db *gorm.DB, dedupKey string) (*domain.CreditTransaction, error) {
	var item domain.CreditTransaction
	err := db.WithContext(ctx).
		Where("dedup_key = ?", dedupKey).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, beforeID snowflake.ID, limit int) ([]*domain.CreditTransaction, error) {
	stmt := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit)
	if beforeID != 0 {
		stmt = stmt.Where("id < ?", beforeID)
	}

	var items []*domain.CreditTransaction
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
