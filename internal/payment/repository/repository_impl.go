package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/credora/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *domain.Payment) error {
	return db.WithContext(ctx).Create(p).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindByExternalPaymentID(ctx context.Context, db *gorm.DB, processor, externalID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).
		Where("processor = ? AND external_payment_id = ?", processor, externalID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindByExternalOrderID(ctx context.Context, db *gorm.DB, processor, orderID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).
		Where("processor = ? AND external_order_id = ?", processor, orderID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, p *domain.Payment) error {
	return db.WithContext(ctx).Save(p).Error
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, ev *domain.PaymentEvent) error {
	return db.WithContext(ctx).Create(ev).Error
}
