// Package identity holds the minimal user surface the credit system
// needs: a stable user id and an email to resolve it by.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/credora/internal/clock"
	"github.com/smallbiznis/credora/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type User struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	Email       string       `json:"email" gorm:"type:text;not null;uniqueIndex"`
	DisplayName string       `json:"display_name" gorm:"type:text"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

var (
	ErrUserNotFound = errors.New("user_not_found")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrEmailTaken   = errors.New("email_taken")
)

type Service interface {
	Register(ctx context.Context, email, displayName string) (*User, error)
	Get(ctx context.Context, id snowflake.ID) (*User, error)
	ResolveUserID(ctx context.Context, email string) (snowflake.ID, error)
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("identity.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *service) Register(ctx context.Context, email, displayName string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}

	user := &User{
		ID:          s.genID.Generate(),
		Email:       email,
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return user, nil
}

func (s *service) Get(ctx context.Context, id snowflake.ID) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *service) ResolveUserID(ctx context.Context, email string) (snowflake.ID, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.ID, nil
}

var Module = fx.Module("identity.service",
	fx.Provide(NewService),
)
