package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/credora/internal/clock"
	"github.com/smallbiznis/credora/internal/ledger/domain"
	"github.com/smallbiznis/credora/internal/notifier"
	obsmetrics "github.com/smallbiznis/credora/internal/observability/metrics"
	"github.com/smallbiznis/credora/pkg/db"
	"github.com/smallbiznis/credora/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Notifier   notifier.Notifier   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	notifier   notifier.Notifier
	obsMetrics *obsmetrics.Metrics

	locks userLocks
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		notifier:   p.Notifier,
		obsMetrics: p.ObsMetrics,
	}
}

// GetBalance returns the latest BalanceAfter for the user, 0 when the
// ledger is empty.
func (s *Service) GetBalance(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, domain.ErrInvalidUser
	}
	latest, err := db.RetryRead(ctx, func() (*domain.CreditTransaction, error) {
		return s.repo.Latest(ctx, s.db, userID)
	})
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, nil
	}
	return latest.BalanceAfter, nil
}

func (s *Service) AddCredits(ctx context.Context, req domain.AddCreditsRequest) (*domain.CreditTransaction, error) {
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if !domain.ValidTransactionType(req.Type) || req.Type == domain.TransactionTypeUsed {
		return nil, domain.ErrInvalidType
	}
	if !domain.ValidSource(req.Source) {
		return nil, domain.ErrInvalidSource
	}

	dedupKey := strings.TrimSpace(req.DedupKey)
	if dedupKey != "" {
		existing, err := db.RetryRead(ctx, func() (*domain.CreditTransaction, error) {
			return s.repo.FindByDedupKey(ctx, s.db, dedupKey)
		})
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	item, err := s.append(ctx, req.UserID, func(balance int64) (*domain.CreditTransaction, error) {
		tx := &domain.CreditTransaction{
			ID:                    s.genID.Generate(),
			UserID:                req.UserID,
			Type:                  req.Type,
			Amount:                req.Amount,
			BalanceAfter:          balance + req.Amount,
			Source:                req.Source,
			Description:           strings.TrimSpace(req.Description),
			RelatedPaymentID:      req.RelatedPaymentID,
			RelatedSubscriptionID: req.RelatedSubscriptionID,
			RelatedProjectID:      req.RelatedProjectID,
			CreatedAt:             s.clock.Now(),
		}
		if dedupKey != "" {
			tx.DedupKey = &dedupKey
		}
		if req.Metadata != nil {
			tx.Metadata = datatypes.JSONMap(req.Metadata)
		}
		return tx, nil
	})
	if err != nil {
		// A concurrent writer may have applied the same dedup key
		// between the lookup and the insert.
		if dedupKey != "" && db.IsDuplicateKeyErr(err) {
			return db.RetryRead(ctx, func() (*domain.CreditTransaction, error) {
				return s.repo.FindByDedupKey(ctx, s.db, dedupKey)
			})
		}
		return nil, err
	}

	s.recordTransaction(ctx, item)
	s.notifyGrant(ctx, item)
	return item, nil
}

func (s *Service) UseCredits(ctx context.Context, req domain.UseCreditsRequest) (*domain.CreditTransaction, error) {
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if !domain.ValidSource(req.Source) {
		return nil, domain.ErrInvalidSource
	}

	item, err := s.append(ctx, req.UserID, func(balance int64) (*domain.CreditTransaction, error) {
		if balance < req.Amount {
			return nil, domain.ErrInsufficientBalance
		}
		tx := &domain.CreditTransaction{
			ID:               s.genID.Generate(),
			UserID:           req.UserID,
			Type:             domain.TransactionTypeUsed,
			Amount:           -req.Amount,
			BalanceAfter:     balance - req.Amount,
			Source:           req.Source,
			Description:      strings.TrimSpace(req.Description),
			RelatedProjectID: req.RelatedProjectID,
			CreatedAt:        s.clock.Now(),
		}
		if req.Metadata != nil {
			tx.Metadata = datatypes.JSONMap(req.Metadata)
		}
		return tx, nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransaction(ctx, item)
	return item, nil
}

func (s *Service) FindByDedupKey(ctx context.Context, dedupKey string) (*domain.CreditTransaction, error) {
	dedupKey = strings.TrimSpace(dedupKey)
	if dedupKey == "" {
		return nil, nil
	}
	return db.RetryRead(ctx, func() (*domain.CreditTransaction, error) {
		return s.repo.FindByDedupKey(ctx, s.db, dedupKey)
	})
}

func (s *Service) ListTransactions(ctx context.Context, req domain.ListTransactionsRequest) (domain.ListTransactionsResponse, error) {
	if req.UserID == 0 {
		return domain.ListTransactionsResponse{}, domain.ErrInvalidUser
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	var beforeID snowflake.ID
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListTransactionsResponse{}, domain.ErrInvalidPageToken
		}
		parsed, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListTransactionsResponse{}, domain.ErrInvalidPageToken
		}
		beforeID = parsed
	}

	items, err := db.RetryRead(ctx, func() ([]*domain.CreditTransaction, error) {
		return s.repo.ListByUser(ctx, s.db, req.UserID, beforeID, pageSize+1)
	})
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *domain.CreditTransaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	transactions := make([]domain.CreditTransaction, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		transactions = append(transactions, *item)
	}

	resp := domain.ListTransactionsResponse{Transactions: transactions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// append serializes on the user lock, reads the prior balance and
// commits the next row in one transaction.
func (s *Service) append(ctx context.Context, userID snowflake.ID, build func(balance int64) (*domain.CreditTransaction, error)) (*domain.CreditTransaction, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	var item *domain.CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		latest, err := s.repo.Latest(ctx, tx, userID)
		if err != nil {
			return err
		}
		var balance int64
		if latest != nil {
			balance = latest.BalanceAfter
		}

		item, err = build(balance)
		if err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) notifyGrant(ctx context.Context, item *domain.CreditTransaction) {
	if s.notifier == nil || item == nil || item.Amount <= 0 {
		return
	}
	s.notifier.Notify(ctx, notifier.Event{
		UserID: item.UserID,
		Kind:   notifier.KindCreditsGranted,
		Detail: map[string]any{
			"amount":        item.Amount,
			"source":        string(item.Source),
			"balance_after": item.BalanceAfter,
		},
	})
}

func (s *Service) recordTransaction(ctx context.Context, item *domain.CreditTransaction) {
	if s.obsMetrics == nil || item == nil {
		return
	}
	s.obsMetrics.RecordCreditTransaction(ctx, string(item.Type), string(item.Source))
}
