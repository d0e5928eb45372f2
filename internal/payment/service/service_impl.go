package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/credora/internal/clock"
	ledgerdomain "github.com/smallbiznis/credora/internal/ledger/domain"
	"github.com/smallbiznis/credora/internal/notifier"
	obsmetrics "github.com/smallbiznis/credora/internal/observability/metrics"
	"github.com/smallbiznis/credora/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/credora/internal/subscription/domain"
	"github.com/smallbiznis/credora/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          domain.Repository
	Ledger        ledgerdomain.Service
	Subscriptions subscriptiondomain.Service
	Notifier      notifier.Notifier
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          domain.Repository
	ledger        ledgerdomain.Service
	subscriptions subscriptiondomain.Service
	notifier      notifier.Notifier
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		ledger:        p.Ledger,
		subscriptions: p.Subscriptions,
		notifier:      p.Notifier,
		obsMetrics:    p.ObsMetrics,
	}
}

// DedupKey is the ledger idempotency key for a settled credits payment.
func DedupKey(paymentID snowflake.ID) string {
	return fmt.Sprintf("payment:%s", paymentID)
}

func (s *Service) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (*domain.Payment, error) {
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if !domain.ValidPaymentType(req.Type) {
		return nil, domain.ErrInvalidType
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	processor := strings.ToLower(strings.TrimSpace(req.Processor))
	if processor == "" {
		return nil, domain.ErrInvalidProcessor
	}
	if req.Type == domain.PaymentTypeCredits && (req.CreditsPurchased == nil || *req.CreditsPurchased <= 0) {
		return nil, domain.ErrInvalidAmount
	}
	if req.Type == domain.PaymentTypeSubscription && req.SubscriptionID == nil {
		return nil, domain.ErrInvalidEvent
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}

	now := s.clock.Now()
	payment := &domain.Payment{
		ID:               s.genID.Generate(),
		UserID:           req.UserID,
		Type:             req.Type,
		Amount:           req.Amount,
		Currency:         currency,
		Status:           domain.StatusPending,
		Processor:        processor,
		CreditsPurchased: req.CreditsPurchased,
		SubscriptionID:   req.SubscriptionID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if v := strings.TrimSpace(req.ExternalPaymentID); v != "" {
		payment.ExternalPaymentID = &v
	}
	if v := strings.TrimSpace(req.ExternalOrderID); v != "" {
		payment.ExternalOrderID = &v
	}

	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		// A retried create with the same external id returns the
		// payment the first attempt wrote.
		if db.IsDuplicateKeyErr(err) && payment.ExternalPaymentID != nil {
			return db.RetryRead(ctx, func() (*domain.Payment, error) {
				return s.repo.FindByExternalPaymentID(ctx, s.db, processor, *payment.ExternalPaymentID)
			})
		}
		return nil, err
	}
	return payment, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Payment, error) {
	payment, err := db.RetryRead(ctx, func() (*domain.Payment, error) {
		return s.repo.FindByID(ctx, s.db, id)
	})
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

// Settle applies one webhook delivery. Redeliveries against a payment
// already in a terminal state are acknowledged without effect.
func (s *Service) Settle(ctx context.Context, ev domain.WebhookEvent) (*domain.SettlementResult, error) {
	processor := strings.ToLower(strings.TrimSpace(ev.Processor))
	if processor == "" {
		return nil, domain.ErrInvalidProcessor
	}
	paymentID := strings.TrimSpace(ev.PaymentID)
	orderID := strings.TrimSpace(ev.OrderID)
	if paymentID == "" && orderID == "" {
		return nil, domain.ErrInvalidEvent
	}

	payment, err := s.match(ctx, processor, paymentID, orderID)
	if err != nil {
		return nil, err
	}
	s.auditEvent(ctx, payment.ID, processor, ev)
	if payment.Status.Terminal() {
		s.recordEvent(ctx, processor, "redelivered")
		return &domain.SettlementResult{Payment: payment, Applied: false}, nil
	}

	switch normalizeStatus(ev.Status) {
	case domain.StatusCompleted:
		return s.settleCompleted(ctx, payment, processor, paymentID, orderID)
	case domain.StatusFailed:
		return s.settleTerminal(ctx, payment, processor, domain.StatusFailed)
	case domain.StatusCancelled:
		return s.settleTerminal(ctx, payment, processor, domain.StatusCancelled)
	case domain.StatusRefunded:
		return s.settleTerminal(ctx, payment, processor, domain.StatusRefunded)
	default:
		s.log.Info("ignoring webhook status",
			zap.String("processor", processor),
			zap.String("status", ev.Status),
		)
		s.recordEvent(ctx, processor, "ignored")
		return &domain.SettlementResult{Payment: payment, Applied: false}, nil
	}
}

// match resolves the local payment from the processor's identifiers.
// Identifiers that resolve to two different payments are a hard error;
// guessing here would credit the wrong account.
func (s *Service) match(ctx context.Context, processor, paymentID, orderID string) (*domain.Payment, error) {
	var byPayment, byOrder *domain.Payment
	var err error
	if paymentID != "" {
		byPayment, err = db.RetryRead(ctx, func() (*domain.Payment, error) {
			return s.repo.FindByExternalPaymentID(ctx, s.db, processor, paymentID)
		})
		if err != nil {
			return nil, err
		}
	}
	if orderID != "" {
		byOrder, err = db.RetryRead(ctx, func() (*domain.Payment, error) {
			return s.repo.FindByExternalOrderID(ctx, s.db, processor, orderID)
		})
		if err != nil {
			return nil, err
		}
	}

	switch {
	case byPayment != nil && byOrder != nil && byPayment.ID != byOrder.ID:
		return nil, domain.ErrAmbiguousExternalID
	case byPayment != nil:
		return byPayment, nil
	case byOrder != nil:
		return byOrder, nil
	default:
		return nil, domain.ErrPaymentNotFound
	}
}

// settleCompleted grants before transitioning. A crash between the two
// writes leaves a pending payment whose grant already landed; the
// retried delivery finds the grant through its dedup key and only
// repeats the transition.
func (s *Service) settleCompleted(ctx context.Context, payment *domain.Payment, processor, paymentID, orderID string) (*domain.SettlementResult, error) {
	var txn *ledgerdomain.CreditTransaction
	var err error

	if payment.Type == domain.PaymentTypeCredits && payment.CreditsPurchased != nil && *payment.CreditsPurchased > 0 {
		txn, err = s.ledger.AddCredits(ctx, ledgerdomain.AddCreditsRequest{
			UserID:           payment.UserID,
			Type:             ledgerdomain.TransactionTypePurchased,
			Amount:           *payment.CreditsPurchased,
			Source:           ledgerdomain.SourcePurchase,
			Description:      fmt.Sprintf("Credit purchase via %s", payment.Processor),
			DedupKey:         DedupKey(payment.ID),
			RelatedPaymentID: &payment.ID,
		})
		if err != nil {
			return nil, err
		}
	}

	if payment.Type == domain.PaymentTypeSubscription && payment.SubscriptionID != nil {
		if _, err := s.subscriptions.Activate(ctx, *payment.SubscriptionID); err != nil {
			return nil, err
		}
		s.notifier.Notify(ctx, notifier.Event{
			UserID: payment.UserID,
			Kind:   notifier.KindSubscriptionActivated,
			Detail: map[string]any{"subscription_id": payment.SubscriptionID.String()},
		})
	}

	now := s.clock.Now()
	payment.Status = domain.StatusCompleted
	payment.ProcessedAt = &now
	payment.UpdatedAt = now
	if payment.ExternalPaymentID == nil && paymentID != "" {
		payment.ExternalPaymentID = &paymentID
	}
	if payment.ExternalOrderID == nil && orderID != "" {
		payment.ExternalOrderID = &orderID
	}
	if err := s.repo.Update(ctx, s.db, payment); err != nil {
		return nil, err
	}

	detail := map[string]any{
		"payment_id": payment.ID.String(),
		"amount":     payment.Amount,
		"currency":   payment.Currency,
	}
	if payment.CreditsPurchased != nil {
		detail["credits"] = *payment.CreditsPurchased
	}
	s.notifier.Notify(ctx, notifier.Event{
		UserID: payment.UserID,
		Kind:   notifier.KindPaymentCompleted,
		Detail: detail,
	})

	s.recordEvent(ctx, processor, string(domain.StatusCompleted))
	return &domain.SettlementResult{Payment: payment, Transaction: txn, Applied: true}, nil
}

func (s *Service) settleTerminal(ctx context.Context, payment *domain.Payment, processor string, status domain.Status) (*domain.SettlementResult, error) {
	now := s.clock.Now()
	payment.Status = status
	payment.UpdatedAt = now
	if status == domain.StatusRefunded {
		payment.RefundedAt = &now
	}
	if err := s.repo.Update(ctx, s.db, payment); err != nil {
		return nil, err
	}

	if status == domain.StatusFailed {
		s.notifier.Notify(ctx, notifier.Event{
			UserID: payment.UserID,
			Kind:   notifier.KindPaymentFailed,
			Detail: map[string]any{"payment_id": payment.ID.String()},
		})
	}

	s.recordEvent(ctx, processor, string(status))
	return &domain.SettlementResult{Payment: payment, Applied: true}, nil
}

// auditEvent records one row per matched delivery, redeliveries
// included. Best effort: a failed audit write never blocks settlement.
func (s *Service) auditEvent(ctx context.Context, paymentID snowflake.ID, processor string, ev domain.WebhookEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		payload = nil
	}
	row := &domain.PaymentEvent{
		ID:        s.genID.Generate(),
		PaymentID: paymentID,
		Processor: processor,
		Event:     ev.Event,
		Status:    strings.ToLower(strings.TrimSpace(ev.Status)),
		Payload:   datatypes.JSON(payload),
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertEvent(ctx, s.db, row); err != nil {
		s.log.Warn("webhook audit write failed",
			zap.String("payment_id", paymentID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) recordEvent(ctx context.Context, processor, status string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordPaymentEvent(ctx, processor, status)
}

// normalizeStatus folds the processors' status vocabularies onto the
// local payment statuses.
func normalizeStatus(status string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "complete", "approved", "succeeded", "success", "paid", "captured":
		return domain.StatusCompleted
	case "failed", "failure", "declined", "denied", "error":
		return domain.StatusFailed
	case "cancelled", "canceled", "voided", "expired":
		return domain.StatusCancelled
	case "refunded", "refund", "reversed":
		return domain.StatusRefunded
	default:
		return domain.Status(strings.ToLower(strings.TrimSpace(status)))
	}
}
