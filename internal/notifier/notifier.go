// Package notifier delivers user-facing notifications for settlement
// and billing events. The default implementation only logs; a real
// channel (email, push) plugs in behind the same interface.
package notifier

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Event is one user notification.
type Event struct {
	UserID snowflake.ID
	Kind   string
	Detail map[string]any
}

const (
	KindPaymentCompleted      = "payment_completed"
	KindPaymentFailed         = "payment_failed"
	KindCreditsGranted        = "credits_granted"
	KindSubscriptionActivated = "subscription_activated"
)

type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type logNotifier struct {
	log *zap.Logger
}

func New(log *zap.Logger) Notifier {
	return &logNotifier{log: log.Named("notifier")}
}

func (n *logNotifier) Notify(_ context.Context, ev Event) {
	n.log.Info("notify",
		zap.String("user_id", ev.UserID.String()),
		zap.String("kind", ev.Kind),
		zap.Any("detail", ev.Detail),
	)
}

var Module = fx.Module("notifier",
	fx.Provide(New),
)
