package reward

import (
	"context"

	"github.com/smallbiznis/credora/internal/reward/domain"
	"github.com/smallbiznis/credora/internal/reward/repository"
	"github.com/smallbiznis/credora/internal/reward/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reward.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(registerHooks),
)

func registerHooks(lc fx.Lifecycle, svc domain.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.SyncOffers(ctx)
		},
	})
}
