package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/credora/internal/clock"
	"github.com/smallbiznis/credora/internal/config"
	"github.com/smallbiznis/credora/internal/identity"
	"github.com/smallbiznis/credora/internal/ledger"
	"github.com/smallbiznis/credora/internal/logger"
	"github.com/smallbiznis/credora/internal/migration"
	"github.com/smallbiznis/credora/internal/notifier"
	"github.com/smallbiznis/credora/internal/observability"
	"github.com/smallbiznis/credora/internal/payment"
	"github.com/smallbiznis/credora/internal/reward"
	"github.com/smallbiznis/credora/internal/scheduler"
	"github.com/smallbiznis/credora/internal/server"
	"github.com/smallbiznis/credora/internal/subscription"
	"github.com/smallbiznis/credora/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		db.Module,
		migration.Module,

		identity.Module,
		notifier.Module,
		ledger.Module,
		reward.Module,
		subscription.Module,
		payment.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
