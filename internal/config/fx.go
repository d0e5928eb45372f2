package config

import "go.uber.org/fx"

// Module wires application and reward configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewRewardConfigHolder),
)
