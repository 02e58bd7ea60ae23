package logger

import (
	"go.uber.org/fx"

	"github.com/hamimul/order-fulfillment/internal/config"
)

// Module wires the global zap logger for the application.
var Module = fx.Module("logger",
	fx.Provide(
		func(appCfg config.Config) Config {
			return Config{
				ServiceName: appCfg.AppName,
				Environment: appCfg.Environment,
				Version:     appCfg.AppVersion,
				Level:       appCfg.LogLevel,
				Format:      appCfg.LogFormat,
			}
		},
		New,
	),
)
