package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// SimulationConfig tunes the simulated processing pipeline: injected
// failure probabilities, latency windows and staleness policy. Loaded
// from fulfillment.yml so operators can retune a running demo cluster.
type SimulationConfig struct {
	ProcessFailureRate float64       `mapstructure:"processFailureRate"`
	ShipFailureRate    float64       `mapstructure:"shipFailureRate"`
	ProcessingDelayMin time.Duration `mapstructure:"processingDelayMin"`
	ProcessingDelayMax time.Duration `mapstructure:"processingDelayMax"`
	ShippingDelayMin   time.Duration `mapstructure:"shippingDelayMin"`
	ShippingDelayMax   time.Duration `mapstructure:"shippingDelayMax"`

	PendingStaleAfter    time.Duration `mapstructure:"pendingStaleAfter"`
	ProcessingStaleAfter time.Duration `mapstructure:"processingStaleAfter"`
	ShippedStaleAfter    time.Duration `mapstructure:"shippedStaleAfter"`

	// Share of stale processing orders that get a second chance instead
	// of being cancelled.
	StaleRetryProbability float64 `mapstructure:"staleRetryProbability"`
}

func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		ProcessFailureRate:    0.10,
		ShipFailureRate:       0.05,
		ProcessingDelayMin:    2 * time.Second,
		ProcessingDelayMax:    5 * time.Second,
		ShippingDelayMin:      3 * time.Second,
		ShippingDelayMax:      8 * time.Second,
		PendingStaleAfter:     5 * time.Minute,
		ProcessingStaleAfter:  10 * time.Minute,
		ShippedStaleAfter:     time.Hour,
		StaleRetryProbability: 0.70,
	}
}

// SimulationHolder exposes the current simulation profile with hot reload.
type SimulationHolder struct {
	current atomic.Value // holds SimulationConfig
}

// NewSimulationHolder reads fulfillment.yml (if present) and watches it
// for changes. Missing file falls back to defaults.
func NewSimulationHolder(log *zap.Logger) (*SimulationHolder, error) {
	v := viper.New()

	v.SetConfigName("fulfillment")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/fulfillment")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FULFILLMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &SimulationHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultSimulationConfig())
		return holder, nil
	}

	cfg, err := unmarshalSimulation(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalSimulation(v)
		if err != nil {
			log.Warn("simulation config reload failed", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("simulation config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticSimulationHolder pins a fixed profile; used by tests to force
// deterministic outcomes.
func NewStaticSimulationHolder(cfg SimulationConfig) *SimulationHolder {
	holder := &SimulationHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func (h *SimulationHolder) Get() SimulationConfig {
	return h.current.Load().(SimulationConfig)
}

func unmarshalSimulation(v *viper.Viper) (SimulationConfig, error) {
	cfg := DefaultSimulationConfig()
	if err := v.UnmarshalKey("simulation", &cfg); err != nil {
		return SimulationConfig{}, err
	}
	cfg = cfg.withDefaults()
	if err := validateSimulation(cfg); err != nil {
		return SimulationConfig{}, err
	}
	return cfg, nil
}

func (c SimulationConfig) withDefaults() SimulationConfig {
	defaults := DefaultSimulationConfig()
	if c.ProcessingDelayMin <= 0 {
		c.ProcessingDelayMin = defaults.ProcessingDelayMin
	}
	if c.ProcessingDelayMax <= 0 {
		c.ProcessingDelayMax = defaults.ProcessingDelayMax
	}
	if c.ProcessingDelayMax < c.ProcessingDelayMin {
		c.ProcessingDelayMax = c.ProcessingDelayMin
	}
	if c.ShippingDelayMin <= 0 {
		c.ShippingDelayMin = defaults.ShippingDelayMin
	}
	if c.ShippingDelayMax <= 0 {
		c.ShippingDelayMax = defaults.ShippingDelayMax
	}
	if c.ShippingDelayMax < c.ShippingDelayMin {
		c.ShippingDelayMax = c.ShippingDelayMin
	}
	if c.PendingStaleAfter <= 0 {
		c.PendingStaleAfter = defaults.PendingStaleAfter
	}
	if c.ProcessingStaleAfter <= 0 {
		c.ProcessingStaleAfter = defaults.ProcessingStaleAfter
	}
	if c.ShippedStaleAfter <= 0 {
		c.ShippedStaleAfter = defaults.ShippedStaleAfter
	}
	return c
}

func validateSimulation(cfg SimulationConfig) error {
	if cfg.ProcessFailureRate < 0 || cfg.ProcessFailureRate > 1 {
		return errors.New("simulation.processFailureRate must be within [0,1]")
	}
	if cfg.ShipFailureRate < 0 || cfg.ShipFailureRate > 1 {
		return errors.New("simulation.shipFailureRate must be within [0,1]")
	}
	if cfg.StaleRetryProbability < 0 || cfg.StaleRetryProbability > 1 {
		return errors.New("simulation.staleRetryProbability must be within [0,1]")
	}
	return nil
}
