// File: facade/config.go
// License: Apache-2.0

package facade

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v2"
)

// Config holds the parameters of an event loop, immutable per run.
type Config struct {
	WakeupSignal  int    `yaml:"wakeup_signal"`  // realtime signal used to interrupt the readiness wait
	NumWorkers    int    `yaml:"num_workers"`    // worker goroutines draining the task queue
	QueueCapacity int    `yaml:"queue_capacity"` // bound of the task queue
	LogLevel      string `yaml:"log_level"`      // logrus level name
	EnableMetrics bool   `yaml:"enable_metrics"` // register dispatcher probes in the metrics registry
}

// DefaultConfig returns defaults that support typical use without tuning.
func DefaultConfig() *Config {
	return &Config{
		WakeupSignal:  34, // SIGRTMIN under glibc
		NumWorkers:    0,  // CPU count
		QueueCapacity: 1024,
		LogLevel:      "info",
		EnableMetrics: true,
	}
}

// LoadConfig reads a yaml config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.WakeupSignal <= 0 || c.WakeupSignal > 64 {
		return fmt.Errorf("wakeup_signal %d out of range", c.WakeupSignal)
	}
	if unix.Signal(c.WakeupSignal) == unix.SIGURG {
		return fmt.Errorf("SIGURG is reserved by the runtime")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive")
	}
	return nil
}
