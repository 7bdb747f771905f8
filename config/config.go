// Package config centralises runtime configuration for pocketpool binaries.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/pocketpool/internal/pool"
)

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// BackendKind selects the storage behind a pool's pocket.
type BackendKind string

const (
	// BackendQueue selects the mutex-guarded FIFO queue.
	BackendQueue BackendKind = "queue"
	// BackendChannel selects the buffered-channel backend.
	BackendChannel BackendKind = "channel"
)

// TrimSettings configures idle trimming for one pool.
type TrimSettings struct {
	Interval time.Duration `yaml:"interval"`
	Floor    int           `yaml:"floor"`
}

// PoolSettings describes one named pool.
type PoolSettings struct {
	Name     string       `yaml:"name"`
	Capacity int          `yaml:"capacity"`
	Backend  BackendKind  `yaml:"backend"`
	ItemSize int          `yaml:"itemSize"`
	Trim     TrimSettings `yaml:"trim"`
}

// TrimPolicy converts the settings into the pool's trimming policy.
func (p PoolSettings) TrimPolicy() pool.TrimPolicy {
	return pool.TrimPolicy{Interval: p.Trim.Interval, Floor: p.Trim.Floor}
}

// TelemetrySettings configures metric export.
type TelemetrySettings struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// BenchSettings drives the poolbench load generator.
type BenchSettings struct {
	Workers     int           `yaml:"workers"`
	Duration    time.Duration `yaml:"duration"`
	Rate        float64       `yaml:"rate"`
	HoldTime    time.Duration `yaml:"holdTime"`
	MetricsAddr string        `yaml:"metricsAddr"`
}

// Settings is the root configuration sourced from YAML.
type Settings struct {
	Environment Environment       `yaml:"environment"`
	Pools       []PoolSettings    `yaml:"pools"`
	Telemetry   TelemetrySettings `yaml:"telemetry"`
	Bench       BenchSettings     `yaml:"bench"`
}

// Default returns a single queue-backed pool and a short bench run.
func Default() Settings {
	return Settings{
		Environment: EnvDev,
		Pools: []PoolSettings{
			{
				Name:     "buffers",
				Capacity: pool.DefaultCapacity,
				Backend:  BackendQueue,
				ItemSize: 4096,
				Trim:     TrimSettings{Interval: 30 * time.Second, Floor: 0},
			},
		},
		Telemetry: TelemetrySettings{
			Enabled:      false,
			OTLPEndpoint: "",
			ServiceName:  "pocketpool",
		},
		Bench: BenchSettings{
			Workers:     8,
			Duration:    5 * time.Second,
			Rate:        0,
			HoldTime:    0,
			MetricsAddr: "",
		},
	}
}

// Load reads and validates Settings from the provided YAML file.
func Load(ctx context.Context, configPath string) (Settings, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return Settings{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	cfg.Pools = nil
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads configPath, falling back to Default when the file does
// not exist. The boolean reports whether the file was read.
func LoadOrDefault(ctx context.Context, configPath string) (Settings, bool, error) {
	if strings.TrimSpace(configPath) == "" {
		cfg := Default()
		cfg.normalise()
		return cfg, false, nil
	}
	cfg, err := Load(ctx, configPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		cfg.normalise()
		return cfg, false, nil
	}
	if err != nil {
		return Settings{}, false, err
	}
	return cfg, true, nil
}

func (s *Settings) normalise() {
	s.Environment = Environment(strings.ToLower(strings.TrimSpace(string(s.Environment))))
	if env := strings.TrimSpace(os.Getenv("POCKETPOOL_ENV")); env != "" {
		s.Environment = Environment(strings.ToLower(env))
	}
	if s.Environment == "" {
		s.Environment = EnvDev
	}

	for i := range s.Pools {
		p := &s.Pools[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Backend = BackendKind(strings.ToLower(strings.TrimSpace(string(p.Backend))))
		if p.Backend == "" {
			p.Backend = BackendQueue
		}
		if p.Capacity == 0 {
			p.Capacity = pool.DefaultCapacity
		}
	}

	s.Telemetry.OTLPEndpoint = strings.TrimSpace(s.Telemetry.OTLPEndpoint)
	s.Telemetry.ServiceName = strings.TrimSpace(s.Telemetry.ServiceName)
	if s.Telemetry.ServiceName == "" {
		s.Telemetry.ServiceName = "pocketpool"
	}
	s.Bench.MetricsAddr = strings.TrimSpace(s.Bench.MetricsAddr)
	if s.Bench.Workers <= 0 {
		s.Bench.Workers = 1
	}
}

// Validate performs semantic validation on the configuration.
func (s Settings) Validate() error {
	switch s.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if len(s.Pools) == 0 {
		return fmt.Errorf("at least one pool required")
	}
	seen := make(map[string]struct{}, len(s.Pools))
	for i, p := range s.Pools {
		if p.Name == "" {
			return fmt.Errorf("pools[%d] name required", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("pools[%d] duplicate name %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Capacity < 1 {
			return fmt.Errorf("pool %s capacity must be >0", p.Name)
		}
		switch p.Backend {
		case BackendQueue, BackendChannel:
		default:
			return fmt.Errorf("pool %s backend must be queue or channel", p.Name)
		}
		if p.ItemSize < 0 {
			return fmt.Errorf("pool %s itemSize must be >=0", p.Name)
		}
		if p.Trim.Interval < 0 || p.Trim.Floor < 0 {
			return fmt.Errorf("pool %s trim settings must not be negative", p.Name)
		}
	}

	if s.Telemetry.Enabled && s.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry otlpEndpoint required when enabled")
	}
	if s.Bench.Duration < 0 || s.Bench.Rate < 0 || s.Bench.HoldTime < 0 {
		return fmt.Errorf("bench duration, rate and holdTime must not be negative")
	}
	return nil
}

// Pool returns the settings for the named pool.
func (s Settings) Pool(name string) (PoolSettings, bool) {
	for _, p := range s.Pools {
		if p.Name == name {
			return p, true
		}
	}
	return PoolSettings{}, false
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
