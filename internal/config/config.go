// Package config handles loading and hot-reloading of the router YAML
// configuration via Viper. All struct fields map 1-to-1 with dataroute.yaml.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables that override scalar settings.
const EnvPrefix = "DATAROUTE"

// Provider kinds understood by the backend package.
const (
	KindPgx      = "pgx"
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
	KindRedis    = "redis"
)

var knownKinds = map[string]bool{
	KindPgx:      true,
	KindPostgres: true,
	KindSQLite:   true,
	KindRedis:    true,
}

// LogCfg selects the log level and output format (json | text).
type LogCfg struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ParsedLevel maps Level onto slog, defaulting to info.
func (l LogCfg) ParsedLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ProviderCfg is the YAML representation of a single data source.
type ProviderCfg struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"` // pgx | postgres | sqlite | redis
	DSN  string `mapstructure:"dsn"`

	// ClusterReadOnly makes redis read-only connections issue READONLY.
	ClusterReadOnly bool `mapstructure:"cluster_read_only"`
}

// ReplicaCfg names a provider and its routing weight inside a group.
type ReplicaCfg struct {
	Name   string `mapstructure:"name"`
	Weight int    `mapstructure:"weight"`
}

// GroupCfg describes one master with its write and read replicas.
type GroupCfg struct {
	Name                 string       `mapstructure:"name"`
	Master               string       `mapstructure:"master"`
	MasterWeight         int          `mapstructure:"master_weight"`
	Algorithm            string       `mapstructure:"algorithm"` // weighted_round_robin | round_robin
	MaxAttempts          int          `mapstructure:"max_attempts"`
	DeadFailureThreshold int          `mapstructure:"dead_failure_threshold"`
	WriteReplicas        []ReplicaCfg `mapstructure:"write_replicas"`
	ReadReplicas         []ReplicaCfg `mapstructure:"read_replicas"`
}

// WriteWeights returns the write replicas as a name → weight map.
func (g GroupCfg) WriteWeights() map[string]int { return weights(g.WriteReplicas) }

// ReadWeights returns the read replicas as a name → weight map.
func (g GroupCfg) ReadWeights() map[string]int { return weights(g.ReadReplicas) }

func weights(rs []ReplicaCfg) map[string]int {
	if len(rs) == 0 {
		return nil
	}
	m := make(map[string]int, len(rs))
	for _, r := range rs {
		m[r.Name] = r.Weight
	}
	return m
}

// ProbeCfg controls the background recovery probe of dead providers.
type ProbeCfg struct {
	Enabled     bool   `mapstructure:"enabled"`
	Interval    string `mapstructure:"interval"`
	Timeout     string `mapstructure:"timeout"`
	Concurrency int    `mapstructure:"concurrency"`
}

// ParsedInterval returns the interval as a time.Duration, defaulting to 5m.
func (p ProbeCfg) ParsedInterval() time.Duration {
	d, _ := time.ParseDuration(p.Interval)
	if d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// ParsedTimeout returns the timeout as a time.Duration, defaulting to 5s.
func (p ProbeCfg) ParsedTimeout() time.Duration {
	d, _ := time.ParseDuration(p.Timeout)
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// MetricsCfg controls the Prometheus event sink.
type MetricsCfg struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// RateLimitCfg controls per-IP token-bucket rate limiting of the admin API.
type RateLimitCfg struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`   // sustained requests per second
	Burst   int     `mapstructure:"burst"` // maximum burst size
}

// AuthCfg controls JWT Bearer-token authentication of the admin API.
type AuthCfg struct {
	Enabled bool     `mapstructure:"enabled"`
	Secret  string   `mapstructure:"secret"`  // HMAC-SHA256 signing secret
	Exclude []string `mapstructure:"exclude"` // exact paths that bypass auth
}

// AdminCfg controls the status HTTP server.
type AdminCfg struct {
	Enabled    bool         `mapstructure:"enabled"`
	ListenAddr string       `mapstructure:"listen_addr"`
	Auth       AuthCfg      `mapstructure:"auth"`
	RateLimit  RateLimitCfg `mapstructure:"rate_limit"`
}

// Config is the top-level router configuration.
type Config struct {
	Log       LogCfg        `mapstructure:"log"`
	Providers []ProviderCfg `mapstructure:"providers"`
	Groups    []GroupCfg    `mapstructure:"groups"`
	Probe     ProbeCfg      `mapstructure:"probe"`
	Metrics   MetricsCfg    `mapstructure:"metrics"`
	Admin     AdminCfg      `mapstructure:"admin"`
}

// Default returns a single in-memory sqlite group for local development.
func Default() Config {
	return Config{
		Log: LogCfg{Level: "info", Format: "json"},
		Providers: []ProviderCfg{
			{Name: "local", Kind: KindSQLite, DSN: "file:dataroute?mode=memory&cache=shared"},
		},
		Groups: []GroupCfg{{
			Name:                 "main",
			Master:               "local",
			Algorithm:            "weighted_round_robin",
			MaxAttempts:          3,
			DeadFailureThreshold: 3,
		}},
		Probe:   ProbeCfg{Enabled: true, Interval: "5m", Timeout: "5s", Concurrency: 4},
		Metrics: MetricsCfg{Enabled: true, Namespace: "dataroute"},
		Admin: AdminCfg{
			Enabled:    true,
			ListenAddr: ":9091",
			Auth:       AuthCfg{Exclude: []string{"/healthz", "/metrics"}},
			RateLimit:  RateLimitCfg{RPS: 20, Burst: 40},
		},
	}
}

// Load reads and parses the YAML file at path using Viper.
// It returns the parsed Config and the Viper instance (needed for Watch).
func Load(path string) (Config, *viper.Viper, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

// Watch registers an onChange callback that fires whenever the config file is
// saved. The callback receives a freshly parsed Config. Invalid reloads are
// logged and skipped; the previous config stays active.
func Watch(v *viper.Viper, onChange func(Config)) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			slog.Error("config: hot-reload failed", "error", err)
			return
		}
		slog.Info("config: hot-reloaded",
			"providers", len(cfg.Providers),
			"groups", len(cfg.Groups),
		)
		onChange(cfg)
	})
	v.WatchConfig()
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)

	// DATAROUTE_ADMIN_AUTH_SECRET overrides admin.auth.secret, and so on for
	// every key with a default below.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("probe.enabled", true)
	v.SetDefault("probe.interval", "5m")
	v.SetDefault("probe.timeout", "5s")
	v.SetDefault("probe.concurrency", 4)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "dataroute")
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.listen_addr", ":9091")
	v.SetDefault("admin.auth.enabled", false)
	v.SetDefault("admin.auth.secret", "")
	v.SetDefault("admin.auth.exclude", []string{"/healthz", "/metrics"})
	v.SetDefault("admin.rate_limit.enabled", false)
	v.SetDefault("admin.rate_limit.rps", 20.0)
	v.SetDefault("admin.rate_limit.burst", 40)

	return v
}

func unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross references and fills in per-entry defaults in place.
func Validate(cfg *Config) error {
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("config: at least one provider must be defined")
	}
	if len(cfg.Groups) == 0 {
		return fmt.Errorf("config: at least one group must be defined")
	}

	providers := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: provider[%d] has empty name", i)
		}
		if providers[p.Name] {
			return fmt.Errorf("config: duplicate provider %q", p.Name)
		}
		if !knownKinds[p.Kind] {
			return fmt.Errorf("config: provider %q has unknown kind %q", p.Name, p.Kind)
		}
		providers[p.Name] = true
	}

	groups := make(map[string]bool, len(cfg.Groups))
	for i := range cfg.Groups {
		g := &cfg.Groups[i]
		if g.Name == "" {
			return fmt.Errorf("config: group[%d] has empty name", i)
		}
		if groups[g.Name] {
			return fmt.Errorf("config: duplicate group %q", g.Name)
		}
		groups[g.Name] = true

		if g.Master == "" && len(g.WriteReplicas) == 0 {
			return fmt.Errorf("config: group %q needs a master or write replicas", g.Name)
		}
		if g.Master != "" && !providers[g.Master] {
			return fmt.Errorf("config: group %q references unknown provider %q", g.Name, g.Master)
		}
		if err := checkReplicas(g.Name, g.WriteReplicas, providers); err != nil {
			return err
		}
		if err := checkReplicas(g.Name, g.ReadReplicas, providers); err != nil {
			return err
		}
		if g.MaxAttempts <= 0 {
			g.MaxAttempts = 3
		}
		if g.DeadFailureThreshold <= 0 {
			g.DeadFailureThreshold = 3
		}
	}
	return nil
}

func checkReplicas(group string, rs []ReplicaCfg, providers map[string]bool) error {
	seen := make(map[string]bool, len(rs))
	for i := range rs {
		r := &rs[i]
		if !providers[r.Name] {
			return fmt.Errorf("config: group %q references unknown provider %q", group, r.Name)
		}
		if seen[r.Name] {
			return fmt.Errorf("config: group %q lists replica %q twice", group, r.Name)
		}
		seen[r.Name] = true
		if r.Weight <= 0 {
			r.Weight = 1
		}
	}
	return nil
}
