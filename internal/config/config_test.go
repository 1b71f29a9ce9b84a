package config_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataroute/internal/config"
)

func TestDefault_ReturnsUsableConfig(t *testing.T) {
	cfg := config.Default()

	require.NoError(t, config.Validate(&cfg))
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, config.KindSQLite, cfg.Providers[0].Kind)
	require.Len(t, cfg.Groups, 1)
	assert.Equal(t, "local", cfg.Groups[0].Master)
	assert.True(t, cfg.Probe.Enabled)
	assert.False(t, cfg.Admin.Auth.Enabled)
	assert.False(t, cfg.Admin.RateLimit.Enabled)
}

func TestLoad_ValidYAML(t *testing.T) {
	yaml := `
log:
  level: debug
  format: text
providers:
  - name: Primary
    kind: pgx
    dsn: "postgres://app@db-0/app"
  - name: replica-a
    kind: postgres
    dsn: "postgres://app@db-1/app?sslmode=disable"
  - name: cache-a
    kind: redis
    dsn: "redis://cache-0:6379/0"
    cluster_read_only: true
groups:
  - name: main
    master: Primary
    master_weight: 2
    algorithm: round_robin
    max_attempts: 5
    dead_failure_threshold: 4
    write_replicas:
      - name: replica-a
        weight: 3
    read_replicas:
      - name: replica-a
      - name: cache-a
        weight: 2
probe:
  interval: "30s"
  timeout: "2s"
  concurrency: 8
admin:
  listen_addr: ":9999"
  auth:
    enabled: true
    secret: "supersecret"
  rate_limit:
    enabled: true
    rps: 50
    burst: 100
`
	f := writeTempYAML(t, yaml)
	cfg, v, err := config.Load(f)
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, slog.LevelDebug, cfg.Log.ParsedLevel())
	assert.Equal(t, "text", cfg.Log.Format)

	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, "Primary", cfg.Providers[0].Name, "provider names keep their case")
	assert.True(t, cfg.Providers[2].ClusterReadOnly)

	require.Len(t, cfg.Groups, 1)
	g := cfg.Groups[0]
	assert.Equal(t, "Primary", g.Master)
	assert.Equal(t, 2, g.MasterWeight)
	assert.Equal(t, "round_robin", g.Algorithm)
	assert.Equal(t, 5, g.MaxAttempts)
	assert.Equal(t, 4, g.DeadFailureThreshold)
	assert.Equal(t, map[string]int{"replica-a": 3}, g.WriteWeights())
	assert.Equal(t, map[string]int{"replica-a": 1, "cache-a": 2}, g.ReadWeights())

	assert.True(t, cfg.Probe.Enabled, "probe defaults to enabled")
	assert.Equal(t, 30*time.Second, cfg.Probe.ParsedInterval())
	assert.Equal(t, 8, cfg.Probe.Concurrency)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "dataroute", cfg.Metrics.Namespace)

	assert.Equal(t, ":9999", cfg.Admin.ListenAddr)
	assert.True(t, cfg.Admin.Auth.Enabled)
	assert.Equal(t, "supersecret", cfg.Admin.Auth.Secret)
	assert.Contains(t, cfg.Admin.Auth.Exclude, "/healthz")
	assert.Equal(t, 50.0, cfg.Admin.RateLimit.RPS)
	assert.Equal(t, 100, cfg.Admin.RateLimit.Burst)
}

func TestLoad_MissingFile_ReturnsError(t *testing.T) {
	_, _, err := config.Load("/nonexistent/path/dataroute.yaml")
	assert.Error(t, err)
}

func TestLoad_DefaultsPerGroup(t *testing.T) {
	yaml := `
providers:
  - {name: a, kind: sqlite, dsn: "file:a?mode=memory"}
  - {name: b, kind: sqlite, dsn: "file:b?mode=memory"}
groups:
  - name: main
    master: a
    read_replicas:
      - name: b
`
	f := writeTempYAML(t, yaml)
	cfg, _, err := config.Load(f)
	require.NoError(t, err)

	g := cfg.Groups[0]
	assert.Equal(t, 3, g.MaxAttempts)
	assert.Equal(t, 3, g.DeadFailureThreshold)
	assert.Equal(t, 1, g.ReadReplicas[0].Weight, "missing weight defaults to one")
	assert.Nil(t, g.WriteWeights())
}

func TestLoad_InvalidConfigs(t *testing.T) {
	cases := map[string]string{
		"no providers": `
providers: []
groups: [{name: main, master: a}]
`,
		"no groups": `
providers: [{name: a, kind: sqlite, dsn: x}]
`,
		"unknown kind": `
providers: [{name: a, kind: oracle, dsn: x}]
groups: [{name: main, master: a}]
`,
		"duplicate provider": `
providers: [{name: a, kind: sqlite, dsn: x}, {name: a, kind: sqlite, dsn: y}]
groups: [{name: main, master: a}]
`,
		"empty provider name": `
providers: [{kind: sqlite, dsn: x}]
groups: [{name: main, master: a}]
`,
		"duplicate group": `
providers: [{name: a, kind: sqlite, dsn: x}]
groups: [{name: main, master: a}, {name: main, master: a}]
`,
		"no master or write replicas": `
providers: [{name: a, kind: sqlite, dsn: x}]
groups: [{name: main, read_replicas: [{name: a}]}]
`,
		"unknown master": `
providers: [{name: a, kind: sqlite, dsn: x}]
groups: [{name: main, master: b}]
`,
		"unknown replica": `
providers: [{name: a, kind: sqlite, dsn: x}]
groups: [{name: main, master: a, read_replicas: [{name: ghost}]}]
`,
		"replica listed twice": `
providers: [{name: a, kind: sqlite, dsn: x}, {name: b, kind: sqlite, dsn: y}]
groups: [{name: main, master: a, write_replicas: [{name: b}, {name: b}]}]
`,
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			f := writeTempYAML(t, yaml)
			_, _, err := config.Load(f)
			assert.Error(t, err)
		})
	}
}

func TestProbeCfg_ParsedInterval(t *testing.T) {
	cases := []struct {
		input    string
		expected time.Duration
	}{
		{"5s", 5 * time.Second},
		{"2m", 2 * time.Minute},
		{"", 5 * time.Minute},   // default when empty
		{"0s", 5 * time.Minute}, // default when zero
	}
	for _, tc := range cases {
		p := config.ProbeCfg{Interval: tc.input}
		assert.Equal(t, tc.expected, p.ParsedInterval(), "input: %q", tc.input)
	}
}

func TestProbeCfg_ParsedTimeout(t *testing.T) {
	cases := []struct {
		input    string
		expected time.Duration
	}{
		{"3s", 3 * time.Second},
		{"", 5 * time.Second}, // default
	}
	for _, tc := range cases {
		p := config.ProbeCfg{Timeout: tc.input}
		assert.Equal(t, tc.expected, p.ParsedTimeout(), "input: %q", tc.input)
	}
}

func TestLogCfg_ParsedLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, config.LogCfg{Level: "warn"}.ParsedLevel())
	assert.Equal(t, slog.LevelError, config.LogCfg{Level: "ERROR"}.ParsedLevel())
	assert.Equal(t, slog.LevelInfo, config.LogCfg{Level: "loud"}.ParsedLevel())
	assert.Equal(t, slog.LevelInfo, config.LogCfg{}.ParsedLevel())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DATAROUTE_ADMIN_AUTH_SECRET", "from-env")
	t.Setenv("DATAROUTE_PROBE_INTERVAL", "1m")

	yaml := `
providers: [{name: a, kind: sqlite, dsn: x}]
groups: [{name: main, master: a}]
admin:
  auth:
    secret: from-file
`
	f := writeTempYAML(t, yaml)
	cfg, _, err := config.Load(f)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Admin.Auth.Secret)
	assert.Equal(t, time.Minute, cfg.Probe.ParsedInterval())
}

// ── helpers ──────────────────────────────────────────────────────────────────

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "dataroute-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}
