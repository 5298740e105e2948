package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
log:
  level: debug
  path: %[1]s/logs
paths:
  cache_dir: %[1]s/cache
  piggyback_dir: %[1]s/piggyback
  counter_dir: %[1]s/counters
  persisted_dir: %[1]s/persisted
  crash_dir: %[1]s/crash
  check_result_dir: %[1]s/results
check:
  timeout: 30s
  piggyback_max_cachefile_age: 2h
exit_spec:
  missing_sections: 2
  specific_missing_sections:
    - pattern: "^df"
      state: 0
time_periods:
  workhours:
    - days: [mon, tue, wed, thu, fri]
      start: "08:00"
      end: "17:00"
hosts:
  - name: web01
    address: 10.0.0.5
    encryption:
      mode: opportunistic
      passphrase: secret
    services:
      - check_type: df
        item: /
        params:
          levels: [80, 90]
      - check_type: cpu.loads
        check_period: workhours
  - name: web02
    datasource: program
    program: "ssh <IP> check_mk_agent"
  - name: webcluster
    nodes: [web01, web02]
`

func newCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	return cmd
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(body, dir)), 0o644))
	return path
}

func TestLoadConfigWithCli(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cmd := newCmd()
	require.NoError(t, cmd.Flags().Set("config", path))

	cfg, err := LoadConfigWithCli(cmd)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.Check.Timeout)
	assert.Equal(t, 2*time.Hour, cfg.Check.PiggybackMaxCacheAge)
	assert.Equal(t, 5*time.Second, cfg.Check.ConnectTimeout, "defaults survive")
	assert.Equal(t, 2, cfg.ExitSpec.MissingSections)
	assert.Equal(t, 2, cfg.ExitSpec.EmptyOutput)
	require.Len(t, cfg.ExitSpec.SpecificMissingSections, 1)
	require.Len(t, cfg.Hosts, 3)

	web01, ok := cfg.Host("web01")
	require.True(t, ok)
	assert.Equal(t, "opportunistic", web01.Encryption.Mode)
	require.Len(t, web01.Services, 2)
	assert.Equal(t, "/", web01.Services[0].Item)
	assert.Equal(t, []any{80, 90}, web01.Services[0].Params["levels"])

	cluster, ok := cfg.Host("webcluster")
	require.True(t, ok)
	assert.Equal(t, []string{"web01", "web02"}, cluster.Nodes)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "unknown node", mutate: func(c *Config) {
			c.Hosts = []HostConfig{{Name: "c", Nodes: []string{"missing"}}}
		}},
		{name: "duplicate host", mutate: func(c *Config) {
			c.Hosts = []HostConfig{{Name: "a"}, {Name: "a"}}
		}},
		{name: "bad datasource", mutate: func(c *Config) {
			c.Hosts = []HostConfig{{Name: "a", Datasource: "carrier-pigeon"}}
		}},
		{name: "program without command", mutate: func(c *Config) {
			c.Hosts = []HostConfig{{Name: "a", Datasource: "program"}}
		}},
		{name: "exit state out of range", mutate: func(c *Config) {
			c.ExitSpec.EmptyOutput = 4
		}},
		{name: "bad regex", mutate: func(c *Config) {
			c.ExitSpec.SpecificMissingSections = []SpecificMissingConfig{{Pattern: "(", State: 1}}
		}},
		{name: "unknown time period", mutate: func(c *Config) {
			c.Hosts = []HostConfig{{Name: "a", Services: []ServiceConfig{{CheckType: "df", CheckPeriod: "never"}}}}
		}},
		{name: "inverted time range", mutate: func(c *Config) {
			c.TimePeriods = map[string][]TimeRangeConfig{"p": {{Start: "18:00", End: "08:00"}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testDefaults(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultsValidate(t *testing.T) {
	assert.NoError(t, testDefaults(t).Validate())
}

func testDefaults(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Log.Path = filepath.Join(dir, "logs")
	cfg.Paths = PathsConfig{
		CacheDir:       filepath.Join(dir, "cache"),
		PiggybackDir:   filepath.Join(dir, "piggyback"),
		CounterDir:     filepath.Join(dir, "counters"),
		PersistedDir:   filepath.Join(dir, "persisted"),
		CrashDir:       filepath.Join(dir, "crash"),
		CheckResultDir: filepath.Join(dir, "results"),
		WalkDir:        filepath.Join(dir, "walks"),
	}
	return cfg
}
