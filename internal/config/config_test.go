package config

import (
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/event"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// isolate points every config source at an empty temp tree.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	for _, key := range []string{
		"CLAUDEBRIDGE_CONFIG", "CLAUDEBRIDGE_CONFIG_CONTENT", "CLAUDEBRIDGE_PRIMARY_BACKEND",
		"CLAUDEBRIDGE_MODEL", "CLAUDEBRIDGE_CLI", "CLAUDEBRIDGE_LOG_LEVEL", "CLAUDEBRIDGE_PORT",
		"CLAUDEBRIDGE_POLICY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "ARK_API_KEY",
	} {
		t.Setenv(key, "")
	}
	return tmpDir
}

func writeProjectConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, ".claudebridge", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := isolate(t)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, types.BackendProcess, cfg.Backend.Primary)
	assert.True(t, cfg.Backend.FallbackEnabled())
	assert.Equal(t, "claude", cfg.Process.Binary)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL.Std())
	assert.Equal(t, types.BusyQueue, cfg.Session.BusyPolicy)
	assert.Equal(t, "@every 5m", cfg.Session.SweepSchedule)
	assert.Equal(t, types.DenialTerminate, cfg.Policy.DenialMode)
	assert.True(t, cfg.Policy.KeepCancelledTools())
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadProjectConfigOverlaysDefaults(t *testing.T) {
	tmpDir := isolate(t)

	writeProjectConfig(t, tmpDir, "config.json", `{
		"backend": {"primary": "sdk", "fallback": false},
		"session": {"ttl": "10m", "busyPolicy": "reject"},
		"policy": {
			"tools": {"allow": ["Read", "Bash"], "commands": {"git *": "allow"}},
			"denialMode": "finish_turn",
			"logCancelledTools": false
		},
		"execution": {"timeout": 90}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, types.BackendSDK, cfg.Backend.Primary)
	assert.False(t, cfg.Backend.FallbackEnabled())
	// Untouched keys in a touched section keep their defaults.
	assert.Equal(t, 3, cfg.Backend.UnhealthyThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Session.TTL.Std())
	assert.Equal(t, "@every 5m", cfg.Session.SweepSchedule)
	assert.Equal(t, types.BusyReject, cfg.Session.BusyPolicy)
	assert.Equal(t, []string{"Read", "Bash"}, cfg.Policy.Tools.Allow)
	assert.Equal(t, types.ActionAllow, cfg.Policy.Tools.Commands["git *"])
	assert.Equal(t, types.DenialFinishTurn, cfg.Policy.DenialMode)
	assert.False(t, cfg.Policy.KeepCancelledTools())
	assert.Equal(t, 90*time.Second, cfg.Execution.Timeout.Std())
}

func TestLoadLayerPrecedence(t *testing.T) {
	tmpDir := isolate(t)

	globalDir := filepath.Join(tmpDir, "xdg", "claudebridge")
	require.NoError(t, os.MkdirAll(globalDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "config.json"),
		[]byte(`{"process": {"binary": "/opt/claude", "model": "global"}, "server": {"port": 9000}}`), 0644))

	writeProjectConfig(t, tmpDir, "config.json", `{"process": {"model": "project"}}`)
	t.Setenv("CLAUDEBRIDGE_CONFIG_CONTENT", `{"server": {"port": 9100}}`)
	t.Setenv("CLAUDEBRIDGE_PORT", "9200")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "/opt/claude", cfg.Process.Binary)
	assert.Equal(t, "project", cfg.Process.Model)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestJSONCComments(t *testing.T) {
	tmpDir := isolate(t)

	writeProjectConfig(t, tmpDir, "config.jsonc", `{
		// line comment
		"process": {
			"binary": "claude-dev" /* inline */
		},
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "claude-dev", cfg.Process.Binary)
}

func TestYAMLConfig(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("TEST_BRIDGE_MODEL", "claude-opus-4")

	writeProjectConfig(t, tmpDir, "config.yaml", `
# comments are fine
session:
  ttl: 45m
policy:
  tools:
    allow: [Read, Grep]
    deny: ["mcp__*"]
    commands:
      "git *": allow
  denialMode: finish_turn
sdk:
  model: "{env:TEST_BRIDGE_MODEL}"
`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.Session.TTL.Std())
	assert.Equal(t, []string{"Read", "Grep"}, cfg.Policy.Tools.Allow)
	assert.Equal(t, []string{"mcp__*"}, cfg.Policy.Tools.Deny)
	assert.Equal(t, types.ActionAllow, cfg.Policy.Tools.Commands["git *"])
	assert.Equal(t, types.DenialFinishTurn, cfg.Policy.DenialMode)
	assert.Equal(t, "claude-opus-4", cfg.SDK.Model)
	assert.Equal(t, DefaultBinary, cfg.Process.Binary)
}

func TestYAMLConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("policy: [unclosed"), 0644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestInterpolation(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("TEST_BRIDGE_KEY", "sk-from-env")

	writeProjectConfig(t, tmpDir, "config.json", `{
		"sdk": {"apiKey": "{env:TEST_BRIDGE_KEY}", "baseURL": "{file:base_url.txt}"}
	}`)
	require.NoError(t, os.WriteFile(
		filepath.Join(tmpDir, ".claudebridge", "base_url.txt"),
		[]byte("https://proxy.internal\n"), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.SDK.APIKey)
	assert.Equal(t, "https://proxy.internal", cfg.SDK.BaseURL)
}

func TestEnvOverrides(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("CLAUDEBRIDGE_PRIMARY_BACKEND", "SDK")
	t.Setenv("CLAUDEBRIDGE_MODEL", "claude-opus")
	t.Setenv("CLAUDEBRIDGE_CLI", "/usr/local/bin/claude")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("CLAUDEBRIDGE_POLICY", `{"allow": ["Read"], "deny": ["Write"]}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, types.BackendSDK, cfg.Backend.Primary)
	assert.Equal(t, "claude-opus", cfg.SDK.Model)
	assert.Equal(t, "claude-opus", cfg.Process.Model)
	assert.Equal(t, "/usr/local/bin/claude", cfg.Process.Binary)
	assert.Equal(t, "sk-ant", cfg.SDK.APIKey)
	assert.Equal(t, []string{"Read"}, cfg.Policy.Tools.Allow)
	assert.Equal(t, []string{"Write"}, cfg.Policy.Tools.Deny)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.Config)
	}{
		{"backend", func(c *types.Config) { c.Backend.Primary = "grpc" }},
		{"busy policy", func(c *types.Config) { c.Session.BusyPolicy = "drop" }},
		{"denial mode", func(c *types.Config) { c.Policy.DenialMode = "ask" }},
		{"storage", func(c *types.Config) { c.Storage.Driver = "redis" }},
		{"command action", func(c *types.Config) {
			c.Policy.Tools.Commands = map[string]types.PolicyAction{"rm *": "ask"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	tmpDir := isolate(t)
	writeProjectConfig(t, tmpDir, "config.json", `{"backend": `)

	_, err := Load(tmpDir)
	assert.Error(t, err)
}

func TestSaveAndLoadFile(t *testing.T) {
	tmpDir := isolate(t)

	cfg := Default()
	cfg.Session.TTL = types.Duration(45 * time.Minute)
	cfg.Policy.Tools.Deny = []string{"Bash"}

	path := filepath.Join(tmpDir, "out", "config.json")
	require.NoError(t, Save(cfg, path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, loaded.Session.TTL.Std())
	assert.Equal(t, []string{"Bash"}, loaded.Policy.Tools.Deny)
}

func TestWatcherReloadsPolicy(t *testing.T) {
	tmpDir := isolate(t)
	path := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"policy": {"tools": {"allow": ["Read"]}}}`), 0644))

	reloaded := make(chan *types.Config, 4)
	w, err := NewWatcher(path, func(cfg *types.Config) { reloaded <- cfg })
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"policy": {"tools": {"allow": ["Grep"]}}}`), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, []string{"Grep"}, cfg.Policy.Tools.Allow)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not reload")
	}
}

func TestWatcherAnnouncesEachReloadOnce(t *testing.T) {
	tmpDir := isolate(t)
	event.Reset()
	t.Cleanup(event.Reset)

	var announced atomic.Int32
	event.Subscribe(event.ConfigReloaded, func(e event.Event) {
		announced.Add(1)
	})

	path := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	reloaded := make(chan struct{}, 4)
	w, err := NewWatcher(path, func(*types.Config) { reloaded <- struct{}{} })
	require.NoError(t, err)

	w.reload()
	<-reloaded
	assert.Equal(t, int32(1), announced.Load())

	require.NoError(t, os.WriteFile(path, []byte(`{"policy": `), 0644))
	w.reload()
	assert.Equal(t, int32(1), announced.Load(), "a rejected reload is not announced")
	require.NoError(t, w.Stop())
}

func TestPaths(t *testing.T) {
	isolate(t)
	t.Setenv("XDG_DATA_HOME", "/tmp/data")

	paths := GetPaths()
	assert.Equal(t, "/tmp/data/claudebridge", paths.Data)
	assert.Equal(t, "/tmp/data/claudebridge/sessions", paths.StoragePath())
	assert.Equal(t, "/tmp/data/claudebridge/claudebridge.db", paths.DatabasePath())
	assert.Equal(t, filepath.Join("/proj", ".claudebridge", "config.json"), ProjectConfigPath("/proj"))

	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("HOME", "/home/dev")
	if runtime.GOOS != "windows" {
		assert.Equal(t, "/home/dev/.local/state/claudebridge", GetPaths().State)
	}
}
