package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// Defaults applied before any file is loaded.
const (
	DefaultBinary        = "claude"
	DefaultSDKProvider   = "anthropic"
	DefaultModel         = "claude-sonnet-4-20250514"
	DefaultSessionTTL    = 30 * time.Minute
	DefaultTimeout       = 5 * time.Minute
	DefaultKillGrace     = 2 * time.Second
	DefaultSweepSchedule = "@every 5m"
	DefaultPort          = 8080
)

// Default returns the built-in configuration.
func Default() *types.Config {
	return &types.Config{
		Backend: types.BackendConfig{
			Primary:            types.BackendProcess,
			UnhealthyThreshold: 3,
		},
		Process: types.ProcessConfig{
			Binary:    DefaultBinary,
			KillGrace: types.Duration(DefaultKillGrace),
		},
		SDK: types.SDKConfig{
			Provider:  DefaultSDKProvider,
			Model:     DefaultModel,
			MaxTokens: 8192,
		},
		Session: types.SessionConfig{
			TTL:           types.Duration(DefaultSessionTTL),
			BusyPolicy:    types.BusyQueue,
			SweepSchedule: DefaultSweepSchedule,
		},
		Policy: types.PolicyConfig{
			DenialMode: types.DenialTerminate,
		},
		Storage: types.StorageConfig{
			Driver: "file",
		},
		Execution: types.ExecutionConfig{
			Timeout: types.Duration(DefaultTimeout),
		},
		Server: types.ServerConfig{
			Port:       DefaultPort,
			EnableCORS: true,
			RatePerMin: 30,
			RateBurst:  5,
		},
		Log: types.LogConfig{
			Level: "INFO",
		},
	}
}

// Load loads configuration from multiple sources (priority order):
// 1. Built-in defaults
// 2. Global config (~/.config/claudebridge/)
// 3. Project config (.claudebridge/ under directory)
// 4. CLAUDEBRIDGE_CONFIG file
// 5. CLAUDEBRIDGE_CONFIG_CONTENT inline JSON
// 6. Environment variables
func Load(directory string) (*types.Config, error) {
	config := Default()

	loaded := make(map[string]bool)
	loadOnce := func(path string, baseDir string) error {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil
		}
		if loaded[absPath] {
			return nil
		}
		if err := loadConfigFile(path, config, baseDir); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
		loaded[absPath] = true
		return nil
	}

	var candidates [][2]string

	globalPath := GetPaths().Config
	candidates = append(candidates,
		[2]string{filepath.Join(globalPath, "config.json"), globalPath},
		[2]string{filepath.Join(globalPath, "config.jsonc"), globalPath},
		[2]string{filepath.Join(globalPath, "config.yaml"), globalPath},
	)

	if directory != "" {
		projectDir := filepath.Join(directory, ".claudebridge")
		candidates = append(candidates,
			[2]string{filepath.Join(projectDir, "config.json"), projectDir},
			[2]string{filepath.Join(projectDir, "config.jsonc"), projectDir},
			[2]string{filepath.Join(projectDir, "config.yaml"), projectDir},
		)
	}

	if configPath := os.Getenv("CLAUDEBRIDGE_CONFIG"); configPath != "" {
		candidates = append(candidates, [2]string{configPath, filepath.Dir(configPath)})
	}

	for _, c := range candidates {
		if err := loadOnce(c[0], c[1]); err != nil {
			return nil, err
		}
	}

	if content := os.Getenv("CLAUDEBRIDGE_CONFIG_CONTENT"); content != "" {
		if err := overlay(config, jsonc.ToJSON([]byte(content))); err != nil {
			return nil, fmt.Errorf("CLAUDEBRIDGE_CONFIG_CONTENT: %w", err)
		}
	}

	applyEnvOverrides(config)

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFile loads a single config file on top of the defaults.
func LoadFile(path string) (*types.Config, error) {
	config := Default()
	if err := loadConfigFile(path, config, filepath.Dir(path)); err != nil {
		return nil, err
	}
	applyEnvOverrides(config)
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(interpolate(data, baseDir))
		if err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		// Strip JSONC comments using tidwall/jsonc
		data = jsonc.ToJSON(data)
		data = interpolate(data, baseDir)
	}

	return overlay(config, data)
}

// yamlToJSON re-encodes a YAML document as JSON so that it decodes through
// the same json tags as the other formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// overlay decodes data on top of config. Fields absent from data keep their
// current values; maps are merged key by key and slices are replaced.
func overlay(config *types.Config, data []byte) error {
	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(strings.TrimSpace(string(content)), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if config.SDK.APIKey == "" {
		switch config.SDK.Provider {
		case "openai":
			config.SDK.APIKey = os.Getenv("OPENAI_API_KEY")
		case "ark":
			config.SDK.APIKey = os.Getenv("ARK_API_KEY")
		default:
			config.SDK.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}

	if primary := os.Getenv("CLAUDEBRIDGE_PRIMARY_BACKEND"); primary != "" {
		config.Backend.Primary = types.BackendKind(strings.ToLower(primary))
	}

	if model := os.Getenv("CLAUDEBRIDGE_MODEL"); model != "" {
		config.SDK.Model = model
		config.Process.Model = model
	}

	if binary := os.Getenv("CLAUDEBRIDGE_CLI"); binary != "" {
		config.Process.Binary = binary
	}

	if level := os.Getenv("CLAUDEBRIDGE_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}

	if port := os.Getenv("CLAUDEBRIDGE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// Policy override (JSON)
	if policyJSON := os.Getenv("CLAUDEBRIDGE_POLICY"); policyJSON != "" {
		var policy types.ToolPolicy
		if err := json.Unmarshal([]byte(policyJSON), &policy); err == nil {
			config.Policy.Tools = policy
		}
	}
}

// Validate checks enumerated values and fills empty ones with defaults.
func Validate(config *types.Config) error {
	if config.Backend.Primary == "" {
		config.Backend.Primary = types.BackendProcess
	}
	if !config.Backend.Primary.Valid() {
		return fmt.Errorf("invalid backend.primary %q", config.Backend.Primary)
	}

	switch config.Session.BusyPolicy {
	case "":
		config.Session.BusyPolicy = types.BusyQueue
	case types.BusyQueue, types.BusyReject:
	default:
		return fmt.Errorf("invalid session.busyPolicy %q", config.Session.BusyPolicy)
	}

	switch config.Policy.DenialMode {
	case "":
		config.Policy.DenialMode = types.DenialTerminate
	case types.DenialTerminate, types.DenialFinishTurn:
	default:
		return fmt.Errorf("invalid policy.denialMode %q", config.Policy.DenialMode)
	}

	switch config.Storage.Driver {
	case "":
		config.Storage.Driver = "file"
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid storage.driver %q", config.Storage.Driver)
	}

	for pattern, action := range config.Policy.Tools.Commands {
		if action != types.ActionAllow && action != types.ActionDeny {
			return fmt.Errorf("invalid action %q for command pattern %q", action, pattern)
		}
	}

	return nil
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
