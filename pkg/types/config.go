package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the claudebridge configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	Backend   BackendConfig   `json:"backend"`
	Process   ProcessConfig   `json:"process"`
	SDK       SDKConfig       `json:"sdk"`
	Session   SessionConfig   `json:"session"`
	Policy    PolicyConfig    `json:"policy"`
	Storage   StorageConfig   `json:"storage"`
	Execution ExecutionConfig `json:"execution"`
	Server    ServerConfig    `json:"server"`
	Log       LogConfig       `json:"log"`
}

// BackendConfig selects the primary backend and fallback behaviour.
type BackendConfig struct {
	Primary BackendKind `json:"primary,omitempty"` // "sdk" | "process"

	// Fallback enables the single retry on the alternate backend.
	Fallback *bool `json:"fallback,omitempty"`

	// UnhealthyThreshold demotes the primary after this many consecutive
	// failures. Zero disables demotion.
	UnhealthyThreshold int `json:"unhealthyThreshold,omitempty"`
}

// FallbackEnabled reports whether fallback is on (default true).
func (b BackendConfig) FallbackEnabled() bool {
	return b.Fallback == nil || *b.Fallback
}

// ProcessConfig configures the CLI subprocess backend.
type ProcessConfig struct {
	Binary    string            `json:"binary,omitempty"`
	Model     string            `json:"model,omitempty"`
	MaxTurns  int               `json:"maxTurns,omitempty"`
	ExtraArgs []string          `json:"extraArgs,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	KillGrace Duration          `json:"killGrace,omitempty"`
}

// SDKConfig configures the remote SDK backend.
type SDKConfig struct {
	Provider  string `json:"provider,omitempty"` // "anthropic" | "openai" | "ark"
	Model     string `json:"model,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseURL,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

// BusyPolicy decides what happens to a request for a session that already
// has an execution in flight.
type BusyPolicy string

const (
	BusyQueue  BusyPolicy = "queue"
	BusyReject BusyPolicy = "reject"
)

// SessionConfig configures session lifecycle.
type SessionConfig struct {
	TTL           Duration   `json:"ttl,omitempty"`
	BusyPolicy    BusyPolicy `json:"busyPolicy,omitempty"`
	SweepSchedule string     `json:"sweepSchedule,omitempty"`
}

// DenialMode decides how a denied tool affects the running execution.
type DenialMode string

const (
	DenialTerminate  DenialMode = "terminate"
	DenialFinishTurn DenialMode = "finish_turn"
)

// PolicyConfig holds the default tool policy and enforcement options.
type PolicyConfig struct {
	Tools      ToolPolicy `json:"tools"`
	DenialMode DenialMode `json:"denialMode,omitempty"`

	// LogCancelledTools keeps tool decisions of cancelled executions in the
	// session log (default true).
	LogCancelledTools *bool `json:"logCancelledTools,omitempty"`

	// LoopThreshold publishes a loop warning after this many identical tool
	// invocations in a row. Zero disables the check.
	LoopThreshold int `json:"loopThreshold,omitempty"`
}

// KeepCancelledTools reports whether cancelled executions log their tools.
func (p PolicyConfig) KeepCancelledTools() bool {
	return p.LogCancelledTools == nil || *p.LogCancelledTools
}

// StorageConfig selects the session store.
type StorageConfig struct {
	Driver string `json:"driver,omitempty"` // "file" | "sqlite" | "memory"
	Path   string `json:"path,omitempty"`
}

// ExecutionConfig holds per-execution defaults.
type ExecutionConfig struct {
	Timeout Duration `json:"timeout,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port       int     `json:"port,omitempty"`
	EnableCORS bool    `json:"enableCORS,omitempty"`
	RatePerMin float64 `json:"ratePerMinute,omitempty"`
	RateBurst  int     `json:"rateBurst,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty"`
	File   string `json:"file,omitempty"` // also write JSON logs here
}

// Duration is a time.Duration that marshals as a Go duration string ("30m").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		// Bare numbers are seconds.
		*d = Duration(time.Duration(value * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}
