// Package config loads claudebridge configuration and watches it for policy
// changes.
//
// # Configuration Loading
//
// Load layers configuration from these sources, later ones winning:
//
//  1. Built-in defaults (Default)
//  2. Global config (~/.config/claudebridge/config.json, .jsonc or .yaml)
//  3. Project config (<dir>/.claudebridge/config.json, .jsonc or .yaml)
//  4. CLAUDEBRIDGE_CONFIG file
//  5. CLAUDEBRIDGE_CONFIG_CONTENT inline JSON
//  6. Environment variables
//
// Each layer is decoded on top of the previous result, so a layer only
// changes the keys it names. Maps such as policy.tools.commands merge per key;
// lists such as policy.tools.allow are replaced whole.
//
// JSON files may carry comments (JSONC, stripped with tidwall/jsonc). YAML
// files use the same keys. Both support two kinds of placeholders:
//   - {env:VAR_NAME} expands to the environment variable
//   - {file:path} expands to the file contents, escaped for JSON; relative
//     paths resolve against the config file's directory and ~/ is expanded
//
// Example:
//
//	{
//	  "backend": { "primary": "process", "unhealthyThreshold": 3 },
//	  "sdk": { "apiKey": "{env:ANTHROPIC_API_KEY}" },
//	  "session": { "ttl": "30m", "busyPolicy": "queue" },
//	  "policy": {
//	    "tools": {
//	      "allow": ["Read", "Grep", "Bash"],
//	      "deny": ["mcp__*"],
//	      "commands": { "git *": "allow", "rm *": "deny" }
//	    },
//	    "denialMode": "terminate"
//	  }
//	}
//
// # Environment Variable Overrides
//
//   - CLAUDEBRIDGE_PRIMARY_BACKEND - "process" or "sdk"
//   - CLAUDEBRIDGE_MODEL - model for both backends
//   - CLAUDEBRIDGE_CLI - path to the claude binary
//   - CLAUDEBRIDGE_LOG_LEVEL, CLAUDEBRIDGE_PORT
//   - CLAUDEBRIDGE_POLICY - JSON tool policy replacing policy.tools
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY / ARK_API_KEY - SDK key when none is configured
//
// # Paths
//
// Paths follows the XDG base directory layout under a "claudebridge"
// subdirectory; on Windows APPDATA is used instead.
//
// # Watching
//
// Watcher reloads a config file when it changes on disk and hands the new
// configuration to a callback. The server uses it to swap the default tool
// policy without a restart.
package config
