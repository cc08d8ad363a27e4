// Package permission decides whether tool invocations observed in a backend
// stream are permitted.
package permission

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// ShellTool is the tool whose command argument is checked against the
// command sub-policy.
const ShellTool = "Bash"

// Evaluate applies policy to one tool invocation. Precedence, first match
// wins: exact deny, exact allow, deny pattern, allow pattern. Anything else
// is denied.
func Evaluate(policy types.ToolPolicy, toolName string, args map[string]any) types.Decision {
	if toolName == "" {
		return types.Deny("tool name missing")
	}

	decision := evaluateName(policy, toolName)
	if !decision.Allowed || toolName != ShellTool || len(policy.Commands) == 0 {
		return decision
	}
	return evaluateCommand(policy.Commands, args)
}

func evaluateName(policy types.ToolPolicy, toolName string) types.Decision {
	if contains(policy.Deny, toolName) {
		return types.Deny(fmt.Sprintf("tool %s is denied", toolName))
	}
	if contains(policy.Allow, toolName) {
		return types.Allow()
	}
	if pattern, ok := matchAny(policy.Deny, toolName); ok {
		return types.Deny(fmt.Sprintf("tool %s is denied by pattern %s", toolName, pattern))
	}
	if _, ok := matchAny(policy.Allow, toolName); ok {
		return types.Allow()
	}
	return types.Deny(fmt.Sprintf("tool %s is not in the allow list", toolName))
}

// evaluateCommand checks every command of a shell invocation. Commands the
// sub-policy does not mention keep the tool-level allow.
func evaluateCommand(rules map[string]types.PolicyAction, args map[string]any) types.Decision {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return types.Deny("shell command missing")
	}

	commands, err := ParseBashCommand(command)
	if err != nil {
		return types.Deny(fmt.Sprintf("shell command could not be parsed: %v", err))
	}

	for _, cmd := range commands {
		if action, ok := MatchBashPermission(cmd, rules); ok && action == types.ActionDeny {
			return types.Deny(fmt.Sprintf("command %q is denied", BuildPattern(cmd)))
		}
	}
	return types.Allow()
}

func contains(list []string, name string) bool {
	for _, entry := range list {
		if entry == name {
			return true
		}
	}
	return false
}

// matchAny returns the first glob entry of list that matches name. Entries
// without glob metacharacters are exact names and never match here.
func matchAny(list []string, name string) (string, bool) {
	for _, pattern := range list {
		if !strings.ContainsAny(pattern, "*?[{") {
			continue
		}
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return pattern, true
		}
	}
	return "", false
}

// ValidatePolicy reports malformed glob entries.
func ValidatePolicy(policy types.ToolPolicy) error {
	for _, list := range [][]string{policy.Allow, policy.Deny} {
		for _, pattern := range list {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("invalid tool pattern %q", pattern)
			}
		}
	}
	for pattern, action := range policy.Commands {
		if action != types.ActionAllow && action != types.ActionDeny {
			return fmt.Errorf("invalid action %q for command pattern %q", action, pattern)
		}
	}
	return nil
}
