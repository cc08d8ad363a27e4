package permission

import (
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// MatchBashPermission finds the rule for a command, most specific first:
// "git commit *", "git *", "git", "*". ok is false when no rule applies.
func MatchBashPermission(cmd BashCommand, rules map[string]types.PolicyAction) (types.PolicyAction, bool) {
	if cmd.Subcommand != "" {
		if action, ok := rules[cmd.Name+" "+cmd.Subcommand+" *"]; ok {
			return action, true
		}
		if action, ok := rules[cmd.Name+" "+cmd.Subcommand]; ok {
			return action, true
		}
	}
	if action, ok := rules[cmd.Name+" *"]; ok {
		return action, true
	}
	if action, ok := rules[cmd.Name]; ok {
		return action, true
	}
	if action, ok := rules["*"]; ok {
		return action, true
	}
	return "", false
}

// BuildPattern renders the rule key that best describes cmd.
// For "git commit -m msg", returns "git commit *"; for "ls -la", "ls *".
func BuildPattern(cmd BashCommand) string {
	if cmd.Subcommand != "" {
		return cmd.Name + " " + cmd.Subcommand + " *"
	}
	return cmd.Name + " *"
}
