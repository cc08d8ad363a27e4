package headless

import (
	"fmt"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/permission"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// builtinTools are the tool names the Claude CLI ships with.
var builtinTools = []string{
	"Bash", "Edit", "Glob", "Grep", "LS", "MultiEdit", "NotebookEdit",
	"Read", "Task", "TodoWrite", "WebFetch", "WebSearch", "Write",
}

// policyOverride builds the per-run tool policy from --allow and --deny.
// It returns nil when neither is set, so the configured policy applies.
func policyOverride(allow, deny []string) (*types.ToolPolicy, error) {
	allow, deny = splitList(allow), splitList(deny)
	if len(allow) == 0 && len(deny) == 0 {
		return nil, nil
	}
	p := &types.ToolPolicy{Allow: allow, Deny: deny}
	if err := permission.ValidatePolicy(*p); err != nil {
		return nil, fmt.Errorf("invalid tool policy: %w", err)
	}
	return p, nil
}

// misspelledTools returns a hint for every exact name in p that is not a
// built-in tool but is within two edits of one.
func misspelledTools(p *types.ToolPolicy) []string {
	if p == nil {
		return nil
	}
	var hints []string
	for _, name := range slices.Concat(p.Allow, p.Deny) {
		if strings.ContainsAny(name, "*?[{") || slices.Contains(builtinTools, name) {
			continue
		}
		if s := suggestTool(name); s != "" {
			hints = append(hints, fmt.Sprintf("unknown tool %q, did you mean %q?", name, s))
		}
	}
	return hints
}

func suggestTool(name string) string {
	best, bestDist := "", 3
	for _, tool := range builtinTools {
		if d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(tool)); d < bestDist {
			best, bestDist = tool, d
		}
	}
	return best
}

// splitList accepts both repeated flags and comma separated values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, name := range strings.Split(item, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}
