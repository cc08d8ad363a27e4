// Package permission decides whether tool invocations reported by a backend
// may proceed.
//
// # Policy
//
// A types.ToolPolicy holds allow and deny lists of tool names. Entries with
// glob metacharacters are doublestar patterns ("mcp__github__*"). Evaluate
// checks, in order: exact deny, exact allow, deny pattern, allow pattern.
// A tool matching none of them is denied.
//
// # Shell Commands
//
// When the shell tool (Bash) is allowed by name and the policy carries a
// Commands map, the invocation's "command" argument is parsed with
// mvdan.cc/sh and every simple command is looked up, most specific key first:
//
//	"git commit *" -> "git commit" -> "git *" -> "git" -> "*"
//
// Any command resolving to deny denies the invocation. Commands without a
// matching key keep the tool-level allow. Unparseable commands are denied.
//
//	policy := types.ToolPolicy{
//		Allow:    []string{"Read", "Bash"},
//		Commands: map[string]types.PolicyAction{"rm *": types.ActionDeny},
//	}
//	Evaluate(policy, "Bash", map[string]any{"command": "ls && rm -rf /"}) // denied
//
// # Monitor
//
// A Monitor wraps a policy for one execution attempt. Observe returns the
// decision for a stream update, records it in the execution ledger exactly
// once and publishes a tool.decided audit event. The caller acts on the
// decision; the monitor has no side effects on the backend.
//
// The LoopGuard inside the monitor publishes tool.loop_detected when the same
// tool is invoked with identical arguments LoopThreshold times in a row.
package permission
