package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// LoopGuard counts consecutive identical tool invocations within one
// execution. It is not safe for concurrent use; the monitor serializes it.
type LoopGuard struct {
	threshold int
	last      string
	repeats   int
}

// NewLoopGuard creates a guard that trips after threshold identical calls in
// a row. A threshold below 2 disables it.
func NewLoopGuard(threshold int) *LoopGuard {
	return &LoopGuard{threshold: threshold}
}

// Observe records a call and returns the current run length and whether the
// run just reached the threshold. It reports true once per run.
func (g *LoopGuard) Observe(toolName string, args map[string]any) (int, bool) {
	if g == nil || g.threshold < 2 {
		return 0, false
	}

	hash := hashCall(toolName, args)
	if hash == g.last {
		g.repeats++
	} else {
		g.last = hash
		g.repeats = 1
	}
	return g.repeats, g.repeats == g.threshold
}

func hashCall(toolName string, args map[string]any) string {
	data, _ := json.Marshal(map[string]any{
		"tool":  toolName,
		"input": args,
	})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
