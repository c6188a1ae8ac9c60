// Package l1 implements the static analyzer: a multi-pattern literal
// matcher plus a regex battery plus a bounded Base64 re-scan heuristic,
// run synchronously over every request that isn't on the safe-method
// fast path.
package l1

import "github.com/IsaacHuo/agent-firewall/internal/domain/threat"

// MaxPayloadBytes is the size above which a payload is treated as
// oversize: tagged and leveled without exhaustive scanning.
const MaxPayloadBytes = 64 * 1024

// MaxBase64Depth bounds the recursive decode-and-rescan heuristic.
const MaxBase64Depth = 2

// Finding is the result of one L1 scan.
type Finding struct {
	// Patterns is the union of distinct pattern/literal names that matched.
	Patterns []string
	// Level is the max threat level across all matches.
	Level threat.Level
	// Base64Depth is the deepest Base64 decode-and-rescan level reached,
	// bounded by MaxBase64Depth. 0 when no decodable Base64-shaped
	// substring was found.
	Base64Depth int
}

// merge folds another finding's patterns and level into f, keeping the
// higher level and a de-duplicated pattern union.
func (f *Finding) merge(patterns []string, level threat.Level) {
	f.Level = threat.Max(f.Level, level)
	for _, p := range patterns {
		if !contains(f.Patterns, p) {
			f.Patterns = append(f.Patterns, p)
		}
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
