package l1

import (
	"encoding/base64"
	"regexp"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/IsaacHuo/agent-firewall/internal/domain/threat"
)

type regexPattern struct {
	name  string
	level threat.Level
	re    *regexp.Regexp
}

// regexBattery is the fixed set of named structural patterns and their
// threat levels.
var regexBattery = []regexPattern{
	{
		name:  "shell_pipe_injection",
		level: threat.High,
		re:    regexp.MustCompile("(?i)(`[^`]+`|\\$\\([^)]+\\)|\\|\\s*(?:sh|bash|zsh)\\b)"),
	},
	{
		name:  "prompt_injection_marker",
		level: threat.Critical,
		re:    regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|context)|you\s+are\s+now\b`),
	},
	{
		name:  "base64_obfuscation",
		level: threat.High,
		re:    regexp.MustCompile(`(?i)(base64\s+-d|atob\s*\()`),
	},
	{
		name:  "hex_obfuscation",
		level: threat.Medium,
		re:    regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){6,}|(?:%[0-9a-fA-F]{2}){6,}`),
	},
	{
		name:  "path_traversal",
		level: threat.High,
		re:    regexp.MustCompile(`(?:\.\./){2,}|(?i)/etc/(passwd|shadow|sudoers)`),
	},
	{
		name:  "env_exfiltration",
		level: threat.Critical,
		re:    regexp.MustCompile(`(?i)(AWS_SECRET_ACCESS_KEY|PRIVATE_KEY|API_KEY|OPENAI_API_KEY)\b.{0,40}(curl|http|post|send)`),
	},
	{
		name:  "sql_injection",
		level: threat.High,
		re:    regexp.MustCompile(`(?i)(union\s+select|--\s*$|\bor\s+1\s*=\s*1\b)`),
	},
	{
		name:  "data_exfiltration_url",
		level: threat.High,
		re:    regexp.MustCompile(`(?i)https?://(pastebin\.com|webhook\.site|requestbin\.\w+|ngrok\.io)`),
	},
	{
		name:  "suspicious_blob",
		level: threat.Medium,
		re:    regexp.MustCompile(`[A-Za-z0-9+/]{80,}={0,2}`),
	},
}

// Analyzer runs the literal automaton and the regex battery over raw
// payload bytes and parsed string leaves, with bounded recursive Base64
// re-scanning. It is stateless after construction and safe for concurrent
// use.
type Analyzer struct {
	literals *trie
}

// NewAnalyzer builds an Analyzer with the given literal dictionary. A nil
// or empty slice uses the built-in default dictionary.
func NewAnalyzer(literals []string) *Analyzer {
	if len(literals) == 0 {
		literals = defaultLiterals
	}
	return &Analyzer{literals: newTrie(literals)}
}

// Analyze scans raw (the full serialized payload) and leaves (string
// values extracted from the parsed params) and returns the aggregate
// finding. It never returns an error; on internal panic recovery it
// degrades to MEDIUM + "l1_error" so the pipeline is never interrupted.
func (a *Analyzer) Analyze(raw []byte, leaves []string) (finding Finding) {
	defer func() {
		if r := recover(); r != nil {
			finding = Finding{Level: threat.Medium, Patterns: []string{"l1_error"}}
		}
	}()

	if len(raw) > MaxPayloadBytes {
		return Finding{Level: threat.Medium, Patterns: []string{"oversize_payload"}}
	}

	f := Finding{Level: threat.None}
	a.scan(string(raw), &f, make(map[uint64]struct{}), 0)
	for _, leaf := range leaves {
		a.scan(leaf, &f, make(map[uint64]struct{}), 0)
	}
	return f
}

// criticalLiterals is the subset of the literal dictionary that is
// unconditionally destructive regardless of surrounding context (full
// filesystem wipes, low-level device writes, fork bombs); these promote
// straight to CRITICAL instead of the dictionary's default HIGH.
var criticalLiterals = map[string]bool{
	"rm -rf":        true,
	"mkfs":          true,
	":(){ :|:& };:": true,
}

// scan runs the literal automaton and regex battery against s, then looks
// for Base64-shaped substrings and recurses into their decoded content up
// to MaxBase64Depth. seen memoizes decoded blobs by content hash within a
// single top-level Analyze call to avoid rescanning duplicates. depth is
// the current recursion level; the deepest level reached across the whole
// scan is recorded on f.Base64Depth.
func (a *Analyzer) scan(s string, f *Finding, seen map[uint64]struct{}, depth int) {
	if depth > f.Base64Depth {
		f.Base64Depth = depth
	}

	if lits := a.literals.match(s); len(lits) > 0 {
		var critical, rest []string
		for _, lit := range lits {
			if criticalLiterals[lit] {
				critical = append(critical, lit)
			} else {
				rest = append(rest, lit)
			}
		}
		if len(critical) > 0 {
			f.merge(critical, threat.Critical)
		}
		if len(rest) > 0 {
			f.merge(rest, threat.High)
		}
	}
	for _, p := range regexBattery {
		if p.re.MatchString(s) {
			f.merge([]string{p.name}, p.level)
		}
	}

	if depth >= MaxBase64Depth {
		return
	}
	for _, candidate := range base64Candidates(s) {
		digest := xxhash.Sum64String(candidate)
		if _, dup := seen[digest]; dup {
			continue
		}
		seen[digest] = struct{}{}

		decoded, ok := decodeBase64(candidate)
		if !ok {
			continue
		}
		a.scan(decoded, f, seen, depth+1)
	}
}

var base64Shape = regexp.MustCompile(`[A-Za-z0-9+/]{16,}={0,2}`)

// base64Candidates extracts substrings matching the Base64 shape
// heuristic: length >= 16, alphabet-clean, optional padding.
func base64Candidates(s string) []string {
	return base64Shape.FindAllString(s, -1)
}

// decodeBase64 decodes candidate and reports whether the result is valid
// UTF-8 text worth re-scanning.
func decodeBase64(candidate string) (string, bool) {
	decoded, err := base64.StdEncoding.DecodeString(candidate)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(candidate)
		if err != nil {
			return "", false
		}
	}
	if !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}
