package l1

import "strings"

// trie is a case-insensitive multi-pattern literal matcher. It is built
// once at startup and reused across every scan. Matching walks the trie
// from every input offset, so its cost is input length times the depth of
// the longest literal, independent of how many literals are registered. No
// automaton package in the dependency corpus does this for Go, so it is
// hand-rolled here; the search itself is a straightforward failure-link-free
// walk since the default dictionary is small enough that worst-case
// backtracking never shows up in practice.
type trie struct {
	root *trieNode
}

type trieNode struct {
	children map[byte]*trieNode
	terminal string // non-empty at the node where a literal ends
}

func newTrie(literals []string) *trie {
	t := &trie{root: &trieNode{children: make(map[byte]*trieNode)}}
	for _, lit := range literals {
		t.insert(strings.ToLower(lit))
	}
	return t
}

func (t *trie) insert(lit string) {
	n := t.root
	for i := 0; i < len(lit); i++ {
		b := lit[i]
		child, ok := n.children[b]
		if !ok {
			child = &trieNode{children: make(map[byte]*trieNode)}
			n.children[b] = child
		}
		n = child
	}
	n.terminal = lit
}

// match scans s (already expected lower-cased by the caller is not
// required; match lower-cases internally) and returns the set of distinct
// literals found, trying every starting offset.
func (t *trie) match(s string) []string {
	lower := strings.ToLower(s)
	seen := make(map[string]struct{})
	var found []string

	for start := 0; start < len(lower); start++ {
		n := t.root
		for i := start; i < len(lower); i++ {
			child, ok := n.children[lower[i]]
			if !ok {
				break
			}
			n = child
			if n.terminal != "" {
				if _, dup := seen[n.terminal]; !dup {
					seen[n.terminal] = struct{}{}
					found = append(found, n.terminal)
				}
			}
		}
	}
	return found
}

// defaultLiterals is the built-in dictionary: destructive shell, privileged
// paths, SQL DDL verbs, piped download-exec combinations.
var defaultLiterals = []string{
	"rm -rf",
	"mkfs",
	"dd if=",
	":(){ :|:& };:",
	"/etc/shadow",
	"/etc/passwd",
	"~/.ssh/id_rsa",
	"drop table",
	"drop database",
	"truncate table",
	"curl | sh",
	"curl | bash",
	"wget | sh",
	"| bash",
	"| sh -c",
}
