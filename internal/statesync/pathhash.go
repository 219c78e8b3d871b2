package statesync

import "strings"

// FNV-1a 64-bit parameters. The wire format depends on these being
// byte-identical across platforms, so they are spelled out instead of
// relying on hash/fnv internals.
const (
	fnvOffset64 uint64 = 14695981039346656037
	fnvPrime64  uint64 = 1099511628211
)

// Hash64 returns the FNV-1a 64-bit hash of s.
func Hash64(s string) uint64 {
	h := fnvOffset64
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime64
	}
	return h
}

// Hash32 returns the 32-bit path hash of a dotted pattern:
// FNV-1a 64 XOR-folded to 32 bits.
func Hash32(pattern string) uint32 {
	h := Hash64(pattern)
	return uint32(h>>32) ^ uint32(h)
}

// trieNode is one segment of a pattern. A node has at most one wildcard
// child ("*"); concrete children take precedence during matching.
type trieNode struct {
	children map[string]*trieNode
	wildcard *trieNode
	terminal bool
	pattern  string
	hash     uint32
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode)}
}

// PathTrie resolves concrete paths to the hash of the pattern they were
// generated from, capturing the dynamic segments matched by wildcards.
// It is built once from the schema and is safe for concurrent readers.
type PathTrie struct {
	root *trieNode
}

// NewPathTrie builds a trie from dotted patterns ("players.*.hp").
func NewPathTrie(patterns []string) *PathTrie {
	root := newTrieNode()
	for _, p := range patterns {
		node := root
		for _, seg := range strings.Split(p, ".") {
			if seg == "*" {
				if node.wildcard == nil {
					node.wildcard = newTrieNode()
				}
				node = node.wildcard
				continue
			}
			child, ok := node.children[seg]
			if !ok {
				child = newTrieNode()
				node.children[seg] = child
			}
			node = child
		}
		node.terminal = true
		node.pattern = p
		node.hash = Hash32(p)
	}
	return &PathTrie{root: root}
}

// Encode resolves a concrete path to (patternHash, dynamicKeys). Literal
// segments match concrete children first; a wildcard child matches any
// segment and captures it. Unknown paths fall back to a heuristic pattern
// that keeps the first and last segments verbatim and wildcards the middle.
// The second return lists captured dynamic segments in traversal order.
func (t *PathTrie) Encode(segments []string) (uint32, []string, bool) {
	node := t.root
	var keys []string
	for _, seg := range segments {
		if child, ok := node.children[seg]; ok {
			node = child
			continue
		}
		if node.wildcard != nil {
			keys = append(keys, seg)
			node = node.wildcard
			continue
		}
		hash, fbKeys := fallbackPattern(segments)
		return hash, fbKeys, false
	}
	if !node.terminal {
		hash, fbKeys := fallbackPattern(segments)
		return hash, fbKeys, false
	}
	return node.hash, keys, true
}

// fallbackPattern keeps the first and last segments and wildcards
// everything between them.
func fallbackPattern(segments []string) (uint32, []string) {
	switch len(segments) {
	case 0:
		return Hash32(""), nil
	case 1:
		return Hash32(segments[0]), nil
	case 2:
		return Hash32(segments[0] + "." + segments[1]), nil
	}
	parts := make([]string, len(segments))
	parts[0] = segments[0]
	parts[len(parts)-1] = segments[len(segments)-1]
	keys := make([]string, 0, len(segments)-2)
	for i := 1; i < len(segments)-1; i++ {
		parts[i] = "*"
		keys = append(keys, segments[i])
	}
	return Hash32(strings.Join(parts, ".")), keys
}
