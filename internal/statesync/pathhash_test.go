package statesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash64_MatchesFNV1aConstants(t *testing.T) {
	// Empty input must be the FNV-1a offset basis.
	if got := Hash64(""); got != fnvOffset64 {
		t.Fatalf("Hash64(\"\") = %d, want offset basis %d", got, fnvOffset64)
	}
	// Single byte: (offset ^ b) * prime.
	var want uint64 = fnvOffset64
	want = (want ^ uint64('a')) * fnvPrime64
	if got := Hash64("a"); got != want {
		t.Fatalf("Hash64(\"a\") = %d, want %d", got, want)
	}
}

func TestHash32_FoldsXor(t *testing.T) {
	h64 := Hash64("players.*.hp")
	want := uint32(h64>>32) ^ uint32(h64)
	assert.Equal(t, want, Hash32("players.*.hp"))
}

func TestPathTrie_EncodeKnownPatterns(t *testing.T) {
	trie := NewPathTrie([]string{
		"tick",
		"players",
		"players.*",
		"players.*.hp",
		"players.*.inventory.*",
	})

	tests := []struct {
		name    string
		path    []string
		pattern string
		keys    []string
	}{
		{"static leaf", []string{"tick"}, "tick", nil},
		{"one wildcard", []string{"players", "p1"}, "players.*", []string{"p1"}},
		{"wildcard then literal", []string{"players", "p1", "hp"}, "players.*.hp", []string{"p1"}},
		{"two wildcards", []string{"players", "p2", "inventory", "sword"}, "players.*.inventory.*", []string{"p2", "sword"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, keys, known := trie.Encode(tt.path)
			require.True(t, known, "path should match a known pattern")
			assert.Equal(t, Hash32(tt.pattern), hash)
			assert.Equal(t, tt.keys, keys)
		})
	}
}

func TestPathTrie_LiteralBeatsWildcard(t *testing.T) {
	trie := NewPathTrie([]string{"rooms.lobby", "rooms.*"})

	hash, keys, known := trie.Encode([]string{"rooms", "lobby"})
	require.True(t, known)
	assert.Equal(t, Hash32("rooms.lobby"), hash)
	assert.Empty(t, keys)

	hash, keys, known = trie.Encode([]string{"rooms", "arena-7"})
	require.True(t, known)
	assert.Equal(t, Hash32("rooms.*"), hash)
	assert.Equal(t, []string{"arena-7"}, keys)
}

func TestPathTrie_FallbackKeepsFirstAndLast(t *testing.T) {
	trie := NewPathTrie([]string{"tick"})

	hash, keys, known := trie.Encode([]string{"ghost", "a", "b", "leaf"})
	assert.False(t, known)
	assert.Equal(t, Hash32("ghost.*.*.leaf"), hash)
	assert.Equal(t, []string{"a", "b"}, keys)

	// Short unknown paths are hashed verbatim.
	hash, keys, known = trie.Encode([]string{"ghost"})
	assert.False(t, known)
	assert.Equal(t, Hash32("ghost"), hash)
	assert.Empty(t, keys)

	hash, _, known = trie.Encode([]string{"ghost", "leaf"})
	assert.False(t, known)
	assert.Equal(t, Hash32("ghost.leaf"), hash)
}

func TestPathTrie_ConcurrentReaders(t *testing.T) {
	trie := NewPathTrie([]string{"players.*.hp", "tick"})
	done := make(chan struct{})
	for range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			for range 1000 {
				h1, _, _ := trie.Encode([]string{"players", "p1", "hp"})
				h2, _, _ := trie.Encode([]string{"players", "p2", "hp"})
				if h1 != h2 {
					t.Error("same pattern produced different hashes")
					return
				}
			}
		}()
	}
	for range 8 {
		<-done
	}
}
