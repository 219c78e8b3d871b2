package statesync

import (
	"strconv"
	"strings"
)

// Op is a JSON-Patch operation kind.
type Op string

const (
	OpAdd     Op = "add"
	OpReplace Op = "replace"
	OpRemove  Op = "remove"
)

// Patch is one JSON-Patch-shaped operation. Path is the JSON-Pointer form;
// Hash and Keys carry the compressed (patternHash, dynamicKeys) form. The
// codec picks one representation per connection.
type Patch struct {
	Op    Op       `json:"op" msgpack:"op"`
	Path  string   `json:"path" msgpack:"path"`
	Hash  uint32   `json:"h,omitempty" msgpack:"h,omitempty"`
	Keys  []string `json:"k,omitempty" msgpack:"k,omitempty"`
	Value any      `json:"value,omitempty" msgpack:"value,omitempty"`
}

// diff emits the patches that transform prev into cur. Both sides must be
// normalized projections. Patches come out in deterministic order (sorted
// map keys, ascending indices, removals from the tail down) so that the
// stream is replayable bit-for-bit.
func diff(trie *PathTrie, prev, cur map[string]any, segs []string) []Patch {
	var patches []Patch
	diffMaps(trie, prev, cur, segs, &patches)
	return patches
}

func diffMaps(trie *PathTrie, prev, cur map[string]any, segs []string, patches *[]Patch) {
	for _, k := range sortedKeys(prev) {
		if _, ok := cur[k]; !ok {
			*patches = append(*patches, makePatch(trie, OpRemove, append(segs, k), nil))
		}
	}
	for _, k := range sortedKeys(cur) {
		cv := cur[k]
		pv, ok := prev[k]
		if !ok {
			*patches = append(*patches, makePatch(trie, OpAdd, append(segs, k), cv))
			continue
		}
		diffValues(trie, pv, cv, append(segs, k), patches)
	}
}

func diffValues(trie *PathTrie, prev, cur any, segs []string, patches *[]Patch) {
	switch cv := cur.(type) {
	case map[string]any:
		pv, ok := prev.(map[string]any)
		if !ok {
			*patches = append(*patches, makePatch(trie, OpReplace, segs, cv))
			return
		}
		diffMaps(trie, pv, cv, segs, patches)
	case []any:
		pv, ok := prev.([]any)
		if !ok {
			*patches = append(*patches, makePatch(trie, OpReplace, segs, cv))
			return
		}
		n := min(len(pv), len(cv))
		for i := 0; i < n; i++ {
			diffValues(trie, pv[i], cv[i], append(segs, strconv.Itoa(i)), patches)
		}
		for i := n; i < len(cv); i++ {
			*patches = append(*patches, makePatch(trie, OpAdd, append(segs, strconv.Itoa(i)), cv[i]))
		}
		for i := len(pv) - 1; i >= n; i-- {
			*patches = append(*patches, makePatch(trie, OpRemove, append(segs, strconv.Itoa(i)), nil))
		}
	default:
		if !deepEqual(prev, cur) {
			*patches = append(*patches, makePatch(trie, OpReplace, segs, cur))
		}
	}
}

func makePatch(trie *PathTrie, op Op, segs []string, value any) Patch {
	p := Patch{Op: op, Path: pointer(segs), Value: deepCopy(value)}
	if trie != nil {
		p.Hash, p.Keys, _ = trie.Encode(segs)
	}
	return p
}

// pointer renders path segments as an RFC 6901 JSON Pointer.
func pointer(segs []string) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteByte('/')
		s = strings.ReplaceAll(s, "~", "~0")
		s = strings.ReplaceAll(s, "/", "~1")
		b.WriteString(s)
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	return keys
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// ApplyPatch applies one patch to a projection in place, returning the new
// root. Used by tests and by the replay verifier to check diff soundness.
func ApplyPatch(root map[string]any, p Patch) map[string]any {
	segs := splitPointer(p.Path)
	if len(segs) == 0 {
		return root
	}
	applySegs(root, segs, p)
	return root
}

func splitPointer(ptr string) []string {
	if ptr == "" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	for i, s := range parts {
		s = strings.ReplaceAll(s, "~1", "/")
		parts[i] = strings.ReplaceAll(s, "~0", "~")
	}
	return parts
}

func applySegs(node any, segs []string, p Patch) any {
	key := segs[0]
	last := len(segs) == 1
	switch n := node.(type) {
	case map[string]any:
		if last {
			if p.Op == OpRemove {
				delete(n, key)
			} else {
				n[key] = deepCopy(p.Value)
			}
			return n
		}
		n[key] = applySegs(n[key], segs[1:], p)
		return n
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return n
		}
		if last {
			switch p.Op {
			case OpRemove:
				if idx < len(n) {
					return append(n[:idx], n[idx+1:]...)
				}
			case OpAdd:
				if idx >= len(n) {
					return append(n, deepCopy(p.Value))
				}
				n[idx] = deepCopy(p.Value)
			default:
				if idx < len(n) {
					n[idx] = deepCopy(p.Value)
				}
			}
			return n
		}
		if idx < len(n) {
			n[idx] = applySegs(n[idx], segs[1:], p)
		}
		return n
	default:
		return node
	}
}
