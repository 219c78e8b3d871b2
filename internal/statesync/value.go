package statesync

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// The engine works over a JSON-like value domain: nil, bool, int64, float64,
// string, []any and map[string]any. Normalize converts the Go numeric zoo
// into that domain so that comparisons and hashes are stable regardless of
// which concrete type a handler stored.

// Normalize deep-converts v into the canonical value domain. It returns an
// error for values outside the domain (channels, funcs, arbitrary structs):
// land state must be built from schema-shaped maps, slices and scalars.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("uint64 value %d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return float64(x), nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported state value type %T", v)
	}
}

// deepEqual compares two normalized values.
func deepEqual(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case int64:
		y, ok := b.(int64)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !deepEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !deepEqual(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

// deepCopy clones a normalized value so the cached projection cannot alias
// live land state.
func deepCopy(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopy(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = deepCopy(e)
		}
		return out
	default:
		return x
	}
}

// HashValue folds a normalized value into an FNV-1a 64 running hash using a
// canonical traversal (map keys sorted). Used for per-tick replay hashes;
// must be byte-identical across platforms.
func HashValue(h uint64, v any) uint64 {
	write := func(h uint64, s string) uint64 {
		for i := 0; i < len(s); i++ {
			h ^= uint64(s[i])
			h *= fnvPrime64
		}
		return h
	}
	switch x := v.(type) {
	case nil:
		return write(h, "n")
	case bool:
		if x {
			return write(h, "t")
		}
		return write(h, "f")
	case int64:
		return write(h, "i"+strconv.FormatInt(x, 10))
	case float64:
		return write(h, "d"+strconv.FormatUint(math.Float64bits(x), 16))
	case string:
		return write(write(h, "s"), x)
	case []any:
		h = write(h, "[")
		for _, e := range x {
			h = HashValue(h, e)
		}
		return write(h, "]")
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h = write(h, "{")
		for _, k := range keys {
			h = write(h, k)
			h = HashValue(h, x[k])
		}
		return write(h, "}")
	}
	return write(h, "?")
}

// HashState hashes an entire state tree. The hash covers every field,
// serverOnly included: replay equality means the full authoritative state
// matched, not just the visible part.
func HashState(state map[string]any) (uint64, error) {
	norm, err := Normalize(state)
	if err != nil {
		return 0, err
	}
	return HashValue(fnvOffset64, norm), nil
}
