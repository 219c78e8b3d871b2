package statesync

import (
	"fmt"
	"log/slog"
)

// ServerView is the target player id used for a server-side dump: every
// field is included, serverOnly and all perPlayer entries too.
const ServerView = ""

// project walks the state tree in schema order and returns the view the
// target player is allowed to see. A masked transform that panics downgrades
// its field to serverOnly for this cycle.
func project(schema *Schema, state map[string]any, playerID string, log *slog.Logger) (map[string]any, error) {
	out := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		v, ok := state[f.Name]
		if !ok {
			continue
		}
		pv, include, err := projectField(f, v, playerID, log)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if include {
			out[f.Name] = pv
		}
	}
	return out, nil
}

func projectField(f Field, v any, playerID string, log *slog.Logger) (val any, include bool, err error) {
	if playerID == ServerView {
		n, err := Normalize(v)
		if err != nil {
			return nil, false, err
		}
		return n, true, nil
	}
	switch f.Policy {
	case ServerOnly:
		return nil, false, nil
	case PerPlayer:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false, fmt.Errorf("perPlayer field is %T, want map[string]any", v)
		}
		view := make(map[string]any, 1)
		if entry, ok := m[playerID]; ok {
			pv, err := projectValue(f.Elem, entry, playerID, log)
			if err != nil {
				return nil, false, err
			}
			view[playerID] = pv
		}
		return view, true, nil
	case Masked:
		masked, ok := applyMask(f, v, playerID, log)
		if !ok || masked == nil {
			return nil, false, nil
		}
		n, err := Normalize(masked)
		if err != nil {
			return nil, false, err
		}
		return n, true, nil
	default: // Broadcast
		pv, err := projectStructure(f, v, playerID, log)
		if err != nil {
			return nil, false, err
		}
		return pv, true, nil
	}
}

// projectStructure recurses into a broadcast field so that nested members
// still honor their own policies.
func projectStructure(f Field, v any, playerID string, log *slog.Logger) (any, error) {
	switch f.Kind {
	case KindObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("object field is %T, want map[string]any", v)
		}
		out := make(map[string]any, len(f.Fields))
		for _, member := range f.Fields {
			mv, ok := m[member.Name]
			if !ok {
				continue
			}
			pv, include, err := projectField(member, mv, playerID, log)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", member.Name, err)
			}
			if include {
				out[member.Name] = pv
			}
		}
		return out, nil
	case KindList, KindSet:
		items, err := asList(v)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, item := range items {
			pv, err := projectValue(f.Elem, item, playerID, log)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = pv
		}
		return out, nil
	case KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("map field is %T, want map[string]any", v)
		}
		out := make(map[string]any, len(m))
		for k, item := range m {
			pv, err := projectValue(f.Elem, item, playerID, log)
			if err != nil {
				return nil, fmt.Errorf("[%s]: %w", k, err)
			}
			out[k] = pv
		}
		return out, nil
	default:
		return Normalize(v)
	}
}

// projectValue projects an element through its schema, or normalizes it
// verbatim when the element shape is opaque.
func projectValue(elem *Field, v any, playerID string, log *slog.Logger) (any, error) {
	if elem == nil {
		return Normalize(v)
	}
	pv, include, err := projectField(*elem, v, playerID, log)
	if err != nil {
		return nil, err
	}
	if !include {
		return nil, nil
	}
	return pv, nil
}

func applyMask(f Field, v any, playerID string, log *slog.Logger) (out any, ok bool) {
	if f.Mask == nil {
		return nil, false
	}
	defer func() {
		if r := recover(); r != nil {
			// A panicking transform hides the field for this tick only.
			if log != nil {
				log.Error("mask transform panicked", "field", f.Name, "player", playerID, "panic", r)
			}
			out, ok = nil, false
		}
	}()
	return f.Mask(v, playerID), true
}

func asList(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("sequence field is %T, want []any", v)
	}
}
