// Package statesync implements the declarative state synchronization engine:
// per-field visibility policies, full snapshots, incremental diffs with
// per-player views, and path-hash compression of patch paths.
package statesync

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Policy determines who may see a field.
type Policy int

const (
	// Broadcast sends the field to every member of the land.
	Broadcast Policy = iota
	// ServerOnly never leaves the server.
	ServerOnly
	// PerPlayer keeps only the map entry whose key equals the target player id.
	PerPlayer
	// Masked asks a user-supplied transform for the per-player projection.
	Masked
)

func (p Policy) String() string {
	switch p {
	case Broadcast:
		return "broadcast"
	case ServerOnly:
		return "serverOnly"
	case PerPlayer:
		return "perPlayer"
	case Masked:
		return "masked"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// Kind is the structural shape of a field.
type Kind int

const (
	KindValue Kind = iota
	KindList
	KindSet
	KindMap
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindMap:
		return "map"
	case KindObject:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MaskFunc projects a field value for one player. The returned value is what
// that player sees; returning nil hides the field for this cycle.
type MaskFunc func(value any, playerID string) any

// Field is the declared metadata of one state-tree field. Nested aggregates
// recurse with their own per-field policies; mapping keys must be strings.
type Field struct {
	Name   string
	Kind   Kind
	Policy Policy
	Mask   MaskFunc
	Fields []Field // object members
	Elem   *Field  // element shape for list/set/map, nil for opaque values
}

// Schema is the declared shape of a land type's state tree. Field order is
// the deterministic walk order for snapshots and diffs.
type Schema struct {
	LandType string
	Fields   []Field
}

// Patterns returns every static path pattern the schema can produce, with
// "*" substituted for dynamic components (map keys, sequence indices).
// These feed the path trie and the precomputed hash table.
func (s *Schema) Patterns() []string {
	var out []string
	for _, f := range s.Fields {
		collectPatterns(f, f.Name, &out)
	}
	return out
}

func collectPatterns(f Field, prefix string, out *[]string) {
	*out = append(*out, prefix)
	switch f.Kind {
	case KindList, KindSet, KindMap:
		elemPrefix := prefix + ".*"
		if f.Elem != nil {
			collectPatterns(*f.Elem, elemPrefix, out)
		} else {
			*out = append(*out, elemPrefix)
		}
	case KindObject:
		for _, m := range f.Fields {
			collectPatterns(m, prefix+"."+m.Name, out)
		}
	}
}

// FieldByName returns the top-level field with the given name.
func (s *Schema) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// BindMask attaches a mask transform to the field at a dotted path
// ("inventory" or "players.*.hand"). A "*" segment steps into the element
// schema of a sequence or mapping. Masked fields loaded from schema.json
// must be bound before the engine is constructed.
func (s *Schema) BindMask(path string, fn MaskFunc) error {
	f, err := resolveField(s.Fields, strings.Split(path, "."))
	if err != nil {
		return fmt.Errorf("binding mask %q: %w", path, err)
	}
	if f.Policy != Masked {
		return fmt.Errorf("field %q is %s, not masked", path, f.Policy)
	}
	f.Mask = fn
	return nil
}

func resolveField(fields []Field, segs []string) (*Field, error) {
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	for i := range fields {
		f := &fields[i]
		if f.Name != segs[0] {
			continue
		}
		if len(segs) == 1 {
			return f, nil
		}
		rest := segs[1:]
		if rest[0] == "*" {
			if f.Elem == nil {
				return nil, fmt.Errorf("field %q has no element schema", f.Name)
			}
			if len(rest) == 1 {
				return f.Elem, nil
			}
			return resolveField(f.Elem.Fields, rest[1:])
		}
		if f.Kind != KindObject {
			return nil, fmt.Errorf("field %q is not an object", f.Name)
		}
		return resolveField(f.Fields, rest)
	}
	return nil, fmt.Errorf("no field %q", segs[0])
}

// Validate checks that masked fields carry a transform and that names are
// unique per aggregate.
func (s *Schema) Validate() error {
	return validateFields(s.Fields, "")
}

func validateFields(fields []Field, prefix string) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		if f.Name == "" {
			return fmt.Errorf("unnamed field under %q", prefix)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", path)
		}
		seen[f.Name] = true
		if f.Policy == Masked && f.Mask == nil {
			return fmt.Errorf("masked field %q has no transform bound", path)
		}
		if f.Kind == KindObject {
			if err := validateFields(f.Fields, path); err != nil {
				return err
			}
		}
		if f.Elem != nil {
			elem := *f.Elem
			if elem.Policy == Masked && elem.Mask == nil {
				return fmt.Errorf("masked element of %q has no transform bound", path)
			}
			if elem.Kind == KindObject {
				if err := validateFields(elem.Fields, path+".*"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// schema.json wire shapes. The artifact is produced by the schema generator
// and ingested at startup; the runtime never reflects over user types.

type schemaJSON struct {
	LandType string      `json:"landType"`
	Fields   []fieldJSON `json:"fields"`
}

type fieldJSON struct {
	Name   string      `json:"name"`
	Kind   string      `json:"kind"`
	Policy string      `json:"policy"`
	Fields []fieldJSON `json:"fields,omitempty"`
	Elem   *fieldJSON  `json:"elem,omitempty"`
}

// ParseSchema decodes a schema.json artifact.
func ParseSchema(data []byte) (*Schema, error) {
	var raw schemaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if raw.LandType == "" {
		return nil, fmt.Errorf("schema has no landType")
	}
	fields, err := parseFields(raw.Fields)
	if err != nil {
		return nil, err
	}
	return &Schema{LandType: raw.LandType, Fields: fields}, nil
}

// LoadSchema reads and decodes a schema.json file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	return ParseSchema(data)
}

func parseFields(raw []fieldJSON) ([]Field, error) {
	fields := make([]Field, 0, len(raw))
	for _, rf := range raw {
		f, err := parseField(rf)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func parseField(rf fieldJSON) (Field, error) {
	f := Field{Name: rf.Name}
	switch rf.Kind {
	case "", "value":
		f.Kind = KindValue
	case "list":
		f.Kind = KindList
	case "set":
		f.Kind = KindSet
	case "map":
		f.Kind = KindMap
	case "object":
		f.Kind = KindObject
	default:
		return Field{}, fmt.Errorf("field %q: unknown kind %q", rf.Name, rf.Kind)
	}
	switch rf.Policy {
	case "", "broadcast":
		f.Policy = Broadcast
	case "serverOnly":
		f.Policy = ServerOnly
	case "perPlayer":
		f.Policy = PerPlayer
	case "masked", "custom":
		f.Policy = Masked
	default:
		return Field{}, fmt.Errorf("field %q: unknown policy %q", rf.Name, rf.Policy)
	}
	if len(rf.Fields) > 0 {
		members, err := parseFields(rf.Fields)
		if err != nil {
			return Field{}, err
		}
		f.Fields = members
	}
	if rf.Elem != nil {
		elem, err := parseField(*rf.Elem)
		if err != nil {
			return Field{}, err
		}
		f.Elem = &elem
	}
	return f, nil
}
