package schema

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	cache   = make(map[reflect.Type]*Schema)
	cacheMu sync.RWMutex
)

// Schema is a reflected schema of a Go type
type Schema struct {
	RawSchema *jsonschema.Schema
	// Parameters represents the Function parameters definition
	Parameters *jsonschema.Schema
}

// New creates a new schema from the given type
func New(t reflect.Type) (*Schema, error) {
	cacheMu.RLock()
	s, ok := cache[t]
	cacheMu.RUnlock()
	if ok {
		return s, nil
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if s, ok := cache[t]; ok {
		return s, nil
	}

	s, err := buildSchema(t)
	if err != nil {
		return nil, err
	}
	cache[t] = s
	return s, nil
}

func (s *Schema) String() string {
	js, _ := json.MarshalIndent(s.Parameters, "", "\t")
	return string(js)
}

func buildSchema(t reflect.Type) (*Schema, error) {
	raw := JSONSchema(t)

	params, err := ToFunctionSchema(raw)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to build schema for %s", t.Name())
	}
	return &Schema{
		RawSchema:  raw,
		Parameters: params,
	}, nil
}

// ToFunctionSchema returns the top level object schema with all
// $defs references inlined.
func ToFunctionSchema(tSchema *jsonschema.Schema) (*jsonschema.Schema, error) {
	refID := strings.TrimPrefix(tSchema.Ref, "#/$defs/")

	defs := make(map[string]*jsonschema.Schema)
	root := tSchema
	for name, def := range tSchema.Definitions {
		if name == refID {
			root = def
		} else {
			defs[name] = def
		}
	}

	res := &jsonschema.Schema{
		Type:       root.Type,
		Properties: root.Properties,
		Required:   root.Required,
	}
	if res.Properties != nil {
		if err := resolveRefs(res.Properties, defs); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func resolveRefs(props *orderedmap.OrderedMap[string, *jsonschema.Schema], defs map[string]*jsonschema.Schema) error {
	for pair := props.Oldest(); pair != nil; pair = pair.Next() {
		child := pair.Value
		if child.Ref != "" {
			def, err := lookupRef(child.Ref, defs)
			if err != nil {
				return err
			}
			pair.Value = def
			child = def
		}
		if child.Properties != nil {
			if err := resolveRefs(child.Properties, defs); err != nil {
				return err
			}
		}
		if child.Items != nil && child.Items.Ref != "" {
			def, err := lookupRef(child.Items.Ref, defs)
			if err != nil {
				return err
			}
			child.Items = def
		}
	}
	return nil
}

func lookupRef(ref string, defs map[string]*jsonschema.Schema) (*jsonschema.Schema, error) {
	name := strings.TrimPrefix(ref, "#/$defs/")
	if def, ok := defs[name]; ok {
		return def, nil
	}
	return nil, errors.Newf("definition not found: %s", ref)
}

// JSONSchema return the json schema of the type
func JSONSchema(t reflect.Type) *jsonschema.Schema {
	r := new(jsonschema.Reflector)
	r.ExpandedStruct = true
	r.DoNotReference = true
	r.AllowAdditionalProperties = true

	// Struct names may collide across packages, so the package path hash
	// is added to the definition name.
	r.Namer = func(t reflect.Type) string {
		name := t.Name()
		if t.Kind() == reflect.Struct {
			fullname := t.PkgPath() + "/" + t.Name()
			name = t.Name() + "@" + strconv.FormatUint(xxhash.Sum64String(fullname), 10)
		}
		return name
	}

	return r.ReflectFromType(t)
}

// MustFromAny creates a json schema from any type.
// It panics if the value can not be converted.
//
// For example:
//
//	map[string]any{
//		"type": "object",
//		"properties": map[string]any{
//			"query": map[string]any{
//				"type": "string",
//			},
//		},
//	}
func MustFromAny(t any) *jsonschema.Schema {
	s, err := FromAny(t)
	if err != nil {
		panic(err)
	}
	return s
}

// FromAny creates a json schema from any value that marshals to a JSON schema document.
func FromAny(t any) (*jsonschema.Schema, error) {
	js, err := json.Marshal(t)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	s := &jsonschema.Schema{}
	if err = json.Unmarshal(js, s); err != nil {
		return nil, errors.WithStack(err)
	}
	return s, nil
}

// Clone returns a deep copy of the schema.
func Clone(s *jsonschema.Schema) (*jsonschema.Schema, error) {
	if s == nil {
		return nil, nil
	}
	return FromAny(s)
}

// Fingerprint returns a stable hash of the schema serialization.
// Equal schemas built in the same property order produce equal fingerprints.
func Fingerprint(s *jsonschema.Schema) uint64 {
	if s == nil {
		return 0
	}
	js, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(js)
}

// PropertyNames returns the property names of the object schema in declaration order.
func PropertyNames(s *jsonschema.Schema) []string {
	if s == nil || s.Properties == nil {
		return nil
	}
	names := make([]string, 0, s.Properties.Len())
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// ToMap converts the schema to a generic map, as expected by provider SDKs.
func ToMap(s *jsonschema.Schema) (map[string]any, error) {
	if s == nil {
		return nil, nil
	}
	js, err := json.Marshal(s)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var m map[string]any
	if err = json.Unmarshal(js, &m); err != nil {
		return nil, errors.WithStack(err)
	}
	return m, nil
}
