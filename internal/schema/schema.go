// Package schema reflects JSON schemas from Go parameter types and validates
// inbound params against them before a typed handler decodes them.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled schema for one Go type.
type Schema struct {
	typ    reflect.Type
	raw    json.RawMessage
	loader *gojsonschema.Schema
}

// ValidationError lists the schema violations found in a document.
type ValidationError struct {
	Type   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Type, strings.Join(e.Errors, "; "))
}

var cache sync.Map // reflect.Type -> *Schema

var reflector = &jsonschema.Reflector{
	DoNotReference:            true,
	AllowAdditionalProperties: true,
}

// For returns the compiled schema for T, building it on first use.
func For[T any]() (*Schema, error) {
	return ForType(reflect.TypeOf((*T)(nil)).Elem())
}

// ForType returns the compiled schema for t.
func ForType(t reflect.Type) (*Schema, error) {
	if s, ok := cache.Load(t); ok {
		return s.(*Schema), nil
	}

	reflected := reflector.ReflectFromType(t)
	b, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", t, err)
	}

	// gojsonschema understands drafts up to 7; the structural keywords we
	// emit are compatible, so drop the 2020-12 identifiers.
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", t, err)
	}
	delete(doc, "$schema")
	delete(doc, "$id")

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", t, err)
	}

	s := &Schema{typ: t, raw: b, loader: compiled}
	actual, _ := cache.LoadOrStore(t, s)
	return actual.(*Schema), nil
}

// JSON returns the reflected schema document.
func (s *Schema) JSON() json.RawMessage { return s.raw }

// Validate checks params against the schema. Missing params validate as an
// empty object, and null members are treated as absent.
func (s *Schema) Validate(params json.RawMessage) error {
	var doc any
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		doc = map[string]any{}
	} else {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return &ValidationError{Type: s.typ.String(), Errors: []string{err.Error()}}
		}
		doc = dropNulls(doc)
	}

	res, err := s.loader.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate %s: %w", s.typ, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return &ValidationError{Type: s.typ.String(), Errors: msgs}
}

func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if val == nil {
				delete(t, k)
				continue
			}
			t[k] = dropNulls(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = dropNulls(val)
		}
		return t
	}
	return v
}
