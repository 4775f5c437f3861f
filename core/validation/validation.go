// Package validation checks JSON-like data against declarative field schemas.
//
// A Schema maps property names to Fields. A Field either names a registered
// type, references a nested schema that is validated against the same data
// (Ref plus Schema), or describes a nested object (Schema alone) validated
// against the value stored under its key.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Error codes reported in Failure.ErrCode.
const (
	CodeRequired       = 10
	CodeStringType     = 11
	CodeStringTooShort = 12
	CodeStringTooLong  = 13
	CodeStringMatch    = 14
	CodeNumberType     = 21
	CodeNumberTooLow   = 22
	CodeNumberTooHigh  = 23
	CodeDate           = 31
	CodeArrayType      = 41
	CodeArrayTooShort  = 42
	CodeArrayTooLong   = 43
	CodeObject         = 51
	CodeObjectID       = 52
	CodeBoolean        = 61
	CodeTime           = 71
	CodeEmail          = 72
)

var (
	// ErrUnknownType is returned when a field names a type with no registered validator.
	ErrUnknownType = errors.New("unknown schema type")

	// ErrNilValidator is returned when registering a nil validator.
	ErrNilValidator = errors.New("validator is nil")

	// ErrInvalidField is returned for a field with neither a type nor a nested schema.
	ErrInvalidField = errors.New("field has no type and no schema")
)

// Field describes the constraints on one property.
type Field struct {
	Type     string  `yaml:"type,omitempty" json:"type,omitempty"`
	Min      float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max      float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Required bool    `yaml:"required,omitempty" json:"required,omitempty"`
	Default  any     `yaml:"default,omitempty" json:"default,omitempty"`
	Match    string  `yaml:"match,omitempty" json:"match,omitempty"`
	Convert  bool    `yaml:"convert,omitempty" json:"convert,omitempty"`
	NoEmpty  bool    `yaml:"no_empty,omitempty" json:"noEmpty,omitempty"`
	Ref      string  `yaml:"ref,omitempty" json:"ref,omitempty"`
	Schema   Schema  `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// Nested reports whether the field is validated through its Schema rather than a type.
func (f Field) Nested() bool {
	return f.Type == "" && f.Schema != nil
}

// Schema maps property names to field declarations.
type Schema map[string]Field

// Keys returns the schema keys in sorted order.
func (s Schema) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Failure is one failed property check.
type Failure struct {
	Property string `json:"property"`
	Msg      string `json:"msg"`
	ErrCode  int    `json:"errCode"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", f.Property, f.Msg, f.ErrCode)
}

// Result is the outcome of ValidateOne. Value carries the value after default
// substitution.
type Result struct {
	IsValid bool
	Value   any
	Error   *Failure
}

// Validator checks a non-empty value against a field. It returns nil on success.
type Validator func(value any, f Field) *Failure

// Registry holds the named type validators.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
	patterns   sync.Map // pattern string -> *regexp.Regexp
}

// NewRegistry creates a registry with the built-in types registered.
func NewRegistry() *Registry {
	r := &Registry{validators: make(map[string]Validator)}
	r.validators["string"] = r.validateString
	r.validators["number"] = validateNumber
	r.validators["date"] = validateDate
	r.validators["array"] = validateArray
	r.validators["object"] = validateObject
	r.validators["objectid"] = validateObjectID
	r.validators["boolean"] = validateBoolean
	r.validators["time"] = validateTime
	r.validators["email"] = validateEmail
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry shared by stores that are not given one.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register adds or replaces the validator for a type name.
func (r *Registry) Register(typeName string, fn Validator) error {
	if fn == nil {
		return fmt.Errorf("register %q: %w", typeName, ErrNilValidator)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[strings.ToLower(typeName)] = fn
	return nil
}

// Has reports whether a validator is registered for typeName.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.validators[strings.ToLower(typeName)]
	return ok
}

// Types returns the registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.validators))
	for name := range r.validators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(typeName string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.validators[strings.ToLower(typeName)]
	return fn, ok
}

func (r *Registry) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := r.patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	r.patterns.Store(pattern, re)
	return re, nil
}

// Prepare checks that every field in schema is resolvable: types are
// registered, nested schemas are themselves valid and match patterns compile.
func (r *Registry) Prepare(schema Schema) error {
	for _, key := range schema.Keys() {
		f := schema[key]
		if f.Type == "" {
			if f.Schema == nil {
				return fmt.Errorf("field %q: %w", key, ErrInvalidField)
			}
			if err := r.Prepare(f.Schema); err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			continue
		}
		if !r.Has(f.Type) {
			return fmt.Errorf("field %q: %w: %s", key, ErrUnknownType, f.Type)
		}
		if f.Match != "" {
			if _, err := r.compile(f.Match); err != nil {
				return fmt.Errorf("field %q: match pattern: %w", key, err)
			}
		}
	}
	return nil
}

// ValidateOne checks a single value against a field.
func (r *Registry) ValidateOne(f Field, value any) (Result, error) {
	if s, ok := value.(string); ok && s == "" && f.NoEmpty {
		value = nil
	}

	if isMissing(value) && f.Default != nil {
		value = f.Default
	}

	if isMissing(value) {
		if f.Required {
			return Result{
				IsValid: false,
				Value:   value,
				Error:   &Failure{Msg: "Property is undefined or null, but it's required", ErrCode: CodeRequired},
			}, nil
		}
		return Result{IsValid: true, Value: value}, nil
	}

	fn, ok := r.lookup(f.Type)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}

	if failed := fn(value, f); failed != nil {
		return Result{IsValid: false, Value: value, Error: failed}, nil
	}
	return Result{IsValid: true, Value: value}, nil
}

// Validate checks data against schema and returns every failure, or nil when
// data is valid. Defaults substituted for missing top-level values are written
// back into data.
func (r *Registry) Validate(data map[string]any, schema Schema) ([]Failure, error) {
	return r.validate(data, schema, "")
}

func (r *Registry) validate(data map[string]any, schema Schema, prefix string) ([]Failure, error) {
	if data == nil {
		data = map[string]any{}
	}

	var failed []Failure
	for _, key := range schema.Keys() {
		f := schema[key]

		if f.Type == "" {
			var (
				sub []Failure
				err error
			)
			switch {
			case f.Ref != "" && f.Schema != nil:
				sub, err = r.validate(data, f.Schema, prefix)
			case f.Schema != nil:
				nested, _ := data[key].(map[string]any)
				sub, err = r.validate(copyMap(nested), f.Schema, prefix+key+".")
			default:
				err = fmt.Errorf("field %q: %w", prefix+key, ErrInvalidField)
			}
			if err != nil {
				return nil, err
			}
			failed = append(failed, sub...)
			continue
		}

		res, err := r.ValidateOne(f, data[key])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", prefix+key, err)
		}
		if res.IsValid {
			if res.Value != nil {
				data[key] = res.Value
			}
			continue
		}
		res.Error.Property = prefix + key
		failed = append(failed, *res.Error)
	}

	if len(failed) == 0 {
		return nil, nil
	}
	return failed, nil
}

func isMissing(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
