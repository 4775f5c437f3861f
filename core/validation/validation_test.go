package validation_test

import (
	"errors"
	"testing"
	"time"

	"github.com/artpar/livesync/core/validation"
)

func TestValidateOne_Codes(t *testing.T) {
	reg := validation.NewRegistry()

	tests := []struct {
		name  string
		field validation.Field
		value any
		code  int
	}{
		{"required missing", validation.Field{Type: "string", Required: true}, nil, 10},
		{"required empty string", validation.Field{Type: "string", Required: true}, "", 10},
		{"string type", validation.Field{Type: "string"}, 5, 11},
		{"string too short", validation.Field{Type: "string", Min: 5}, "abc", 12},
		{"string too long", validation.Field{Type: "string", Max: 2}, "abc", 13},
		{"string match", validation.Field{Type: "string", Match: `^\d+$`}, "abc", 14},
		{"number type", validation.Field{Type: "number"}, "12", 21},
		{"number too low", validation.Field{Type: "number", Min: 10}, 5, 22},
		{"number too high", validation.Field{Type: "number", Max: 10}, 15.5, 23},
		{"date", validation.Field{Type: "date"}, "not a date", 31},
		{"array type", validation.Field{Type: "array"}, "x", 41},
		{"array too short", validation.Field{Type: "array", Min: 2}, []any{1}, 42},
		{"array too long", validation.Field{Type: "array", Max: 1}, []any{1, 2}, 43},
		{"object", validation.Field{Type: "object"}, "x", 51},
		{"objectid", validation.Field{Type: "objectid"}, "123", 52},
		{"boolean", validation.Field{Type: "boolean"}, "true", 61},
		{"time", validation.Field{Type: "time"}, "1200", 71},
		{"email", validation.Field{Type: "email"}, "nope", 72},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := reg.ValidateOne(tt.field, tt.value)
			if err != nil {
				t.Fatalf("ValidateOne error: %v", err)
			}
			if res.IsValid {
				t.Fatalf("IsValid = true, want false")
			}
			if res.Error.ErrCode != tt.code {
				t.Errorf("ErrCode = %d, want %d (%s)", res.Error.ErrCode, tt.code, res.Error.Msg)
			}
		})
	}
}

func TestValidateOne_Valid(t *testing.T) {
	reg := validation.NewRegistry()

	tests := []struct {
		name  string
		field validation.Field
		value any
	}{
		{"string", validation.Field{Type: "String", Min: 2, Max: 5}, "abc"},
		{"string converted", validation.Field{Type: "string", Convert: true}, 42},
		{"number int", validation.Field{Type: "number", Min: 1, Max: 10}, 5},
		{"number converted", validation.Field{Type: "number", Convert: true}, "12abc"},
		{"zero min ignored", validation.Field{Type: "number", Min: 0}, -5},
		{"date string", validation.Field{Type: "date"}, "2024-01-15"},
		{"date rfc3339", validation.Field{Type: "date"}, "2024-01-15T10:00:00Z"},
		{"date value", validation.Field{Type: "date"}, time.Now()},
		{"array", validation.Field{Type: "array", Min: 1}, []any{1}},
		{"array of strings", validation.Field{Type: "array"}, []string{"a"}},
		{"object map", validation.Field{Type: "object"}, map[string]any{}},
		{"object array", validation.Field{Type: "object"}, []any{}},
		{"objectid", validation.Field{Type: "objectid"}, "507f1f77bcf86cd799439011"},
		{"boolean", validation.Field{Type: "boolean"}, false},
		{"time hh:mm", validation.Field{Type: "time"}, "12:30"},
		{"time d:hh:mm:ss", validation.Field{Type: "time"}, "1:12:30:15"},
		{"email", validation.Field{Type: "email"}, "a.b+c@example.co.uk"},
		{"optional missing", validation.Field{Type: "number"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := reg.ValidateOne(tt.field, tt.value)
			if err != nil {
				t.Fatalf("ValidateOne error: %v", err)
			}
			if !res.IsValid {
				t.Errorf("IsValid = false: %s", res.Error.Msg)
			}
		})
	}
}

func TestValidateOne_DefaultAndNoEmpty(t *testing.T) {
	reg := validation.NewRegistry()

	res, _ := reg.ValidateOne(validation.Field{Type: "string", Default: "fallback", Required: true}, "")
	if !res.IsValid || res.Value != "fallback" {
		t.Errorf("default substitution = %v (%v), want fallback", res.Value, res.IsValid)
	}

	res, _ = reg.ValidateOne(validation.Field{Type: "string", NoEmpty: true, Required: true}, "")
	if res.IsValid || res.Error.ErrCode != validation.CodeRequired {
		t.Errorf("noEmpty required should fail with 10, got %+v", res)
	}
}

func TestValidateOne_UnknownType(t *testing.T) {
	reg := validation.NewRegistry()
	_, err := reg.ValidateOne(validation.Field{Type: "color"}, "red")
	if !errors.Is(err, validation.ErrUnknownType) {
		t.Errorf("error = %v, want ErrUnknownType", err)
	}
}

func TestRegister(t *testing.T) {
	reg := validation.NewRegistry()

	if err := reg.Register("color", nil); !errors.Is(err, validation.ErrNilValidator) {
		t.Errorf("Register(nil) error = %v, want ErrNilValidator", err)
	}

	err := reg.Register("Color", func(v any, f validation.Field) *validation.Failure {
		if v != "red" {
			return &validation.Failure{Msg: "not red", ErrCode: 99}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	res, err := reg.ValidateOne(validation.Field{Type: "color"}, "blue")
	if err != nil {
		t.Fatalf("ValidateOne error: %v", err)
	}
	if res.IsValid || res.Error.ErrCode != 99 {
		t.Errorf("custom validator result = %+v", res)
	}
}

func TestValidate_AccumulatesFailures(t *testing.T) {
	reg := validation.NewRegistry()
	schema := validation.Schema{
		"title": {Type: "string", Min: 3, Required: true},
		"count": {Type: "number"},
		"tag":   {Type: "string", Default: "none"},
	}

	data := map[string]any{"title": "ab", "count": "x"}
	failed, err := reg.Validate(data, schema)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("len(failed) = %d, want 2: %v", len(failed), failed)
	}
	if failed[0].Property != "count" || failed[1].Property != "title" {
		t.Errorf("properties = %s, %s, want count, title", failed[0].Property, failed[1].Property)
	}
	if data["tag"] != "none" {
		t.Errorf("default not written back: tag = %v", data["tag"])
	}
}

func TestValidate_NestedAndRef(t *testing.T) {
	reg := validation.NewRegistry()
	schema := validation.Schema{
		"address": {Schema: validation.Schema{
			"city": {Type: "string", Required: true},
		}},
		"person": {Ref: "person", Schema: validation.Schema{
			"name": {Type: "string", Required: true},
		}},
	}

	failed, err := reg.Validate(map[string]any{"address": map[string]any{}}, schema)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("len(failed) = %d, want 2: %v", len(failed), failed)
	}
	if failed[0].Property != "address.city" {
		t.Errorf("nested property = %s, want address.city", failed[0].Property)
	}
	if failed[1].Property != "name" {
		t.Errorf("ref property = %s, want name", failed[1].Property)
	}

	failed, _ = reg.Validate(map[string]any{"name": "x", "address": map[string]any{"city": "y"}}, schema)
	if failed != nil {
		t.Errorf("valid data failed: %v", failed)
	}
}

func TestPrepare(t *testing.T) {
	reg := validation.NewRegistry()

	if err := reg.Prepare(validation.Schema{"a": {Type: "string", Match: "^x"}}); err != nil {
		t.Errorf("Prepare(valid) error: %v", err)
	}
	if err := reg.Prepare(validation.Schema{"a": {Type: "blob"}}); !errors.Is(err, validation.ErrUnknownType) {
		t.Errorf("Prepare(unknown) error = %v, want ErrUnknownType", err)
	}
	if err := reg.Prepare(validation.Schema{"a": {}}); !errors.Is(err, validation.ErrInvalidField) {
		t.Errorf("Prepare(empty field) error = %v, want ErrInvalidField", err)
	}
	if err := reg.Prepare(validation.Schema{"a": {Type: "string", Match: "("}}); err == nil {
		t.Error("Prepare(bad pattern) should fail")
	}
}

func TestDefaultRegistryIsShared(t *testing.T) {
	if validation.Default() != validation.Default() {
		t.Error("Default() returned different registries")
	}
}
