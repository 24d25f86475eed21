package repomap_test

import (
	"errors"
	"strings"
	"testing"

	"repomap"
	"repomap/schema"
	"repomap/stores/memory"
)

func floatPtr(f float64) *float64 { return &f }

func newValidationRepo(t *testing.T, structure schema.Structure) *repomap.Repository {
	t.Helper()
	repo, err := repomap.New(memory.New(), repomap.Config{
		Collection: "items",
		Structure:  structure,
	})
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return repo
}

func TestTypeValidatorIsStrict(t *testing.T) {
	repo := newValidationRepo(t, schema.Structure{
		"count": {Type: "int"},
		"ratio": {Type: "float"},
		"ok":    {Type: "bool"},
	})

	cases := []struct {
		name    string
		data    map[string]any
		invalid string
	}{
		{"clean int", map[string]any{"count": "19"}, ""},
		{"dirty int", map[string]any{"count": "19x"}, "count"},
		{"clean float", map[string]any{"ratio": "3.5"}, ""},
		{"dirty float", map[string]any{"ratio": "high"}, "ratio"},
		{"clean bool", map[string]any{"ok": "true"}, ""},
		{"dirty bool", map[string]any{"ok": "yep"}, "ok"},
		{"nil always passes", map[string]any{"count": nil}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := repo.ValidateData(tc.data, nil)
			if tc.invalid == "" {
				if err != nil {
					t.Fatalf("expected pass, got %v", err)
				}
				return
			}
			var verr *repomap.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			fe, ok := verr.Field(tc.invalid)
			if !ok || fe.Validators[0] != "type" {
				t.Errorf("expected type failure on %s: %+v", tc.invalid, verr.Fields)
			}
		})
	}
}

func TestMinMaxValidators(t *testing.T) {
	repo := newValidationRepo(t, schema.Structure{
		"age": {Type: "int", Min: floatPtr(18), Max: floatPtr(120)},
	})

	if err := repo.ValidateData(map[string]any{"age": 30}, nil); err != nil {
		t.Errorf("in-range value rejected: %v", err)
	}
	if err := repo.ValidateData(map[string]any{"age": 17}, nil); err == nil {
		t.Error("below-min value accepted")
	}
	if err := repo.ValidateData(map[string]any{"age": 121}, nil); err == nil {
		t.Error("above-max value accepted")
	}

	// Boundaries are inclusive.
	if err := repo.ValidateData(map[string]any{"age": 18}, nil); err != nil {
		t.Errorf("min boundary rejected: %v", err)
	}
	if err := repo.ValidateData(map[string]any{"age": 120}, nil); err != nil {
		t.Errorf("max boundary rejected: %v", err)
	}
}

func TestLengthValidators(t *testing.T) {
	repo := newValidationRepo(t, schema.Structure{
		"code": {Type: "string", MinLength: 2, MaxLength: 4},
	})

	for value, valid := range map[string]bool{
		"a":     false,
		"ab":    true,
		"abcd":  true,
		"abcde": false,
	} {
		err := repo.ValidateData(map[string]any{"code": value}, nil)
		if valid && err != nil {
			t.Errorf("%q rejected: %v", value, err)
		}
		if !valid && err == nil {
			t.Errorf("%q accepted", value)
		}
	}
}

func TestRequiredValidator(t *testing.T) {
	repo := newValidationRepo(t, schema.Structure{
		"name": {Type: "string", Required: true},
	})

	if err := repo.ValidateData(map[string]any{"name": "ok"}, nil); err != nil {
		t.Errorf("present value rejected: %v", err)
	}
	if err := repo.ValidateData(map[string]any{"name": nil}, nil); err == nil {
		t.Error("nil accepted for a required field")
	}
	if err := repo.ValidateData(map[string]any{"name": ""}, nil); err == nil {
		t.Error("empty string accepted for a required field")
	}
}

func TestValidatePropertyUnknownField(t *testing.T) {
	repo := newValidationRepo(t, schema.Structure{"name": {Type: "string"}})

	failed, err := repo.ValidateProperty("unknown", "anything", nil)
	if err != nil {
		t.Fatalf("validate property: %v", err)
	}
	if failed != nil {
		t.Errorf("fields outside the structure trivially pass, got %v", failed)
	}
}

func TestExplicitValidatorList(t *testing.T) {
	repo := newValidationRepo(t, schema.Structure{
		"code": {Type: "string", Validators: []schema.ValidatorSpec{
			{Name: "minLength", Arg: 3},
		}},
	})

	failed, err := repo.ValidateProperty("code", "ab", nil)
	if err != nil {
		t.Fatalf("validate property: %v", err)
	}
	if len(failed) != 1 || failed[0] != "minLength" {
		t.Errorf("failed = %v", failed)
	}
}

func TestUnknownValidatorNameFails(t *testing.T) {
	repo := newValidationRepo(t, schema.Structure{
		"code": {Type: "string", Validators: []schema.ValidatorSpec{
			{Name: "noSuchRule"},
		}},
	})

	failed, err := repo.ValidateProperty("code", "anything", nil)
	if err != nil {
		t.Fatalf("validate property: %v", err)
	}
	if len(failed) != 1 || failed[0] != "noSuchRule" {
		t.Errorf("a misconfigured validator must fail loudly, got %v", failed)
	}
}

func TestRegisterCustomValidator(t *testing.T) {
	repomap.RegisterValidator("uppercase", func(value, _ any, _ schema.Field, _ *repomap.Entity, _ *repomap.Repository) bool {
		s, ok := value.(string)
		return ok && s == strings.ToUpper(s)
	})

	repo := newValidationRepo(t, schema.Structure{
		"code": {Type: "string", Validators: []schema.ValidatorSpec{
			{Name: "uppercase"},
		}},
	})

	if failed, _ := repo.ValidateProperty("code", "ABC", nil); len(failed) != 0 {
		t.Errorf("uppercase value rejected: %v", failed)
	}
	if failed, _ := repo.ValidateProperty("code", "abc", nil); len(failed) != 1 {
		t.Errorf("lowercase value accepted: %v", failed)
	}
}

func TestIdentityFieldOnlyTypeChecked(t *testing.T) {
	repo := newValidationRepo(t, schema.Structure{
		"id":   {Type: "int", Required: true, MinLength: 5},
		"name": {Type: "string"},
	})

	// Flags on the identity field are ignored; only the type check runs.
	if err := repo.ValidateData(map[string]any{"id": 1, "name": "x"}, nil); err != nil {
		t.Errorf("identity flags should not apply: %v", err)
	}
	if err := repo.ValidateData(map[string]any{"id": "abc", "name": "x"}, nil); err == nil {
		t.Error("identity type check should still apply")
	}
}
