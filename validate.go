package repomap

import (
	"sort"
	"sync"

	"github.com/spf13/cast"

	"repomap/schema"
)

// Validator checks one value against one rule. arg is the rule's
// argument (the flag value for sugar validators, the spec argument
// otherwise); entity and repo are present when validation runs in the
// context of a concrete entity and may be nil otherwise; validators
// needing store access (uniqueness) read through repo.
type Validator func(value, arg any, field schema.Field, entity *Entity, repo *Repository) bool

var (
	validatorMu sync.RWMutex
	validators  = map[string]Validator{}
)

// RegisterValidator installs a validator under a name in the
// process-wide registry, replacing any previous registration.
func RegisterValidator(name string, fn Validator) {
	validatorMu.Lock()
	defer validatorMu.Unlock()
	validators[name] = fn
}

func lookupValidator(name string) (Validator, bool) {
	validatorMu.RLock()
	defer validatorMu.RUnlock()
	fn, ok := validators[name]
	return fn, ok
}

func init() {
	RegisterValidator("type", validateType)
	RegisterValidator("required", validateRequired)
	RegisterValidator("minLength", validateMinLength)
	RegisterValidator("maxLength", validateMaxLength)
	RegisterValidator("min", validateMin)
	RegisterValidator("max", validateMax)
	RegisterValidator("allowedValues", validateAllowedValues)
	RegisterValidator("unique", validateUnique)
}

// fieldValidators assembles the ordered validator set for a field: the
// special-cased descriptor flags first (each flag is sugar for running
// the validator of that name with the flag's value as argument), then
// the descriptor's explicit validator list. The identity field is
// exempt from everything but the type check; identity correctness is
// the store's concern.
func fieldValidators(field schema.Field, identity bool) []schema.ValidatorSpec {
	specs := []schema.ValidatorSpec{{Name: "type"}}
	if identity {
		return specs
	}
	if field.Required {
		specs = append(specs, schema.ValidatorSpec{Name: "required"})
	}
	if field.Unique {
		specs = append(specs, schema.ValidatorSpec{Name: "unique"})
	}
	if field.MinLength > 0 {
		specs = append(specs, schema.ValidatorSpec{Name: "minLength", Arg: field.MinLength})
	}
	if field.MaxLength > 0 {
		specs = append(specs, schema.ValidatorSpec{Name: "maxLength", Arg: field.MaxLength})
	}
	if field.Min != nil {
		specs = append(specs, schema.ValidatorSpec{Name: "min", Arg: *field.Min})
	}
	if field.Max != nil {
		specs = append(specs, schema.ValidatorSpec{Name: "max", Arg: *field.Max})
	}
	if len(field.AllowedValues) > 0 {
		specs = append(specs, schema.ValidatorSpec{Name: "allowedValues", Arg: field.AllowedValues})
	}
	specs = append(specs, field.Validators...)
	return specs
}

// ValidateProperty runs the configured validators for one field against
// value and returns the names of the validators that rejected it. A
// field absent from the structure trivially passes.
func (r *Repository) ValidateProperty(name string, value any, e *Entity) ([]string, error) {
	structure, err := r.Structure()
	if err != nil {
		return nil, err
	}
	field, known := structure[name]
	if !known {
		return nil, nil
	}
	return r.runValidators(field, name == r.idField, value, e), nil
}

func (r *Repository) runValidators(field schema.Field, identity bool, value any, e *Entity) []string {
	var failed []string
	for _, spec := range fieldValidators(field, identity) {
		fn, ok := lookupValidator(spec.Name)
		if !ok {
			// An unknown validator name is a configuration mistake;
			// report it as a failure rather than silently passing.
			failed = append(failed, spec.Name)
			continue
		}
		if !fn(value, spec.Arg, field, e, r) {
			failed = append(failed, spec.Name)
		}
	}
	return failed
}

// ValidateData validates a whole candidate payload against the
// structure. Every field is checked independently, validation never
// stops at the first failure, and all failures are raised as one
// aggregate *ValidationError. Required fields missing from the payload
// fail too.
func (r *Repository) ValidateData(data map[string]any, e *Entity) error {
	structure, err := r.Structure()
	if err != nil {
		return err
	}

	var fieldErrs []FieldError
	checked := make(map[string]bool, len(data))

	for _, name := range sortedNames(data) {
		checked[name] = true
		field, known := structure[name]
		if !known {
			continue
		}
		if failed := r.runValidators(field, name == r.idField, data[name], e); len(failed) > 0 {
			fieldErrs = append(fieldErrs, FieldError{Field: name, Value: data[name], Validators: failed})
		}
	}

	// Structure fields absent from the payload still owe their
	// required check.
	names := make([]string, 0, len(structure))
	for name := range structure {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field := structure[name]
		if checked[name] || !field.Required || name == r.idField {
			continue
		}
		fieldErrs = append(fieldErrs, FieldError{Field: name, Value: nil, Validators: []string{"required"}})
	}

	if len(fieldErrs) > 0 {
		return &ValidationError{Fields: fieldErrs}
	}
	return nil
}

// Built-in validators. Coercion is deliberately lenient, so the type
// validator is where strictness lives: it fails when the raw value does
// not convert cleanly to the declared kind.

func validateType(value, _ any, field schema.Field, _ *Entity, _ *Repository) bool {
	if value == nil {
		return true
	}
	var err error
	switch field.Kind {
	case schema.String:
		_, err = cast.ToStringE(value)
	case schema.Int:
		_, err = cast.ToInt64E(value)
	case schema.Float:
		_, err = cast.ToFloat64E(value)
	case schema.Bool:
		_, err = cast.ToBoolE(value)
	}
	return err == nil
}

func validateRequired(value, _ any, _ schema.Field, _ *Entity, _ *Repository) bool {
	if value == nil {
		return false
	}
	if s, ok := value.(string); ok {
		return s != ""
	}
	return true
}

func validateMinLength(value, arg any, _ schema.Field, _ *Entity, _ *Repository) bool {
	if value == nil {
		return true
	}
	return len(cast.ToString(value)) >= cast.ToInt(arg)
}

func validateMaxLength(value, arg any, _ schema.Field, _ *Entity, _ *Repository) bool {
	if value == nil {
		return true
	}
	return len(cast.ToString(value)) <= cast.ToInt(arg)
}

func validateMin(value, arg any, _ schema.Field, _ *Entity, _ *Repository) bool {
	if value == nil {
		return true
	}
	n, err := cast.ToFloat64E(value)
	if err != nil {
		return false
	}
	return n >= cast.ToFloat64(arg)
}

func validateMax(value, arg any, _ schema.Field, _ *Entity, _ *Repository) bool {
	if value == nil {
		return true
	}
	n, err := cast.ToFloat64E(value)
	if err != nil {
		return false
	}
	return n <= cast.ToFloat64(arg)
}

func validateAllowedValues(value, arg any, field schema.Field, _ *Entity, _ *Repository) bool {
	if value == nil {
		return true
	}
	allowed, ok := arg.([]any)
	if !ok {
		allowed = field.AllowedValues
	}
	for _, candidate := range allowed {
		if cast.ToString(candidate) == cast.ToString(value) {
			return true
		}
	}
	return false
}

// validateUnique queries the repository for any other persisted entity
// holding the same value. It passes when no record matches, or when the
// only match is the entity being validated (matched by identity), so an
// entity keeping its own unchanged value stays valid.
func validateUnique(value, _ any, field schema.Field, e *Entity, repo *Repository) bool {
	if value == nil || repo == nil {
		return true
	}
	existing, err := repo.FindOneBy(field.Name, value)
	if err != nil {
		return false
	}
	if existing == nil {
		return true
	}
	if e != nil && e.HasID() {
		return matchingIdentity(existing.ID(), e.ID())
	}
	return false
}

func matchingIdentity(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	return cast.ToString(a) == cast.ToString(b)
}
