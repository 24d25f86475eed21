package schema

import "github.com/spf13/cast"

// Coerce converts raw to the canonical representation of the field's
// kind. It is pure and total: conversion never fails, it only narrows
// the value representation best-effort (cast semantics, so "19x" as an
// int becomes 0). Whether a value is acceptable is the validation
// pipeline's concern, not coercion's.
func Coerce(field Field, raw any) any {
	if raw == nil {
		return nil
	}
	switch field.Kind {
	case String:
		return cast.ToString(raw)
	case Int:
		return cast.ToInt64(raw)
	case Float:
		return cast.ToFloat64(raw)
	case Bool:
		return cast.ToBool(raw)
	}
	return raw
}

// CoerceValue coerces raw for the named field. Values for fields absent
// from the structure pass through unchanged.
func (s Structure) CoerceValue(name string, raw any) any {
	field, ok := s[name]
	if !ok {
		return raw
	}
	return Coerce(field, raw)
}

// CoerceSet coerces every element of a set value for the named field,
// used for in-set criteria values.
func (s Structure) CoerceSet(name string, raw []any) []any {
	field, ok := s[name]
	if !ok {
		return raw
	}
	out := make([]any, len(raw))
	for i, v := range raw {
		out[i] = Coerce(field, v)
	}
	return out
}
