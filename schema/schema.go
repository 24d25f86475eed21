// Package schema holds the per-entity-type field structure: descriptor
// types, deep merging of declared and introspected structures, and
// best-effort type coercion of raw values to a field's declared kind.
package schema

// Kind tags the canonical value type of a field.
type Kind int

const (
	// Unknown means the kind was never declared. It is distinct from
	// Other so a merge can tell "unset" apart from "deliberately untyped".
	Unknown Kind = iota
	String
	Int
	Float
	Bool
	Other
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Other:
		return "other"
	}
	return "unknown"
}

// KindOf maps a type name (as found in declaration files or column
// introspection) to a Kind.
func KindOf(name string) Kind {
	switch name {
	case "string", "text", "varchar", "char":
		return String
	case "int", "integer", "bigint", "smallint":
		return Int
	case "float", "double", "real", "numeric", "decimal":
		return Float
	case "bool", "boolean":
		return Bool
	case "":
		return Unknown
	}
	return Other
}

// ValidatorSpec names a validator together with its argument, e.g.
// {Name: "minLength", Arg: 3}.
type ValidatorSpec struct {
	Name string `yaml:"name"`
	Arg  any    `yaml:"arg"`
}

// Field describes one persistable field of an entity type. A Field is
// treated as immutable once the structure holding it has been resolved.
type Field struct {
	Name          string          `yaml:"name"`
	Kind          Kind            `yaml:"-"`
	Type          string          `yaml:"type"`
	Required      bool            `yaml:"required"`
	Default       any             `yaml:"default"`
	Unique        bool            `yaml:"unique"`
	Hidden        bool            `yaml:"hidden"`
	MinLength     int             `yaml:"minLength"`
	MaxLength     int             `yaml:"maxLength"`
	Min           *float64        `yaml:"min"`
	Max           *float64        `yaml:"max"`
	AllowedValues []any           `yaml:"allowedValues"`
	Validators    []ValidatorSpec `yaml:"validators"`
}

// Structure maps field names to their descriptors.
type Structure map[string]Field

// Clone returns a shallow per-field copy of the structure.
func (s Structure) Clone() Structure {
	out := make(Structure, len(s))
	for name, field := range s {
		out[name] = field
	}
	return out
}

// Merge deep-merges overlay into a copy of s and returns the result.
// Fields present only in either side are kept; for fields present in
// both, overlay attributes win wherever the overlay actually sets them,
// descriptor attribute by descriptor attribute.
func (s Structure) Merge(overlay Structure) Structure {
	out := s.Clone()
	for name, over := range overlay {
		base, ok := out[name]
		if !ok {
			if over.Name == "" {
				over.Name = name
			}
			out[name] = over
			continue
		}
		out[name] = mergeField(base, over)
	}
	return out
}

func mergeField(base, over Field) Field {
	merged := base
	if over.Kind != Unknown {
		merged.Kind = over.Kind
	}
	if over.Type != "" {
		merged.Type = over.Type
		if over.Kind == Unknown {
			merged.Kind = KindOf(over.Type)
		}
	}
	if over.Required {
		merged.Required = true
	}
	if over.Default != nil {
		merged.Default = over.Default
	}
	if over.Unique {
		merged.Unique = true
	}
	if over.Hidden {
		merged.Hidden = true
	}
	if over.MinLength != 0 {
		merged.MinLength = over.MinLength
	}
	if over.MaxLength != 0 {
		merged.MaxLength = over.MaxLength
	}
	if over.Min != nil {
		merged.Min = over.Min
	}
	if over.Max != nil {
		merged.Max = over.Max
	}
	if over.AllowedValues != nil {
		merged.AllowedValues = over.AllowedValues
	}
	if over.Validators != nil {
		merged.Validators = over.Validators
	}
	return merged
}

// Normalize fills in each descriptor's Name from its map key and derives
// Kind from Type where only the textual type was declared. Used after
// decoding structures from YAML or introspection.
func (s Structure) Normalize() Structure {
	for name, field := range s {
		if field.Name == "" {
			field.Name = name
		}
		if field.Kind == Unknown && field.Type != "" {
			field.Kind = KindOf(field.Type)
		}
		s[name] = field
	}
	return s
}

// Defaults returns the declared default values, coerced to each field's kind.
func (s Structure) Defaults() map[string]any {
	out := make(map[string]any)
	for name, field := range s {
		if field.Default != nil {
			out[name] = Coerce(field, field.Default)
		}
	}
	return out
}
