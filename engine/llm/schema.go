package llm

import "google.golang.org/genai"

// Type is a JSON schema type.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
)

// Schema is the subset of JSON schema the extraction prompts use.
type Schema struct {
	Type        Type
	Description string
	Properties  map[string]*Schema
	Required    []string
	Items       *Schema
	Enum        []string
	Nullable    bool
}

// Object builds an object schema whose properties are all required.
func Object(props map[string]*Schema) *Schema {
	req := make([]string, 0, len(props))
	for k := range props {
		req = append(req, k)
	}
	return &Schema{Type: TypeObject, Properties: props, Required: req}
}

// ArrayOf builds an array schema.
func ArrayOf(items *Schema) *Schema { return &Schema{Type: TypeArray, Items: items} }

// String is a plain string schema.
func String() *Schema { return &Schema{Type: TypeString} }

// Enum is a string schema restricted to values.
func Enum(values ...string) *Schema { return &Schema{Type: TypeString, Enum: values} }

// NullableOf marks s as accepting null.
func NullableOf(s *Schema) *Schema {
	c := *s
	c.Nullable = true
	return &c
}

func (s *Schema) genai() *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Items:       s.Items.genai(),
	}
	switch s.Type {
	case TypeObject:
		out.Type = genai.TypeObject
	case TypeArray:
		out.Type = genai.TypeArray
	case TypeNumber:
		out.Type = genai.TypeNumber
	case TypeInteger:
		out.Type = genai.TypeInteger
	case TypeBoolean:
		out.Type = genai.TypeBoolean
	default:
		out.Type = genai.TypeString
	}
	if s.Nullable {
		out.Nullable = ptr(true)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = v.genai()
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }
