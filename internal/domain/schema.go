package domain

import "strings"

// FieldType is the expected primitive type of an enriched attribute.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldBoolean  FieldType = "boolean"
	FieldSequence FieldType = "sequence"
	FieldNumber   FieldType = "number"
	FieldObject   FieldType = "object"
	FieldAny      FieldType = "any"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldBoolean, FieldSequence, FieldNumber, FieldObject, FieldAny:
		return true
	}
	return false
}

// FieldSpec names one required attribute of the structured response.
type FieldSpec struct {
	Name        string    `yaml:"name"`
	Type        FieldType `yaml:"type"`
	Description string    `yaml:"description"`
}

// OutputSchema lists the attributes an inference response must carry.
type OutputSchema struct {
	Fields []FieldSpec `yaml:"fields"`
}

// Names returns the field names in declaration order.
func (s OutputSchema) Names() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Describe renders the schema as a JSON-like template for prompt instructions.
func (s OutputSchema) Describe() string {
	var b strings.Builder
	b.WriteString("{")
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(`"` + f.Name + `": `)
		switch f.Type {
		case FieldString:
			b.WriteString(`"string"`)
		case FieldBoolean:
			b.WriteString("boolean")
		case FieldSequence:
			b.WriteString(`["string"]`)
		case FieldNumber:
			b.WriteString("number")
		case FieldObject:
			b.WriteString("{}")
		default:
			b.WriteString("any")
		}
	}
	b.WriteString("}")
	return b.String()
}

// DefaultSchema mirrors the music-video attributes the catalog has always collected.
func DefaultSchema() OutputSchema {
	return OutputSchema{Fields: []FieldSpec{
		{Name: "singer_name", Type: FieldString, Description: "official artist or unit name, never an abbreviation"},
		{Name: "song_title", Type: FieldString, Description: "song title only, without decorations such as [MV] or Official Video"},
		{Name: "tie_up", Type: FieldString, Description: "anime, film, drama or commercial the song is used in, or \"none\""},
		{Name: "is_official_mv", Type: FieldBoolean, Description: "true only for the full official music video uploaded by the artist, label or work"},
		{Name: "tags", Type: FieldSequence, Description: "up to five tags describing mood or colour"},
	}}
}
