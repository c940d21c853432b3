package model

// FieldType is the data type of an extractable field.
type FieldType string

const (
	FieldTypeText       FieldType = "text"
	FieldTypeNumber     FieldType = "number"
	FieldTypeDate       FieldType = "date"
	FieldTypeCurrency   FieldType = "currency"
	FieldTypeBoolean    FieldType = "boolean"
	FieldTypePercentage FieldType = "percentage"
	FieldTypeArea       FieldType = "area"
	FieldTypeAddress    FieldType = "address"
	FieldTypeList       FieldType = "list"
)

// FieldDefinition describes one extractable field in the lease schema.
type FieldDefinition struct {
	Path        string    `json:"path" yaml:"path"`
	Label       string    `json:"label" yaml:"label"`
	Category    string    `json:"category" yaml:"category"`
	Type        FieldType `json:"type" yaml:"type"`
	Description string    `json:"description" yaml:"description"`
	Required    bool      `json:"required" yaml:"required"`
}

// FieldSchema is the wire form of the field catalog.
type FieldSchema struct {
	Fields     []FieldDefinition `json:"fields"`
	Categories []string          `json:"categories,omitempty"`
}
