// Package models holds the data types shared across crmsync: credentials,
// dataset descriptors, normalized records and bulk job state.
package models

import "sort"

// Record is a normalized CRM row keyed by storage-safe field name.
//
// Values are one of string, int64, float64, bool, time.Time, nil, or the
// raw value when no coercion applies.
type Record map[string]interface{}

// Fields returns the record's field names in sorted order.
func (r Record) Fields() []string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// GenericType is the storage-agnostic type of a column.
type GenericType string

const (
	TypeText     GenericType = "TEXT"
	TypeNumber   GenericType = "NUMBER"
	TypeBoolean  GenericType = "BOOLEAN"
	TypeDate     GenericType = "DATE"
	TypeDateTime GenericType = "DATETIME"
	TypeUnknown  GenericType = "UNKNOWN"
)

var typeTable = map[string]GenericType{
	"text":     TypeText,
	"string":   TypeText,
	"textarea": TypeText,
	"url":      TypeText,
	"phone":    TypeText,
	"picklist": TypeText,
	"int":      TypeNumber,
	"double":   TypeNumber,
	"percent":  TypeNumber,
	"currency": TypeNumber,
	"boolean":  TypeBoolean,
	"date":     TypeDate,
	"datetime": TypeDateTime,
}

// Classify maps a CRM field or report data type to its GenericType.
// Lookup is exact; anything not in the table is TypeUnknown.
func Classify(dataType string) GenericType {
	if t, ok := typeTable[dataType]; ok {
		return t
	}
	return TypeUnknown
}

// Column describes one field of a dataset.
type Column struct {
	// FieldName is the normalized field name ("." replaced by "!")
	FieldName string `json:"field_name" yaml:"field_name"`
	// Alias is the human-readable label
	Alias string `json:"alias" yaml:"alias"`
	// Type is the generic type derived from the CRM data type
	Type GenericType `json:"type" yaml:"type"`
}
