package surveyetl

import (
	"strings"
)

// DemographicsTable is the table name of projected demographics.
const DemographicsTable = "demographics"

// FieldType is the logical type of an output column.
type FieldType string

const (
	Integer   FieldType = "INTEGER"
	String    FieldType = "STRING"
	Boolean   FieldType = "BOOLEAN"
	Timestamp FieldType = "TIMESTAMP"
)

// Column describes one output column.
type Column struct {
	Name     string
	Type     FieldType
	Required bool
}

// Table is a finished derived table ready for a Sink.
type Table struct {
	Name    string
	Columns []Column
	Records [][]string
}

// Len returns the number of data records.
func (t *Table) Len() int {
	return len(t.Records)
}

// Header returns the column names in order.
func (t *Table) Header() []string {
	h := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		h[i] = c.Name
	}
	return h
}

// ColumnsFor returns typed columns for a header read back from a prepared
// file. keyColumn is typed as a required integer; `<X>_IsValid` columns are
// booleans and CreatedAt is a timestamp. In technology tables every column is
// required.
func ColumnsFor(table, keyColumn string, header []string) []Column {
	cols := make([]Column, len(header))
	for i, name := range header {
		c := Column{Name: name, Type: String}
		switch {
		case name == keyColumn:
			c.Type = Integer
			c.Required = true
		case strings.HasSuffix(name, validSuffix):
			c.Type = Boolean
		case name == CreatedAtColumn:
			c.Type = Timestamp
		case table != DemographicsTable:
			c.Required = true
		}
		cols[i] = c
	}
	return cols
}
