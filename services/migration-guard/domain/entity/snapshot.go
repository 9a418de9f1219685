package entity

import (
	"sort"
	"strings"
	"time"

	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

// ColumnSchema describes one table column
type ColumnSchema struct {
	Name     string `json:"name" msgpack:"name"`
	DataType string `json:"data_type" msgpack:"data_type"`
	Nullable bool   `json:"nullable" msgpack:"nullable"`
	Default  string `json:"default,omitempty" msgpack:"default,omitempty"`
}

// ConstraintSchema describes a table constraint
type ConstraintSchema struct {
	Name       string `json:"name" msgpack:"name"`
	Type       string `json:"type" msgpack:"type"`
	Definition string `json:"definition,omitempty" msgpack:"definition,omitempty"`
}

// IndexSchema describes a table index
type IndexSchema struct {
	Name       string `json:"name" msgpack:"name"`
	Definition string `json:"definition,omitempty" msgpack:"definition,omitempty"`
}

// TableSchema is the captured structure of one table
type TableSchema struct {
	Name        string             `json:"name" msgpack:"name"`
	Columns     []ColumnSchema     `json:"columns" msgpack:"columns"`
	Constraints []ConstraintSchema `json:"constraints,omitempty" msgpack:"constraints,omitempty"`
	Indexes     []IndexSchema      `json:"indexes,omitempty" msgpack:"indexes,omitempty"`
	RowSecurity bool               `json:"row_security" msgpack:"row_security"`
}

// ViewSchema is a captured view definition
type ViewSchema struct {
	Name       string `json:"name" msgpack:"name"`
	Definition string `json:"definition,omitempty" msgpack:"definition,omitempty"`
}

// RoutineSchema is a captured function or procedure signature
type RoutineSchema struct {
	Name      string `json:"name" msgpack:"name"`
	Kind      string `json:"kind" msgpack:"kind"`
	Signature string `json:"signature,omitempty" msgpack:"signature,omitempty"`
}

// SchemaSnapshot is structured schema metadata captured at a point in time
type SchemaSnapshot struct {
	CapturedAt time.Time       `json:"captured_at" msgpack:"captured_at"`
	Tables     []TableSchema   `json:"tables" msgpack:"tables"`
	Views      []ViewSchema    `json:"views,omitempty" msgpack:"views,omitempty"`
	Routines   []RoutineSchema `json:"routines,omitempty" msgpack:"routines,omitempty"`
}

// Table returns the named table, if captured
func (s *SchemaSnapshot) Table(name string) (TableSchema, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}

// TableNames returns the sorted table names
func (s *SchemaSnapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// Canonical returns the deterministic line-oriented serialisation the checksum
// is computed over: sorted table, column, constraint and index entries.
func (s *SchemaSnapshot) Canonical() string {
	lines := make([]string, 0, len(s.Tables)*4)
	for _, t := range s.Tables {
		lines = append(lines, "table:"+t.Name)
		for _, c := range t.Columns {
			lines = append(lines, "column:"+t.Name+"."+c.Name+":"+c.DataType)
		}
		for _, c := range t.Constraints {
			lines = append(lines, "constraint:"+t.Name+"."+c.Name+":"+c.Type)
		}
		for _, i := range t.Indexes {
			lines = append(lines, "index:"+t.Name+"."+i.Name)
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// Checksum returns the hex encoded SHA-256 of Canonical
func (s *SchemaSnapshot) Checksum() string {
	return common.HashSHA256Bytes([]byte(s.Canonical()))
}

// TableEstimate is a coarse size estimate for one table
type TableEstimate struct {
	Name        string `json:"name" msgpack:"name"`
	RowEstimate int64  `json:"row_estimate" msgpack:"row_estimate"`
	SizeBytes   int64  `json:"size_bytes" msgpack:"size_bytes"`
}

// DataSnapshot references table data captured alongside a schema snapshot
type DataSnapshot struct {
	Tables   []TableEstimate `json:"tables" msgpack:"tables"`
	StoreKey string          `json:"store_key,omitempty" msgpack:"store_key,omitempty"`
}

// TotalBytes sums the estimated table sizes
func (d *DataSnapshot) TotalBytes() int64 {
	if d == nil {
		return 0
	}
	var total int64
	for _, t := range d.Tables {
		total += t.SizeBytes
	}
	return total
}
