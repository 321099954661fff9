// Package schemaview holds the immutable, read-only snapshot of a target
// database's table/column/type metadata that schema-aware grammar rules
// (Field, Table) consult during expansion. A View is built once per run
// (or rebuilt after DDL the Execution coordinator applied mid-run) and is
// safe for concurrent readers without locking, since it is never mutated
// after construction.
package schemaview

import (
	"sort"

	"github.com/queryforge/rqg/util"
)

// TypeTag is the normalized type enumeration spec.md §4.5 requires so
// grammar rules don't need to reason about every SQL-dialect spelling of
// "integer".
type TypeTag string

const (
	TypeInteger  TypeTag = "integer"
	TypeNumeric  TypeTag = "numeric"
	TypeBoolean  TypeTag = "boolean"
	TypeString   TypeTag = "string"
	TypeBytes    TypeTag = "bytes"
	TypeTemporal TypeTag = "temporal"
	TypeJSON     TypeTag = "json"
	TypeArray    TypeTag = "array"
	TypeUUID     TypeTag = "uuid"
	TypeNetwork  TypeTag = "network"
	TypeRange    TypeTag = "range"
	TypeOther    TypeTag = "other"
)

// Column describes one column of a Table.
type Column struct {
	Name     string
	TypeTag  TypeTag
	RawType  string
	Nullable bool
	PK       bool
	Default  *string
}

// Index describes a CREATE INDEX statement's essential shape.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Constraint describes a PRIMARY KEY / UNIQUE / CHECK / REFERENCES clause.
type Constraint struct {
	Kind       string // "primary_key", "unique", "check", "foreign_key"
	Columns    []string
	RefTable   string
	RefColumns []string
	Expr       string // raw CHECK expression, only set for Kind == "check"
}

// Table is one table's metadata.
type Table struct {
	Name        string
	Columns     []Column
	Constraints []Constraint
	Indexes     []Index
}

// View is the immutable snapshot. The zero value is an empty, valid view
// (the "degrade to empty SchemaView" behavior spec.md §7 kind 3 requires
// when mid-run DDL application fails).
type View struct {
	tables map[string]Table
	// Fingerprint is a stable hash of the table set, used by the work
	// partitioner's checkpoint verification (spec.md §6.3's
	// schema_fingerprint field).
	Fingerprint string
}

// New builds a View from a set of tables, computing its fingerprint.
func New(tables map[string]Table) *View {
	v := &View{tables: tables}
	v.Fingerprint = fingerprint(tables)
	return v
}

// Empty returns a valid, empty View — the degraded state used when
// schema.mode=none or when mid-run introspection fails.
func Empty() *View {
	return New(map[string]Table{})
}

// Tables returns table names in lexicographic order, satisfying spec.md
// §4.3's determinism-via-sorted-iteration requirement.
func (v *View) Tables() []string {
	names := make([]string, 0, len(v.tables))
	for name := range v.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Table returns the named table and whether it exists.
func (v *View) Table(name string) (Table, bool) {
	t, ok := v.tables[name]
	return t, ok
}

// TablesMatching returns tables, sorted by name, for which predicate
// returns true.
func (v *View) TablesMatching(predicate func(Table) bool) []Table {
	var out []Table
	for _, name := range v.Tables() {
		t := v.tables[name]
		if predicate(t) {
			out = append(out, t)
		}
	}
	return out
}

// NumericColumns returns the sorted names of numeric columns in table.
func (v *View) NumericColumns(table string) []string {
	return v.columnsMatching(table, func(c Column) bool {
		return c.TypeTag == TypeInteger || c.TypeTag == TypeNumeric
	})
}

// StringColumns returns the sorted names of string columns in table.
func (v *View) StringColumns(table string) []string {
	return v.columnsMatching(table, func(c Column) bool {
		return c.TypeTag == TypeString
	})
}

// PKColumns returns the sorted names of primary-key columns in table.
func (v *View) PKColumns(table string) []string {
	return v.columnsMatching(table, func(c Column) bool {
		return c.PK
	})
}

func (v *View) columnsMatching(table string, predicate func(Column) bool) []string {
	t, ok := v.tables[table]
	if !ok {
		return nil
	}
	var names []string
	for _, c := range t.Columns {
		if predicate(c) {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

// fingerprint produces a stable content hash of the table set, sorted to
// be independent of Go's map iteration order (util.CanonicalMapIter, per
// the teacher's own determinism convention).
func fingerprint(tables map[string]Table) string {
	h := newFingerprintHash()
	for name, t := range util.CanonicalMapIter(tables) {
		h.writeString(name)
		for _, c := range t.Columns {
			h.writeString(c.Name)
			h.writeString(string(c.TypeTag))
		}
	}
	return h.sum()
}
