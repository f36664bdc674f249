// Package model describes application data models: table shape, columns,
// relations, and declared constraints. Model descriptors are built once
// (declared in code or loaded from database introspection), registered, and
// frozen before any request handling starts.
package model

import "fmt"

// Column describes a single table column.
type Column struct {
	Name       string
	SQLType    string // normalized type name, e.g. "int", "varchar", "datetime"
	Nullable   bool
	PrimaryKey bool
	Unique     bool
	Generated  bool // DB-generated (auto increment, generated column); never written
	Comment    string
}

// ForeignKey is a forward relation declared on the owning model. A unique FK
// column makes it one-to-one.
type ForeignKey struct {
	Field        string // accessor name on this model, e.g. "request"
	Column       string // local column holding the key, e.g. "request_id"
	RemoteModel  string
	RemoteColumn string // referenced column, normally the remote primary key
	RelatedName  string // reverse accessor on the remote model; "" derives from table name
	Nullable     bool
	OneToOne     bool
}

// ManyToMany is a forward many-to-many relation through a junction table.
type ManyToMany struct {
	Field         string
	RemoteModel   string
	Through       string // junction table name
	LocalColumn   string // junction column pointing at this model's pk
	RemoteColumn  string // junction column pointing at the remote model's pk
	RelatedName   string // reverse accessor on the remote model
}

// GenericForeignKey is a discriminated pointer to one of several models,
// stored as a (type, id) column pair.
type GenericForeignKey struct {
	Field      string
	TypeColumn string // holds the target model name
	IDColumn   string // holds the target primary key
}

// GenericRelation is the reverse of a GenericForeignKey: the collection of
// rows on RemoteModel whose (TypeColumn, IDColumn) point at this model.
type GenericRelation struct {
	Field       string
	RemoteModel string
	TypeColumn  string // columns on the remote model
	IDColumn    string
}

// Constraint maps a database constraint or index name to a human-readable
// message surfaced when the database rejects a write.
type Constraint struct {
	Name    string
	Message string
}

// Model is the full descriptor for one table-backed data model.
type Model struct {
	Name               string // e.g. "Task"
	Table              string // e.g. "tasks"
	Columns            []Column
	ForeignKeys        []ForeignKey
	ManyToMany         []ManyToMany
	GenericForeignKeys []GenericForeignKey
	GenericRelations   []GenericRelation
	Constraints        []Constraint
	Ordering           []string // default ordering columns, pk when empty
}

// PrimaryKey returns the model's primary key column.
func (m *Model) PrimaryKey() (Column, bool) {
	for _, col := range m.Columns {
		if col.PrimaryKey {
			return col, true
		}
	}
	return Column{}, false
}

// ColumnNamed looks up a column by name.
func (m *Model) ColumnNamed(name string) (Column, bool) {
	for _, col := range m.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the model declares the named column.
func (m *Model) HasColumn(name string) bool {
	_, ok := m.ColumnNamed(name)
	return ok
}

// OrderingColumns returns the declared default ordering, falling back to the
// primary key so result order is always deterministic.
func (m *Model) OrderingColumns() []string {
	if len(m.Ordering) > 0 {
		return m.Ordering
	}
	if pk, ok := m.PrimaryKey(); ok {
		return []string{pk.Name}
	}
	return nil
}

// ConstraintMessage returns the declared message for a constraint name.
func (m *Model) ConstraintMessage(name string) (string, bool) {
	for _, c := range m.Constraints {
		if c.Name == name {
			return c.Message, true
		}
	}
	return "", false
}

// Validate checks structural invariants that later layers rely on.
func (m *Model) Validate() error {
	if m.Name == "" || m.Table == "" {
		return fmt.Errorf("model requires a name and a table")
	}
	if _, ok := m.PrimaryKey(); !ok {
		return fmt.Errorf("model %s has no primary key column", m.Name)
	}
	for _, fk := range m.ForeignKeys {
		if !m.HasColumn(fk.Column) {
			return fmt.Errorf("model %s: foreign key %s references unknown column %s", m.Name, fk.Field, fk.Column)
		}
	}
	for _, gfk := range m.GenericForeignKeys {
		if !m.HasColumn(gfk.TypeColumn) || !m.HasColumn(gfk.IDColumn) {
			return fmt.Errorf("model %s: generic foreign key %s references unknown columns", m.Name, gfk.Field)
		}
	}
	return nil
}
