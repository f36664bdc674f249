// Package junction classifies many-to-many junction tables. A pure junction
// carries nothing but the two foreign keys and is collapsed into a direct
// many-to-many relation; a table with extra attribute columns stays a model
// of its own.
package junction

import "sort"

// Type classifies how a junction table is represented.
type Type int

const (
	// NotJunction indicates the table is not a junction table.
	NotJunction Type = iota
	// Pure indicates a junction with only FK columns; it is hidden behind a
	// direct many-to-many relation.
	Pure
	// Attribute indicates a junction with additional non-FK columns; it
	// remains a visible model.
	Attribute
)

func (t Type) String() string {
	switch t {
	case Pure:
		return "pure"
	case Attribute:
		return "attribute"
	default:
		return "not_junction"
	}
}

// FK is one single-column foreign key on a candidate junction table.
type FK struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// Table is the shape a candidate table presents to classification.
type Table struct {
	Name        string
	Columns     []string
	NotNull     map[string]bool
	PrimaryKey  []string
	UniqueSets  [][]string // unique index column sets, primary key included
	ForeignKeys []FK
}

// Info is the classification result for one junction table. Left and Right
// are ordered alphabetically by referenced table so results are stable.
type Info struct {
	Table            string
	Type             Type
	Left             FK
	Right            FK
	AttributeColumns []string
}

// Classify analyzes tables and returns classification info for every table
// that qualifies as a junction. A table qualifies when:
//   - it has exactly two single-column foreign keys,
//   - both FK columns are NOT NULL,
//   - both referenced tables exist in the input set,
//   - a primary key or unique index covers exactly the two FK columns.
func Classify(tables []Table) map[string]Info {
	names := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		names[t.Name] = struct{}{}
	}

	result := make(map[string]Info)
	for _, t := range tables {
		if info, ok := classify(t, names); ok {
			result[t.Name] = info
		}
	}
	return result
}

func classify(t Table, known map[string]struct{}) (Info, bool) {
	if len(t.ForeignKeys) != 2 {
		return Info{}, false
	}
	left, right := t.ForeignKeys[0], t.ForeignKeys[1]
	if left.ReferencedTable > right.ReferencedTable {
		left, right = right, left
	}
	for _, fk := range []FK{left, right} {
		if _, ok := known[fk.ReferencedTable]; !ok {
			return Info{}, false
		}
		if !t.NotNull[fk.Column] {
			return Info{}, false
		}
	}
	if left.Column == right.Column {
		return Info{}, false
	}
	if !hasCoveringUnique(t, left.Column, right.Column) {
		return Info{}, false
	}

	info := Info{Table: t.Name, Left: left, Right: right}
	for _, col := range t.Columns {
		if col == left.Column || col == right.Column {
			continue
		}
		info.AttributeColumns = append(info.AttributeColumns, col)
	}
	sort.Strings(info.AttributeColumns)
	if len(info.AttributeColumns) == 0 {
		info.Type = Pure
	} else {
		info.Type = Attribute
	}
	return info, true
}

// hasCoveringUnique reports whether some unique column set is exactly the two
// FK columns. A wider unique index does not make the pairing unique.
func hasCoveringUnique(t Table, a, b string) bool {
	sets := t.UniqueSets
	if len(t.PrimaryKey) > 0 {
		sets = append(sets, t.PrimaryKey)
	}
	for _, set := range sets {
		if len(set) != 2 {
			continue
		}
		if (set[0] == a && set[1] == b) || (set[0] == b && set[1] == a) {
			return true
		}
	}
	return false
}
