package junction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseTables() []Table {
	return []Table{
		{Name: "books", Columns: []string{"id", "title"}, PrimaryKey: []string{"id"}},
		{Name: "tags", Columns: []string{"id", "label"}, PrimaryKey: []string{"id"}},
	}
}

func TestClassifyPureJunction(t *testing.T) {
	tables := append(baseTables(), Table{
		Name:       "book_tags",
		Columns:    []string{"book_id", "tag_id"},
		NotNull:    map[string]bool{"book_id": true, "tag_id": true},
		PrimaryKey: []string{"book_id", "tag_id"},
		ForeignKeys: []FK{
			{Column: "tag_id", ReferencedTable: "tags", ReferencedColumn: "id"},
			{Column: "book_id", ReferencedTable: "books", ReferencedColumn: "id"},
		},
	})

	result := Classify(tables)
	info, ok := result["book_tags"]
	require.True(t, ok)
	assert.Equal(t, Pure, info.Type)
	// Sides are ordered by referenced table name.
	assert.Equal(t, "books", info.Left.ReferencedTable)
	assert.Equal(t, "tags", info.Right.ReferencedTable)
	assert.Empty(t, info.AttributeColumns)
}

func TestClassifyAttributeJunction(t *testing.T) {
	tables := append(baseTables(), Table{
		Name:       "book_tags",
		Columns:    []string{"book_id", "tag_id", "added_at"},
		NotNull:    map[string]bool{"book_id": true, "tag_id": true},
		PrimaryKey: []string{"book_id", "tag_id"},
		ForeignKeys: []FK{
			{Column: "book_id", ReferencedTable: "books", ReferencedColumn: "id"},
			{Column: "tag_id", ReferencedTable: "tags", ReferencedColumn: "id"},
		},
	})

	result := Classify(tables)
	info, ok := result["book_tags"]
	require.True(t, ok)
	assert.Equal(t, Attribute, info.Type)
	assert.Equal(t, []string{"added_at"}, info.AttributeColumns)
}

func TestClassifyRejectsNullableFK(t *testing.T) {
	tables := append(baseTables(), Table{
		Name:       "book_tags",
		Columns:    []string{"book_id", "tag_id"},
		NotNull:    map[string]bool{"book_id": true},
		PrimaryKey: []string{"book_id", "tag_id"},
		ForeignKeys: []FK{
			{Column: "book_id", ReferencedTable: "books", ReferencedColumn: "id"},
			{Column: "tag_id", ReferencedTable: "tags", ReferencedColumn: "id"},
		},
	})
	assert.Empty(t, Classify(tables))
}

func TestClassifyRequiresCoveringUnique(t *testing.T) {
	tables := append(baseTables(), Table{
		Name:       "book_tags",
		Columns:    []string{"id", "book_id", "tag_id"},
		NotNull:    map[string]bool{"book_id": true, "tag_id": true},
		PrimaryKey: []string{"id"},
		ForeignKeys: []FK{
			{Column: "book_id", ReferencedTable: "books", ReferencedColumn: "id"},
			{Column: "tag_id", ReferencedTable: "tags", ReferencedColumn: "id"},
		},
	})
	assert.Empty(t, Classify(tables))

	tables[2].UniqueSets = [][]string{{"book_id", "tag_id"}}
	result := Classify(tables)
	require.Contains(t, result, "book_tags")
	// Surrogate pk makes the extra column an attribute.
	assert.Equal(t, Attribute, result["book_tags"].Type)
}

func TestClassifyRejectsUnknownTarget(t *testing.T) {
	tables := append(baseTables(), Table{
		Name:       "book_shelves",
		Columns:    []string{"book_id", "shelf_id"},
		NotNull:    map[string]bool{"book_id": true, "shelf_id": true},
		PrimaryKey: []string{"book_id", "shelf_id"},
		ForeignKeys: []FK{
			{Column: "book_id", ReferencedTable: "books", ReferencedColumn: "id"},
			{Column: "shelf_id", ReferencedTable: "shelves", ReferencedColumn: "id"},
		},
	})
	assert.Empty(t, Classify(tables))
}
