package schemafilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelql/internal/model"
)

func testModels() []*model.Model {
	return []*model.Model{
		{
			Name:  "Author",
			Table: "authors",
			Columns: []model.Column{
				{Name: "id", SQLType: "bigint", PrimaryKey: true, Generated: true},
				{Name: "name", SQLType: "varchar"},
				{Name: "ssn", SQLType: "varchar"},
			},
		},
		{
			Name:  "Book",
			Table: "books",
			Columns: []model.Column{
				{Name: "id", SQLType: "bigint", PrimaryKey: true, Generated: true},
				{Name: "title", SQLType: "varchar"},
				{Name: "author_id", SQLType: "bigint"},
			},
			ForeignKeys: []model.ForeignKey{
				{Field: "author", Column: "author_id", RemoteModel: "Author", RemoteColumn: "id"},
			},
			ManyToMany: []model.ManyToMany{
				{Field: "tags", RemoteModel: "Tag", Through: "book_tags", LocalColumn: "book_id", RemoteColumn: "tag_id"},
			},
		},
		{
			Name:  "Tag",
			Table: "tags",
			Columns: []model.Column{
				{Name: "id", SQLType: "bigint", PrimaryKey: true, Generated: true},
				{Name: "label", SQLType: "varchar"},
			},
		},
	}
}

func TestTableFilterDenyWins(t *testing.T) {
	cfg := Config{
		AllowTables: []string{"*"},
		DenyTables:  []string{"tags"},
	}
	filter := cfg.TableFilter()
	assert.True(t, filter("books"))
	assert.False(t, filter("tags"))
}

func TestTableFilterAllowList(t *testing.T) {
	cfg := Config{AllowTables: []string{"book*"}}
	filter := cfg.TableFilter()
	assert.True(t, filter("books"))
	assert.True(t, filter("book_tags"))
	assert.False(t, filter("authors"))
}

func TestApplyFiltersColumns(t *testing.T) {
	cfg := Config{
		DenyColumns: map[string][]string{"authors": {"ssn"}},
	}
	kept := Apply(testModels(), cfg)
	require.Len(t, kept, 3)

	author := kept[0]
	require.Equal(t, "Author", author.Name)
	assert.False(t, author.HasColumn("ssn"))
	assert.True(t, author.HasColumn("name"))
}

func TestApplyKeepsPrimaryKey(t *testing.T) {
	cfg := Config{
		AllowColumns: map[string][]string{"authors": {"name"}},
	}
	kept := Apply(testModels(), cfg)
	author := kept[0]
	require.Equal(t, "Author", author.Name)
	// pk survives even though the allow list omits it
	assert.True(t, author.HasColumn("id"))
	assert.False(t, author.HasColumn("ssn"))
}

func TestApplyDropsRelationWhenFKColumnFiltered(t *testing.T) {
	cfg := Config{
		DenyColumns: map[string][]string{"books": {"author_id"}},
	}
	kept := Apply(testModels(), cfg)

	var book *model.Model
	for _, m := range kept {
		if m.Name == "Book" {
			book = m
		}
	}
	require.NotNil(t, book)
	assert.Empty(t, book.ForeignKeys)
}

func TestApplyDropsRelationsToRemovedModels(t *testing.T) {
	models := testModels()
	// drop the Tag model entirely by filtering every non-pk column and the pk table
	models = models[:2]
	kept := Apply(models, Config{})

	var book *model.Model
	for _, m := range kept {
		if m.Name == "Book" {
			book = m
		}
	}
	require.NotNil(t, book)
	assert.Empty(t, book.ManyToMany, "many-to-many to a missing model must be dropped")
	assert.Len(t, book.ForeignKeys, 1)
}

func TestMutationTableAllowed(t *testing.T) {
	cfg := Config{DenyMutationTables: []string{"audit_*"}}
	assert.True(t, MutationTableAllowed("books", cfg))
	assert.False(t, MutationTableAllowed("audit_log", cfg))
}
