package introspection

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectTableQueries(mock sqlmock.Sqlmock, table string, columns, pk *sqlmock.Rows, fks, uniques *sqlmock.Rows) {
	mock.ExpectQuery("SELECT COLUMN_NAME, DATA_TYPE.*FROM INFORMATION_SCHEMA.COLUMNS.*").
		WithArgs("library", table).
		WillReturnRows(columns)
	mock.ExpectQuery(regexp.QuoteMeta("CONSTRAINT_NAME = 'PRIMARY'")).
		WithArgs("library", table).
		WillReturnRows(pk)
	mock.ExpectQuery("REFERENCED_TABLE_NAME IS NOT NULL").
		WithArgs("library", table).
		WillReturnRows(fks)
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.STATISTICS").
		WithArgs("library", table).
		WillReturnRows(uniques)
}

func columnRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "COLUMN_COMMENT", "IS_NULLABLE", "EXTRA"})
}

func TestLoadModels(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("library").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_COMMENT"}).
			AddRow("authors", "").
			AddRow("book_tags", "").
			AddRow("books", "").
			AddRow("tags", ""))

	expectTableQueries(mock, "authors",
		columnRows().
			AddRow("id", "bigint", "bigint", "", "NO", "auto_increment").
			AddRow("name", "varchar", "varchar(255)", "", "NO", ""),
		sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"),
		sqlmock.NewRows([]string{"COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION"}),
		sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME"}))

	expectTableQueries(mock, "book_tags",
		columnRows().
			AddRow("book_id", "bigint", "bigint", "", "NO", "").
			AddRow("tag_id", "bigint", "bigint", "", "NO", ""),
		sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("book_id").AddRow("tag_id"),
		sqlmock.NewRows([]string{"COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION"}).
			AddRow("book_id", "books", "id", "bt_ibfk_1", 1).
			AddRow("tag_id", "tags", "id", "bt_ibfk_2", 1),
		sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME"}))

	expectTableQueries(mock, "books",
		columnRows().
			AddRow("id", "bigint", "bigint", "", "NO", "auto_increment").
			AddRow("title", "varchar", "varchar(255)", "", "NO", "").
			AddRow("author_id", "bigint", "bigint", "", "YES", ""),
		sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"),
		sqlmock.NewRows([]string{"COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION"}).
			AddRow("author_id", "authors", "id", "books_ibfk_1", 1),
		sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME"}).
			AddRow("uniq_books_title", "title"))

	expectTableQueries(mock, "tags",
		columnRows().
			AddRow("id", "bigint", "bigint", "", "NO", "auto_increment").
			AddRow("label", "varchar", "varchar(64)", "", "NO", ""),
		sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"),
		sqlmock.NewRows([]string{"COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION"}),
		sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME"}))

	models, err := LoadModels(context.Background(), db, Options{Database: "library"})
	require.NoError(t, err)

	byName := make(map[string]bool)
	for _, m := range models {
		byName[m.Name] = true
	}
	assert.True(t, byName["Author"])
	assert.True(t, byName["Book"])
	assert.True(t, byName["Tag"])
	// Pure junction is folded away, not registered.
	assert.False(t, byName["BookTag"])
	require.Len(t, models, 3)

	for _, m := range models {
		switch m.Name {
		case "Book":
			require.Len(t, m.ForeignKeys, 1)
			assert.Equal(t, "author", m.ForeignKeys[0].Field)
			assert.Equal(t, "Author", m.ForeignKeys[0].RemoteModel)
			assert.True(t, m.ForeignKeys[0].Nullable)

			require.Len(t, m.ManyToMany, 1)
			assert.Equal(t, "tags", m.ManyToMany[0].Field)
			assert.Equal(t, "book_tags", m.ManyToMany[0].Through)
			assert.Equal(t, "book_id", m.ManyToMany[0].LocalColumn)
			assert.Equal(t, "tag_id", m.ManyToMany[0].RemoteColumn)

			require.Len(t, m.Constraints, 1)
			assert.Equal(t, "uniq_books_title", m.Constraints[0].Name)

			id, ok := m.PrimaryKey()
			require.True(t, ok)
			assert.True(t, id.Generated)
		case "Tag":
			require.Len(t, m.ManyToMany, 1)
			assert.Equal(t, "books", m.ManyToMany[0].Field)
			assert.Equal(t, "tag_id", m.ManyToMany[0].LocalColumn)
		}
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadModelsInclude(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("library").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_COMMENT"}).
			AddRow("authors", "").
			AddRow("migrations", ""))

	expectTableQueries(mock, "authors",
		columnRows().AddRow("id", "bigint", "bigint", "", "NO", "auto_increment"),
		sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"),
		sqlmock.NewRows([]string{"COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION"}),
		sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME"}))

	models, err := LoadModels(context.Background(), db, Options{
		Database: "library",
		Include:  func(table string) bool { return table != "migrations" },
	})
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "Author", models[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}
