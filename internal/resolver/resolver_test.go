package resolver

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelql/internal/cursor"
	"modelql/internal/dbexec"
	"modelql/internal/gqlerr"
	"modelql/internal/model"
	"modelql/internal/naming"
	"modelql/internal/nodeid"
	"modelql/internal/planner"
	"modelql/internal/schema"
)

func newTestResolver(t *testing.T) (*Resolver, graphql.Schema, sqlmock.Sqlmock) {
	t.Helper()

	reg := model.NewRegistry()
	require.NoError(t, reg.Register(&model.Model{
		Name:  "Author",
		Table: "authors",
		Columns: []model.Column{
			{Name: "id", SQLType: "bigint", PrimaryKey: true, Generated: true},
			{Name: "name", SQLType: "varchar(255)"},
		},
	}))
	require.NoError(t, reg.Register(&model.Model{
		Name:  "Book",
		Table: "books",
		Columns: []model.Column{
			{Name: "id", SQLType: "bigint", PrimaryKey: true, Generated: true},
			{Name: "title", SQLType: "varchar(255)"},
			{Name: "author_id", SQLType: "bigint", Nullable: true},
		},
		ForeignKeys: []model.ForeignKey{
			{Field: "author", Column: "author_id", RemoteModel: "Author", RemoteColumn: "id", RelatedName: "books", Nullable: true},
		},
		Constraints: []model.Constraint{
			{Name: "uniq_books_title", Message: "a book with this title already exists"},
		},
		Ordering: []string{"title"},
	}))
	require.NoError(t, reg.Freeze())

	nodes, err := schema.Derive(reg, naming.Default())
	require.NoError(t, err)
	builder := schema.NewBuilder(reg)
	for _, nt := range nodes {
		builder.AddNode(nt)
	}
	s, err := builder.Build()
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := NewResolver(dbexec.NewStandardExecutor(db), s, nil, planner.Limits{}, 0, nil)
	gqlSchema, err := r.BuildGraphQLSchema()
	require.NoError(t, err)
	return r, gqlSchema, mock
}

func doQuery(t *testing.T, gqlSchema graphql.Schema, query string) map[string]interface{} {
	t.Helper()
	result := graphql.Do(graphql.Params{Schema: gqlSchema, RequestString: query, Context: context.Background()})
	require.Empty(t, result.Errors, "unexpected errors: %v", result.Errors)
	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	return data
}

func TestSchemaShape(t *testing.T) {
	_, gqlSchema, _ := newTestResolver(t)

	queries := gqlSchema.QueryType().Fields()
	assert.Contains(t, queries, "book")
	assert.Contains(t, queries, "books")
	assert.Contains(t, queries, "author")
	assert.Contains(t, queries, "authors")

	mutations := gqlSchema.MutationType().Fields()
	assert.Contains(t, mutations, "createBook")
	assert.Contains(t, mutations, "updateBook")
	assert.Contains(t, mutations, "deleteBook")
	assert.Contains(t, mutations, "createBookMany")
	assert.Contains(t, mutations, "updateBookMany")

	bookType, ok := gqlSchema.Type("Book").(*graphql.Object)
	require.True(t, ok)
	fields := bookType.Fields()
	assert.Contains(t, fields, "id")
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "author")

	authorType, ok := gqlSchema.Type("Author").(*graphql.Object)
	require.True(t, ok)
	booksField := authorType.Fields()["books"]
	require.NotNil(t, booksField)
	nonNull, ok := booksField.Type.(*graphql.NonNull)
	require.True(t, ok)
	conn, ok := nonNull.OfType.(*graphql.Object)
	require.True(t, ok)
	assert.Equal(t, "BookConnection", conn.Name())
}

func TestQuerySingleBook(t *testing.T) {
	_, gqlSchema, mock := newTestResolver(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `title` FROM `books` WHERE `id` = ?")).
		WithArgs("1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(1, "Dune"))

	data := doQuery(t, gqlSchema, `{ book(id: "`+nodeid.Encode("Book", 1)+`") { id title } }`)

	book, ok := data["book"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Dune", book["title"])
	assert.Equal(t, nodeid.Encode("Book", 1), book["id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuerySingleBookMissing(t *testing.T) {
	_, gqlSchema, mock := newTestResolver(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `title` FROM `books` WHERE `id` = ?")).
		WithArgs("99").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}))

	data := doQuery(t, gqlSchema, `{ book(id: "`+nodeid.Encode("Book", 99)+`") { title } }`)
	assert.Nil(t, data["book"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryBookWithJoinedAuthor(t *testing.T) {
	_, gqlSchema, mock := newTestResolver(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT `books`.`id`, `books`.`title`, `books`.`author_id`, "+
			"`author`.`id` AS `author__id`, `author`.`name` AS `author__name` "+
			"FROM `books` "+
			"LEFT JOIN `authors` AS `author` ON `author`.`id` = `books`.`author_id` "+
			"WHERE `books`.`id` = ?")).
		WithArgs("2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id", "author__id", "author__name"}).
			AddRow(2, "The Dispossessed", 7, 7, "Ursula"))

	data := doQuery(t, gqlSchema, `{ book(id: "`+nodeid.Encode("Book", 2)+`") { title author { name } } }`)

	book := data["book"].(map[string]interface{})
	author, ok := book["author"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Ursula", author["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryBookWithNullJoinedAuthor(t *testing.T) {
	_, gqlSchema, mock := newTestResolver(t)

	mock.ExpectQuery("SELECT .* FROM `books` LEFT JOIN `authors`.*").
		WithArgs("3").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id", "author__id", "author__name"}).
			AddRow(3, "Anonymous", nil, nil, nil))

	data := doQuery(t, gqlSchema, `{ book(id: "`+nodeid.Encode("Book", 3)+`") { title author { name } } }`)

	book := data["book"].(map[string]interface{})
	assert.Nil(t, book["author"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryBooksConnection(t *testing.T) {
	_, gqlSchema, mock := newTestResolver(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM (SELECT `id`, `title` FROM `books`) AS __count")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `title` FROM `books` LIMIT 2")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).
			AddRow(1, "Dune").
			AddRow(2, "The Dispossessed"))

	data := doQuery(t, gqlSchema, `{
		books(first: 2) {
			totalCount
			pageInfo { hasNextPage hasPreviousPage }
			edges { cursor node { title } }
		}
	}`)

	books := data["books"].(map[string]interface{})
	assert.Equal(t, 3, books["totalCount"])

	pageInfo := books["pageInfo"].(map[string]interface{})
	assert.Equal(t, true, pageInfo["hasNextPage"])
	assert.Equal(t, false, pageInfo["hasPreviousPage"])

	edges := books["edges"].([]interface{})
	require.Len(t, edges, 2)
	first := edges[0].(map[string]interface{})
	assert.Equal(t, cursor.OffsetToCursor(0), first["cursor"])
	assert.Equal(t, "Dune", first["node"].(map[string]interface{})["title"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNestedConnectionPrefetch(t *testing.T) {
	_, gqlSchema, mock := newTestResolver(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `name` FROM `authors` WHERE `id` = ?")).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(7, "Ursula"))

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT `id`, `title`, __parent_key, __total FROM ("+
			"SELECT `id`, `title`, `author_id` AS __parent_key, "+
			"ROW_NUMBER() OVER (PARTITION BY `author_id` ORDER BY `title` ASC) AS __rn, "+
			"COUNT(*) OVER (PARTITION BY `author_id`) AS __total "+
			"FROM `books` WHERE `author_id` IN (?)"+
			") AS __window WHERE __rn > LEAST(?, __total) AND __rn <= LEAST(__total, LEAST(?, __total) + ?) "+
			"ORDER BY __parent_key, __rn")).
		WithArgs(7, 0, 0, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "__parent_key", "__total"}).
			AddRow(2, "The Dispossessed", 7, 3))

	data := doQuery(t, gqlSchema, `{
		author(id: "`+nodeid.Encode("Author", 7)+`") {
			name
			books(first: 1) {
				totalCount
				pageInfo { hasNextPage }
				nodes { title }
			}
		}
	}`)

	author := data["author"].(map[string]interface{})
	assert.Equal(t, "Ursula", author["name"])

	books := author["books"].(map[string]interface{})
	assert.Equal(t, 3, books["totalCount"])
	assert.Equal(t, true, books["pageInfo"].(map[string]interface{})["hasNextPage"])
	nodes := books["nodes"].([]interface{})
	require.Len(t, nodes, 1)
	assert.Equal(t, "The Dispossessed", nodes[0].(map[string]interface{})["title"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookMutation(t *testing.T) {
	_, gqlSchema, mock := newTestResolver(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `authors` WHERE `id` = ? LIMIT 1")).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `books` (`author_id`,`title`) VALUES (?,?)")).
		WithArgs("7", "Dune").
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `title` FROM `books` WHERE `id` = ?")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(10, "Dune"))
	mock.ExpectCommit()

	data := doQuery(t, gqlSchema, `mutation {
		createBook(input: {title: "Dune", author: {id: "7"}}) { id title }
	}`)

	book := data["createBook"].(map[string]interface{})
	assert.Equal(t, "Dune", book["title"])
	assert.Equal(t, nodeid.Encode("Book", 10), book["id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookUniqueViolationRollsBack(t *testing.T) {
	_, gqlSchema, mock := newTestResolver(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `books` (`title`) VALUES (?)")).
		WithArgs("Dune").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'Dune' for key 'uniq_books_title'"})
	mock.ExpectRollback()

	result := graphql.Do(graphql.Params{
		Schema:        gqlSchema,
		RequestString: `mutation { createBook(input: {title: "Dune"}) { title } }`,
		Context:       context.Background(),
	})
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0].Message, "a book with this title already exists")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBookMutation(t *testing.T) {
	_, gqlSchema, mock := newTestResolver(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `books` WHERE `id` = ? LIMIT 1")).
		WithArgs("5").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `books` SET `title` = ? WHERE `id` = ?")).
		WithArgs("Dune Messiah", "5").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `title` FROM `books` WHERE `id` = ?")).
		WithArgs("5").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(5, "Dune Messiah"))
	mock.ExpectCommit()

	data := doQuery(t, gqlSchema, `mutation {
		updateBook(id: "`+nodeid.Encode("Book", 5)+`", input: {title: "Dune Messiah"}) { title }
	}`)
	assert.Equal(t, "Dune Messiah", data["updateBook"].(map[string]interface{})["title"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBookMutation(t *testing.T) {
	_, gqlSchema, mock := newTestResolver(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `books` WHERE `id` = ?")).
		WithArgs("5").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	data := doQuery(t, gqlSchema, `mutation {
		deleteBook(id: "`+nodeid.Encode("Book", 5)+`") { success deletedId }
	}`)

	payload := data["deleteBook"].(map[string]interface{})
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, nodeid.Encode("Book", "5"), payload["deletedId"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslateInput(t *testing.T) {
	r, _, _ := newTestResolver(t)
	nt, err := r.schema.NodeByName("Book")
	require.NoError(t, err)

	out, err := r.translateInput(nt, map[string]any{
		"title":  "Dune",
		"author": map[string]any{"id": "7"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Dune", out["title"])
	// A bare reference collapses to the target's primary key.
	assert.Equal(t, "7", out["author"])

	out, err = r.translateInput(nt, map[string]any{
		"author": map[string]any{"name": "Ursula"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ursula"}, out["author"])

	_, err = r.translateInput(nt, map[string]any{"publisher": "x"})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindInvalidInput))
}
