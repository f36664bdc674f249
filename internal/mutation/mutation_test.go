package mutation

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelql/internal/dbexec"
	"modelql/internal/gqlerr"
	"modelql/internal/model"
)

func newTestSaver(t *testing.T) *Saver {
	t.Helper()

	reg := model.NewRegistry()
	require.NoError(t, reg.Register(&model.Model{
		Name:  "Author",
		Table: "authors",
		Columns: []model.Column{
			{Name: "id", SQLType: "bigint", PrimaryKey: true},
			{Name: "name", SQLType: "varchar(255)"},
		},
		GenericRelations: []model.GenericRelation{
			{Field: "notes", RemoteModel: "Note", TypeColumn: "target_type", IDColumn: "target_id"},
		},
	}))
	require.NoError(t, reg.Register(&model.Model{
		Name:  "Bio",
		Table: "bios",
		Columns: []model.Column{
			{Name: "id", SQLType: "bigint", PrimaryKey: true},
			{Name: "body", SQLType: "text"},
			{Name: "author_id", SQLType: "bigint", Nullable: true},
		},
		ForeignKeys: []model.ForeignKey{
			{Field: "author", Column: "author_id", RemoteModel: "Author", RemoteColumn: "id", RelatedName: "bio", Nullable: true, OneToOne: true},
		},
	}))
	require.NoError(t, reg.Register(&model.Model{
		Name:  "Contract",
		Table: "contracts",
		Columns: []model.Column{
			{Name: "id", SQLType: "bigint", PrimaryKey: true},
			{Name: "terms", SQLType: "text"},
			{Name: "author_id", SQLType: "bigint"},
		},
		ForeignKeys: []model.ForeignKey{
			{Field: "author", Column: "author_id", RemoteModel: "Author", RemoteColumn: "id", RelatedName: "contract", OneToOne: true},
		},
	}))
	require.NoError(t, reg.Register(&model.Model{
		Name:  "Note",
		Table: "notes",
		Columns: []model.Column{
			{Name: "id", SQLType: "bigint", PrimaryKey: true},
			{Name: "body", SQLType: "text"},
			{Name: "target_type", SQLType: "varchar(64)", Nullable: true},
			{Name: "target_id", SQLType: "bigint", Nullable: true},
		},
		GenericForeignKeys: []model.GenericForeignKey{
			{Field: "target", TypeColumn: "target_type", IDColumn: "target_id"},
		},
	}))
	require.NoError(t, reg.Register(&model.Model{
		Name:  "Book",
		Table: "books",
		Columns: []model.Column{
			{Name: "id", SQLType: "bigint", PrimaryKey: true},
			{Name: "title", SQLType: "varchar(255)"},
			{Name: "author_id", SQLType: "bigint", Nullable: true},
		},
		ForeignKeys: []model.ForeignKey{
			{Field: "author", Column: "author_id", RemoteModel: "Author", RemoteColumn: "id", RelatedName: "books", Nullable: true},
		},
		ManyToMany: []model.ManyToMany{
			{Field: "tags", RemoteModel: "Tag", Through: "book_tags", LocalColumn: "book_id", RemoteColumn: "tag_id", RelatedName: "books"},
		},
		Constraints: []model.Constraint{
			{Name: "uniq_books_title", Message: "a book with this title already exists"},
		},
	}))
	require.NoError(t, reg.Register(&model.Model{
		Name:  "Tag",
		Table: "tags",
		Columns: []model.Column{
			{Name: "id", SQLType: "bigint", PrimaryKey: true},
			{Name: "label", SQLType: "varchar(64)"},
		},
	}))
	require.NoError(t, reg.Freeze())
	return NewSaver(reg)
}

func mockExecutor(t *testing.T) (dbexec.QueryExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return dbexec.NewStandardExecutor(db), mock
}

func getModel(t *testing.T, s *Saver, name string) *model.Model {
	t.Helper()
	m, err := s.Registry.Get(name)
	require.NoError(t, err)
	return m
}

func TestCreateScalars(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `authors` (`name`) VALUES (?)")).
		WithArgs("Ursula").
		WillReturnResult(sqlmock.NewResult(7, 1))

	pk, err := saver.Create(context.Background(), exec, getModel(t, saver, "Author"), map[string]any{"name": "Ursula"})
	require.NoError(t, err)
	assert.EqualValues(t, 7, pk)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateForwardRelationByKey(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `authors` WHERE `id` = ? LIMIT 1")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `books` (`author_id`,`title`) VALUES (?,?)")).
		WithArgs(3, "Earthsea").
		WillReturnResult(sqlmock.NewResult(1, 1))

	pk, err := saver.Create(context.Background(), exec, getModel(t, saver, "Book"), map[string]any{
		"title":  "Earthsea",
		"author": 3,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, pk)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateForwardRelationMissing(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `authors` WHERE `id` = ? LIMIT 1")).
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := saver.Create(context.Background(), exec, getModel(t, saver, "Book"), map[string]any{
		"title":  "Orphan",
		"author": 99,
	})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindNotFound))
	assert.Contains(t, err.Error(), "Author matching id=99 does not exist")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNestedForwardRelation(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	// Nested input without a key creates the related row first.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `authors` (`name`) VALUES (?)")).
		WithArgs("New Author").
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `books` (`author_id`,`title`) VALUES (?,?)")).
		WithArgs(int64(11), "Debut").
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := saver.Create(context.Background(), exec, getModel(t, saver, "Book"), map[string]any{
		"title":  "Debut",
		"author": map[string]any{"name": "New Author"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReverseOneToManyReplaces(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	// The author must exist before anything is written.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `authors` WHERE `id` = ? LIMIT 1")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	// Child 5 is repointed at the author.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `books` WHERE `id` = ? LIMIT 1")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `books` WHERE `id` = ? LIMIT 1")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `books` SET `author_id` = ? WHERE `id` = ?")).
		WithArgs(3, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Children not in the replacement list are deleted.
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `books` WHERE `author_id` = ? AND `id` NOT IN (?)")).
		WithArgs(3, 5).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := saver.Update(context.Background(), exec, getModel(t, saver, "Author"), 3, map[string]any{
		"books": []any{5},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReverseOneToOneDisconnect(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `authors` WHERE `id` = ? LIMIT 1")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `bios` SET `author_id` = ? WHERE `author_id` = ?")).
		WithArgs(nil, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := saver.Update(context.Background(), exec, getModel(t, saver, "Author"), 3, map[string]any{
		"bio": nil,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReverseOneToOneRepoint(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `authors` WHERE `id` = ? LIMIT 1")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	// The current occupant is disconnected before the new child attaches.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `bios` SET `author_id` = ? WHERE `author_id` = ?")).
		WithArgs(nil, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `bios` WHERE `id` = ? LIMIT 1")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `bios` WHERE `id` = ? LIMIT 1")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `bios` SET `author_id` = ? WHERE `id` = ?")).
		WithArgs(3, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := saver.Update(context.Background(), exec, getModel(t, saver, "Author"), 3, map[string]any{
		"bio": 5,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReverseOneToOneNonNullableDeletesPrevious(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `authors` WHERE `id` = ? LIMIT 1")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	// A contract's author_id cannot hold NULL, so the previous occupant is
	// deleted rather than disconnected. The incoming child is spared.
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `contracts` WHERE `author_id` = ? AND `id` NOT IN (?)")).
		WithArgs(3, 8).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `contracts` WHERE `id` = ? LIMIT 1")).
		WithArgs(8).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `contracts` WHERE `id` = ? LIMIT 1")).
		WithArgs(8).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `contracts` SET `author_id` = ? WHERE `id` = ?")).
		WithArgs(3, 8).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := saver.Update(context.Background(), exec, getModel(t, saver, "Author"), 3, map[string]any{
		"contract": 8,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReverseOneToOneNonNullableCreates(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `authors` WHERE `id` = ? LIMIT 1")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `contracts` WHERE `author_id` = ?")).
		WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `contracts` (`author_id`,`terms`) VALUES (?,?)")).
		WithArgs(3, "exclusive").
		WillReturnResult(sqlmock.NewResult(21, 1))

	err := saver.Update(context.Background(), exec, getModel(t, saver, "Author"), 3, map[string]any{
		"contract": map[string]any{"terms": "exclusive"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReverseOneToOneNonNullableCannotClear(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `authors` WHERE `id` = ? LIMIT 1")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	err := saver.Update(context.Background(), exec, getModel(t, saver, "Author"), 3, map[string]any{
		"contract": nil,
	})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindInvalidInput))
	assert.Contains(t, err.Error(), "cannot be cleared")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNestedInputOnNonPKTargetFailsBeforeWriting(t *testing.T) {
	reg := model.NewRegistry()
	require.NoError(t, reg.Register(&model.Model{
		Name:  "Owner",
		Table: "owners",
		Columns: []model.Column{
			{Name: "id", SQLType: "bigint", PrimaryKey: true},
			{Name: "handle", SQLType: "varchar(64)"},
		},
	}))
	require.NoError(t, reg.Register(&model.Model{
		Name:  "Document",
		Table: "documents",
		Columns: []model.Column{
			{Name: "id", SQLType: "bigint", PrimaryKey: true},
			{Name: "owner_handle", SQLType: "varchar(64)"},
		},
		ForeignKeys: []model.ForeignKey{
			{Field: "owner", Column: "owner_handle", RemoteModel: "Owner", RemoteColumn: "handle", RelatedName: "documents"},
		},
	}))
	require.NoError(t, reg.Freeze())
	saver := NewSaver(reg)
	exec, mock := mockExecutor(t)

	m, err := reg.Get("Document")
	require.NoError(t, err)
	_, err = saver.Create(context.Background(), exec, m, map[string]any{
		"owner": map[string]any{"handle": "new"},
	})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindInvalidInput))
	assert.Contains(t, err.Error(), "cannot accept nested input")
	// The rejection must come before the nested row is written.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGenericReferenceVerifiesTarget(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `authors` WHERE `id` = ? LIMIT 1")).
		WithArgs(999).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := saver.Create(context.Background(), exec, getModel(t, saver, "Note"), map[string]any{
		"body":   "marginalia",
		"target": map[string]any{"type": "Author", "id": 999},
	})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindNotFound))
	// No dangling (type, id) pair may be written.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGenericReference(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `authors` WHERE `id` = ? LIMIT 1")).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `notes` (`body`,`target_id`,`target_type`) VALUES (?,?,?)")).
		WithArgs("marginalia", 7, "Author").
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := saver.Create(context.Background(), exec, getModel(t, saver, "Note"), map[string]any{
		"body":   "marginalia",
		"target": map[string]any{"type": "Author", "id": 7},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGenericReferenceUnknownType(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	_, err := saver.Create(context.Background(), exec, getModel(t, saver, "Note"), map[string]any{
		"target": map[string]any{"type": "Nonesuch", "id": 1},
	})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindInvalidInput))
	assert.Contains(t, err.Error(), "unknown type Nonesuch")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateManyToManyReplacesMembershipOnly(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `books` WHERE `id` = ? LIMIT 1")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `tags` WHERE `id` = ? LIMIT 1")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `tags` WHERE `id` = ? LIMIT 1")).
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `book_tags` WHERE `book_id` = ?")).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `book_tags` (`book_id`,`tag_id`) VALUES (?,?),(?,?)")).
		WithArgs(1, 2, 1, 4).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := saver.Update(context.Background(), exec, getModel(t, saver, "Book"), 1, map[string]any{
		"tags": []any{2, 4},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTranslatesConstraintViolation(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `books` (`title`) VALUES (?)")).
		WithArgs("Dune").
		WillReturnError(&mysql.MySQLError{
			Number:  1062,
			Message: "Duplicate entry 'Dune' for key 'uniq_books_title'",
		})

	_, err := saver.Create(context.Background(), exec, getModel(t, saver, "Book"), map[string]any{"title": "Dune"})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindConstraint))
	assert.Contains(t, err.Error(), "a book with this title already exists")

	var typed *gqlerr.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "unique_violation", typed.Extensions()["code"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingRow(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `authors` WHERE `id` = ?")).
		WithArgs(42).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := saver.Delete(context.Background(), exec, getModel(t, saver, "Author"), 42)
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyRejectsReverseRelationsBeforeWriting(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	_, err := saver.CreateMany(context.Background(), exec, getModel(t, saver, "Author"), []map[string]any{
		{"name": "A"},
		{"name": "B", "books": []any{1}},
	})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindInvalidInput))
	// Nothing may have been written.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyRejectsManyToMany(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	_, err := saver.CreateMany(context.Background(), exec, getModel(t, saver, "Book"), []map[string]any{
		{"title": "X", "tags": []any{1, 2}},
	})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyRejectsGenericRelations(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	_, err := saver.CreateMany(context.Background(), exec, getModel(t, saver, "Author"), []map[string]any{
		{"name": "A", "notes": []any{1}},
	})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindInvalidInput))

	_, err = saver.CreateMany(context.Background(), exec, getModel(t, saver, "Note"), []map[string]any{
		{"body": "x", "target": map[string]any{"type": "Author", "id": 1}},
	})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyFillsMissingColumnsWithNull(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `books` (`author_id`,`title`) VALUES (?,?),(?,?)")).
		WithArgs(nil, "Bare", nil, "Spare").
		WillReturnResult(sqlmock.NewResult(30, 2))

	_, err := saver.CreateMany(context.Background(), exec, getModel(t, saver, "Book"), []map[string]any{
		{"title": "Bare", "author": nil},
		{"title": "Spare"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyRejectsNestedInput(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	_, err := saver.CreateMany(context.Background(), exec, getModel(t, saver, "Book"), []map[string]any{
		{"title": "X", "author": map[string]any{"name": "nested"}},
	})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyBatchesLookupAndInsert(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	// One lookup covers every referenced author across all rows.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `authors` WHERE `id` IN (?,?)")).
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `books` (`author_id`,`title`) VALUES (?,?),(?,?),(?,?)")).
		WithArgs(1, "One", 2, "Two", 1, "Three").
		WillReturnResult(sqlmock.NewResult(10, 3))

	pks, err := saver.CreateMany(context.Background(), exec, getModel(t, saver, "Book"), []map[string]any{
		{"title": "One", "author": 1},
		{"title": "Two", "author": 2},
		{"title": "Three", "author": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), int64(11), int64(12)}, pks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyMissingReference(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `authors` WHERE `id` IN (?,?)")).
		WithArgs(1, 99).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	_, err := saver.CreateMany(context.Background(), exec, getModel(t, saver, "Book"), []map[string]any{
		{"title": "One", "author": 1},
		{"title": "Two", "author": 99},
	})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindNotFound))
	assert.Contains(t, err.Error(), "Author matching author=99 does not exist")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateManySingleStatement(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `books` WHERE `id` IN (?,?)")).
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE `books` SET `title` = CASE `id` WHEN ? THEN ? WHEN ? THEN ? ELSE `title` END WHERE `id` IN (?,?)")).
		WithArgs(1, "First", 2, "Second", 1, 2).
		WillReturnResult(sqlmock.NewResult(0, 2))

	affected, err := saver.UpdateMany(context.Background(), exec, getModel(t, saver, "Book"), []map[string]any{
		{"id": 1, "title": "First"},
		{"id": 2, "title": "Second"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateManyRequiresPrimaryKey(t *testing.T) {
	saver := newTestSaver(t)
	exec, mock := mockExecutor(t)

	_, err := saver.UpdateMany(context.Background(), exec, getModel(t, saver, "Book"), []map[string]any{
		{"title": "No Key"},
	})
	require.Error(t, err)
	assert.True(t, gqlerr.IsKind(err, gqlerr.KindInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}
