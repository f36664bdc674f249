package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestStandardExecutorNilDB(t *testing.T) {
	exec := NewStandardExecutor(nil)

	if _, err := exec.QueryContext(context.Background(), "SELECT 1"); !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("expected sql.ErrConnDone, got %v", err)
	}
	if _, err := exec.ExecContext(context.Background(), "DELETE FROM t"); !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("expected sql.ErrConnDone, got %v", err)
	}
	if _, err := exec.BeginTx(context.Background()); !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("expected sql.ErrConnDone, got %v", err)
	}
}

func TestStandardExecutorQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id FROM tasks").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	exec := NewStandardExecutor(db)
	rows, err := exec.QueryContext(context.Background(), "SELECT id FROM tasks")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("unexpected ids: %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTxExecutorCommitAndRollback(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock: %v", err)
		}
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO tasks").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tx, err := NewStandardExecutor(db).BeginTx(context.Background())
		if err != nil {
			t.Fatalf("begin failed: %v", err)
		}
		if _, err := tx.ExecContext(context.Background(), "INSERT INTO tasks (name) VALUES (?)", "x"); err != nil {
			t.Fatalf("exec failed: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit failed: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("rollback", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock: %v", err)
		}
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		tx, err := NewStandardExecutor(db).BeginTx(context.Background())
		if err != nil {
			t.Fatalf("begin failed: %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("rollback failed: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}
