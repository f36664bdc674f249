package schemarefresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"modelql/internal/logging"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func testLogger() *logging.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &logging.Logger{Logger: slog.New(handler)}
}

// hashCells replicates the row hashing used by hashComponentQuery.
func hashCells(rows [][]string) string {
	hash := sha256.New()
	for _, row := range rows {
		for _, cell := range row {
			fmt.Fprintf(hash, "%d:%s|", len(cell), cell)
		}
		hash.Write([]byte{'\n'})
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// expectStructuralFingerprint mocks the five structural component queries in
// the order the manager issues them, each returning no rows.
func expectStructuralFingerprint(mock sqlmock.Sqlmock, database string) string {
	mock.ExpectQuery("TABLE_TYPE IN").
		WithArgs(database).
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE"}))
	mock.ExpectQuery("COLUMN_DEFAULT").
		WithArgs(database).
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "ORDINAL_POSITION", "DATA_TYPE", "COLUMN_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "EXTRA"}))
	mock.ExpectQuery(regexp.QuoteMeta("CONSTRAINT_NAME = 'PRIMARY'")).
		WithArgs(database).
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "ORDINAL_POSITION"}))
	mock.ExpectQuery("POSITION_IN_UNIQUE_CONSTRAINT").
		WithArgs(database).
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "CONSTRAINT_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "ORDINAL_POSITION", "POSITION_IN_UNIQUE_CONSTRAINT"}))
	mock.ExpectQuery("INDEX_TYPE").
		WithArgs(database).
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "INDEX_NAME", "NON_UNIQUE", "SEQ_IN_INDEX", "COLUMN_NAME", "COLLATION", "SUB_PART", "NULLABLE", "INDEX_TYPE"}))

	empty := hashCells(nil)
	return combineComponentHashes(map[string]string{
		"tables":       empty,
		"columns":      empty,
		"primary_keys": empty,
		"foreign_keys": empty,
		"indexes":      empty,
	})
}

func TestComputeFingerprint_Structural(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("TABLE_TYPE IN").
		WithArgs("testdb").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE"}).
			AddRow("alpha", "BASE TABLE"))
	mock.ExpectQuery("COLUMN_DEFAULT").
		WithArgs("testdb").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "ORDINAL_POSITION", "DATA_TYPE", "COLUMN_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "EXTRA"}).
			AddRow("alpha", "id", "1", "bigint", "bigint", "NO", "", "auto_increment"))
	mock.ExpectQuery(regexp.QuoteMeta("CONSTRAINT_NAME = 'PRIMARY'")).
		WithArgs("testdb").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "ORDINAL_POSITION"}).
			AddRow("alpha", "id", "1"))
	mock.ExpectQuery("POSITION_IN_UNIQUE_CONSTRAINT").
		WithArgs("testdb").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "CONSTRAINT_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "ORDINAL_POSITION", "POSITION_IN_UNIQUE_CONSTRAINT"}))
	mock.ExpectQuery("INDEX_TYPE").
		WithArgs("testdb").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "INDEX_NAME", "NON_UNIQUE", "SEQ_IN_INDEX", "COLUMN_NAME", "COLLATION", "SUB_PART", "NULLABLE", "INDEX_TYPE"}))

	manager := &Manager{
		db:           db,
		databaseName: "testdb",
		logger:       testLogger(),
	}

	details, err := manager.computeFingerprintDetails(context.Background())
	if err != nil {
		t.Fatalf("computeFingerprintDetails failed: %v", err)
	}
	if details.Mode != fingerprintModeStructural {
		t.Fatalf("fingerprint mode = %q, want %q", details.Mode, fingerprintModeStructural)
	}

	expected := combineComponentHashes(map[string]string{
		"tables":       hashCells([][]string{{"alpha", "BASE TABLE"}}),
		"columns":      hashCells([][]string{{"alpha", "id", "1", "bigint", "bigint", "NO", "", "auto_increment"}}),
		"primary_keys": hashCells([][]string{{"alpha", "id", "1"}}),
		"foreign_keys": hashCells(nil),
		"indexes":      hashCells(nil),
	})
	if details.Value != expected {
		t.Fatalf("fingerprint mismatch: got %s want %s", details.Value, expected)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestComputeFingerprint_FallsBackToLightweight(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("TABLE_TYPE IN").
		WithArgs("testdb").
		WillReturnError(fmt.Errorf("metadata access denied"))
	mock.ExpectQuery("CREATE_TIME").
		WithArgs("testdb").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "CREATE_TIME", "UPDATE_TIME"}).
			AddRow("alpha", "2025-01-15 10:30:45", "2025-01-15 12:30:45"))

	manager := &Manager{
		db:           db,
		databaseName: "testdb",
		logger:       testLogger(),
	}

	details, err := manager.computeFingerprintDetails(context.Background())
	if err != nil {
		t.Fatalf("computeFingerprintDetails failed: %v", err)
	}
	if details.Mode != fingerprintModeLightweight {
		t.Fatalf("fingerprint mode = %q, want %q", details.Mode, fingerprintModeLightweight)
	}
	if details.Value == "" {
		t.Fatalf("expected non-empty fingerprint")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshOnce_NoChange_BacksOff(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	expected := expectStructuralFingerprint(mock, "testdb")

	manager := &Manager{
		db:           db,
		databaseName: "testdb",
		logger:       testLogger(),
		minInterval:  10 * time.Second,
		maxInterval:  time.Minute,
	}
	manager.active.Store(&snapshotState{Fingerprint: expected})

	interval := manager.minInterval
	manager.refreshOnce(context.Background(), &interval)

	if interval <= manager.minInterval {
		t.Fatalf("expected backoff interval > min interval, got %v", interval)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshOnce_Change_Rebuilds(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	expected := expectStructuralFingerprint(mock, "testdb")

	// Rebuild introspection: one table with a primary key and a plain column.
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("testdb").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_COMMENT"}).
			AddRow("widgets", ""))
	mock.ExpectQuery("SELECT COLUMN_NAME, DATA_TYPE.*FROM INFORMATION_SCHEMA.COLUMNS.*").
		WithArgs("testdb", "widgets").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "COLUMN_COMMENT", "IS_NULLABLE", "EXTRA"}).
			AddRow("id", "bigint", "bigint", "", "NO", "auto_increment").
			AddRow("name", "varchar", "varchar(255)", "", "NO", ""))
	mock.ExpectQuery(regexp.QuoteMeta("CONSTRAINT_NAME = 'PRIMARY'")).
		WithArgs("testdb", "widgets").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"))
	mock.ExpectQuery("REFERENCED_TABLE_NAME IS NOT NULL").
		WithArgs("testdb", "widgets").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION"}))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.STATISTICS").
		WithArgs("testdb", "widgets").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME"}))

	manager := &Manager{
		db:           db,
		databaseName: "testdb",
		logger:       testLogger(),
		minInterval:  5 * time.Second,
		maxInterval:  time.Minute,
	}
	manager.active.Store(&snapshotState{Fingerprint: "old"})

	interval := manager.minInterval
	manager.refreshOnce(context.Background(), &interval)

	snapshot := manager.CurrentSnapshot()
	if snapshot == nil {
		t.Fatalf("expected snapshot after refresh")
	}
	if snapshot.Fingerprint != expected {
		t.Fatalf("fingerprint not updated: got %s want %s", snapshot.Fingerprint, expected)
	}
	if snapshot.Schema == nil || snapshot.Handler == nil {
		t.Fatalf("expected rebuilt schema and handler")
	}
	if manager.Fingerprint() != expected {
		t.Fatalf("Fingerprint() = %s, want %s", manager.Fingerprint(), expected)
	}
	if interval != manager.minInterval {
		t.Fatalf("interval should reset to min interval, got %v", interval)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestNextInterval(t *testing.T) {
	minInterval := 10 * time.Second
	maxInterval := time.Minute

	if got := nextInterval(5*time.Second, minInterval, maxInterval); got != minInterval {
		t.Fatalf("below min: got %v want %v", got, minInterval)
	}
	if got := nextInterval(minInterval, minInterval, maxInterval); got != 15*time.Second {
		t.Fatalf("growth: got %v want %v", got, 15*time.Second)
	}
	if got := nextInterval(50*time.Second, minInterval, maxInterval); got != maxInterval {
		t.Fatalf("cap: got %v want %v", got, maxInterval)
	}
}
