// Package introspection discovers model descriptors from a MySQL-compatible
// database's INFORMATION_SCHEMA: tables, columns, keys, and unique indexes.
// Pure junction tables are collapsed into many-to-many relations; everything
// else becomes a registered model.
package introspection

import (
	"context"
	"database/sql"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Queryer is the minimal query interface introspection needs; *sql.DB and
// transaction handles both satisfy it.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// column is one introspected table column.
type column struct {
	Name          string
	DataType      string
	ColumnType    string
	Comment       string
	Nullable      bool
	AutoIncrement bool
	Generated     bool
}

// foreignKey is one single-column FK constraint. Composite foreign keys are
// skipped during loading; the relation model is single-column.
type foreignKey struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
	ConstraintName   string
}

// uniqueIndex is a unique index with its ordered columns.
type uniqueIndex struct {
	Name    string
	Columns []string
}

// tableMeta is everything introspection gathers about one table before model
// assembly.
type tableMeta struct {
	Name          string
	Comment       string
	Columns       []column
	PrimaryKey    []string
	ForeignKeys   []foreignKey
	UniqueIndexes []uniqueIndex
}

func getTables(ctx context.Context, db Queryer, databaseName string) ([]tableMeta, error) {
	ctx, span := startSpan(ctx, "introspection.get_tables",
		attribute.String("db.name", databaseName))
	defer span.End()

	query := `
		SELECT TABLE_NAME, TABLE_COMMENT
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`
	rows, err := db.QueryContext(ctx, query, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var tables []tableMeta
	for rows.Next() {
		var name string
		var comment sql.NullString
		if err := rows.Scan(&name, &comment); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		tables = append(tables, tableMeta{
			Name:    name,
			Comment: strings.TrimSpace(comment.String),
		})
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return tables, nil
}

func getColumns(ctx context.Context, db Queryer, databaseName, tableName string) ([]column, error) {
	ctx, span := startSpan(ctx, "introspection.get_columns",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName))
	defer span.End()

	query := `
		SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, COLUMN_COMMENT, IS_NULLABLE, EXTRA
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []column
	for rows.Next() {
		var col column
		var comment sql.NullString
		var isNullable, extra string
		if err := rows.Scan(&col.Name, &col.DataType, &col.ColumnType, &comment, &isNullable, &extra); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		col.Comment = strings.TrimSpace(comment.String)
		col.Nullable = strings.EqualFold(isNullable, "YES")
		extraLower := strings.ToLower(extra)
		col.AutoIncrement = strings.Contains(extraLower, "auto_increment") ||
			strings.Contains(extraLower, "auto_random")
		col.Generated = strings.Contains(extraLower, "generated")
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return columns, nil
}

func getPrimaryKey(ctx context.Context, db Queryer, databaseName, tableName string) ([]string, error) {
	ctx, span := startSpan(ctx, "introspection.get_primary_key",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName))
	defer span.End()

	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION
	`
	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var pk []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		pk = append(pk, name)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return pk, nil
}

func getForeignKeys(ctx context.Context, db Queryer, databaseName, tableName string) ([]foreignKey, error) {
	ctx, span := startSpan(ctx, "introspection.get_foreign_keys",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName))
	defer span.End()

	query := `
		SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME, CONSTRAINT_NAME, ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
			AND TABLE_NAME = ?
			AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION
	`
	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var fks []foreignKey
	composite := make(map[string]bool)
	for rows.Next() {
		var fk foreignKey
		var ordinal int
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.ConstraintName, &ordinal); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		if ordinal > 1 {
			composite[fk.ConstraintName] = true
			continue
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	// Composite foreign keys cannot be expressed as single-column relations.
	if len(composite) > 0 {
		kept := fks[:0]
		for _, fk := range fks {
			if !composite[fk.ConstraintName] {
				kept = append(kept, fk)
			}
		}
		fks = kept
	}
	return fks, nil
}

func getUniqueIndexes(ctx context.Context, db Queryer, databaseName, tableName string) ([]uniqueIndex, error) {
	ctx, span := startSpan(ctx, "introspection.get_unique_indexes",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName))
	defer span.End()

	query := `
		SELECT INDEX_NAME, COLUMN_NAME
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ?
			AND TABLE_NAME = ?
			AND NON_UNIQUE = 0
			AND INDEX_NAME != 'PRIMARY'
		ORDER BY INDEX_NAME, SEQ_IN_INDEX
	`
	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var indexes []uniqueIndex
	byName := make(map[string]int)
	for rows.Next() {
		var indexName, columnName string
		if err := rows.Scan(&indexName, &columnName); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		if i, ok := byName[indexName]; ok {
			indexes[i].Columns = append(indexes[i].Columns, columnName)
			continue
		}
		byName[indexName] = len(indexes)
		indexes = append(indexes, uniqueIndex{Name: indexName, Columns: []string{columnName}})
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return indexes, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("modelql/introspection")
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
