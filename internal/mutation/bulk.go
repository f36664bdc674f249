package mutation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"modelql/internal/dbexec"
	"modelql/internal/gqlerr"
	"modelql/internal/model"
	"modelql/internal/relmeta"
	"modelql/internal/sqlutil"
)

// bulkRow is one validated bulk input with relation keys already folded into
// column values.
type bulkRow struct {
	columns map[string]any
}

// relLookup batches existence checks: all referenced keys of one related
// model and column, gathered across every input row before any query runs.
type relLookup struct {
	model  *model.Model
	column string
	field  string
	values []any
	seen   map[string]struct{}
}

// CreateMany inserts all rows in one statement and returns their primary
// keys. Only scalar columns and forward to-one references given by key are
// accepted; reverse, many-to-many, generic, and nested inputs are rejected
// up front so no partial write can happen.
func (s *Saver) CreateMany(ctx context.Context, exec dbexec.QueryExecutor, m *model.Model, inputs []map[string]any) ([]any, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	rows, lookups, err := s.validateBulkInputs(ctx, exec, m, inputs, false)
	if err != nil {
		return nil, err
	}
	if err := s.runBulkLookups(ctx, exec, lookups); err != nil {
		return nil, err
	}

	// All rows share one column list. A row omitting a column another row
	// supplies inserts an explicit NULL there, not the column's database
	// default; per-row defaults require per-row creates.
	union := columnUnion(rows)
	quoted := make([]string, len(union))
	for i, col := range union {
		quoted[i] = sqlutil.QuoteIdentifier(col)
	}

	insert := sq.Insert(sqlutil.QuoteIdentifier(m.Table)).Columns(quoted...)
	for _, row := range rows {
		values := make([]any, len(union))
		for i, col := range union {
			values[i] = row.columns[col]
		}
		insert = insert.Values(values...)
	}

	query, args, err := insert.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return nil, err
	}
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err, m)
	}

	pkCol, _ := m.PrimaryKey()
	pks := make([]any, len(rows))
	if containsString(union, pkCol.Name) {
		for i, row := range rows {
			pks[i] = row.columns[pkCol.Name]
		}
		return pks, nil
	}

	// Multi-row inserts allocate contiguous auto-increment keys starting at
	// the reported insert id.
	firstID, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	for i := range rows {
		pks[i] = firstID + int64(i)
	}
	return pks, nil
}

// UpdateMany applies all rows in one statement and returns the number of
// rows touched. Every input must carry the primary key; existence of every
// key is verified with a single query before the update runs.
func (s *Saver) UpdateMany(ctx context.Context, exec dbexec.QueryExecutor, m *model.Model, inputs []map[string]any) (int64, error) {
	if len(inputs) == 0 {
		return 0, nil
	}

	pkCol, ok := m.PrimaryKey()
	if !ok {
		return 0, gqlerr.New(gqlerr.KindConfig, "model %s has no primary key", m.Name)
	}

	rows, lookups, err := s.validateBulkInputs(ctx, exec, m, inputs, true)
	if err != nil {
		return 0, err
	}

	pks := make([]any, len(rows))
	for i, row := range rows {
		pks[i] = row.columns[pkCol.Name]
	}
	lookups = append(lookups, &relLookup{model: m, column: pkCol.Name, field: pkCol.Name, values: pks})

	if err := s.runBulkLookups(ctx, exec, lookups); err != nil {
		return 0, err
	}

	// One statement updates every row: each touched column becomes a CASE
	// over the primary key, and rows not naming a column keep their value
	// through the ELSE branch.
	union := columnUnion(rows)
	quotedPK := sqlutil.QuoteIdentifier(pkCol.Name)

	var setClauses []string
	var setArgs []any
	for _, col := range union {
		if col == pkCol.Name {
			continue
		}
		quotedCol := sqlutil.QuoteIdentifier(col)
		var whens []string
		for i, row := range rows {
			if _, touched := row.columns[col]; !touched {
				continue
			}
			whens = append(whens, "WHEN ? THEN ?")
			setArgs = append(setArgs, pks[i], row.columns[col])
		}
		if len(whens) == 0 {
			continue
		}
		setClauses = append(setClauses,
			fmt.Sprintf("%s = CASE %s %s ELSE %s END", quotedCol, quotedPK, strings.Join(whens, " "), quotedCol))
	}
	if len(setClauses) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s IN (%s)",
		sqlutil.QuoteIdentifier(m.Table),
		strings.Join(setClauses, ", "),
		quotedPK,
		sq.Placeholders(len(pks)),
	)
	args := append(setArgs, pks...)

	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translateError(err, m)
	}
	return result.RowsAffected()
}

// validateBulkInputs folds every input into plain column values and collects
// the per-model reference lookups. Any relation kind that would require
// per-row statements fails the whole batch before a single write.
func (s *Saver) validateBulkInputs(ctx context.Context, exec dbexec.QueryExecutor, m *model.Model, inputs []map[string]any, requirePK bool) ([]bulkRow, []*relLookup, error) {
	relInfos, err := relmeta.ParseModelRelationInfo(s.Registry, m)
	if err != nil {
		return nil, nil, err
	}
	pkCol, ok := m.PrimaryKey()
	if !ok {
		return nil, nil, gqlerr.New(gqlerr.KindConfig, "model %s has no primary key", m.Name)
	}

	lookupIndex := make(map[string]*relLookup)
	var lookups []*relLookup
	addLookup := func(rm *model.Model, column, field string, value any) {
		key := rm.Name + "\x00" + column
		lookup, ok := lookupIndex[key]
		if !ok {
			lookup = &relLookup{model: rm, column: column, field: field, seen: make(map[string]struct{})}
			lookupIndex[key] = lookup
			lookups = append(lookups, lookup)
		}
		norm := normKey(value)
		if _, dup := lookup.seen[norm]; dup {
			return
		}
		lookup.seen[norm] = struct{}{}
		lookup.values = append(lookup.values, value)
	}

	rows := make([]bulkRow, 0, len(inputs))
	for i, input := range inputs {
		row := bulkRow{columns: make(map[string]any, len(input))}

		keys := make([]string, 0, len(input))
		for key := range input {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			value := input[key]

			info, isRelation := relInfos[key]
			if !isRelation {
				if !m.HasColumn(key) {
					return nil, nil, gqlerr.New(gqlerr.KindInvalidInput, "row %d: unknown field %s for %s", i, key, m.Name)
				}
				row.columns[key] = value
				continue
			}

			if !info.Relation.CreatedBefore() {
				return nil, nil, gqlerr.New(gqlerr.KindInvalidInput,
					"row %d: field %s: %s relations are not supported in bulk operations", i, key, info.Relation)
			}
			switch value.(type) {
			case map[string]any:
				return nil, nil, gqlerr.New(gqlerr.KindInvalidInput,
					"row %d: field %s: nested input is not supported in bulk operations", i, key)
			case nil:
				if !info.Nullable {
					return nil, nil, gqlerr.New(gqlerr.KindInvalidInput, "row %d: field %s is not nullable", i, key)
				}
				row.columns[info.LocalColumn] = nil
			default:
				row.columns[info.LocalColumn] = value
				addLookup(info.RelatedModel, info.RemoteColumn, key, value)
			}
		}

		if requirePK {
			if pkValue, hasPK := row.columns[pkCol.Name]; !hasPK || pkValue == nil {
				return nil, nil, gqlerr.New(gqlerr.KindInvalidInput, "row %d: missing primary key %s", i, pkCol.Name)
			}
		}
		rows = append(rows, row)
	}

	return rows, lookups, nil
}

// runBulkLookups verifies every referenced key with one query per related
// model and column.
func (s *Saver) runBulkLookups(ctx context.Context, exec dbexec.QueryExecutor, lookups []*relLookup) error {
	for _, lookup := range lookups {
		if len(lookup.values) == 0 {
			continue
		}
		quoted := sqlutil.QuoteIdentifier(lookup.column)
		query, args, err := sq.Select(quoted).
			From(sqlutil.QuoteIdentifier(lookup.model.Table)).
			Where(sq.Eq{quoted: lookup.values}).
			PlaceholderFormat(sq.Question).
			ToSql()
		if err != nil {
			return err
		}
		rows, err := exec.QueryContext(ctx, query, args...)
		if err != nil {
			return translateError(err, lookup.model)
		}
		found := make(map[string]struct{}, len(lookup.values))
		for rows.Next() {
			var value any
			if err := rows.Scan(&value); err != nil {
				rows.Close()
				return err
			}
			found[normScanned(value)] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, value := range lookup.values {
			if _, ok := found[normKey(value)]; !ok {
				return notFoundError(lookup.model, lookup.field, value)
			}
		}
	}
	return nil
}

// normScanned normalizes driver-scanned values to the same key space as
// normKey; the MySQL driver returns text protocol values as byte slices.
func normScanned(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return normKey(v)
}

func columnUnion(rows []bulkRow) []string {
	seen := make(map[string]struct{})
	var union []string
	for _, row := range rows {
		for col := range row.columns {
			if _, ok := seen[col]; !ok {
				seen[col] = struct{}{}
				union = append(union, col)
			}
		}
	}
	sort.Strings(union)
	return union
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
