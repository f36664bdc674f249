package mutation

import (
	"context"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"modelql/internal/dbexec"
	"modelql/internal/gqlerr"
	"modelql/internal/model"
	"modelql/internal/sqlutil"
)

// Create inserts one row from a partitioned input and returns its primary
// key. Deferred relation assignments run after the insert, inside the same
// transaction the executor represents.
func (s *Saver) Create(ctx context.Context, exec dbexec.QueryExecutor, m *model.Model, input map[string]any) (any, error) {
	ss, err := s.preSave(ctx, exec, m, input)
	if err != nil {
		return nil, err
	}

	pkCol, ok := m.PrimaryKey()
	if !ok {
		return nil, gqlerr.New(gqlerr.KindConfig, "model %s has no primary key", m.Name)
	}

	columns, values := sortedColumns(ss.columns)

	var builder sq.InsertBuilder
	if len(columns) == 0 {
		builder = sq.Insert(sqlutil.QuoteIdentifier(m.Table)).
			Columns(sqlutil.QuoteIdentifier(pkCol.Name)).
			Values(nil)
	} else {
		quoted := make([]string, len(columns))
		for i, col := range columns {
			quoted[i] = sqlutil.QuoteIdentifier(col)
		}
		builder = sq.Insert(sqlutil.QuoteIdentifier(m.Table)).
			Columns(quoted...).
			Values(values...)
	}

	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return nil, err
	}
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err, m)
	}

	pk, hasPK := ss.columns[pkCol.Name]
	if !hasPK || pk == nil {
		id, err := result.LastInsertId()
		if err != nil {
			return nil, err
		}
		pk = id
	}

	if err := s.runPostSave(ctx, exec, m, pk, ss.postSave); err != nil {
		return nil, err
	}
	return pk, nil
}

// Update applies a partitioned input to an existing row. A missing row is a
// not-found error, raised before anything is written.
func (s *Saver) Update(ctx context.Context, exec dbexec.QueryExecutor, m *model.Model, pk any, input map[string]any) error {
	pkCol, ok := m.PrimaryKey()
	if !ok {
		return gqlerr.New(gqlerr.KindConfig, "model %s has no primary key", m.Name)
	}
	if err := s.ensureExists(ctx, exec, m, pkCol.Name, pk); err != nil {
		return err
	}

	ss, err := s.preSave(ctx, exec, m, input)
	if err != nil {
		return err
	}

	if len(ss.columns) > 0 {
		setMap := make(map[string]any, len(ss.columns))
		for col, val := range ss.columns {
			setMap[sqlutil.QuoteIdentifier(col)] = val
		}
		query, args, err := sq.Update(sqlutil.QuoteIdentifier(m.Table)).
			SetMap(setMap).
			Where(sq.Eq{sqlutil.QuoteIdentifier(pkCol.Name): pk}).
			PlaceholderFormat(sq.Question).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx, query, args...); err != nil {
			return translateError(err, m)
		}
	}

	return s.runPostSave(ctx, exec, m, pk, ss.postSave)
}

// Delete removes one row by primary key.
func (s *Saver) Delete(ctx context.Context, exec dbexec.QueryExecutor, m *model.Model, pk any) error {
	pkCol, ok := m.PrimaryKey()
	if !ok {
		return gqlerr.New(gqlerr.KindConfig, "model %s has no primary key", m.Name)
	}

	query, args, err := sq.Delete(sqlutil.QuoteIdentifier(m.Table)).
		Where(sq.Eq{sqlutil.QuoteIdentifier(pkCol.Name): pk}).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return err
	}
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return translateError(err, m)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFoundError(m, pkCol.Name, pk)
	}
	return nil
}

func sortedColumns(columns map[string]any) ([]string, []any) {
	names := make([]string, 0, len(columns))
	for col := range columns {
		names = append(names, col)
	}
	sort.Strings(names)

	values := make([]any, len(names))
	for i, col := range names {
		values[i] = columns[col]
	}
	return names, values
}
