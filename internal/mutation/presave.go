package mutation

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"modelql/internal/dbexec"
	"modelql/internal/gqlerr"
	"modelql/internal/model"
	"modelql/internal/relmeta"
	"modelql/internal/sqlutil"
)

// Saver executes writes against registered models.
type Saver struct {
	Registry *model.Registry
}

func NewSaver(reg *model.Registry) *Saver {
	return &Saver{Registry: reg}
}

// GenericRefTypeKey and GenericRefIDKey are the input keys of a generic
// foreign key reference: the target model's name and its primary key value.
const (
	GenericRefTypeKey = "type"
	GenericRefIDKey   = "id"
)

type postSaveOp struct {
	field string
	info  relmeta.RelatedFieldInfo
	value any
}

// saveSet is the partitioned form of one mutation input: concrete column
// values that go into the row itself, plus relation assignments that can only
// run once the row exists and its primary key is known.
type saveSet struct {
	columns  map[string]any
	postSave []postSaveOp
}

// preSave partitions a mutation input. Relations whose value must exist
// before the row (forward references) are resolved to column values here;
// relations that depend on the row's key are deferred. Input keys are
// processed in sorted order so resolution order never depends on map
// iteration.
func (s *Saver) preSave(ctx context.Context, exec dbexec.QueryExecutor, m *model.Model, input map[string]any) (*saveSet, error) {
	relInfos, err := relmeta.ParseModelRelationInfo(s.Registry, m)
	if err != nil {
		return nil, err
	}

	ss := &saveSet{columns: make(map[string]any)}

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
				return nil, gqlerr.New(gqlerr.KindInvalidInput, "unknown field %s for %s", key, m.Name)
			}
			ss.columns[key] = value
			continue
		}

		switch {
		case info.Relation.CreatedBefore():
			fkValue, err := s.resolveToOne(ctx, exec, info, value)
			if err != nil {
				return nil, err
			}
			ss.columns[info.LocalColumn] = fkValue

		case info.Relation == relmeta.GenericManyToOne:
			typeName, id, err := parseGenericRef(key, value)
			if err != nil {
				return nil, err
			}
			if typeName != nil {
				target, err := s.Registry.Get(*typeName)
				if err != nil {
					return nil, gqlerr.New(gqlerr.KindInvalidInput, "field %s references unknown type %s", key, *typeName)
				}
				pkCol, ok := target.PrimaryKey()
				if !ok {
					return nil, gqlerr.New(gqlerr.KindConfig, "model %s has no primary key", target.Name)
				}
				if err := s.ensureExists(ctx, exec, target, pkCol.Name, id); err != nil {
					return nil, err
				}
			}
			ss.columns[info.TypeColumn] = anyOrNil(typeName)
			ss.columns[info.IDColumn] = id

		case info.Relation.CreatedAfter():
			ss.postSave = append(ss.postSave, postSaveOp{field: key, info: info, value: value})

		default:
			return nil, gqlerr.New(gqlerr.KindInvalidInput, "relation %s cannot be assigned through %s", key, m.Name)
		}
	}

	return ss, nil
}

// resolveToOne turns a forward to-one assignment into the foreign key column
// value: nil clears it, a scalar is an existing key, and a map is a nested
// get-or-create on the related model.
func (s *Saver) resolveToOne(ctx context.Context, exec dbexec.QueryExecutor, info relmeta.RelatedFieldInfo, value any) (any, error) {
	switch v := value.(type) {
	case nil:
		if !info.Nullable {
			return nil, gqlerr.New(gqlerr.KindInvalidInput, "field %s is not nullable", info.FieldName)
		}
		return nil, nil
	case map[string]any:
		remotePK, _ := info.RelatedModel.PrimaryKey()
		if info.RemoteColumn != remotePK.Name {
			return nil, gqlerr.New(gqlerr.KindInvalidInput,
				"field %s targets column %s and cannot accept nested input", info.FieldName, info.RemoteColumn)
		}
		return s.getOrCreate(ctx, exec, info.RelatedModel, v, nil)
	default:
		if err := s.ensureExists(ctx, exec, info.RelatedModel, info.RemoteColumn, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// getOrCreate resolves a nested input map to a primary key: inputs carrying
// the key update the existing row, inputs without one create it. preset
// columns override whatever the input says.
func (s *Saver) getOrCreate(ctx context.Context, exec dbexec.QueryExecutor, m *model.Model, input map[string]any, preset map[string]any) (any, error) {
	merged := make(map[string]any, len(input)+len(preset))
	for k, v := range input {
		merged[k] = v
	}
	for k, v := range preset {
		merged[k] = v
	}

	pkCol, ok := m.PrimaryKey()
	if !ok {
		return nil, gqlerr.New(gqlerr.KindConfig, "model %s has no primary key", m.Name)
	}

	if pkValue, hasPK := merged[pkCol.Name]; hasPK && pkValue != nil {
		delete(merged, pkCol.Name)
		if err := s.Update(ctx, exec, m, pkValue, merged); err != nil {
			return nil, err
		}
		return pkValue, nil
	}
	return s.Create(ctx, exec, m, merged)
}

// ensureExists verifies a single row matches column=value.
func (s *Saver) ensureExists(ctx context.Context, exec dbexec.QueryExecutor, m *model.Model, column string, value any) error {
	quoted := sqlutil.QuoteIdentifier(column)
	query, args, err := sq.Select(quoted).
		From(sqlutil.QuoteIdentifier(m.Table)).
		Where(sq.Eq{quoted: value}).
		Limit(1).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return err
	}
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return translateError(err, m)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return notFoundError(m, column, value)
	}
	return rows.Err()
}

func parseGenericRef(field string, value any) (*string, any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil, nil
	case map[string]any:
		typeName, ok := v[GenericRefTypeKey].(string)
		if !ok || typeName == "" {
			return nil, nil, gqlerr.New(gqlerr.KindInvalidInput, "field %s requires a %q key", field, GenericRefTypeKey)
		}
		id, ok := v[GenericRefIDKey]
		if !ok || id == nil {
			return nil, nil, gqlerr.New(gqlerr.KindInvalidInput, "field %s requires an %q key", field, GenericRefIDKey)
		}
		return &typeName, id, nil
	default:
		return nil, nil, gqlerr.New(gqlerr.KindInvalidInput, "field %s expects an object with %q and %q", field, GenericRefTypeKey, GenericRefIDKey)
	}
}

func anyOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func normKey(v any) string {
	return fmt.Sprint(v)
}
