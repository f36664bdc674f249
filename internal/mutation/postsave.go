package mutation

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"modelql/internal/dbexec"
	"modelql/internal/gqlerr"
	"modelql/internal/model"
	"modelql/internal/relmeta"
	"modelql/internal/sqlutil"
)

// runPostSave applies deferred relation assignments once the owning row's
// primary key is known. Ops arrive in the deterministic order preSave
// produced them.
func (s *Saver) runPostSave(ctx context.Context, exec dbexec.QueryExecutor, m *model.Model, pk any, ops []postSaveOp) error {
	for _, op := range ops {
		var err error
		switch op.info.Relation {
		case relmeta.ReverseOneToOne:
			err = s.assignReverseOneToOne(ctx, exec, pk, op)
		case relmeta.ReverseOneToMany:
			err = s.assignReverseOneToMany(ctx, exec, pk, op)
		case relmeta.GenericOneToMany:
			err = s.assignGenericRelation(ctx, exec, m, pk, op)
		case relmeta.ForwardManyToMany, relmeta.ReverseManyToMany:
			err = s.assignManyToMany(ctx, exec, pk, op)
		default:
			err = gqlerr.New(gqlerr.KindInvalidInput, "relation %s cannot be assigned after save", op.field)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// assignReverseOneToOne points the single child row at the owner: nil
// disconnects the current child, a key repoints an existing row, and a map
// creates or updates one.
func (s *Saver) assignReverseOneToOne(ctx context.Context, exec dbexec.QueryExecutor, pk any, op postSaveOp) error {
	child := op.info.RelatedModel
	fkCol := op.info.RemoteColumn

	if op.value == nil {
		if !op.info.Nullable {
			return gqlerr.New(gqlerr.KindInvalidInput, "field %s cannot be cleared: %s.%s is not nullable",
				op.field, child.Name, fkCol)
		}
		return s.clearChildren(ctx, exec, child, fkCol, pk, nil)
	}

	// Disconnect whichever row currently points here before attaching the
	// new one, so the one-to-one unique constraint cannot trip. A child whose
	// foreign key cannot hold NULL is deleted instead, sparing the incoming
	// child when it already occupies the slot.
	if op.info.Nullable {
		if err := s.clearChildren(ctx, exec, child, fkCol, pk, nil); err != nil {
			return err
		}
	} else {
		var except []any
		switch v := op.value.(type) {
		case map[string]any:
			if pkCol, ok := child.PrimaryKey(); ok {
				if id, has := v[pkCol.Name]; has && id != nil {
					except = append(except, id)
				}
			}
		default:
			except = append(except, op.value)
		}
		if err := s.deleteChildrenExcept(ctx, exec, child, fkCol, pk, except); err != nil {
			return err
		}
	}
	_, err := s.attachChild(ctx, exec, child, fkCol, pk, op.value)
	return err
}

// assignReverseOneToMany replaces the full child set: listed children are
// attached (created, updated, or repointed), and rows previously attached
// but absent from the list are deleted.
func (s *Saver) assignReverseOneToMany(ctx context.Context, exec dbexec.QueryExecutor, pk any, op postSaveOp) error {
	elements, err := listValue(op.field, op.value)
	if err != nil {
		return err
	}
	child := op.info.RelatedModel
	fkCol := op.info.RemoteColumn

	kept := make([]any, 0, len(elements))
	for _, element := range elements {
		childPK, err := s.attachChild(ctx, exec, child, fkCol, pk, element)
		if err != nil {
			return err
		}
		kept = append(kept, childPK)
	}

	return s.deleteChildrenExcept(ctx, exec, child, fkCol, pk, kept)
}

// assignGenericRelation attaches the listed rows to the owner through the
// type/id column pair. Rows previously attached but absent from the list are
// left pointing at the owner untouched; the attached model may serve
// unrelated owners of other types, so nothing is deleted or detached here.
func (s *Saver) assignGenericRelation(ctx context.Context, exec dbexec.QueryExecutor, m *model.Model, pk any, op postSaveOp) error {
	elements, err := listValue(op.field, op.value)
	if err != nil {
		return err
	}
	child := op.info.RelatedModel
	preset := map[string]any{
		op.info.TypeColumn: m.Name,
		op.info.IDColumn:   pk,
	}

	for _, element := range elements {
		switch v := element.(type) {
		case map[string]any:
			if _, err := s.getOrCreate(ctx, exec, child, v, preset); err != nil {
				return err
			}
		default:
			pkCol, _ := child.PrimaryKey()
			if err := s.ensureExists(ctx, exec, child, pkCol.Name, v); err != nil {
				return err
			}
			if err := s.Update(ctx, exec, child, v, map[string]any{
				op.info.TypeColumn: m.Name,
				op.info.IDColumn:   pk,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// assignManyToMany replaces junction membership wholesale. Target rows are
// created when given as nested input but never deleted when dropped; only
// junction rows change.
func (s *Saver) assignManyToMany(ctx context.Context, exec dbexec.QueryExecutor, pk any, op postSaveOp) error {
	elements, err := listValue(op.field, op.value)
	if err != nil {
		return err
	}
	target := op.info.RelatedModel

	targetPKs := make([]any, 0, len(elements))
	for _, element := range elements {
		switch v := element.(type) {
		case map[string]any:
			targetPK, err := s.getOrCreate(ctx, exec, target, v, nil)
			if err != nil {
				return err
			}
			targetPKs = append(targetPKs, targetPK)
		default:
			pkCol, _ := target.PrimaryKey()
			if err := s.ensureExists(ctx, exec, target, pkCol.Name, v); err != nil {
				return err
			}
			targetPKs = append(targetPKs, v)
		}
	}

	through := sqlutil.QuoteIdentifier(op.info.Through)
	localCol := sqlutil.QuoteIdentifier(op.info.LocalColumn)
	remoteCol := sqlutil.QuoteIdentifier(op.info.RemoteColumn)

	delQuery, delArgs, err := sq.Delete(through).
		Where(sq.Eq{localCol: pk}).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := exec.ExecContext(ctx, delQuery, delArgs...); err != nil {
		return translateError(err, target)
	}

	if len(targetPKs) == 0 {
		return nil
	}

	insert := sq.Insert(through).Columns(localCol, remoteCol)
	for _, targetPK := range targetPKs {
		insert = insert.Values(pk, targetPK)
	}
	insQuery, insArgs, err := insert.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return err
	}
	if _, err := exec.ExecContext(ctx, insQuery, insArgs...); err != nil {
		return translateError(err, target)
	}
	return nil
}

// attachChild resolves one child element of a reverse relation and points
// its foreign key at the owner, returning the child's primary key.
func (s *Saver) attachChild(ctx context.Context, exec dbexec.QueryExecutor, child *model.Model, fkCol string, parent any, element any) (any, error) {
	preset := map[string]any{fkCol: parent}
	switch v := element.(type) {
	case map[string]any:
		return s.getOrCreate(ctx, exec, child, v, preset)
	default:
		pkCol, ok := child.PrimaryKey()
		if !ok {
			return nil, gqlerr.New(gqlerr.KindConfig, "model %s has no primary key", child.Name)
		}
		if err := s.ensureExists(ctx, exec, child, pkCol.Name, v); err != nil {
			return nil, err
		}
		if err := s.Update(ctx, exec, child, v, preset); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// clearChildren nulls the foreign key of rows pointing at the owner,
// optionally sparing the listed child keys.
func (s *Saver) clearChildren(ctx context.Context, exec dbexec.QueryExecutor, child *model.Model, fkCol string, parent any, except []any) error {
	builder := sq.Update(sqlutil.QuoteIdentifier(child.Table)).
		Set(sqlutil.QuoteIdentifier(fkCol), nil).
		Where(sq.Eq{sqlutil.QuoteIdentifier(fkCol): parent})
	if len(except) > 0 {
		pkCol, _ := child.PrimaryKey()
		builder = builder.Where(sq.NotEq{sqlutil.QuoteIdentifier(pkCol.Name): except})
	}
	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return err
	}
	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return translateError(err, child)
	}
	return nil
}

// deleteChildrenExcept removes rows still pointing at the owner whose keys
// are not in the replacement set.
func (s *Saver) deleteChildrenExcept(ctx context.Context, exec dbexec.QueryExecutor, child *model.Model, fkCol string, parent any, kept []any) error {
	pkCol, ok := child.PrimaryKey()
	if !ok {
		return gqlerr.New(gqlerr.KindConfig, "model %s has no primary key", child.Name)
	}
	builder := sq.Delete(sqlutil.QuoteIdentifier(child.Table)).
		Where(sq.Eq{sqlutil.QuoteIdentifier(fkCol): parent})
	if len(kept) > 0 {
		builder = builder.Where(sq.NotEq{sqlutil.QuoteIdentifier(pkCol.Name): kept})
	}
	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return err
	}
	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return translateError(err, child)
	}
	return nil
}

func listValue(field string, value any) ([]any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case []map[string]any:
		elements := make([]any, len(v))
		for i := range v {
			elements[i] = v[i]
		}
		return elements, nil
	default:
		return nil, gqlerr.New(gqlerr.KindInvalidInput, "field %s expects a list, got %T", field, value)
	}
}
