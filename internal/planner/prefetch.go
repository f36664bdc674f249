package planner

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"modelql/internal/gqlerr"
	"modelql/internal/model"
	"modelql/internal/pagination"
	"modelql/internal/relmeta"
	"modelql/internal/sqlutil"
)

// PrefetchToOne builds the batched query for a to-one relation that was not
// folded into the parent SELECT. keys are the distinct parent-side key
// values; each result row carries its key under ParentKeyAlias.
func PrefetchToOne(ctx context.Context, rp *RelationPlan, keys []any) (SQLQuery, error) {
	if len(keys) == 0 {
		return SQLQuery{}, nil
	}
	child := rp.Plan.Node
	remote := sqlutil.QuoteIdentifier(rp.Info.RemoteColumn)

	qs := child.ApplyFilter(ctx, child.Query(ctx))
	for _, col := range rp.Plan.Columns {
		qs = qs.Column(sqlutil.QuoteIdentifier(col))
	}
	for _, ann := range rp.Plan.Annotations {
		qs = qs.Column(sq.Expr(fmt.Sprintf("%s AS %s", ann.Expression, sqlutil.QuoteIdentifier(ann.Alias)), ann.Args...))
	}
	qs = qs.
		Column(fmt.Sprintf("%s AS %s", remote, ParentKeyAlias)).
		Where(sq.Eq{remote: keys})

	sqlStr, args, err := qs.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: sqlStr, Args: args}, nil
}

// PrefetchByPK builds the batched lookup used for generic foreign keys once
// parent rows have been grouped by target type.
func PrefetchByPK(ctx context.Context, plan *OptimizationPlan, pks []any) (SQLQuery, error) {
	if len(pks) == 0 {
		return SQLQuery{}, nil
	}
	nt := plan.Node
	pk, ok := nt.Model.PrimaryKey()
	if !ok {
		return SQLQuery{}, gqlerr.New(gqlerr.KindConfig, "model %s has no primary key", nt.Model.Name)
	}

	qs := nt.ApplyFilter(ctx, nt.Query(ctx))
	for _, col := range plan.Columns {
		qs = qs.Column(sqlutil.QuoteIdentifier(col))
	}
	for _, ann := range plan.Annotations {
		qs = qs.Column(sq.Expr(fmt.Sprintf("%s AS %s", ann.Expression, sqlutil.QuoteIdentifier(ann.Alias)), ann.Args...))
	}
	qs = qs.Where(sq.Eq{sqlutil.QuoteIdentifier(pk.Name): pks})

	sqlStr, args, err := qs.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: sqlStr, Args: args}, nil
}

// PrefetchToMany builds the batched query for a to-many relation. When the
// relation is paginated, rows are sliced per parent partition with window
// functions; the per-partition total travels back as a result column so each
// parent's connection can report its own count.
func PrefetchToMany(ctx context.Context, rp *RelationPlan, parentModelName string, keys []any) (SQLQuery, error) {
	if len(keys) == 0 {
		return SQLQuery{}, nil
	}
	child := rp.Plan.Node
	childTable := sqlutil.QuoteIdentifier(child.Model.Table)

	qs := child.ApplyFilter(ctx, child.Query(ctx))

	var parentCol string
	switch rp.Info.Relation {
	case relmeta.ReverseOneToMany:
		parentCol = sqlutil.QuoteIdentifier(rp.Info.RemoteColumn)
	case relmeta.GenericOneToMany:
		parentCol = sqlutil.QuoteIdentifier(rp.Info.RemoteColumn)
		qs = qs.Where(sq.Eq{sqlutil.QuoteIdentifier(rp.Info.TypeColumn): parentModelName})
	case relmeta.ForwardManyToMany, relmeta.ReverseManyToMany:
		pk, ok := child.Model.PrimaryKey()
		if !ok {
			return SQLQuery{}, gqlerr.New(gqlerr.KindConfig, "model %s has no primary key", child.Model.Name)
		}
		through := sqlutil.QuoteIdentifier(rp.Info.Through)
		qs = qs.Join(fmt.Sprintf("%s ON %s.%s = %s.%s",
			through,
			through, sqlutil.QuoteIdentifier(rp.Info.RemoteColumn),
			childTable, sqlutil.QuoteIdentifier(pk.Name)))
		parentCol = through + "." + sqlutil.QuoteIdentifier(rp.Info.LocalColumn)
	default:
		return SQLQuery{}, gqlerr.New(gqlerr.KindConfig, "relation %s is not a to-many relation", rp.Key)
	}

	qualify := rp.Info.Relation == relmeta.ForwardManyToMany || rp.Info.Relation == relmeta.ReverseManyToMany
	columnRef := func(col string) string {
		quoted := sqlutil.QuoteIdentifier(col)
		if qualify {
			return childTable + "." + quoted
		}
		return quoted
	}

	for _, col := range rp.Plan.Columns {
		qs = qs.Column(columnRef(col))
	}
	for _, ann := range rp.Plan.Annotations {
		qs = qs.Column(sq.Expr(fmt.Sprintf("%s AS %s", ann.Expression, sqlutil.QuoteIdentifier(ann.Alias)), ann.Args...))
	}
	qs = qs.Column(fmt.Sprintf("%s AS %s", parentCol, ParentKeyAlias))
	qs = qs.Where(sq.Expr(fmt.Sprintf("%s IN (%s)", parentCol, sq.Placeholders(len(keys))), keys...))

	ordering := orderClause(child.Model, columnRef)

	if rp.Pagination == nil || !rp.Pagination.Windowed() {
		qs = qs.OrderBy(ParentKeyAlias, ordering)
		sqlStr, args, err := qs.PlaceholderFormat(sq.Question).ToSql()
		if err != nil {
			return SQLQuery{}, err
		}
		return SQLQuery{SQL: sqlStr, Args: args}, nil
	}

	win := rp.Pagination.PaginatePrefetch([]string{parentCol}, ordering)
	for _, expr := range win.SelectExprs {
		qs = qs.Column(expr)
	}

	innerSQL, innerArgs, err := qs.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}

	outerCols := make([]string, 0, len(rp.Plan.Columns)+len(rp.Plan.Annotations)+2)
	for _, col := range rp.Plan.Columns {
		outerCols = append(outerCols, sqlutil.QuoteIdentifier(col))
	}
	for _, ann := range rp.Plan.Annotations {
		outerCols = append(outerCols, sqlutil.QuoteIdentifier(ann.Alias))
	}
	outerCols = append(outerCols, ParentKeyAlias, pagination.PartitionTotalAlias)

	query := fmt.Sprintf(
		"SELECT %s FROM (%s) AS %s WHERE %s ORDER BY %s, %s",
		strings.Join(outerCols, ", "),
		innerSQL,
		windowSubqueryAlias,
		win.FilterSQL,
		ParentKeyAlias,
		pagination.RowNumberAlias,
	)
	args := append(append([]any{}, innerArgs...), win.FilterArgs...)
	return SQLQuery{SQL: query, Args: args}, nil
}

const windowSubqueryAlias = "__window"

// orderClause renders a model's default ordering, honoring a leading '-' for
// descending columns.
func orderClause(m *model.Model, columnRef func(string) string) string {
	clauses := make([]string, 0, len(m.OrderingColumns()))
	for _, col := range m.OrderingColumns() {
		direction := "ASC"
		if strings.HasPrefix(col, "-") {
			direction = "DESC"
			col = col[1:]
		}
		clauses = append(clauses, columnRef(col)+" "+direction)
	}
	return strings.Join(clauses, ", ")
}
