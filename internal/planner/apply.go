package planner

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"modelql/internal/sqlutil"
)

// JoinAliasSeparator separates the relation key from the column name in the
// aliases of join-fetched to-one columns.
const JoinAliasSeparator = "__"

// JoinEligible reports whether the relation can be folded into the parent's
// SELECT instead of a separate query. Only forward to-one relations qualify,
// and only when the target type has no base query hooks and the sub-plan needs
// nothing beyond plain columns.
func (rp *RelationPlan) JoinEligible() bool {
	if rp.Plan == nil || rp.Info.Relation.ToMany() || !rp.Info.Relation.IsForward() {
		return false
	}
	if rp.Info.Relation.IsGenericForeignKey() {
		return false
	}
	if rp.Plan.Node.HasQueryHooks() {
		return false
	}
	return len(rp.Plan.Relations) == 0 && len(rp.Plan.Annotations) == 0
}

// ApplyRoot builds the SELECT for the plan's own rows. Join-eligible to-one
// relations are attached as LEFT JOINs with key-prefixed column aliases;
// everything else is left for batched prefetch queries.
func ApplyRoot(ctx context.Context, plan *OptimizationPlan) (sq.SelectBuilder, error) {
	nt := plan.Node
	qs := nt.ApplyFilter(ctx, nt.Query(ctx))

	joins := joinRelations(plan)

	for _, col := range plan.Columns {
		qs = qs.Column(RootColumnRef(plan, col))
	}
	for _, ann := range plan.Annotations {
		qs = qs.Column(sq.Expr(
			fmt.Sprintf("%s AS %s", ann.Expression, sqlutil.QuoteIdentifier(ann.Alias)),
			ann.Args...))
	}

	parentTable := sqlutil.QuoteIdentifier(nt.Model.Table)
	for _, rp := range joins {
		alias := sqlutil.QuoteIdentifier(rp.Key)
		childTable := sqlutil.QuoteIdentifier(rp.Plan.Node.Model.Table)
		qs = qs.LeftJoin(fmt.Sprintf("%s AS %s ON %s.%s = %s.%s",
			childTable, alias,
			alias, sqlutil.QuoteIdentifier(rp.Info.RemoteColumn),
			parentTable, sqlutil.QuoteIdentifier(rp.Info.LocalColumn)))
		for _, col := range rp.Plan.Columns {
			qs = qs.Column(fmt.Sprintf("%s.%s AS %s",
				alias, sqlutil.QuoteIdentifier(col),
				sqlutil.QuoteIdentifier(rp.Key+JoinAliasSeparator+col)))
		}
	}

	return qs.PlaceholderFormat(sq.Question), nil
}

// RootColumnRef returns the SQL reference for one of the plan's own columns,
// qualified with the table name when joins make bare names ambiguous.
func RootColumnRef(plan *OptimizationPlan, col string) string {
	quoted := sqlutil.QuoteIdentifier(col)
	if len(joinRelations(plan)) == 0 {
		return quoted
	}
	return sqlutil.QuoteIdentifier(plan.Node.Model.Table) + "." + quoted
}

func joinRelations(plan *OptimizationPlan) []*RelationPlan {
	var joins []*RelationPlan
	for _, rp := range plan.Relations {
		if rp.JoinEligible() {
			joins = append(joins, rp)
		}
	}
	return joins
}
