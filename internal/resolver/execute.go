package resolver

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"modelql/internal/gqlerr"
	"modelql/internal/observability"
	"modelql/internal/pagination"
	"modelql/internal/planner"
	"modelql/internal/relmeta"
)

// queryModifier adjusts the root base query after plan application, e.g. a
// primary key filter or top-level pagination.
type queryModifier func(qs sq.SelectBuilder) (sq.SelectBuilder, error)

// fetchPlanRows runs a compiled plan end to end: root query, joined to-one
// splitting, then one batched prefetch per remaining relation.
func (r *Resolver) fetchPlanRows(ctx context.Context, plan *planner.OptimizationPlan, modify queryModifier) ([]map[string]any, error) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("graphql.plan", plan.String()))

	qs, err := planner.ApplyRoot(ctx, plan)
	if err != nil {
		return nil, err
	}
	if modify != nil {
		if qs, err = modify(qs); err != nil {
			return nil, err
		}
	}

	sqlStr, args, err := qs.ToSql()
	if err != nil {
		return nil, gqlerr.Wrap(gqlerr.KindInternal, err, "building query for %s", plan.Node.Name)
	}

	rows, err := r.queryExecutorForContext(ctx).QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, gqlerr.Wrap(gqlerr.KindInternal, err, "querying %s", plan.Node.Name)
	}
	results, err := scanRows(rows)
	if err != nil {
		return nil, gqlerr.Wrap(gqlerr.KindInternal, err, "reading %s rows", plan.Node.Name)
	}

	assembleJoined(plan, results)

	if metrics := observability.GraphQLMetricsFromContext(ctx); metrics != nil {
		metrics.RecordResultsCount(ctx, int64(len(results)), "query")
	}

	if err := r.resolveRelations(ctx, plan, results); err != nil {
		return nil, err
	}
	return results, nil
}

// assembleJoined splits key-prefixed join columns out of each row into a
// nested map under the relation's response key. A missed LEFT JOIN (nil
// child primary key) leaves the field nil.
func assembleJoined(plan *planner.OptimizationPlan, rows []map[string]any) {
	for _, rp := range plan.Relations {
		if !rp.JoinEligible() {
			continue
		}
		prefix := rp.Key + planner.JoinAliasSeparator
		childPK := ""
		if pk, ok := rp.Plan.Node.Model.PrimaryKey(); ok {
			childPK = pk.Name
		}
		for _, row := range rows {
			child := make(map[string]any, len(rp.Plan.Columns))
			for _, col := range rp.Plan.Columns {
				alias := prefix + col
				child[col] = row[alias]
				delete(row, alias)
			}
			if childPK != "" && child[childPK] == nil {
				row[rp.Key] = nil
				continue
			}
			row[rp.Key] = child
		}
	}
}

// resolveRelations fills in every non-joined relation with one batched query
// per relation path, recursing into the fetched child rows.
func (r *Resolver) resolveRelations(ctx context.Context, plan *planner.OptimizationPlan, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	for _, rp := range plan.Relations {
		if rp.JoinEligible() {
			continue
		}
		var err error
		switch {
		case rp.Info.Relation == relmeta.GenericManyToOne:
			err = r.resolveGenericToOne(ctx, rp, rows)
		case rp.ToMany():
			err = r.resolveToMany(ctx, plan, rp, rows)
		default:
			err = r.resolveToOne(ctx, rp, rows)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) resolveToOne(ctx context.Context, rp *planner.RelationPlan, rows []map[string]any) error {
	keys := distinctKeys(rows, rp.Info.LocalColumn)
	if len(keys) == 0 {
		for _, row := range rows {
			row[rp.Key] = nil
		}
		return nil
	}

	query, err := planner.PrefetchToOne(ctx, rp, keys)
	if err != nil {
		return err
	}
	children, err := r.runPrefetch(ctx, rp.Plan.Node.Name, "to_one", len(keys), query)
	if err != nil {
		return err
	}

	byKey := make(map[string]map[string]any, len(children))
	for _, child := range children {
		key := normKey(child[planner.ParentKeyAlias])
		delete(child, planner.ParentKeyAlias)
		byKey[key] = child
	}
	if err := r.resolveRelations(ctx, rp.Plan, children); err != nil {
		return err
	}

	for _, row := range rows {
		val := row[rp.Info.LocalColumn]
		if val == nil {
			row[rp.Key] = nil
			continue
		}
		if child, ok := byKey[normKey(val)]; ok {
			row[rp.Key] = child
		} else {
			row[rp.Key] = nil
		}
	}
	return nil
}

func (r *Resolver) resolveToMany(ctx context.Context, parent *planner.OptimizationPlan, rp *planner.RelationPlan, rows []map[string]any) error {
	keys := distinctKeys(rows, rp.Info.LocalColumn)

	var children []map[string]any
	if len(keys) > 0 {
		query, err := planner.PrefetchToMany(ctx, rp, parent.Node.Model.Name, keys)
		if err != nil {
			return err
		}
		if children, err = r.runPrefetch(ctx, rp.Plan.Node.Name, "to_many", len(keys), query); err != nil {
			return err
		}
	}

	grouped := make(map[string][]map[string]any)
	totals := make(map[string]int)
	windowed := rp.Pagination != nil && rp.Pagination.Windowed()
	for _, child := range children {
		key := normKey(child[planner.ParentKeyAlias])
		delete(child, planner.ParentKeyAlias)
		if windowed {
			if total, ok := toInt(child[pagination.PartitionTotalAlias]); ok {
				totals[key] = total
			}
			delete(child, pagination.PartitionTotalAlias)
		}
		grouped[key] = append(grouped[key], child)
	}
	if err := r.resolveRelations(ctx, rp.Plan, children); err != nil {
		return err
	}

	for _, row := range rows {
		key := normKey(row[rp.Info.LocalColumn])
		nodes := grouped[key]
		if !rp.Field.Connection {
			if nodes == nil {
				nodes = []map[string]any{}
			}
			row[rp.Key] = nodes
			continue
		}
		total, ok := totals[key]
		if !ok {
			total = len(nodes)
		}
		start := 0
		if windowed {
			start, _ = rp.Pagination.Window(total)
		}
		row[rp.Key] = connectionResult(nodes, total, start)
	}
	return nil
}

// resolveGenericToOne resolves a generic foreign key: rows are grouped by
// their type column and each concrete target type gets its own compiled plan
// and primary key batch.
func (r *Resolver) resolveGenericToOne(ctx context.Context, rp *planner.RelationPlan, rows []map[string]any) error {
	byType := make(map[string][]map[string]any)
	for _, row := range rows {
		typeVal := row[rp.Info.TypeColumn]
		if typeVal == nil || row[rp.Info.IDColumn] == nil {
			row[rp.Key] = nil
			continue
		}
		name := fmt.Sprint(typeVal)
		byType[name] = append(byType[name], row)
	}

	typeNames := make([]string, 0, len(byType))
	for name := range byType {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)

	for _, modelName := range typeNames {
		parents := byType[modelName]
		nt, err := r.schema.NodeByModel(modelName)
		if err != nil {
			return gqlerr.Wrap(gqlerr.KindConfig, err, "generic relation %s references unknown model %s", rp.Key, modelName)
		}
		childPlan, err := planner.Compile(r.schema, nt, planner.CompileInput{
			Field:    rp.FieldAST,
			MaxLimit: r.maxLimit,
		})
		if err != nil {
			return err
		}

		pks := distinctKeys(parents, rp.Info.IDColumn)
		query, err := planner.PrefetchByPK(ctx, childPlan, pks)
		if err != nil {
			return err
		}
		children, err := r.runPrefetch(ctx, nt.Name, "generic_to_one", len(pks), query)
		if err != nil {
			return err
		}
		if err := r.resolveRelations(ctx, childPlan, children); err != nil {
			return err
		}
		for _, child := range children {
			child[typenameKey] = nt.Name
		}

		pkCol, _ := nt.Model.PrimaryKey()
		byPK := make(map[string]map[string]any, len(children))
		for _, child := range children {
			byPK[normKey(child[pkCol.Name])] = child
		}
		for _, row := range parents {
			if child, ok := byPK[normKey(row[rp.Info.IDColumn])]; ok {
				row[rp.Key] = child
			} else {
				row[rp.Key] = nil
			}
		}
	}
	return nil
}

func (r *Resolver) runPrefetch(ctx context.Context, typeName, relationKind string, parentCount int, query planner.SQLQuery) ([]map[string]any, error) {
	rows, err := r.queryExecutorForContext(ctx).QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, gqlerr.Wrap(gqlerr.KindInternal, err, "prefetching %s", typeName)
	}
	results, err := scanRows(rows)
	if err != nil {
		return nil, gqlerr.Wrap(gqlerr.KindInternal, err, "reading %s rows", typeName)
	}
	if metrics := observability.GraphQLMetricsFromContext(ctx); metrics != nil {
		metrics.RecordBatchParentCount(ctx, int64(parentCount), relationKind)
		metrics.RecordBatchResultRows(ctx, int64(len(results)), relationKind)
		// One batched query replaces a query per parent.
		metrics.RecordBatchQueriesSaved(ctx, int64(parentCount-1), relationKind)
	}
	return results, nil
}

// distinctKeys collects the distinct non-nil values of one column across
// rows, preserving first-seen order.
func distinctKeys(rows []map[string]any, column string) []any {
	var keys []any
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		val := row[column]
		if val == nil {
			continue
		}
		norm := normKey(val)
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		keys = append(keys, val)
	}
	return keys
}

// normKey normalizes scanned values for map keying; the driver may return
// the same key as int64 on one path and as a string on another.
func normKey(v any) string {
	return fmt.Sprint(v)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
