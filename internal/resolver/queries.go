package resolver

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/graphql-go/graphql"

	"modelql/internal/gqlerr"
	"modelql/internal/nodeid"
	"modelql/internal/pagination"
	"modelql/internal/planner"
	"modelql/internal/schema"
)

func (r *Resolver) makeSingleResolver(nt *schema.NodeType) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (out interface{}, err error) {
		ctx, span := startResolverSpan(p.Context, "query.single", nt.Name)
		defer func() { finishResolverSpan(span, err) }()

		field := firstFieldAST(p.Info.FieldASTs)
		if err = planner.Guard(field, p.Info.Fragments, r.maxLimit, r.limits); err != nil {
			return nil, err
		}

		pk, err := r.decodeIDArg(nt, p.Args["id"])
		if err != nil {
			return nil, err
		}

		plan, err := planner.Compile(r.schema, nt, planner.CompileInput{
			Field:     field,
			Fragments: p.Info.Fragments,
			Variables: p.Info.VariableValues,
			MaxLimit:  r.maxLimit,
		})
		if err != nil {
			return nil, err
		}

		pkCol, _ := nt.Model.PrimaryKey()
		rows, err := r.fetchPlanRows(ctx, plan, func(qs sq.SelectBuilder) (sq.SelectBuilder, error) {
			return qs.Where(sq.Eq{planner.RootColumnRef(plan, pkCol.Name): pk}), nil
		})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return rows[0], nil
	}
}

func (r *Resolver) makeConnectionResolver(nt *schema.NodeType) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (out interface{}, err error) {
		ctx, span := startResolverSpan(p.Context, "query.connection", nt.Name)
		defer func() { finishResolverSpan(span, err) }()

		field := firstFieldAST(p.Info.FieldASTs)
		if err = planner.Guard(field, p.Info.Fragments, r.maxLimit, r.limits); err != nil {
			return nil, err
		}

		maxLimit := r.maxLimit
		args, err := pagination.FromConnectionParams(pagination.Params{
			First:    intArgValue(p.Args, "first"),
			Last:     intArgValue(p.Args, "last"),
			Offset:   intArgValue(p.Args, "offset"),
			After:    stringArgValue(p.Args, "after"),
			Before:   stringArgValue(p.Args, "before"),
			MaxLimit: &maxLimit,
		})
		if err != nil {
			return nil, err
		}

		plan, err := planner.Compile(r.schema, nt, planner.CompileInput{
			Field:      field,
			Fragments:  p.Info.Fragments,
			Variables:  p.Info.VariableValues,
			Connection: true,
			MaxLimit:   r.maxLimit,
		})
		if err != nil {
			return nil, err
		}

		exec := r.queryExecutorForContext(ctx)
		rows, err := r.fetchPlanRows(ctx, plan, func(qs sq.SelectBuilder) (sq.SelectBuilder, error) {
			return args.PaginateQuery(ctx, exec, qs)
		})
		if err != nil {
			return nil, err
		}
		return connectionFromArgs(rows, args), nil
	}
}

// decodeIDArg accepts either a global node id or a raw primary key value.
// Global ids must name the expected type.
func (r *Resolver) decodeIDArg(nt *schema.NodeType, raw any) (any, error) {
	if raw == nil {
		return nil, gqlerr.New(gqlerr.KindInvalidInput, "argument 'id' is required")
	}
	s := fmt.Sprint(raw)
	typename, pk, err := nodeid.Decode(s)
	if err != nil {
		return s, nil
	}
	if typename != nt.Name {
		return nil, gqlerr.New(gqlerr.KindInvalidInput, "id names type %s, expected %s", typename, nt.Name)
	}
	return pk, nil
}
