package resolver

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/graphql-go/graphql"

	"modelql/internal/dbexec"
	"modelql/internal/gqlerr"
	"modelql/internal/mutation"
	"modelql/internal/nodeid"
	"modelql/internal/planner"
	"modelql/internal/relmeta"
	"modelql/internal/schema"
	"modelql/internal/sqltype"
)

func (r *Resolver) addNodeMutations(fields graphql.Fields, nt *schema.NodeType) error {
	objType := r.objectTypes[nt.Name]
	if objType == nil {
		return gqlerr.New(gqlerr.KindConfig, "no object type built for %s", nt.Name)
	}
	if _, hasPK := nt.Model.PrimaryKey(); !hasPK {
		return nil
	}
	if r.MutationFilter != nil && !r.MutationFilter(nt.Model.Table) {
		return nil
	}

	createInput := r.buildSaveInputType(nt, nt.Name+"CreateInput", false)
	updateInput := r.buildSaveInputType(nt, nt.Name+"UpdateInput", true)
	idArg := graphql.FieldConfigArgument{
		"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
	}

	fields["create"+nt.Name] = &graphql.Field{
		Type: objType,
		Args: graphql.FieldConfigArgument{
			"input": &graphql.ArgumentConfig{Type: graphql.NewNonNull(createInput)},
		},
		Resolve: r.makeCreateResolver(nt),
	}
	fields["update"+nt.Name] = &graphql.Field{
		Type: objType,
		Args: graphql.FieldConfigArgument{
			"id":    idArg["id"],
			"input": &graphql.ArgumentConfig{Type: graphql.NewNonNull(updateInput)},
		},
		Resolve: r.makeUpdateResolver(nt),
	}
	fields["delete"+nt.Name] = &graphql.Field{
		Type:    graphql.NewNonNull(r.deletePayloadType()),
		Args:    idArg,
		Resolve: r.makeDeleteResolver(nt),
	}
	fields["create"+nt.Name+"Many"] = &graphql.Field{
		Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.ID))),
		Args: graphql.FieldConfigArgument{
			"inputs": &graphql.ArgumentConfig{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(createInput))),
			},
		},
		Resolve: r.makeCreateManyResolver(nt),
	}
	fields["update"+nt.Name+"Many"] = &graphql.Field{
		Type: graphql.NewNonNull(graphql.Int),
		Args: graphql.FieldConfigArgument{
			"inputs": &graphql.ArgumentConfig{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(updateInput))),
			},
		},
		Resolve: r.makeUpdateManyResolver(nt),
	}
	return nil
}

// buildSaveInputType declares the create or update input for a node: one
// optional field per writable column plus one per relation. Relation fields
// take reference inputs so nested writes stay one level deep.
func (r *Resolver) buildSaveInputType(nt *schema.NodeType, typeName string, forUpdate bool) *graphql.InputObject {
	return graphql.NewInputObject(graphql.InputObjectConfig{
		Name: typeName,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{}
			pkCol, hasPK := nt.Model.PrimaryKey()

			if hasPK && forUpdate {
				// Used by the bulk update mutation to address each row.
				fields["id"] = &graphql.InputObjectFieldConfig{Type: graphql.ID}
			}

			for _, name := range nt.FieldNames() {
				fd, _ := nt.Field(name)
				switch fd.Kind {
				case schema.FieldColumn:
					col, ok := nt.Model.ColumnNamed(fd.Column)
					if !ok || col.Generated {
						continue
					}
					if hasPK && fd.Column == pkCol.Name {
						if !forUpdate {
							fields["id"] = &graphql.InputObjectFieldConfig{Type: graphql.ID}
						}
						continue
					}
					fields[fd.Name] = &graphql.InputObjectFieldConfig{
						Type: gqlScalar(sqltype.MapToGraphQL(col.SQLType)),
					}
				case schema.FieldRelation:
					if input := r.relationInputType(nt, fd); input != nil {
						fields[fd.Name] = &graphql.InputObjectFieldConfig{Type: input}
					}
				}
			}
			return fields
		}),
	})
}

func (r *Resolver) relationInputType(nt *schema.NodeType, fd schema.FieldDescriptor) graphql.Input {
	info, ok := nt.RelationInfo(fd.Relation)
	if !ok {
		return nil
	}
	if info.Relation == relmeta.GenericManyToOne {
		return r.genericRefInputType()
	}
	related, err := r.schema.NodeByModel(info.RelatedModel.Name)
	if err != nil {
		return nil
	}
	ref := r.refInputType(related)
	if info.Relation.ToMany() {
		return graphql.NewList(graphql.NewNonNull(ref))
	}
	return ref
}

// refInputType is the one-level reference input for a node: an id to attach
// an existing row, or column values to create one in place.
func (r *Resolver) refInputType(nt *schema.NodeType) *graphql.InputObject {
	typeName := nt.Name + "RefInput"
	if cached, ok := r.refInputTypes[typeName]; ok {
		return cached
	}

	input := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: typeName,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{
				"id": &graphql.InputObjectFieldConfig{Type: graphql.ID},
			}
			pkCol, hasPK := nt.Model.PrimaryKey()
			for _, name := range nt.FieldNames() {
				fd, _ := nt.Field(name)
				if fd.Kind != schema.FieldColumn {
					continue
				}
				col, ok := nt.Model.ColumnNamed(fd.Column)
				if !ok || col.Generated {
					continue
				}
				if hasPK && fd.Column == pkCol.Name {
					continue
				}
				fields[fd.Name] = &graphql.InputObjectFieldConfig{
					Type: gqlScalar(sqltype.MapToGraphQL(col.SQLType)),
				}
			}
			return fields
		}),
	})
	r.refInputTypes[typeName] = input
	return input
}

func (r *Resolver) genericRefInputType() *graphql.InputObject {
	if r.genericRefInput != nil {
		return r.genericRefInput
	}
	r.genericRefInput = graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "GenericRefInput",
		Fields: graphql.InputObjectConfigFieldMap{
			mutation.GenericRefTypeKey: &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
			mutation.GenericRefIDKey:   &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.ID)},
		},
	})
	return r.genericRefInput
}

func (r *Resolver) deletePayloadType() *graphql.Object {
	if r.deletePayload != nil {
		return r.deletePayload
	}
	r.deletePayload = graphql.NewObject(graphql.ObjectConfig{
		Name: "DeletePayload",
		Fields: graphql.Fields{
			"success":   &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"deletedId": &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		},
	})
	return r.deletePayload
}

// withMutation runs fn inside the request's mutation transaction. When no
// transaction middleware is installed, one is opened and finalized here.
func (r *Resolver) withMutation(ctx context.Context, fn func(ctx context.Context, exec dbexec.QueryExecutor) (any, error)) (any, error) {
	if mc := mutation.FromContext(ctx); mc != nil {
		out, err := fn(ctx, mc.Tx())
		if err != nil {
			mc.MarkError()
		}
		return out, err
	}

	beginner, ok := r.executor.(dbexec.TxBeginner)
	if !ok {
		return fn(ctx, r.executor)
	}
	tx, err := beginner.BeginTx(ctx)
	if err != nil {
		return nil, gqlerr.Wrap(gqlerr.KindInternal, err, "beginning transaction")
	}
	mc := mutation.NewContext(tx)
	out, err := fn(mutation.WithContext(ctx, mc), tx)
	if err != nil {
		mc.MarkError()
	}
	if ferr := mc.Finalize(); ferr != nil && err == nil {
		return nil, gqlerr.Wrap(gqlerr.KindInternal, ferr, "committing transaction")
	}
	return out, err
}

func (r *Resolver) makeCreateResolver(nt *schema.NodeType) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (out interface{}, err error) {
		ctx, span := startResolverSpan(p.Context, "mutation.create", nt.Name)
		defer func() { finishResolverSpan(span, err) }()

		input, err := r.translateInput(nt, inputArg(p.Args, "input"))
		if err != nil {
			return nil, err
		}
		return r.withMutation(ctx, func(ctx context.Context, exec dbexec.QueryExecutor) (any, error) {
			pk, err := r.saver.Create(ctx, exec, nt.Model, input)
			if err != nil {
				return nil, err
			}
			return r.refetchRow(ctx, nt, p, pk)
		})
	}
}

func (r *Resolver) makeUpdateResolver(nt *schema.NodeType) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (out interface{}, err error) {
		ctx, span := startResolverSpan(p.Context, "mutation.update", nt.Name)
		defer func() { finishResolverSpan(span, err) }()

		pk, err := r.decodeIDArg(nt, p.Args["id"])
		if err != nil {
			return nil, err
		}
		input, err := r.translateInput(nt, inputArg(p.Args, "input"))
		if err != nil {
			return nil, err
		}
		return r.withMutation(ctx, func(ctx context.Context, exec dbexec.QueryExecutor) (any, error) {
			if err := r.saver.Update(ctx, exec, nt.Model, pk, input); err != nil {
				return nil, err
			}
			return r.refetchRow(ctx, nt, p, pk)
		})
	}
}

func (r *Resolver) makeDeleteResolver(nt *schema.NodeType) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (out interface{}, err error) {
		ctx, span := startResolverSpan(p.Context, "mutation.delete", nt.Name)
		defer func() { finishResolverSpan(span, err) }()

		pk, err := r.decodeIDArg(nt, p.Args["id"])
		if err != nil {
			return nil, err
		}
		return r.withMutation(ctx, func(ctx context.Context, exec dbexec.QueryExecutor) (any, error) {
			if err := r.saver.Delete(ctx, exec, nt.Model, pk); err != nil {
				return nil, err
			}
			return map[string]any{
				"success":   true,
				"deletedId": nodeid.Encode(nt.Name, pk),
			}, nil
		})
	}
}

func (r *Resolver) makeCreateManyResolver(nt *schema.NodeType) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (out interface{}, err error) {
		ctx, span := startResolverSpan(p.Context, "mutation.createMany", nt.Name)
		defer func() { finishResolverSpan(span, err) }()

		inputs, err := r.translateInputs(nt, p.Args["inputs"])
		if err != nil {
			return nil, err
		}
		return r.withMutation(ctx, func(ctx context.Context, exec dbexec.QueryExecutor) (any, error) {
			pks, err := r.saver.CreateMany(ctx, exec, nt.Model, inputs)
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(pks))
			for i, pk := range pks {
				ids[i] = nodeid.Encode(nt.Name, pk)
			}
			return ids, nil
		})
	}
}

func (r *Resolver) makeUpdateManyResolver(nt *schema.NodeType) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (out interface{}, err error) {
		ctx, span := startResolverSpan(p.Context, "mutation.updateMany", nt.Name)
		defer func() { finishResolverSpan(span, err) }()

		inputs, err := r.translateInputs(nt, p.Args["inputs"])
		if err != nil {
			return nil, err
		}
		return r.withMutation(ctx, func(ctx context.Context, exec dbexec.QueryExecutor) (any, error) {
			return r.saver.UpdateMany(ctx, exec, nt.Model, inputs)
		})
	}
}

// refetchRow reads the mutated row back through the mutation's selection so
// the response reflects database-applied values.
func (r *Resolver) refetchRow(ctx context.Context, nt *schema.NodeType, p graphql.ResolveParams, pk any) (any, error) {
	plan, err := planner.Compile(r.schema, nt, planner.CompileInput{
		Field:     firstFieldAST(p.Info.FieldASTs),
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

// translateInput maps GraphQL input field names onto the model vocabulary
// the mutation layer speaks: column names for scalars, relation field names
// for references.
func (r *Resolver) translateInput(nt *schema.NodeType, input map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(input))
	pkCol, hasPK := nt.Model.PrimaryKey()
	for key, value := range input {
		if key == "id" && hasPK {
			pk, err := r.decodeIDArg(nt, value)
			if err != nil {
				return nil, err
			}
			out[pkCol.Name] = pk
			continue
		}
		fd, ok := nt.Field(key)
		if !ok {
			return nil, gqlerr.New(gqlerr.KindInvalidInput, "unknown input field '%s' on %s", key, nt.Name)
		}
		switch fd.Kind {
		case schema.FieldColumn:
			out[fd.Column] = value
		case schema.FieldRelation:
			translated, err := r.translateRelationValue(nt, fd, value)
			if err != nil {
				return nil, err
			}
			out[fd.Relation] = translated
		default:
			return nil, gqlerr.New(gqlerr.KindInvalidInput, "field '%s' on %s is read-only", key, nt.Name)
		}
	}
	return out, nil
}

func (r *Resolver) translateRelationValue(nt *schema.NodeType, fd schema.FieldDescriptor, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	info, _ := nt.RelationInfo(fd.Relation)
	if info.Relation == relmeta.GenericManyToOne {
		// The generic reference shape is already the saver's vocabulary.
		return value, nil
	}

	related, err := r.schema.NodeByModel(info.RelatedModel.Name)
	if err != nil {
		return nil, gqlerr.Wrap(gqlerr.KindConfig, err, "relation '%s' on %s", fd.Name, nt.Name)
	}

	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			translated, err := r.translateRefValue(related, elem)
			if err != nil {
				return nil, err
			}
			out[i] = translated
		}
		return out, nil
	default:
		return r.translateRefValue(related, value)
	}
}

// translateRefValue flattens a reference input: a bare {id} becomes the
// primary key scalar, anything richer keeps its map shape for get-or-create.
func (r *Resolver) translateRefValue(nt *schema.NodeType, value any) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}
	translated, err := r.translateInput(nt, m)
	if err != nil {
		return nil, err
	}
	pkCol, hasPK := nt.Model.PrimaryKey()
	if hasPK && len(translated) == 1 {
		if pk, ok := translated[pkCol.Name]; ok {
			return pk, nil
		}
	}
	return translated, nil
}

func (r *Resolver) translateInputs(nt *schema.NodeType, raw any) ([]map[string]any, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, gqlerr.New(gqlerr.KindInvalidInput, "argument 'inputs' must be a list")
	}
	out := make([]map[string]any, len(list))
	for i, elem := range list {
		m, ok := elem.(map[string]any)
		if !ok {
			return nil, gqlerr.New(gqlerr.KindInvalidInput, "inputs[%d] must be an object, got %T", i, elem)
		}
		translated, err := r.translateInput(nt, m)
		if err != nil {
			return nil, fmt.Errorf("inputs[%d]: %w", i, err)
		}
		out[i] = translated
	}
	return out, nil
}

func inputArg(args map[string]interface{}, name string) map[string]any {
	if m, ok := args[name].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
