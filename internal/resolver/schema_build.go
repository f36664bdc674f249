package resolver

import (
	"fmt"
	"sort"

	"github.com/graphql-go/graphql"

	"modelql/internal/gqlerr"
	"modelql/internal/nodeid"
	"modelql/internal/schema"
	"modelql/internal/sqltype"
)

// BuildGraphQLSchema generates the executable GraphQL schema from the node
// types: one object type per node, single and connection root queries, and
// the full mutation surface. All types are created up front; field maps are
// thunked so relations between node types can be cyclic.
func (r *Resolver) BuildGraphQLSchema() (graphql.Schema, error) {
	names := r.sortedNodeNames()

	for _, name := range names {
		nt, _ := r.schema.NodeByName(name)
		r.objectTypes[name] = r.buildObjectType(nt)
	}

	queries := graphql.Fields{}
	mutations := graphql.Fields{}
	for _, name := range names {
		nt, _ := r.schema.NodeByName(name)
		if err := r.addNodeQueries(queries, nt); err != nil {
			return graphql.Schema{}, err
		}
		if err := r.addNodeMutations(mutations, nt); err != nil {
			return graphql.Schema{}, err
		}
	}

	config := graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: queries,
		}),
	}
	if len(mutations) > 0 {
		config.Mutation = graphql.NewObject(graphql.ObjectConfig{
			Name:   "Mutation",
			Fields: mutations,
		})
	}
	return graphql.NewSchema(config)
}

func (r *Resolver) sortedNodeNames() []string {
	nodes := r.schema.NodeTypes()
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Resolver) buildObjectType(nt *schema.NodeType) *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name:       nt.Name,
		Interfaces: []*graphql.Interface{r.nodeInterfaceType()},
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return r.buildObjectFields(nt)
		}),
	})
}

func (r *Resolver) buildObjectFields(nt *schema.NodeType) graphql.Fields {
	fields := graphql.Fields{}
	pkCol, hasPK := nt.Model.PrimaryKey()

	if hasPK {
		typeName := nt.Name
		pkName := pkCol.Name
		fields["id"] = &graphql.Field{
			Type: graphql.NewNonNull(graphql.ID),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				source, ok := p.Source.(map[string]any)
				if !ok || source[pkName] == nil {
					return nil, nil
				}
				return nodeid.Encode(typeName, source[pkName]), nil
			},
		}
	}

	for _, name := range nt.FieldNames() {
		fd, _ := nt.Field(name)
		if fd.Kind == schema.FieldColumn && hasPK && fd.Column == pkCol.Name {
			// The raw primary key column is replaced by the global id field.
			continue
		}
		switch fd.Kind {
		case schema.FieldColumn:
			fields[fd.Name] = r.columnField(nt, fd)
		case schema.FieldExpression:
			fields[fd.Name] = r.expressionField(fd)
		case schema.FieldRelation:
			if field := r.relationField(nt, fd); field != nil {
				fields[fd.Name] = field
			}
		}
	}
	return fields
}

func (r *Resolver) columnField(nt *schema.NodeType, fd schema.FieldDescriptor) *graphql.Field {
	col, _ := nt.Model.ColumnNamed(fd.Column)
	var fieldType graphql.Output = gqlScalar(sqltype.MapToGraphQL(col.SQLType))
	if !col.Nullable {
		fieldType = graphql.NewNonNull(fieldType)
	}
	column := fd.Column
	return &graphql.Field{
		Type: fieldType,
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			source, ok := p.Source.(map[string]any)
			if !ok {
				return nil, nil
			}
			return source[column], nil
		},
	}
}

func (r *Resolver) expressionField(fd schema.FieldDescriptor) *graphql.Field {
	return &graphql.Field{
		Type:    gqlScalar(sqltype.MapToGraphQL(fd.ExpressionType)),
		Resolve: resolveByResponseKey,
	}
}

func (r *Resolver) relationField(nt *schema.NodeType, fd schema.FieldDescriptor) *graphql.Field {
	info, ok := nt.RelationInfo(fd.Relation)
	if !ok {
		return nil
	}

	if info.RelatedModel == nil {
		// Generic foreign key: the concrete type varies per row.
		return &graphql.Field{
			Type:    r.nodeInterfaceType(),
			Resolve: resolveByResponseKey,
		}
	}

	related, err := r.schema.NodeByModel(info.RelatedModel.Name)
	if err != nil {
		return nil
	}
	relatedType := r.objectTypes[related.Name]
	if relatedType == nil {
		return nil
	}

	if !info.Relation.ToMany() {
		return &graphql.Field{
			Type:    relatedType,
			Resolve: resolveByResponseKey,
		}
	}
	if !fd.Connection {
		return &graphql.Field{
			Type:    graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(relatedType))),
			Resolve: resolveByResponseKey,
		}
	}
	return &graphql.Field{
		Type:    graphql.NewNonNull(r.connectionType(related)),
		Args:    connectionArgs(),
		Resolve: resolveByResponseKey,
	}
}

// resolveByResponseKey reads values the execution pipeline stored under the
// field's response key, so two aliases of one relation stay independent.
func resolveByResponseKey(p graphql.ResolveParams) (interface{}, error) {
	source, ok := p.Source.(map[string]any)
	if !ok {
		return nil, nil
	}
	key := responseKeyOf(firstFieldAST(p.Info.FieldASTs))
	if key == "" {
		return nil, nil
	}
	return source[key], nil
}

func (r *Resolver) nodeInterfaceType() *graphql.Interface {
	if r.nodeInterface != nil {
		return r.nodeInterface
	}
	r.nodeInterface = graphql.NewInterface(graphql.InterfaceConfig{
		Name: "Node",
		Fields: graphql.Fields{
			"id": &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		},
		ResolveType: func(p graphql.ResolveTypeParams) *graphql.Object {
			source, ok := p.Value.(map[string]any)
			if !ok {
				return nil
			}
			typeName, _ := source[typenameKey].(string)
			return r.objectTypes[typeName]
		},
	})
	return r.nodeInterface
}

func (r *Resolver) getPageInfoType() *graphql.Object {
	if r.pageInfoType != nil {
		return r.pageInfoType
	}
	r.pageInfoType = graphql.NewObject(graphql.ObjectConfig{
		Name: "PageInfo",
		Fields: graphql.Fields{
			"hasNextPage":     &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"hasPreviousPage": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"startCursor":     &graphql.Field{Type: graphql.String},
			"endCursor":       &graphql.Field{Type: graphql.String},
		},
	})
	return r.pageInfoType
}

// connectionType builds the Relay connection type for a node (cached per
// node name).
func (r *Resolver) connectionType(nt *schema.NodeType) *graphql.Object {
	typeName := nt.Name + "Connection"
	if cached, ok := r.connectionTypes[typeName]; ok {
		return cached
	}

	nodeType := r.objectTypes[nt.Name]
	edgeType := graphql.NewObject(graphql.ObjectConfig{
		Name: nt.Name + "Edge",
		Fields: graphql.Fields{
			"cursor": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"node":   &graphql.Field{Type: graphql.NewNonNull(nodeType)},
		},
	})

	connType := graphql.NewObject(graphql.ObjectConfig{
		Name: typeName,
		Fields: graphql.Fields{
			"edges": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(edgeType))),
			},
			"nodes": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(nodeType))),
			},
			"pageInfo": &graphql.Field{
				Type: graphql.NewNonNull(r.getPageInfoType()),
			},
			"totalCount": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
			},
		},
	})
	r.connectionTypes[typeName] = connType
	return connType
}

func connectionArgs() graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"first":  &graphql.ArgumentConfig{Type: graphql.Int},
		"last":   &graphql.ArgumentConfig{Type: graphql.Int},
		"offset": &graphql.ArgumentConfig{Type: graphql.Int},
		"after":  &graphql.ArgumentConfig{Type: graphql.String},
		"before": &graphql.ArgumentConfig{Type: graphql.String},
	}
}

func (r *Resolver) addNodeQueries(fields graphql.Fields, nt *schema.NodeType) error {
	objType := r.objectTypes[nt.Name]
	if objType == nil {
		return gqlerr.New(gqlerr.KindConfig, "no object type built for %s", nt.Name)
	}
	if _, hasPK := nt.Model.PrimaryKey(); !hasPK {
		return nil
	}

	singleName := r.namer.ToGraphQLFieldName(r.namer.Singularize(nt.Model.Table))
	fields[singleName] = &graphql.Field{
		Type: objType,
		Args: graphql.FieldConfigArgument{
			"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
		},
		Resolve: r.makeSingleResolver(nt),
	}

	listName := r.namer.Pluralize(r.namer.ToGraphQLFieldName(nt.Model.Table))
	if listName == singleName {
		listName = listName + "Connection"
	}
	fields[listName] = &graphql.Field{
		Type:    graphql.NewNonNull(r.connectionType(nt)),
		Args:    connectionArgs(),
		Resolve: r.makeConnectionResolver(nt),
	}
	return nil
}

func gqlScalar(t sqltype.GraphQLType) *graphql.Scalar {
	switch t {
	case sqltype.TypeInt:
		return graphql.Int
	case sqltype.TypeFloat:
		return graphql.Float
	case sqltype.TypeBoolean:
		return graphql.Boolean
	default:
		return graphql.String
	}
}

// typenameKey stamps resolved generic relation targets so the Node interface
// can dispatch to the concrete object type.
const typenameKey = "__typename"

func intArgValue(args map[string]interface{}, name string) *int {
	if v, ok := args[name]; ok {
		if n, ok := toInt(v); ok {
			return &n
		}
	}
	return nil
}

func stringArgValue(args map[string]interface{}, name string) *string {
	if v, ok := args[name]; ok {
		s := fmt.Sprint(v)
		return &s
	}
	return nil
}
