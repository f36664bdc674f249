package planner

import (
	"strconv"

	"github.com/graphql-go/graphql/language/ast"

	"modelql/internal/gqlerr"
	"modelql/internal/pagination"
	"modelql/internal/relmeta"
	"modelql/internal/schema"
)

// CompileInput carries the GraphQL selection being compiled plus request
// context the compiler needs to resolve argument values.
type CompileInput struct {
	Field     *ast.Field
	Fragments map[string]ast.Definition
	Variables map[string]any

	// Connection marks the field as Relay connection scaffolding, so column
	// selection is read from edges { node { ... } } and nodes { ... }.
	Connection bool

	// MaxLimit is the pagination ceiling applied when a node type does not
	// override it.
	MaxLimit int
}

// Compile walks a field's selection set against a node type and produces the
// optimization plan for it: selected columns, annotations, and one relation
// plan per requested relation field. All pagination arguments are validated
// here, before any SQL is issued.
func Compile(s *schema.Schema, nt *schema.NodeType, in CompileInput) (*OptimizationPlan, error) {
	c := &compiler{
		schema:    s,
		fragments: in.Fragments,
		variables: in.Variables,
		maxLimit:  in.MaxLimit,
	}
	return c.compile(nt, in.Field, in.Connection)
}

type compiler struct {
	schema    *schema.Schema
	fragments map[string]ast.Definition
	variables map[string]any
	maxLimit  int
}

func (c *compiler) compile(nt *schema.NodeType, field *ast.Field, connection bool) (*OptimizationPlan, error) {
	plan := &OptimizationPlan{Node: nt}

	// The primary key is always fetched: cursors, node IDs, and nested
	// prefetch keys all depend on it.
	if pk, ok := nt.Model.PrimaryKey(); ok {
		plan.addColumn(pk.Name)
	}

	if field != nil && field.SelectionSet != nil {
		selections := field.SelectionSet.Selections
		if connection {
			selections = c.connectionNodeSelections(selections, make(map[string]struct{}))
		}
		if err := c.walk(nt, selections, plan, make(map[string]struct{})); err != nil {
			return nil, err
		}
	}

	if !nt.OnlyRequestedColumns {
		for _, col := range nt.Model.Columns {
			plan.addColumn(col.Name)
		}
	}

	return plan, nil
}

func (c *compiler) walk(nt *schema.NodeType, selections []ast.Selection, plan *OptimizationPlan, visited map[string]struct{}) error {
	for _, selection := range selections {
		switch sel := selection.(type) {
		case *ast.Field:
			if sel.Name == nil || sel.Name.Value == "__typename" {
				continue
			}
			if err := c.walkField(nt, sel, plan); err != nil {
				return err
			}
		case *ast.InlineFragment:
			if sel.SelectionSet == nil {
				continue
			}
			if sel.TypeCondition != nil && sel.TypeCondition.Name != nil && sel.TypeCondition.Name.Value != nt.Name {
				continue
			}
			if err := c.walk(nt, sel.SelectionSet.Selections, plan, visited); err != nil {
				return err
			}
		case *ast.FragmentSpread:
			fragment, ok := c.fragment(sel, visited)
			if !ok {
				continue
			}
			if fragment.TypeCondition != nil && fragment.TypeCondition.Name != nil && fragment.TypeCondition.Name.Value != nt.Name {
				continue
			}
			if err := c.walk(nt, fragment.SelectionSet.Selections, plan, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compiler) walkField(nt *schema.NodeType, sel *ast.Field, plan *OptimizationPlan) error {
	fd, ok := nt.Field(sel.Name.Value)
	if !ok {
		return nil
	}

	switch fd.Kind {
	case schema.FieldColumn:
		// Two aliases of the same column still select it once; the response
		// layer fans a single fetched value out to every alias.
		plan.addColumn(fd.Column)
		return nil

	case schema.FieldExpression:
		alias := responseKey(sel)
		if nt.Model.HasColumn(alias) {
			return gqlerr.New(gqlerr.KindInvalidInput,
				"annotation %s on type %s collides with a column of the same name", alias, nt.Name)
		}
		for _, existing := range plan.Annotations {
			if existing.Alias == alias {
				return nil
			}
		}
		plan.Annotations = append(plan.Annotations, Annotation{
			Alias:      alias,
			Expression: fd.Expression,
			Args:       fd.ExpressionArgs,
		})
		return nil

	case schema.FieldRelation:
		return c.walkRelation(nt, sel, fd, plan)
	}
	return nil
}

func (c *compiler) walkRelation(nt *schema.NodeType, sel *ast.Field, fd schema.FieldDescriptor, plan *OptimizationPlan) error {
	info, ok := nt.RelationInfo(fd.Relation)
	if !ok {
		return gqlerr.New(gqlerr.KindConfig, "field %s on type %s names unknown relation %s", fd.Name, nt.Name, fd.Relation)
	}

	key := responseKey(sel)
	for _, existing := range plan.Relations {
		if existing.Key == key {
			return nil
		}
	}

	// Every relation kind needs some parent-side column to key the child
	// query on; pull it into the selection even when not requested.
	switch info.Relation {
	case relmeta.ForwardManyToOne, relmeta.ForwardOneToOne:
		plan.addColumn(info.LocalColumn)
	case relmeta.GenericManyToOne:
		plan.addColumn(info.TypeColumn)
		plan.addColumn(info.IDColumn)
	default:
		// Reverse and many-to-many relations key on the primary key, which
		// is always selected.
	}

	rp := &RelationPlan{Key: key, Field: fd, Info: info}

	if info.Relation == relmeta.GenericManyToOne {
		// The target model varies per row, so the sub-plan is compiled per
		// concrete type at prefetch time from the retained selection.
		rp.FieldAST = sel
		plan.Relations = append(plan.Relations, rp)
		return nil
	}

	childNT, err := c.schema.NodeByModel(info.RelatedModel.Name)
	if err != nil {
		return err
	}

	childPlan, err := c.compile(childNT, sel, fd.Connection)
	if err != nil {
		return err
	}
	rp.Plan = childPlan

	if info.Relation.ToMany() {
		args, err := c.fieldArguments(sel)
		if err != nil {
			return err
		}
		pageArgs, err := pagination.FromConnectionParams(c.paginationParams(args, fd))
		if err != nil {
			return err
		}
		rp.Pagination = pageArgs
	}

	plan.Relations = append(plan.Relations, rp)
	return nil
}

func (c *compiler) fragment(spread *ast.FragmentSpread, visited map[string]struct{}) (*ast.FragmentDefinition, bool) {
	if c.fragments == nil || spread.Name == nil {
		return nil, false
	}
	name := spread.Name.Value
	if _, seen := visited[name]; seen {
		return nil, false
	}
	def, ok := c.fragments[name]
	if !ok {
		return nil, false
	}
	fragment, ok := def.(*ast.FragmentDefinition)
	if !ok || fragment.SelectionSet == nil {
		return nil, false
	}
	visited[name] = struct{}{}
	return fragment, true
}

// connectionNodeSelections unwraps Relay connection scaffolding, returning
// the selections that address actual node fields. pageInfo, totalCount, and
// edge cursors carry no column cost and are skipped.
func (c *compiler) connectionNodeSelections(selections []ast.Selection, visited map[string]struct{}) []ast.Selection {
	var result []ast.Selection
	for _, selection := range selections {
		switch sel := selection.(type) {
		case *ast.Field:
			if sel.Name == nil {
				continue
			}
			switch sel.Name.Value {
			case "edges":
				if sel.SelectionSet == nil {
					continue
				}
				for _, edgeSel := range sel.SelectionSet.Selections {
					nodeField, ok := edgeSel.(*ast.Field)
					if !ok || nodeField.Name == nil {
						continue
					}
					if nodeField.Name.Value == "node" && nodeField.SelectionSet != nil {
						result = append(result, nodeField.SelectionSet.Selections...)
					}
				}
			case "nodes":
				if sel.SelectionSet != nil {
					result = append(result, sel.SelectionSet.Selections...)
				}
			}
		case *ast.InlineFragment:
			if sel.SelectionSet != nil {
				result = append(result, c.connectionNodeSelections(sel.SelectionSet.Selections, visited)...)
			}
		case *ast.FragmentSpread:
			fragment, ok := c.fragment(sel, visited)
			if !ok {
				continue
			}
			result = append(result, c.connectionNodeSelections(fragment.SelectionSet.Selections, visited)...)
		}
	}
	return result
}

func (c *compiler) fieldArguments(field *ast.Field) (map[string]any, error) {
	if len(field.Arguments) == 0 {
		return nil, nil
	}
	args := make(map[string]any, len(field.Arguments))
	for _, arg := range field.Arguments {
		if arg == nil || arg.Name == nil {
			continue
		}
		value, err := c.valueFromAST(arg.Value)
		if err != nil {
			return nil, err
		}
		if value != nil {
			args[arg.Name.Value] = value
		}
	}
	return args, nil
}

func (c *compiler) valueFromAST(value ast.Value) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *ast.IntValue:
		parsed, err := strconv.Atoi(v.Value)
		if err != nil {
			return nil, gqlerr.Wrap(gqlerr.KindInvalidInput, err, "invalid integer argument %q", v.Value)
		}
		return parsed, nil
	case *ast.StringValue:
		return v.Value, nil
	case *ast.BooleanValue:
		return v.Value, nil
	case *ast.EnumValue:
		return v.Value, nil
	case *ast.Variable:
		if v.Name == nil || c.variables == nil {
			return nil, nil
		}
		return c.variables[v.Name.Value], nil
	default:
		return nil, nil
	}
}

func (c *compiler) paginationParams(args map[string]any, fd schema.FieldDescriptor) pagination.Params {
	p := pagination.Params{
		First:  intArg(args, "first"),
		Last:   intArg(args, "last"),
		Offset: intArg(args, "offset"),
		After:  stringArg(args, "after"),
		Before: stringArg(args, "before"),
	}
	switch {
	case fd.PageSize != nil:
		p.MaxLimit = fd.PageSize
	case c.maxLimit > 0:
		limit := c.maxLimit
		p.MaxLimit = &limit
	}
	return p
}

func intArg(args map[string]any, key string) *int {
	if args == nil {
		return nil
	}
	switch v := args[key].(type) {
	case int:
		return &v
	case int64:
		value := int(v)
		return &value
	case float64:
		value := int(v)
		return &value
	}
	return nil
}

func stringArg(args map[string]any, key string) *string {
	if args == nil {
		return nil
	}
	if v, ok := args[key].(string); ok {
		return &v
	}
	return nil
}

func responseKey(field *ast.Field) string {
	if field.Alias != nil && field.Alias.Value != "" {
		return field.Alias.Value
	}
	return field.Name.Value
}
