package planner

import (
	"strconv"

	"github.com/graphql-go/graphql/language/ast"

	"modelql/internal/gqlerr"
)

// DefaultMaxLimit is the pagination ceiling applied when nothing narrower is
// configured.
const DefaultMaxLimit = 100

// Limits caps the estimated cost of a query before any SQL is planned.
// A zero value disables the corresponding check.
type Limits struct {
	MaxDepth      int
	MaxComplexity int
}

// Cost is the estimated cost of one root field.
type Cost struct {
	Depth      int
	Complexity int
}

// Guard estimates the cost of a root field and rejects it when it exceeds
// the configured limits. It runs on the raw AST so oversized queries fail
// before compilation or SQL generation.
func Guard(field *ast.Field, fragments map[string]ast.Definition, defaultLimit int, limits Limits) error {
	if defaultLimit <= 0 {
		defaultLimit = DefaultMaxLimit
	}
	cost := EstimateCost(field, fragments, defaultLimit)

	if limits.MaxDepth > 0 && cost.Depth > limits.MaxDepth {
		return gqlerr.New(gqlerr.KindGuard,
			"query exceeds maximum depth of %d (depth: %d)", limits.MaxDepth, cost.Depth)
	}
	if limits.MaxComplexity > 0 && cost.Complexity > limits.MaxComplexity {
		return gqlerr.New(gqlerr.KindGuard,
			"query exceeds maximum complexity of %d (complexity: %d)", limits.MaxComplexity, cost.Complexity)
	}
	return nil
}

// EstimateCost walks a field's selection set and estimates depth and a
// limit-weighted complexity. Connection scaffolding (edges, node, pageInfo)
// does not count toward depth; each list level multiplies child cost by the
// requested page size.
func EstimateCost(field *ast.Field, fragments map[string]ast.Definition, defaultLimit int) Cost {
	if field == nil {
		return Cost{}
	}
	e := &estimator{fragments: fragments, defaultLimit: defaultLimit}
	return Cost{
		Depth:      e.depth(field, 1, make(map[string]struct{})),
		Complexity: e.complexity(field, make(map[string]struct{})),
	}
}

type estimator struct {
	fragments    map[string]ast.Definition
	defaultLimit int
}

func (e *estimator) depth(field *ast.Field, current int, visited map[string]struct{}) int {
	selections := e.dataSelections(field, visited)
	if len(selections) == 0 {
		return current
	}
	maxDepth := current
	for _, sub := range e.expandFields(selections, visited) {
		if d := e.depth(sub, current+1, visited); d > maxDepth {
			maxDepth = d
		}
	}
	return maxDepth
}

func (e *estimator) complexity(field *ast.Field, visited map[string]struct{}) int {
	limit := e.listLimit(field)
	selections := e.dataSelections(field, visited)
	if len(selections) == 0 {
		return limit
	}
	total := 1
	for _, sub := range e.expandFields(selections, visited) {
		total += limit * e.complexity(sub, visited)
	}
	return total
}

// dataSelections returns a field's child selections with connection
// scaffolding unwrapped, so wrapper levels never inflate the estimate.
func (e *estimator) dataSelections(field *ast.Field, visited map[string]struct{}) []ast.Selection {
	if field.SelectionSet == nil {
		return nil
	}
	if !isConnectionField(field) {
		return field.SelectionSet.Selections
	}

	var result []ast.Selection
	for _, sel := range field.SelectionSet.Selections {
		sub, ok := sel.(*ast.Field)
		if !ok || sub.Name == nil {
			continue
		}
		switch sub.Name.Value {
		case "edges":
			if sub.SelectionSet == nil {
				continue
			}
			for _, edgeSel := range sub.SelectionSet.Selections {
				nodeField, ok := edgeSel.(*ast.Field)
				if !ok || nodeField.Name == nil {
					continue
				}
				if nodeField.Name.Value == "node" && nodeField.SelectionSet != nil {
					result = append(result, nodeField.SelectionSet.Selections...)
				}
			}
		case "nodes":
			if sub.SelectionSet != nil {
				result = append(result, sub.SelectionSet.Selections...)
			}
		}
	}
	return result
}

// expandFields flattens fields, inline fragments, and fragment spreads into
// plain fields, guarding against fragment cycles.
func (e *estimator) expandFields(selections []ast.Selection, visited map[string]struct{}) []*ast.Field {
	var fields []*ast.Field
	for _, selection := range selections {
		switch sel := selection.(type) {
		case *ast.Field:
			fields = append(fields, sel)
		case *ast.InlineFragment:
			if sel.SelectionSet != nil {
				fields = append(fields, e.expandFields(sel.SelectionSet.Selections, visited)...)
			}
		case *ast.FragmentSpread:
			if e.fragments == nil || sel.Name == nil {
				continue
			}
			name := sel.Name.Value
			if _, seen := visited[name]; seen {
				continue
			}
			def, ok := e.fragments[name]
			if !ok {
				continue
			}
			fragment, ok := def.(*ast.FragmentDefinition)
			if !ok || fragment.SelectionSet == nil {
				continue
			}
			visited[name] = struct{}{}
			fields = append(fields, e.expandFields(fragment.SelectionSet.Selections, visited)...)
		}
	}
	return fields
}

// listLimit resolves the effective page size of a list field from its
// pagination arguments; plain object fields count as one row.
func (e *estimator) listLimit(field *ast.Field) int {
	if !hasArgNamed(field, "first") && !hasArgNamed(field, "last") && !isConnectionField(field) {
		return 1
	}
	if v, ok := intArgFromAST(field, "first"); ok {
		return v
	}
	if v, ok := intArgFromAST(field, "last"); ok {
		return v
	}
	return e.defaultLimit
}

func isConnectionField(field *ast.Field) bool {
	if field.SelectionSet == nil {
		return false
	}
	for _, sel := range field.SelectionSet.Selections {
		sub, ok := sel.(*ast.Field)
		if !ok || sub.Name == nil {
			continue
		}
		switch sub.Name.Value {
		case "edges", "nodes", "pageInfo", "totalCount":
			return true
		}
	}
	return false
}

func hasArgNamed(field *ast.Field, name string) bool {
	for _, arg := range field.Arguments {
		if arg != nil && arg.Name != nil && arg.Name.Value == name {
			return true
		}
	}
	return false
}

func intArgFromAST(field *ast.Field, name string) (int, bool) {
	for _, arg := range field.Arguments {
		if arg == nil || arg.Name == nil || arg.Name.Value != name {
			continue
		}
		if intVal, ok := arg.Value.(*ast.IntValue); ok {
			if parsed, err := strconv.Atoi(intVal.Value); err == nil && parsed >= 0 {
				return parsed, true
			}
		}
	}
	return 0, false
}
