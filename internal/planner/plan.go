// Package planner compiles GraphQL selection sets into optimization plans and
// turns those plans into the minimal set of SQL statements needed to satisfy
// a request: one root query plus one batched query per relation path.
package planner

import (
	"fmt"

	"github.com/graphql-go/graphql/language/ast"

	"modelql/internal/pagination"
	"modelql/internal/relmeta"
	"modelql/internal/schema"
)

// ParentKeyAlias is the column alias carrying the parent key in batch queries.
const ParentKeyAlias = "__parent_key"

// SQLQuery is a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []any
}

// Annotation is a computed SQL expression selected under a response alias.
type Annotation struct {
	Alias      string
	Expression string
	Args       []any
}

// RelationPlan describes one requested relation field and the sub-plan for
// the rows it returns.
type RelationPlan struct {
	// Key is the response key (field alias, or field name when unaliased).
	// Two aliases of the same relation produce two independent plans.
	Key string

	Field schema.FieldDescriptor
	Info  relmeta.RelatedFieldInfo
	Plan  *OptimizationPlan

	// FieldAST is retained for generic foreign keys, whose sub-plan can only
	// be compiled once the concrete target type of each row is known.
	FieldAST *ast.Field

	// Pagination is set for connection fields; window arithmetic is applied
	// per parent partition at prefetch time.
	Pagination *pagination.Args
}

// ToMany reports whether the relation returns a list of rows.
func (rp *RelationPlan) ToMany() bool {
	return rp.Info.Relation.ToMany()
}

// OptimizationPlan is the compiled shape of one node's selection: which
// columns to select, which expressions to annotate, and which relations to
// fetch alongside.
type OptimizationPlan struct {
	Node        *schema.NodeType
	Columns     []string
	Annotations []Annotation
	Relations   []*RelationPlan
}

// HasColumn reports whether the plan selects a column.
func (p *OptimizationPlan) HasColumn(name string) bool {
	for _, col := range p.Columns {
		if col == name {
			return true
		}
	}
	return false
}

func (p *OptimizationPlan) addColumn(name string) {
	if !p.HasColumn(name) {
		p.Columns = append(p.Columns, name)
	}
}

// String renders a compact single-line form used in trace attributes.
func (p *OptimizationPlan) String() string {
	rels := make([]string, 0, len(p.Relations))
	for _, rp := range p.Relations {
		// Generic foreign keys have no sub-plan until row types are known.
		sub := "?"
		if rp.Plan != nil {
			sub = rp.Plan.String()
		}
		rels = append(rels, fmt.Sprintf("%s:%s", rp.Key, sub))
	}
	return fmt.Sprintf("%s{cols=%v ann=%d rel=%v}", p.Node.Name, p.Columns, len(p.Annotations), rels)
}
