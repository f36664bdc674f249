// Package schema holds the declarative GraphQL-facing types bound to data
// models. Declarations are collected on a Builder, then cross-references are
// resolved in one finalization pass; the resulting Schema is immutable and
// read lock-free during request handling.
package schema

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"modelql/internal/gqlerr"
	"modelql/internal/model"
	"modelql/internal/relmeta"
	"modelql/internal/sqlutil"
)

// FieldKind discriminates what a declared field resolves to.
type FieldKind int

const (
	// FieldColumn maps directly to a table column.
	FieldColumn FieldKind = iota
	// FieldExpression is a computed annotation backed by a SQL expression.
	FieldExpression
	// FieldRelation resolves to another node type through a model relation.
	FieldRelation
)

// FieldDescriptor declares one GraphQL-visible field on a node type.
type FieldDescriptor struct {
	Name string
	Kind FieldKind

	// Column is the underlying column name for FieldColumn fields.
	Column string

	// Expression and ExpressionArgs define FieldExpression fields. The
	// expression is attached as given, already qualified against the current
	// table by whoever declared it. ExpressionType optionally names the SQL
	// type the expression evaluates to; empty means string.
	Expression     string
	ExpressionArgs []any
	ExpressionType string

	// Relation names the model relation (relmeta field name) for
	// FieldRelation fields. Connection marks to-many relations exposed with
	// Relay connection pagination; PageSize overrides the default ceiling.
	Relation   string
	Connection bool
	PageSize   *int
}

// BaseQueryHook builds the mandatory base query for a node type, applying
// visibility rules before any optimization happens.
type BaseQueryHook func(ctx context.Context) sq.SelectBuilder

// FilterHook is applied uniformly to top-level base queries and to every nested
// prefetch of the node type.
type FilterHook func(ctx context.Context, qs sq.SelectBuilder) sq.SelectBuilder

// NodeType is a declarative GraphQL type bound to one data model.
type NodeType struct {
	Name  string
	Model *model.Model

	// OnlyRequestedColumns restricts SELECTs to the columns the operation
	// actually asked for; when false every column is fetched.
	OnlyRequestedColumns bool

	BaseQuery   BaseQueryHook
	FilterQuery FilterHook

	fields     map[string]FieldDescriptor
	fieldOrder []string

	relInfo map[string]relmeta.RelatedFieldInfo
}

// NewNodeType starts a node type declaration for a model.
func NewNodeType(name string, m *model.Model) *NodeType {
	return &NodeType{
		Name:                 name,
		Model:                m,
		OnlyRequestedColumns: true,
		fields:               make(map[string]FieldDescriptor),
	}
}

// AddField declares a field. Redeclaring a name is a configuration error.
func (n *NodeType) AddField(fd FieldDescriptor) error {
	if fd.Name == "" {
		return gqlerr.New(gqlerr.KindConfig, "node type %s: field requires a name", n.Name)
	}
	if _, exists := n.fields[fd.Name]; exists {
		return gqlerr.New(gqlerr.KindConfig, "node type %s declares field %s twice", n.Name, fd.Name)
	}
	n.fields[fd.Name] = fd
	n.fieldOrder = append(n.fieldOrder, fd.Name)
	return nil
}

// Field looks up a declared field by its GraphQL name.
func (n *NodeType) Field(name string) (FieldDescriptor, bool) {
	fd, ok := n.fields[name]
	return fd, ok
}

// FieldNames returns field names in declaration order.
func (n *NodeType) FieldNames() []string {
	return n.fieldOrder
}

// RelationInfo returns normalized relation metadata for a relation field.
func (n *NodeType) RelationInfo(relation string) (relmeta.RelatedFieldInfo, bool) {
	info, ok := n.relInfo[relation]
	return info, ok
}

// Query returns the node type's base query with the mandatory
// visibility hook applied.
func (n *NodeType) Query(ctx context.Context) sq.SelectBuilder {
	if n.BaseQuery != nil {
		return n.BaseQuery(ctx)
	}
	return sq.Select().From(sqlutil.QuoteIdentifier(n.Model.Table))
}

// ApplyFilter runs the optional request-scoped filter hook.
func (n *NodeType) ApplyFilter(ctx context.Context, qs sq.SelectBuilder) sq.SelectBuilder {
	if n.FilterQuery == nil {
		return qs
	}
	return n.FilterQuery(ctx, qs)
}

// HasQueryHooks reports whether the node type customizes its base query;
// the plan applier only uses join-based to-one fetching when it does not.
func (n *NodeType) HasQueryHooks() bool {
	return n.BaseQuery != nil || n.FilterQuery != nil
}

// Schema is the frozen set of node types, looked up by type name or by the
// model a type wraps.
type Schema struct {
	Models  *model.Registry
	nodes   map[string]*NodeType
	byModel map[string]*NodeType
}

// NodeByName returns the node type registered under a GraphQL type name.
func (s *Schema) NodeByName(name string) (*NodeType, error) {
	nt, ok := s.nodes[name]
	if !ok {
		return nil, gqlerr.New(gqlerr.KindConfig, "no node type registered under name %s", name)
	}
	return nt, nil
}

// NodeByModel returns the node type wrapping a model, used when a nested
// relation's target type must be found by the model it points at.
func (s *Schema) NodeByModel(modelName string) (*NodeType, error) {
	nt, ok := s.byModel[modelName]
	if !ok {
		return nil, gqlerr.New(gqlerr.KindConfig, "no node type registered for model %s", modelName)
	}
	return nt, nil
}

// NodeTypes returns all node types keyed by name.
func (s *Schema) NodeTypes() map[string]*NodeType {
	return s.nodes
}

// Builder collects node type declarations before finalization.
type Builder struct {
	models *model.Registry
	nodes  []*NodeType
}

// NewBuilder creates a Builder over a frozen model registry.
func NewBuilder(models *model.Registry) *Builder {
	return &Builder{models: models}
}

// AddNode queues a node type declaration.
func (b *Builder) AddNode(nt *NodeType) *Builder {
	b.nodes = append(b.nodes, nt)
	return b
}

// Build resolves all cross-references (relation fields to their metadata,
// related models to their node types) and returns the frozen schema.
func (b *Builder) Build() (*Schema, error) {
	if !b.models.Frozen() {
		return nil, gqlerr.New(gqlerr.KindConfig, "model registry must be frozen before schema build")
	}

	s := &Schema{
		Models:  b.models,
		nodes:   make(map[string]*NodeType, len(b.nodes)),
		byModel: make(map[string]*NodeType, len(b.nodes)),
	}
	for _, nt := range b.nodes {
		if _, exists := s.nodes[nt.Name]; exists {
			return nil, gqlerr.New(gqlerr.KindConfig, "node type %s is registered twice", nt.Name)
		}
		if _, exists := s.byModel[nt.Model.Name]; exists {
			return nil, gqlerr.New(gqlerr.KindConfig, "model %s is wrapped by more than one node type", nt.Model.Name)
		}
		s.nodes[nt.Name] = nt
		s.byModel[nt.Model.Name] = nt
	}

	// Finalization pass: resolve relation fields now that every node type is
	// known, so declaration order never matters.
	for _, nt := range b.nodes {
		relInfo, err := relmeta.ParseModelRelationInfo(b.models, nt.Model)
		if err != nil {
			return nil, err
		}
		nt.relInfo = relInfo

		for _, name := range nt.fieldOrder {
			fd := nt.fields[name]
			switch fd.Kind {
			case FieldColumn:
				if !nt.Model.HasColumn(fd.Column) {
					return nil, gqlerr.New(gqlerr.KindConfig, "node type %s field %s references unknown column %s", nt.Name, name, fd.Column)
				}
			case FieldExpression:
				if fd.Expression == "" {
					return nil, gqlerr.New(gqlerr.KindConfig, "node type %s field %s declares an empty expression", nt.Name, name)
				}
			case FieldRelation:
				info, ok := relInfo[fd.Relation]
				if !ok {
					return nil, gqlerr.New(gqlerr.KindConfig, "node type %s field %s references unknown relation %s on model %s", nt.Name, name, fd.Relation, nt.Model.Name)
				}
				if info.RelatedModel != nil {
					if _, err := s.NodeByModel(info.RelatedModel.Name); err != nil {
						return nil, fmt.Errorf("node type %s field %s: %w", nt.Name, name, err)
					}
				}
			}
		}
	}

	return s, nil
}
