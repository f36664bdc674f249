// Package resolver wires the compiled schema to GraphQL execution: it builds
// the graphql-go type system from node types and resolves every operation
// through optimization plans, so each request issues one root query plus one
// batched query per relation path.
package resolver

import (
	"context"
	"log/slog"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"modelql/internal/dbexec"
	"modelql/internal/mutation"
	"modelql/internal/naming"
	"modelql/internal/planner"
	"modelql/internal/schema"
)

// Resolver resolves GraphQL operations against a compiled schema.
type Resolver struct {
	executor dbexec.QueryExecutor
	schema   *schema.Schema
	saver    *mutation.Saver
	namer    *naming.Namer
	limits   planner.Limits
	maxLimit int
	logger   *slog.Logger

	// MutationFilter, when set, suppresses mutation fields for tables it
	// rejects. Query fields are unaffected. Must be set before
	// BuildGraphQLSchema.
	MutationFilter func(table string) bool

	objectTypes     map[string]*graphql.Object
	connectionTypes map[string]*graphql.Object
	refInputTypes   map[string]*graphql.InputObject
	pageInfoType    *graphql.Object
	nodeInterface   *graphql.Interface
	genericRefInput *graphql.InputObject
	deletePayload   *graphql.Object
}

// NewResolver creates a resolver over an executor and compiled schema.
// maxLimit caps connection page sizes; zero applies the default.
func NewResolver(executor dbexec.QueryExecutor, s *schema.Schema, namer *naming.Namer, limits planner.Limits, maxLimit int, logger *slog.Logger) *Resolver {
	if maxLimit <= 0 {
		maxLimit = planner.DefaultMaxLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	if namer == nil {
		namer = naming.Default()
	}
	return &Resolver{
		executor:        executor,
		schema:          s,
		saver:           mutation.NewSaver(s.Models),
		namer:           namer,
		limits:          limits,
		maxLimit:        maxLimit,
		logger:          logger,
		objectTypes:     make(map[string]*graphql.Object),
		connectionTypes: make(map[string]*graphql.Object),
		refInputTypes:   make(map[string]*graphql.InputObject),
	}
}

// queryExecutorForContext returns the active mutation transaction when
// present, so reads issued inside a mutation see its writes.
func (r *Resolver) queryExecutorForContext(ctx context.Context) dbexec.QueryExecutor {
	if mc := mutation.FromContext(ctx); mc != nil && mc.Tx() != nil {
		return mc.Tx()
	}
	return r.executor
}

// scanRows reads every result row into a map keyed by result column name.
func scanRows(rows dbexec.Rows) ([]map[string]any, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func convertValue(val any) any {
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}

func firstFieldAST(fields []*ast.Field) *ast.Field {
	if len(fields) == 0 {
		return nil
	}
	return fields[0]
}

func responseKeyOf(field *ast.Field) string {
	if field == nil {
		return ""
	}
	if field.Alias != nil && field.Alias.Value != "" {
		return field.Alias.Value
	}
	if field.Name != nil {
		return field.Name.Value
	}
	return ""
}
