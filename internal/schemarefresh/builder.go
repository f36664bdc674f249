package schemarefresh

import (
	"context"
	"fmt"
	"log/slog"

	"modelql/internal/dbexec"
	"modelql/internal/introspection"
	"modelql/internal/model"
	"modelql/internal/naming"
	"modelql/internal/planner"
	"modelql/internal/resolver"
	"modelql/internal/schema"
	"modelql/internal/schemafilter"

	"github.com/graphql-go/graphql"
)

// BuildSchemaConfig defines inputs for shared schema assembly.
type BuildSchemaConfig struct {
	Queryer      introspection.Queryer
	Executor     dbexec.QueryExecutor
	DatabaseName string
	Filters      schemafilter.Config
	Naming       naming.Config
	Limits       planner.Limits
	MaxLimit     int
	Logger       *slog.Logger
}

// BuildSchemaResult contains schema artifacts produced by BuildSchema.
type BuildSchemaResult struct {
	Registry      *model.Registry
	Schema        *schema.Schema
	GraphQLSchema graphql.Schema
}

// BuildSchema runs the canonical schema assembly pipeline used by runtime and
// tests: introspect, filter, derive node types, then build the GraphQL schema.
func BuildSchema(ctx context.Context, cfg BuildSchemaConfig) (*BuildSchemaResult, error) {
	if cfg.Queryer == nil {
		return nil, fmt.Errorf("schema builder requires an introspection queryer")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("schema builder requires a query executor")
	}

	namer := naming.New(cfg.Naming, cfg.Logger)

	models, err := introspection.LoadModels(ctx, cfg.Queryer, introspection.Options{
		Database: cfg.DatabaseName,
		Namer:    namer,
		Include:  cfg.Filters.TableFilter(),
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to introspect database: %w", err)
	}

	models = schemafilter.Apply(models, cfg.Filters)

	reg := model.NewRegistry()
	for _, m := range models {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register model %s: %w", m.Name, err)
		}
	}
	if err := reg.Freeze(); err != nil {
		return nil, fmt.Errorf("failed to freeze model registry: %w", err)
	}

	nodes, err := schema.Derive(reg, namer)
	if err != nil {
		return nil, fmt.Errorf("failed to derive node types: %w", err)
	}
	builder := schema.NewBuilder(reg)
	for _, nt := range nodes {
		builder.AddNode(nt)
	}
	compiled, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build schema: %w", err)
	}

	res := resolver.NewResolver(cfg.Executor, compiled, namer, cfg.Limits, cfg.MaxLimit, cfg.Logger)
	filters := cfg.Filters
	res.MutationFilter = func(table string) bool {
		return schemafilter.MutationTableAllowed(table, filters)
	}
	graphqlSchema, err := res.BuildGraphQLSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to build GraphQL schema: %w", err)
	}

	return &BuildSchemaResult{
		Registry:      reg,
		Schema:        compiled,
		GraphQLSchema: graphqlSchema,
	}, nil
}
