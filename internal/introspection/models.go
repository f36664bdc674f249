package introspection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"modelql/internal/junction"
	"modelql/internal/model"
	"modelql/internal/naming"
)

// Options controls model loading.
type Options struct {
	Database string
	Namer    *naming.Namer
	// Include filters tables by name; nil includes every table.
	Include func(table string) bool
	Logger  *slog.Logger
}

// LoadRegistry introspects the database and returns a frozen model registry
// ready for schema derivation.
func LoadRegistry(ctx context.Context, db Queryer, opts Options) (*model.Registry, error) {
	models, err := LoadModels(ctx, db, opts)
	if err != nil {
		return nil, err
	}
	reg := model.NewRegistry()
	for _, m := range models {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	if err := reg.Freeze(); err != nil {
		return nil, err
	}
	return reg, nil
}

// LoadModels introspects the database and assembles one model descriptor per
// table. Pure junction tables are folded into many-to-many relations on both
// sides instead of becoming models.
func LoadModels(ctx context.Context, db Queryer, opts Options) ([]*model.Model, error) {
	ctx, span := startSpan(ctx, "introspection.load_models",
		attribute.String("db.name", opts.Database))
	defer span.End()

	namer := opts.Namer
	if namer == nil {
		namer = naming.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tables, err := getTables(ctx, db, opts.Database)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if opts.Include != nil {
		kept := tables[:0]
		for _, t := range tables {
			if opts.Include(t.Name) {
				kept = append(kept, t)
			}
		}
		tables = kept
	}

	for i := range tables {
		t := &tables[i]
		if t.Columns, err = getColumns(ctx, db, opts.Database, t.Name); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		if t.PrimaryKey, err = getPrimaryKey(ctx, db, opts.Database, t.Name); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		if t.ForeignKeys, err = getForeignKeys(ctx, db, opts.Database, t.Name); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		if t.UniqueIndexes, err = getUniqueIndexes(ctx, db, opts.Database, t.Name); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
	}

	junctions := junction.Classify(junctionCandidates(tables))
	pure := make(map[string]junction.Info)
	for name, info := range junctions {
		if info.Type == junction.Pure {
			pure[name] = info
		}
	}

	var models []*model.Model
	for _, t := range tables {
		if _, isJunction := pure[t.Name]; isJunction {
			continue
		}
		m := buildModel(t, tables, pure, namer, logger)
		models = append(models, m)
	}
	return models, nil
}

func junctionCandidates(tables []tableMeta) []junction.Table {
	out := make([]junction.Table, 0, len(tables))
	for _, t := range tables {
		jt := junction.Table{
			Name:       t.Name,
			PrimaryKey: t.PrimaryKey,
			NotNull:    make(map[string]bool, len(t.Columns)),
		}
		for _, col := range t.Columns {
			jt.Columns = append(jt.Columns, col.Name)
			jt.NotNull[col.Name] = !col.Nullable
		}
		for _, idx := range t.UniqueIndexes {
			jt.UniqueSets = append(jt.UniqueSets, idx.Columns)
		}
		for _, fk := range t.ForeignKeys {
			jt.ForeignKeys = append(jt.ForeignKeys, junction.FK{
				Column:           fk.Column,
				ReferencedTable:  fk.ReferencedTable,
				ReferencedColumn: fk.ReferencedColumn,
			})
		}
		out = append(out, jt)
	}
	return out
}

func buildModel(t tableMeta, tables []tableMeta, pure map[string]junction.Info, namer *naming.Namer, logger *slog.Logger) *model.Model {
	modelName := tableModelName(t.Name, namer)
	m := &model.Model{
		Name:  modelName,
		Table: t.Name,
	}

	pkName := ""
	if len(t.PrimaryKey) == 1 {
		pkName = t.PrimaryKey[0]
	} else if len(t.PrimaryKey) > 1 {
		logger.Warn("composite primary key is not addressable; table exposed without key operations",
			slog.String("table", t.Name))
	}

	singleUnique := make(map[string]bool)
	for _, idx := range t.UniqueIndexes {
		if len(idx.Columns) == 1 {
			singleUnique[idx.Columns[0]] = true
		}
	}

	for _, col := range t.Columns {
		m.Columns = append(m.Columns, model.Column{
			Name:       col.Name,
			SQLType:    col.ColumnType,
			Nullable:   col.Nullable,
			PrimaryKey: col.Name == pkName,
			Unique:     singleUnique[col.Name],
			Generated:  col.AutoIncrement || col.Generated,
			Comment:    col.Comment,
		})
	}

	for _, fk := range t.ForeignKeys {
		if _, isJunction := pure[fk.ReferencedTable]; isJunction {
			continue
		}
		if !tableKnown(tables, fk.ReferencedTable) {
			logger.Warn("foreign key references a table outside the schema; relation skipped",
				slog.String("table", t.Name),
				slog.String("column", fk.Column))
			continue
		}
		nullable := true
		for _, col := range t.Columns {
			if col.Name == fk.Column {
				nullable = col.Nullable
			}
		}
		m.ForeignKeys = append(m.ForeignKeys, model.ForeignKey{
			Field:        namer.ManyToOneFieldName(fk.Column),
			Column:       fk.Column,
			RemoteModel:  tableModelName(fk.ReferencedTable, namer),
			RemoteColumn: fk.ReferencedColumn,
			Nullable:     nullable,
			OneToOne:     singleUnique[fk.Column],
		})
	}

	for _, info := range sortedJunctions(pure) {
		switch t.Name {
		case info.Left.ReferencedTable:
			m.ManyToMany = append(m.ManyToMany, model.ManyToMany{
				Field:        namer.ManyToManyFieldName(info.Right.ReferencedTable),
				RemoteModel:  tableModelName(info.Right.ReferencedTable, namer),
				Through:      info.Table,
				LocalColumn:  info.Left.Column,
				RemoteColumn: info.Right.Column,
			})
		case info.Right.ReferencedTable:
			m.ManyToMany = append(m.ManyToMany, model.ManyToMany{
				Field:        namer.ManyToManyFieldName(info.Left.ReferencedTable),
				RemoteModel:  tableModelName(info.Left.ReferencedTable, namer),
				Through:      info.Table,
				LocalColumn:  info.Right.Column,
				RemoteColumn: info.Left.Column,
			})
		}
	}

	for _, idx := range t.UniqueIndexes {
		m.Constraints = append(m.Constraints, model.Constraint{
			Name:    idx.Name,
			Message: fmt.Sprintf("%s with this %s already exists", modelName, strings.Join(idx.Columns, ", ")),
		})
	}

	return m
}

func tableModelName(table string, namer *naming.Namer) string {
	return namer.ToGraphQLTypeName(namer.Singularize(table))
}

func tableKnown(tables []tableMeta, name string) bool {
	for _, t := range tables {
		if t.Name == name {
			return true
		}
	}
	return false
}

func sortedJunctions(pure map[string]junction.Info) []junction.Info {
	names := make([]string, 0, len(pure))
	for name := range pure {
		names = append(names, name)
	}
	// Deterministic relation order across schema rebuilds.
	sort.Strings(names)
	out := make([]junction.Info, 0, len(names))
	for _, name := range names {
		out = append(out, pure[name])
	}
	return out
}
