// Package schemafilter applies allow/deny filters to loaded model descriptors.
package schemafilter

import (
	"path"
	"slices"
	"strings"

	"modelql/internal/model"
)

// Config controls allow/deny filters for tables and columns.
type Config struct {
	AllowTables  []string            `mapstructure:"allow_tables"`
	DenyTables   []string            `mapstructure:"deny_tables"`
	AllowColumns map[string][]string `mapstructure:"allow_columns"`
	DenyColumns  map[string][]string `mapstructure:"deny_columns"`
	// DenyMutationTables restricts writes only. It does not affect query
	// visibility and is evaluated during mutation schema generation.
	DenyMutationTables []string `mapstructure:"deny_mutation_tables"`
}

// TableFilter returns a predicate suitable for introspection, so denied
// tables are never loaded at all. Missing allow lists default to allow-all;
// deny rules always win.
func (c Config) TableFilter() func(table string) bool {
	return func(table string) bool {
		return tableAllowed(table, c.AllowTables, c.DenyTables)
	}
}

// Apply filters columns and relations on the loaded models in place and
// returns the surviving models. A model whose primary key column is filtered
// out, or that ends up with no columns, is dropped entirely. Relations
// pointing at dropped models or filtered columns are removed with them.
func Apply(models []*model.Model, cfg Config) []*model.Model {
	keptColumns := make(map[string]map[string]bool, len(models))
	kept := make([]*model.Model, 0, len(models))

	for _, m := range models {
		pk, hasPK := m.PrimaryKey()
		cols := make([]model.Column, 0, len(m.Columns))
		allowed := make(map[string]bool, len(m.Columns))
		for _, col := range m.Columns {
			// The primary key is never filtered; node identity depends on it.
			if hasPK && col.Name == pk.Name {
				cols = append(cols, col)
				allowed[col.Name] = true
				continue
			}
			if !columnAllowed(m.Table, col.Name, cfg.AllowColumns, cfg.DenyColumns) {
				continue
			}
			cols = append(cols, col)
			allowed[col.Name] = true
		}
		if len(cols) == 0 {
			continue
		}
		m.Columns = cols
		keptColumns[m.Table] = allowed
		kept = append(kept, m)
	}

	byName := make(map[string]*model.Model, len(kept))
	for _, m := range kept {
		byName[m.Name] = m
	}

	for _, m := range kept {
		allowed := keptColumns[m.Table]

		fks := make([]model.ForeignKey, 0, len(m.ForeignKeys))
		for _, fk := range m.ForeignKeys {
			if !allowed[fk.Column] {
				continue
			}
			remote, ok := byName[fk.RemoteModel]
			if !ok {
				continue
			}
			if !keptColumns[remote.Table][fk.RemoteColumn] {
				continue
			}
			fks = append(fks, fk)
		}
		m.ForeignKeys = fks

		m2ms := make([]model.ManyToMany, 0, len(m.ManyToMany))
		for _, m2m := range m.ManyToMany {
			if _, ok := byName[m2m.RemoteModel]; !ok {
				continue
			}
			m2ms = append(m2ms, m2m)
		}
		m.ManyToMany = m2ms

		gfks := make([]model.GenericForeignKey, 0, len(m.GenericForeignKeys))
		for _, gfk := range m.GenericForeignKeys {
			if !allowed[gfk.TypeColumn] || !allowed[gfk.IDColumn] {
				continue
			}
			gfks = append(gfks, gfk)
		}
		m.GenericForeignKeys = gfks

		grels := make([]model.GenericRelation, 0, len(m.GenericRelations))
		for _, rel := range m.GenericRelations {
			remote, ok := byName[rel.RemoteModel]
			if !ok {
				continue
			}
			remoteCols := keptColumns[remote.Table]
			if !remoteCols[rel.TypeColumn] || !remoteCols[rel.IDColumn] {
				continue
			}
			grels = append(grels, rel)
		}
		m.GenericRelations = grels
	}

	return kept
}

// MutationTableAllowed reports whether a table is eligible for mutations.
// It only applies the deny list and keeps matching logic consistent with
// query filters.
func MutationTableAllowed(table string, cfg Config) bool {
	return !matchesAny(table, cfg.DenyMutationTables)
}

func tableAllowed(table string, allow, deny []string) bool {
	if matchesAny(table, deny) {
		return false
	}
	if len(allow) == 0 {
		return true
	}
	return matchesAny(table, allow)
}

func columnAllowed(table, column string, allow, deny map[string][]string) bool {
	denyPatterns := mergePatterns(deny, table)
	if matchesAny(column, denyPatterns) {
		return false
	}
	allowPatterns := mergePatterns(allow, table)
	if len(allowPatterns) == 0 {
		return true
	}
	return matchesAny(column, allowPatterns)
}

func mergePatterns(patterns map[string][]string, table string) []string {
	if patterns == nil {
		return nil
	}
	combined := append([]string{}, patterns["*"]...)
	combined = append(combined, patterns[table]...)
	return slices.Compact(combined)
}

func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		// matching should be case-insensitive
		ok, err := path.Match(strings.ToLower(pattern), value)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
