package schema

import (
	"sort"

	"modelql/internal/model"
	"modelql/internal/naming"
	"modelql/internal/relmeta"
)

// Derive builds a node type for every registered model: one column field per
// column, one relation field per relational accessor, with GraphQL names
// produced by the namer. To-many relations are exposed as connections.
// Derived types are a starting point; callers may add expression fields or
// hooks before Build.
func Derive(reg *model.Registry, namer *naming.Namer) ([]*NodeType, error) {
	var nodes []*NodeType
	for _, name := range reg.Names() {
		m, err := reg.Get(name)
		if err != nil {
			return nil, err
		}
		nt, err := DeriveNodeType(reg, m, namer)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, nt)
	}
	return nodes, nil
}

// DeriveNodeType builds the default node type for one model.
func DeriveNodeType(reg *model.Registry, m *model.Model, namer *naming.Namer) (*NodeType, error) {
	nt := NewNodeType(m.Name, m)

	for _, col := range m.Columns {
		if err := nt.AddField(FieldDescriptor{
			Name:   namer.ToGraphQLFieldName(col.Name),
			Kind:   FieldColumn,
			Column: col.Name,
		}); err != nil {
			return nil, err
		}
	}

	relInfos, err := relmeta.ParseModelRelationInfo(reg, m)
	if err != nil {
		return nil, err
	}
	fields := make([]string, 0, len(relInfos))
	for field := range relInfos {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		info := relInfos[field]
		fd := FieldDescriptor{
			Name:       namer.ToGraphQLFieldName(field),
			Kind:       FieldRelation,
			Relation:   field,
			Connection: info.Relation.ToMany(),
		}
		// A relation accessor can shadow its own foreign key column's field
		// name; the column field wins and the relation is skipped.
		if _, taken := nt.Field(fd.Name); taken {
			continue
		}
		if err := nt.AddField(fd); err != nil {
			return nil, err
		}
	}

	return nt, nil
}
