package relmeta

import (
	"fmt"
	"sync"

	"modelql/internal/model"
)

// RelatedFieldInfo describes one relational field on a model, normalized so
// the planner and mutation layers never have to re-derive join columns or
// relation direction.
type RelatedFieldInfo struct {
	FieldName   string
	RelatedName string // reverse accessor; "" only for generic foreign keys
	Relation    RelationType
	Nullable    bool

	// RelatedModel and RelatedPKType are both unset iff Relation is
	// GenericManyToOne, where the target model is only known per-row.
	RelatedModel  *model.Model
	RelatedPKType string

	// LocalColumn/RemoteColumn bind the relation in SQL. For many-to-many
	// they name the junction columns and Through names the junction table.
	LocalColumn  string
	RemoteColumn string
	Through      string

	// TypeColumn/IDColumn are set for generic relation kinds.
	TypeColumn string
	IDColumn   string
}

var infoCache sync.Map // *model.Model -> map[string]RelatedFieldInfo

// ParseModelRelationInfo derives relation metadata for every relational field
// on m, forward and reverse. The result is memoized per model; a race during
// first population recomputes the same pure result.
func ParseModelRelationInfo(reg *model.Registry, m *model.Model) (map[string]RelatedFieldInfo, error) {
	if cached, ok := infoCache.Load(m); ok {
		return cached.(map[string]RelatedFieldInfo), nil
	}
	infos, err := deriveRelationInfo(reg, m)
	if err != nil {
		return nil, err
	}
	actual, _ := infoCache.LoadOrStore(m, infos)
	return actual.(map[string]RelatedFieldInfo), nil
}

func deriveRelationInfo(reg *model.Registry, m *model.Model) (map[string]RelatedFieldInfo, error) {
	infos := make(map[string]RelatedFieldInfo)
	add := func(info RelatedFieldInfo) error {
		if _, exists := infos[info.FieldName]; exists {
			return fmt.Errorf("model %s declares relational field %s more than once", m.Name, info.FieldName)
		}
		infos[info.FieldName] = info
		return nil
	}

	pk, ok := m.PrimaryKey()
	if !ok {
		return nil, fmt.Errorf("model %s has no primary key", m.Name)
	}

	// Forward foreign keys declared on this model.
	for _, fk := range m.ForeignKeys {
		remote, err := reg.Get(fk.RemoteModel)
		if err != nil {
			return nil, fmt.Errorf("model %s field %s: %w", m.Name, fk.Field, err)
		}
		remotePK, ok := remote.PrimaryKey()
		if !ok {
			return nil, fmt.Errorf("model %s field %s: related model %s has no primary key", m.Name, fk.Field, remote.Name)
		}
		kind := ForwardManyToOne
		if fk.OneToOne {
			kind = ForwardOneToOne
		}
		if err := add(RelatedFieldInfo{
			FieldName:     fk.Field,
			RelatedName:   reverseAccessorName(fk, m),
			Relation:      kind,
			Nullable:      fk.Nullable,
			RelatedModel:  remote,
			RelatedPKType: remotePK.SQLType,
			LocalColumn:   fk.Column,
			RemoteColumn:  remoteColumnOrPK(fk, remote),
		}); err != nil {
			return nil, err
		}
	}

	// Forward many-to-many relations declared on this model.
	for _, m2m := range m.ManyToMany {
		remote, err := reg.Get(m2m.RemoteModel)
		if err != nil {
			return nil, fmt.Errorf("model %s field %s: %w", m.Name, m2m.Field, err)
		}
		remotePK, ok := remote.PrimaryKey()
		if !ok {
			return nil, fmt.Errorf("model %s field %s: related model %s has no primary key", m.Name, m2m.Field, remote.Name)
		}
		if err := add(RelatedFieldInfo{
			FieldName:     m2m.Field,
			RelatedName:   m2mReverseAccessorName(m2m, m),
			Relation:      ForwardManyToMany,
			Nullable:      true,
			RelatedModel:  remote,
			RelatedPKType: remotePK.SQLType,
			LocalColumn:   m2m.LocalColumn,
			RemoteColumn:  m2m.RemoteColumn,
			Through:       m2m.Through,
		}); err != nil {
			return nil, err
		}
	}

	// Generic foreign keys declared on this model.
	for _, gfk := range m.GenericForeignKeys {
		idCol, _ := m.ColumnNamed(gfk.IDColumn)
		if err := add(RelatedFieldInfo{
			FieldName:  gfk.Field,
			Relation:   GenericManyToOne,
			Nullable:   idCol.Nullable,
			TypeColumn: gfk.TypeColumn,
			IDColumn:   gfk.IDColumn,
		}); err != nil {
			return nil, err
		}
	}

	// Generic relations declared on this model. The reverse accessor is
	// discovered by scanning the remote model for the generic foreign key
	// whose column pair matches this relation's configuration.
	for _, gr := range m.GenericRelations {
		remote, err := reg.Get(gr.RemoteModel)
		if err != nil {
			return nil, fmt.Errorf("model %s field %s: %w", m.Name, gr.Field, err)
		}
		remotePK, ok := remote.PrimaryKey()
		if !ok {
			return nil, fmt.Errorf("model %s field %s: related model %s has no primary key", m.Name, gr.Field, remote.Name)
		}
		relatedName := ""
		for _, gfk := range remote.GenericForeignKeys {
			if gfk.TypeColumn == gr.TypeColumn && gfk.IDColumn == gr.IDColumn {
				relatedName = gfk.Field
				break
			}
		}
		if relatedName == "" {
			return nil, fmt.Errorf(
				"model %s field %s: related model %s declares no generic foreign key over (%s, %s)",
				m.Name, gr.Field, remote.Name, gr.TypeColumn, gr.IDColumn,
			)
		}
		idCol, _ := remote.ColumnNamed(gr.IDColumn)
		if err := add(RelatedFieldInfo{
			FieldName:     gr.Field,
			RelatedName:   relatedName,
			Relation:      GenericOneToMany,
			Nullable:      idCol.Nullable,
			RelatedModel:  remote,
			RelatedPKType: remotePK.SQLType,
			LocalColumn:   pk.Name,
			RemoteColumn:  gr.IDColumn,
			TypeColumn:    gr.TypeColumn,
			IDColumn:      gr.IDColumn,
		}); err != nil {
			return nil, err
		}
	}

	// Reverse relations: foreign keys and many-to-many relations declared on
	// other models pointing back at this one.
	for _, name := range reg.Names() {
		other, err := reg.Get(name)
		if err != nil {
			return nil, err
		}
		for _, fk := range other.ForeignKeys {
			if fk.RemoteModel != m.Name {
				continue
			}
			// A self-referential forward field already occupies its own name;
			// the reverse accessor must not collide with it.
			fieldName := reverseAccessorName(fk, other)
			kind := ReverseOneToMany
			if fk.OneToOne {
				kind = ReverseOneToOne
			}
			otherPK, ok := other.PrimaryKey()
			if !ok {
				return nil, fmt.Errorf("model %s has no primary key", other.Name)
			}
			if err := add(RelatedFieldInfo{
				FieldName:     fieldName,
				RelatedName:   fk.Field,
				Relation:      kind,
				Nullable:      fk.Nullable,
				RelatedModel:  other,
				RelatedPKType: otherPK.SQLType,
				LocalColumn:   remoteColumnOrPK(fk, m),
				RemoteColumn:  fk.Column,
			}); err != nil {
				return nil, err
			}
		}
		for _, m2m := range other.ManyToMany {
			if m2m.RemoteModel != m.Name {
				continue
			}
			otherPK, ok := other.PrimaryKey()
			if !ok {
				return nil, fmt.Errorf("model %s has no primary key", other.Name)
			}
			if err := add(RelatedFieldInfo{
				FieldName:     m2mReverseAccessorName(m2m, other),
				RelatedName:   m2m.Field,
				Relation:      ReverseManyToMany,
				Nullable:      true,
				RelatedModel:  other,
				RelatedPKType: otherPK.SQLType,
				LocalColumn:   m2m.RemoteColumn,
				RemoteColumn:  m2m.LocalColumn,
				Through:       m2m.Through,
			}); err != nil {
				return nil, err
			}
		}
	}

	return infos, nil
}

// reverseAccessorName resolves the accessor name a foreign key exposes on its
// remote model. Without an explicit RelatedName the declaring model's table
// name is used, suffixed with the declaring field whenever the plain table
// name would be claimed twice: self-referential relations (where the forward
// field already occupies fk.Field on the same model) and multiple unnamed
// relations from one model to the same remote.
func reverseAccessorName(fk model.ForeignKey, owner *model.Model) string {
	if fk.RelatedName != "" {
		return fk.RelatedName
	}
	if fk.RemoteModel == owner.Name || countUnnamedTo(owner, fk.RemoteModel) > 1 {
		return owner.Table + "_by_" + fk.Field
	}
	return owner.Table
}

func m2mReverseAccessorName(m2m model.ManyToMany, owner *model.Model) string {
	if m2m.RelatedName != "" {
		return m2m.RelatedName
	}
	if m2m.RemoteModel == owner.Name || countUnnamedTo(owner, m2m.RemoteModel) > 1 {
		return owner.Table + "_by_" + m2m.Field
	}
	return owner.Table
}

// countUnnamedTo counts the relational declarations on owner targeting remote
// that would fall back to owner's table name as their reverse accessor.
func countUnnamedTo(owner *model.Model, remote string) int {
	n := 0
	for _, fk := range owner.ForeignKeys {
		if fk.RemoteModel == remote && fk.RelatedName == "" {
			n++
		}
	}
	for _, m2m := range owner.ManyToMany {
		if m2m.RemoteModel == remote && m2m.RelatedName == "" {
			n++
		}
	}
	return n
}

func remoteColumnOrPK(fk model.ForeignKey, remote *model.Model) string {
	if fk.RemoteColumn != "" {
		return fk.RemoteColumn
	}
	if pk, ok := remote.PrimaryKey(); ok {
		return pk.Name
	}
	return ""
}
