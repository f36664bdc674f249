// Package relmeta derives normalized relation metadata from model
// descriptors. The output describes, for every relational field, what kind of
// relation it is and whether the related row must exist before or after the
// owning row is saved. Results are pure functions of the registered models
// and are cached process-wide.
package relmeta

// RelationType classifies every relational field a model can declare.
type RelationType int

const (
	ReverseOneToOne RelationType = iota
	ForwardOneToOne
	ForwardManyToOne
	ReverseOneToMany
	ReverseManyToMany
	ForwardManyToMany
	GenericOneToMany
	GenericManyToOne
)

var relationTypeNames = map[RelationType]string{
	ReverseOneToOne:   "reverse_one_to_one",
	ForwardOneToOne:   "forward_one_to_one",
	ForwardManyToOne:  "forward_many_to_one",
	ReverseOneToMany:  "reverse_one_to_many",
	ReverseManyToMany: "reverse_many_to_many",
	ForwardManyToMany: "forward_many_to_many",
	GenericOneToMany:  "generic_one_to_many",
	GenericManyToOne:  "generic_many_to_one",
}

func (t RelationType) String() string {
	if name, ok := relationTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsForward reports whether the relation is declared on the owning model.
func (t RelationType) IsForward() bool {
	switch t {
	case ForwardOneToOne, ForwardManyToOne, ForwardManyToMany, GenericManyToOne:
		return true
	default:
		return false
	}
}

// IsReverse reports whether the relation is the accessor side of a relation
// declared elsewhere.
func (t RelationType) IsReverse() bool {
	switch t {
	case ReverseOneToOne, ReverseOneToMany, ReverseManyToMany, GenericOneToMany:
		return true
	default:
		return false
	}
}

// IsGenericRelation reports the collection-valued generic relation kind.
func (t RelationType) IsGenericRelation() bool {
	return t == GenericOneToMany
}

// IsGenericForeignKey reports the discriminated-pointer kind.
func (t RelationType) IsGenericForeignKey() bool {
	return t == GenericManyToOne
}

// CreatedBefore reports relations whose target row must be resolved before
// the owning row is saved, so the owner can point at it.
func (t RelationType) CreatedBefore() bool {
	return t == ForwardOneToOne || t == ForwardManyToOne
}

// CreatedAfter reports relations whose rows point back at the owner and can
// only be resolved once the owner's primary key exists.
func (t RelationType) CreatedAfter() bool {
	switch t {
	case ReverseOneToOne, ReverseOneToMany, ReverseManyToMany, ForwardManyToMany, GenericOneToMany:
		return true
	default:
		return false
	}
}

// ToMany reports whether the relation is collection-valued.
func (t RelationType) ToMany() bool {
	switch t {
	case ReverseOneToMany, ReverseManyToMany, ForwardManyToMany, GenericOneToMany:
		return true
	default:
		return false
	}
}
