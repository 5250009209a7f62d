// Package mapping describes how entities map onto row store tables.
//
// The object graph never inspects mapping metadata directly. It asks a
// Resolver for the Entity capability of a type and calls its methods for
// table shape, key strategy, relationships, delete rules and validation.
package mapping

import (
	"context"
	"fmt"

	"github.com/goliatone/go-object-graph/oid"
)

// KeyStrategy tells the session who assigns permanent keys.
type KeyStrategy int

const (
	// KeyPreAssigned keys are set by the caller before commit.
	KeyPreAssigned KeyStrategy = iota
	// KeyGenerated keys are generated by the row store on insert.
	KeyGenerated
	// KeyUUID keys are random UUID strings assigned by the session on insert.
	KeyUUID
)

func (k KeyStrategy) String() string {
	switch k {
	case KeyPreAssigned:
		return "pre_assigned"
	case KeyGenerated:
		return "generated"
	case KeyUUID:
		return "uuid"
	default:
		return fmt.Sprintf("key_strategy(%d)", int(k))
	}
}

// DeleteRule is the built in behaviour applied to related objects when the
// source of a relationship is deleted.
type DeleteRule int

const (
	NoAction DeleteRule = iota
	Nullify
	Cascade
	Deny
)

func (r DeleteRule) String() string {
	switch r {
	case NoAction:
		return "no_action"
	case Nullify:
		return "nullify"
	case Cascade:
		return "cascade"
	case Deny:
		return "deny"
	default:
		return fmt.Sprintf("delete_rule(%d)", int(r))
	}
}

// Relationship connects two entities through a single foreign key column.
//
// A to-one relationship stores ForeignKey on the source table. A to-many
// relationship is the inverse of a to-one on Target; ForeignKey is then the
// column on the target table and Reverse names that to-one relationship.
type Relationship struct {
	Name       string
	Target     string
	ForeignKey string
	ToMany     bool
	Reverse    string
	Mandatory  bool
	DeleteRule DeleteRule
}

// Violation is one failed validation check.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// Graph is the view of the object graph handed to delete rules.
type Graph interface {
	// Related returns the ids reachable from id through relationship rel.
	Related(ctx context.Context, id oid.ID, rel string) ([]oid.ID, error)
}

// Nullification clears one to-one relationship of an object.
type Nullification struct {
	ID           oid.ID
	Relationship string
}

// Effect lists the additional objects a delete touches.
type Effect struct {
	Delete  []oid.ID
	Nullify []Nullification
}

// DeleteRuleFunc computes the effect of deleting id on relationship rel.
// Returning an error aborts the delete before any object changes state.
type DeleteRuleFunc func(ctx context.Context, g Graph, id oid.ID, rel Relationship) (Effect, error)

// Entity is the per type capability the object graph works against.
type Entity interface {
	Name() string
	Table() string
	KeyColumns() []string
	KeyStrategy() KeyStrategy
	Relationships() []Relationship
	Relationship(name string) (Relationship, bool)
	DeleteRule(rel string) DeleteRuleFunc
	Validate(values map[string]any) []Violation
}

// Resolver hands out Entity capabilities by entity name.
type Resolver interface {
	Entity(name string) (Entity, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) (Entity, error)

// Entity implements Resolver.
func (f ResolverFunc) Entity(name string) (Entity, error) { return f(name) }
