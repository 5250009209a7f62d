package mapping

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-object-graph/oid"
)

const (
	// TextCodeDeleteDenied marks deletes refused by a Deny rule.
	TextCodeDeleteDenied = "DELETE_DENIED"
	// TextCodeUnknownEntity marks lookups of entities the resolver does not know.
	TextCodeUnknownEntity = "UNKNOWN_ENTITY"
)

// NewDeleteDenied builds the error returned when a Deny rule blocks a delete.
func NewDeleteDenied(id oid.ID, rel Relationship, related int) error {
	return goerrors.New(fmt.Sprintf("cannot delete %s: %d related object(s) through %s", id, related, rel.Name),
		goerrors.CategoryConflict).
		WithTextCode(TextCodeDeleteDenied).
		WithMetadata(map[string]any{
			"object":       id.String(),
			"relationship": rel.Name,
			"related":      related,
		})
}

// NewUnknownEntity builds the error returned for unknown entity names.
func NewUnknownEntity(name string) error {
	return goerrors.New("unknown entity "+name, goerrors.CategoryNotFound).
		WithTextCode(TextCodeUnknownEntity).
		WithMetadata(map[string]any{"entity": name})
}

// RuleFunc returns the DeleteRuleFunc implementing rule.
func RuleFunc(rule DeleteRule) DeleteRuleFunc {
	switch rule {
	case Nullify:
		return nullifyRule
	case Cascade:
		return cascadeRule
	case Deny:
		return denyRule
	default:
		return noActionRule
	}
}

func noActionRule(context.Context, Graph, oid.ID, Relationship) (Effect, error) {
	return Effect{}, nil
}

func nullifyRule(ctx context.Context, g Graph, id oid.ID, rel Relationship) (Effect, error) {
	if !rel.ToMany || rel.Reverse == "" {
		// the foreign key lives on the deleted row itself
		return Effect{}, nil
	}
	related, err := g.Related(ctx, id, rel.Name)
	if err != nil {
		return Effect{}, err
	}
	effect := Effect{Nullify: make([]Nullification, 0, len(related))}
	for _, r := range related {
		effect.Nullify = append(effect.Nullify, Nullification{ID: r, Relationship: rel.Reverse})
	}
	return effect, nil
}

func cascadeRule(ctx context.Context, g Graph, id oid.ID, rel Relationship) (Effect, error) {
	related, err := g.Related(ctx, id, rel.Name)
	if err != nil {
		return Effect{}, err
	}
	return Effect{Delete: related}, nil
}

func denyRule(ctx context.Context, g Graph, id oid.ID, rel Relationship) (Effect, error) {
	related, err := g.Related(ctx, id, rel.Name)
	if err != nil {
		return Effect{}, err
	}
	if len(related) > 0 {
		return Effect{}, NewDeleteDenied(id, rel, len(related))
	}
	return Effect{}, nil
}
