package mapping

import (
	"sort"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/jinzhu/inflection"
)

// Validator checks a full row of an entity and reports violations.
type Validator func(values map[string]any) []Violation

// EntityDescriptor declares an entity for a Registry.
type EntityDescriptor struct {
	Name string

	// Table defaults to the pluralized snake_case Name.
	Table string

	// KeyColumns defaults to []string{"id"}.
	KeyColumns []string

	KeyStrategy   KeyStrategy
	Relationships []Relationship

	// Fields holds ozzo rules per column. Columns missing from the row are
	// reported unless their rules allow it through Optional.
	Fields map[string][]validation.Rule

	// Optional lists columns that may be absent from the row.
	Optional []string

	// Validators run after the field rules.
	Validators []Validator

	// DeleteRules overrides the built in rule of a relationship.
	DeleteRules map[string]DeleteRuleFunc
}

// Validate checks that the descriptor is well formed.
func (d EntityDescriptor) Validate() error {
	err := validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required),
		validation.Field(&d.KeyStrategy, validation.Min(KeyPreAssigned), validation.Max(KeyUUID)),
		validation.Field(&d.Relationships),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid entity descriptor "+d.Name)
	}

	seen := make(map[string]bool, len(d.Relationships))
	for _, rel := range d.Relationships {
		if seen[rel.Name] {
			return goerrors.NewValidation("invalid entity descriptor "+d.Name, goerrors.FieldError{
				Field:   "Relationships",
				Message: "duplicate relationship " + rel.Name,
			})
		}
		seen[rel.Name] = true
	}
	for name := range d.DeleteRules {
		if !seen[name] {
			return goerrors.NewValidation("invalid entity descriptor "+d.Name, goerrors.FieldError{
				Field:   "DeleteRules",
				Message: "unknown relationship " + name,
			})
		}
	}
	if d.KeyStrategy != KeyPreAssigned && len(d.KeyColumns) > 1 {
		return goerrors.NewValidation("invalid entity descriptor "+d.Name, goerrors.FieldError{
			Field:   "KeyColumns",
			Message: "generated keys require a single key column",
		})
	}
	return nil
}

// Validate checks a relationship declaration.
func (r Relationship) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Target, validation.Required),
		validation.Field(&r.ForeignKey, validation.Required),
		validation.Field(&r.Reverse, validation.When(r.ToMany, validation.Required)),
		validation.Field(&r.DeleteRule, validation.Min(NoAction), validation.Max(Deny)),
	)
}

type entity struct {
	name        string
	table       string
	keys        []string
	strategy    KeyStrategy
	rels        []Relationship
	relByName   map[string]Relationship
	fieldRule   validation.MapRule
	hasFields   bool
	validators  []Validator
	deleteRules map[string]DeleteRuleFunc
}

func newEntity(d EntityDescriptor) *entity {
	e := &entity{
		name:        d.Name,
		table:       d.Table,
		keys:        append([]string(nil), d.KeyColumns...),
		strategy:    d.KeyStrategy,
		rels:        append([]Relationship(nil), d.Relationships...),
		relByName:   make(map[string]Relationship, len(d.Relationships)),
		validators:  append([]Validator(nil), d.Validators...),
		deleteRules: make(map[string]DeleteRuleFunc, len(d.Relationships)),
	}
	if e.table == "" {
		e.table = inflection.Plural(toSnake(d.Name))
	}
	if len(e.keys) == 0 {
		e.keys = []string{"id"}
	}
	for _, rel := range e.rels {
		e.relByName[rel.Name] = rel
		e.deleteRules[rel.Name] = RuleFunc(rel.DeleteRule)
	}
	for name, fn := range d.DeleteRules {
		e.deleteRules[name] = fn
	}

	if len(d.Fields) > 0 {
		optional := make(map[string]bool, len(d.Optional))
		for _, col := range d.Optional {
			optional[col] = true
		}
		cols := make([]string, 0, len(d.Fields))
		for col := range d.Fields {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		keys := make([]*validation.KeyRules, 0, len(cols))
		for _, col := range cols {
			k := validation.Key(col, d.Fields[col]...)
			if optional[col] {
				k = k.Optional()
			}
			keys = append(keys, k)
		}
		e.fieldRule = validation.Map(keys...).AllowExtraKeys()
		e.hasFields = true
	}
	return e
}

func (e *entity) Name() string                  { return e.name }
func (e *entity) Table() string                 { return e.table }
func (e *entity) KeyColumns() []string          { return append([]string(nil), e.keys...) }
func (e *entity) KeyStrategy() KeyStrategy      { return e.strategy }
func (e *entity) Relationships() []Relationship { return append([]Relationship(nil), e.rels...) }

func (e *entity) Relationship(name string) (Relationship, bool) {
	rel, ok := e.relByName[name]
	return rel, ok
}

func (e *entity) DeleteRule(rel string) DeleteRuleFunc {
	if fn, ok := e.deleteRules[rel]; ok {
		return fn
	}
	return noActionRule
}

func (e *entity) Validate(values map[string]any) []Violation {
	var out []Violation
	if e.hasFields {
		if err := e.fieldRule.Validate(values); err != nil {
			out = append(out, violationsOf(err)...)
		}
	}
	for _, v := range e.validators {
		out = append(out, v(values)...)
	}
	return out
}

func violationsOf(err error) []Violation {
	errs, ok := err.(validation.Errors)
	if !ok {
		return []Violation{{Message: err.Error()}}
	}
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	out := make([]Violation, 0, len(fields))
	for _, f := range fields {
		out = append(out, Violation{Field: f, Message: errs[f].Error()})
	}
	return out
}

// Registry is a Resolver backed by registered descriptors.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*entity
}

// NewRegistry registers every descriptor, failing on the first invalid one.
func NewRegistry(descriptors ...EntityDescriptor) (*Registry, error) {
	r := &Registry{entities: make(map[string]*entity, len(descriptors))}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(descriptors ...EntityDescriptor) *Registry {
	r, err := NewRegistry(descriptors...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds or replaces an entity.
func (r *Registry) Register(d EntityDescriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[d.Name] = newEntity(d)
	return nil
}

// Entity implements Resolver.
func (r *Registry) Entity(name string) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	if !ok {
		return nil, NewUnknownEntity(name)
	}
	return e, nil
}

// Names returns the registered entity names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entities))
	for n := range r.entities {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
