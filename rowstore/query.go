package rowstore

// Op is a comparison operator of a filter condition.
type Op string

const (
	Eq     Op = "="
	Ne     Op = "<>"
	Lt     Op = "<"
	Le     Op = "<="
	Gt     Op = ">"
	Ge     Op = ">="
	In     Op = "IN"
	IsNull Op = "IS NULL"
	Like   Op = "LIKE"
)

// Condition is a single column predicate. Conditions of a query are ANDed.
type Condition struct {
	Column string
	Op     Op
	Value  any
}

// Where builds an equality condition.
func Where(column string, value any) Condition {
	return Condition{Column: column, Op: Eq, Value: value}
}

// Ordering sorts by one column.
type Ordering struct {
	Column     string
	Descending bool
}

// Asc orders by column ascending.
func Asc(column string) Ordering { return Ordering{Column: column} }

// Desc orders by column descending.
func Desc(column string) Ordering { return Ordering{Column: column, Descending: true} }

// Query is an abstract row selection against one table.
type Query struct {
	Entity  string
	Table   string
	Columns []string
	Filter  []Condition
	Order   []Ordering
	Limit   int
	Offset  int
}

// Unpaged returns q without limit, offset and ordering, suitable for counting.
func (q Query) Unpaged() Query {
	q.Limit, q.Offset, q.Order = 0, 0, nil
	return q
}

// Page returns q restricted to one page.
func (q Query) Page(offset, limit int) Query {
	q.Offset, q.Limit = offset, limit
	return q
}

// OrderedBy returns q with the given orderings appended unless already present.
func (q Query) OrderedBy(order ...Ordering) Query {
	seen := make(map[string]bool, len(q.Order))
	out := append([]Ordering(nil), q.Order...)
	for _, o := range out {
		seen[o.Column] = true
	}
	for _, o := range order {
		if !seen[o.Column] {
			out = append(out, o)
			seen[o.Column] = true
		}
	}
	q.Order = out
	return q
}
