package rowstore

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-object-graph/internal/rowcodec"
)

// ForeignKey declares that Table.Column references RefTable.RefColumn.
type ForeignKey struct {
	Table     string
	Column    string
	RefTable  string
	RefColumn string
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithForeignKeys makes the store enforce fks on every write.
func WithForeignKeys(fks ...ForeignKey) MemoryOption {
	return func(m *MemoryStore) {
		m.foreignKeys = append(m.foreignKeys, fks...)
	}
}

// WithDeferredConstraints advertises deferred constraints. Foreign keys are
// then only checked by CheckConstraints.
func WithDeferredConstraints() MemoryOption {
	return func(m *MemoryStore) {
		m.deferred = true
	}
}

// WithKeyColumns declares the key columns of table. Inserts of a duplicate
// key fail with a constraint error. Tables default to a single "id" key.
func WithKeyColumns(table string, columns ...string) MemoryOption {
	return func(m *MemoryStore) {
		m.keyColumns[table] = columns
	}
}

type memoryTable struct {
	rows []Row
	seq  int64
}

// MemoryStore is a RowStore kept in process memory. It records every executed
// operation and supports failure injection, which makes it the store of
// choice for tests.
type MemoryStore struct {
	mu          sync.RWMutex
	tables      map[string]*memoryTable
	keyColumns  map[string][]string
	foreignKeys []ForeignKey
	deferred    bool

	log     []Operation
	fetches int
	failFn  func(Operation) error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		tables:     make(map[string]*memoryTable),
		keyColumns: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Capabilities implements CapabilityReporter.
func (m *MemoryStore) Capabilities() Capabilities {
	return Capabilities{DeferredConstraints: m.deferred}
}

// Seed inserts rows into table without recording operations.
func (m *MemoryStore) Seed(table string, rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(table)
	for _, r := range rows {
		r = rowcodec.Clone(r)
		for _, col := range m.keysOf(table) {
			if v, ok := r[col].(int64); ok && v > t.seq {
				t.seq = v
			}
		}
		t.rows = append(t.rows, r)
	}
}

// FailWhen installs fn; a non-nil return makes Execute fail with that error
// without touching any row.
func (m *MemoryStore) FailWhen(fn func(Operation) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFn = fn
}

// Operations returns a copy of every successfully executed operation.
func (m *MemoryStore) Operations() []Operation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Operation, len(m.log))
	for i, op := range m.log {
		out[i] = op.Clone()
	}
	return out
}

// ResetOperations clears the operation log.
func (m *MemoryStore) ResetOperations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = nil
}

// FetchCount returns how many times Fetch ran.
func (m *MemoryStore) FetchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetches
}

// Rows returns a copy of every row in table, in insertion order.
func (m *MemoryStore) Rows(table string) []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil
	}
	return rowcodec.CloneRows(t.rows)
}

func (m *MemoryStore) table(name string) *memoryTable {
	t, ok := m.tables[name]
	if !ok {
		t = &memoryTable{}
		m.tables[name] = t
	}
	return t
}

func (m *MemoryStore) keysOf(table string) []string {
	if cols, ok := m.keyColumns[table]; ok {
		return cols
	}
	return []string{"id"}
}

// Execute implements RowStore.
func (m *MemoryStore) Execute(ctx context.Context, op Operation) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, NewConnectivityError(err, "execute "+op.Kind.String()+" on "+op.Table)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failFn != nil {
		if err := m.failFn(op.Clone()); err != nil {
			return Result{}, err
		}
	}
	if op.Table == "" {
		return Result{}, goerrors.New("operation has no table", goerrors.CategoryBadInput).
			WithTextCode(TextCodeUnknownTable)
	}

	var (
		res Result
		err error
	)
	switch op.Kind {
	case Insert:
		res, err = m.insert(op)
	case Update:
		res, err = m.update(op)
	case Delete:
		res, err = m.delete(op)
	default:
		err = goerrors.New(fmt.Sprintf("unsupported operation kind %d", op.Kind), goerrors.CategoryBadInput)
	}
	if err != nil {
		return Result{}, err
	}
	m.log = append(m.log, op.Clone())
	return res, nil
}

func (m *MemoryStore) insert(op Operation) (Result, error) {
	t := m.table(op.Table)
	row := rowcodec.Clone(op.Values)
	if row == nil {
		row = Row{}
	}

	var res Result
	if op.GeneratedKey != "" {
		t.seq++
		row[op.GeneratedKey] = t.seq
		res.GeneratedKeys = map[string]any{op.GeneratedKey: t.seq}
	}

	key := make(map[string]any)
	complete := true
	for _, col := range m.keysOf(op.Table) {
		key[col] = row[col]
		complete = complete && row[col] != nil
	}
	if complete && m.find(t, key) >= 0 {
		return Result{}, NewConstraintError(nil, fmt.Sprintf("duplicate key in %s", op.Table))
	}
	if err := m.checkReferences(op.Table, row); err != nil {
		return Result{}, err
	}
	for _, col := range m.keysOf(op.Table) {
		if v, ok := row[col].(int64); ok && v > t.seq {
			t.seq = v
		}
	}

	t.rows = append(t.rows, row)
	res.RowsAffected = 1
	return res, nil
}

func (m *MemoryStore) update(op Operation) (Result, error) {
	t := m.table(op.Table)
	idx := m.find(t, op.Key)
	if idx < 0 {
		return Result{}, nil
	}
	next := rowcodec.Clone(t.rows[idx])
	for k, v := range rowcodec.Clone(op.Values) {
		next[k] = v
	}
	if err := m.checkReferences(op.Table, next); err != nil {
		return Result{}, err
	}
	t.rows[idx] = next
	return Result{RowsAffected: 1}, nil
}

func (m *MemoryStore) delete(op Operation) (Result, error) {
	t := m.table(op.Table)
	idx := m.find(t, op.Key)
	if idx < 0 {
		return Result{}, nil
	}
	if !m.deferred {
		if err := m.checkReferrers(op.Table, t.rows[idx]); err != nil {
			return Result{}, err
		}
	}
	t.rows = append(t.rows[:idx], t.rows[idx+1:]...)
	return Result{RowsAffected: 1}, nil
}

func (m *MemoryStore) find(t *memoryTable, key map[string]any) int {
	if len(key) == 0 {
		return -1
	}
	for i, r := range t.rows {
		match := true
		for col, v := range key {
			if !rowcodec.Equal(r[col], v) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func (m *MemoryStore) checkReferences(table string, row Row) error {
	if m.deferred {
		return nil
	}
	for _, fk := range m.foreignKeys {
		if fk.Table != table {
			continue
		}
		v := row[fk.Column]
		if v == nil {
			continue
		}
		if m.find(m.table(fk.RefTable), map[string]any{fk.RefColumn: v}) < 0 {
			return NewConstraintError(nil, fmt.Sprintf("%s.%s references missing %s.%s=%v",
				fk.Table, fk.Column, fk.RefTable, fk.RefColumn, v))
		}
	}
	return nil
}

func (m *MemoryStore) checkReferrers(table string, row Row) error {
	for _, fk := range m.foreignKeys {
		if fk.RefTable != table {
			continue
		}
		v := row[fk.RefColumn]
		if v == nil {
			continue
		}
		if m.find(m.table(fk.Table), map[string]any{fk.Column: v}) >= 0 {
			return NewConstraintError(nil, fmt.Sprintf("%s.%s=%v is still referenced by %s.%s",
				fk.RefTable, fk.RefColumn, v, fk.Table, fk.Column))
		}
	}
	return nil
}

// CheckConstraints verifies every foreign key, as a deferred constraint
// check at transaction end would.
func (m *MemoryStore) CheckConstraints() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fk := range m.foreignKeys {
		t, ok := m.tables[fk.Table]
		if !ok {
			continue
		}
		for _, row := range t.rows {
			v := row[fk.Column]
			if v == nil {
				continue
			}
			ref, ok := m.tables[fk.RefTable]
			if !ok || m.find(ref, map[string]any{fk.RefColumn: v}) < 0 {
				return NewConstraintError(nil, fmt.Sprintf("%s.%s references missing %s.%s=%v",
					fk.Table, fk.Column, fk.RefTable, fk.RefColumn, v))
			}
		}
	}
	return nil
}

// Fetch implements RowStore.
func (m *MemoryStore) Fetch(ctx context.Context, q Query) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewConnectivityError(err, "fetch from "+q.Table)
	}

	m.mu.Lock()
	m.fetches++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.filter(q)
	if err != nil {
		return nil, err
	}
	if len(q.Order) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, o := range q.Order {
				c := Compare(rows[i][o.Column], rows[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[q.Offset:]
		}
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = project(r, q.Columns)
	}
	return out, nil
}

// Count implements RowStore.
func (m *MemoryStore) Count(ctx context.Context, q Query) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewConnectivityError(err, "count "+q.Table)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, err := m.filter(q.Unpaged())
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (m *MemoryStore) filter(q Query) ([]Row, error) {
	t, ok := m.tables[q.Table]
	if !ok {
		return nil, nil
	}
	var out []Row
	for _, r := range t.rows {
		match := true
		for _, c := range q.Filter {
			ok, err := evaluate(r, c)
			if err != nil {
				return nil, err
			}
			if !ok {
				match = false
				break
			}
		}
		if match {
			out = append(out, r)
		}
	}
	return out, nil
}

func project(r Row, columns []string) Row {
	if len(columns) == 0 {
		return rowcodec.Clone(r)
	}
	out := make(Row, len(columns))
	for _, c := range columns {
		out[c] = r[c]
	}
	return rowcodec.Clone(out)
}

func evaluate(r Row, c Condition) (bool, error) {
	v := r[c.Column]
	switch c.Op {
	case Eq, "":
		if c.Value == nil {
			return v == nil, nil
		}
		return v != nil && Compare(v, c.Value) == 0, nil
	case Ne:
		if c.Value == nil {
			return v != nil, nil
		}
		return v != nil && Compare(v, c.Value) != 0, nil
	case Lt:
		return v != nil && Compare(v, c.Value) < 0, nil
	case Le:
		return v != nil && Compare(v, c.Value) <= 0, nil
	case Gt:
		return v != nil && Compare(v, c.Value) > 0, nil
	case Ge:
		return v != nil && Compare(v, c.Value) >= 0, nil
	case IsNull:
		return v == nil, nil
	case In:
		values, ok := c.Value.([]any)
		if !ok {
			return false, goerrors.New("IN condition requires []any", goerrors.CategoryBadInput).
				WithMetadata(map[string]any{"column": c.Column})
		}
		for _, candidate := range values {
			if v != nil && Compare(v, candidate) == 0 {
				return true, nil
			}
		}
		return false, nil
	case Like:
		pattern, ok := c.Value.(string)
		s, isString := v.(string)
		if !ok || !isString {
			return false, nil
		}
		return likePattern(pattern).MatchString(s), nil
	default:
		return false, goerrors.New("unsupported operator "+string(c.Op), goerrors.CategoryBadInput)
	}
}

func likePattern(p string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range p {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// Compare orders two raw values. Nil sorts first; values of different kinds
// compare by their formatted text.
func Compare(a, b any) int {
	a, b = rowcodec.Normalize(a), rowcodec.Normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp3(x < y, x > y)
		case float64:
			return cmp3(float64(x) < y, float64(x) > y)
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmp3(x < y, x > y)
		case int64:
			return cmp3(x < float64(y), x > float64(y))
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmp3(!x && y, x && !y)
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	default:
		return 0
	}
}
