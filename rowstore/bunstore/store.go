// Package bunstore implements rowstore.RowStore on top of bun, for sqlite
// and postgres databases.
package bunstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"

	repository "github.com/goliatone/go-repository-bun"
	goerrors "github.com/goliatone/go-errors"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-object-graph/internal/logging"
	"github.com/goliatone/go-object-graph/internal/rowcodec"
	"github.com/goliatone/go-object-graph/rowstore"
)

// TextCodeFailure marks store errors that are neither connectivity problems
// nor constraint violations.
const TextCodeFailure = "ROW_STORE_FAILURE"

// Store is a rowstore.RowStore executing against a bun database handle.
type Store struct {
	db       bun.IDB
	owned    *bun.DB
	deferred bool
	logger   *slog.Logger
}

var (
	_ rowstore.RowStore           = (*Store)(nil)
	_ rowstore.CapabilityReporter = (*Store)(nil)
)

// Option configures a Store built with New.
type Option func(*Store)

// WithDeferredConstraints advertises deferrable foreign keys.
func WithDeferredConstraints() Option {
	return func(s *Store) { s.deferred = true }
}

// WithLogger sets the logger used for failed statements.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = logging.OrDiscard(l) }
}

// New wraps an existing bun handle. The caller keeps ownership of db.
func New(db bun.IDB, opts ...Option) *Store {
	s := &Store{db: db, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens a database from cfg. Close releases it.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sqldb, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, rowstore.NewConnectivityError(err, "open "+cfg.Driver+" database")
	}
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	var db *bun.DB
	switch cfg.Driver {
	case DriverPostgres:
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	opts := []Option{WithLogger(cfg.Logger)}
	if cfg.DeferredConstraints {
		opts = append(opts, WithDeferredConstraints())
	}
	s := New(db, opts...)
	s.owned = db
	return s, nil
}

// DB returns the underlying handle.
func (s *Store) DB() bun.IDB { return s.db }

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if s.owned == nil {
		return nil
	}
	return s.owned.Close()
}

// Capabilities implements rowstore.CapabilityReporter.
func (s *Store) Capabilities() rowstore.Capabilities {
	return rowstore.Capabilities{DeferredConstraints: s.deferred}
}

// RunInTx runs fn against a store bound to a single transaction. The
// transaction commits when fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Store{db: tx, deferred: s.deferred, logger: s.logger})
	})
}

// Execute implements rowstore.RowStore.
func (s *Store) Execute(ctx context.Context, op rowstore.Operation) (rowstore.Result, error) {
	var (
		res rowstore.Result
		err error
	)
	switch op.Kind {
	case rowstore.Insert:
		res, err = s.insert(ctx, op)
	case rowstore.Update:
		res, err = s.update(ctx, op)
	case rowstore.Delete:
		res, err = s.delete(ctx, op)
	default:
		return rowstore.Result{}, goerrors.New(fmt.Sprintf("unsupported operation kind %d", op.Kind), goerrors.CategoryBadInput)
	}
	if err != nil {
		err = classify(err, op.Kind.String()+" "+op.Table)
		logging.Error(ctx, s.logger, "row store write failed", err,
			slog.String("table", op.Table), slog.String("kind", op.Kind.String()))
		return rowstore.Result{}, err
	}
	return res, nil
}

func (s *Store) insert(ctx context.Context, op rowstore.Operation) (rowstore.Result, error) {
	values := toDriverRow(op.Values)
	q := s.db.NewInsert().Model(&values).TableExpr("?", bun.Ident(op.Table))

	if op.GeneratedKey == "" {
		r, err := q.Exec(ctx)
		if err != nil {
			return rowstore.Result{}, err
		}
		return rowstore.Result{RowsAffected: rowsAffected(r)}, nil
	}

	if s.db.Dialect().Features().Has(feature.InsertReturning) {
		var generated int64
		if err := q.Returning("?", bun.Ident(op.GeneratedKey)).Scan(ctx, &generated); err != nil {
			return rowstore.Result{}, err
		}
		return rowstore.Result{
			RowsAffected:  1,
			GeneratedKeys: map[string]any{op.GeneratedKey: generated},
		}, nil
	}

	r, err := q.Exec(ctx)
	if err != nil {
		return rowstore.Result{}, err
	}
	generated, err := r.LastInsertId()
	if err != nil {
		return rowstore.Result{}, err
	}
	return rowstore.Result{
		RowsAffected:  rowsAffected(r),
		GeneratedKeys: map[string]any{op.GeneratedKey: generated},
	}, nil
}

func (s *Store) update(ctx context.Context, op rowstore.Operation) (rowstore.Result, error) {
	if len(op.Values) == 0 {
		return rowstore.Result{RowsAffected: 1}, nil
	}
	values := toDriverRow(op.Values)
	q := s.db.NewUpdate().Model(&values).TableExpr("?", bun.Ident(op.Table))
	q = applyUpdate(q, keyCriteria[*bun.UpdateQuery](op.Key)...)
	r, err := q.Exec(ctx)
	if err != nil {
		return rowstore.Result{}, err
	}
	return rowstore.Result{RowsAffected: rowsAffected(r)}, nil
}

func (s *Store) delete(ctx context.Context, op rowstore.Operation) (rowstore.Result, error) {
	q := s.db.NewDelete().TableExpr("?", bun.Ident(op.Table))
	q = applyDelete(q, keyCriteria[*bun.DeleteQuery](op.Key)...)
	r, err := q.Exec(ctx)
	if err != nil {
		return rowstore.Result{}, err
	}
	return rowstore.Result{RowsAffected: rowsAffected(r)}, nil
}

// Fetch implements rowstore.RowStore.
func (s *Store) Fetch(ctx context.Context, q rowstore.Query) ([]rowstore.Row, error) {
	sel := s.db.NewSelect().TableExpr("?", bun.Ident(q.Table))
	if len(q.Columns) == 0 {
		sel = sel.ColumnExpr("*")
	}
	for _, c := range q.Columns {
		sel = sel.ColumnExpr("?", bun.Ident(c))
	}
	criteria, err := selectCriteria(q)
	if err != nil {
		return nil, err
	}
	sel = applySelect(sel, criteria...)

	var rows []map[string]interface{}
	if err := sel.Scan(ctx, &rows); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		err = classify(err, "fetch "+q.Table)
		logging.Error(ctx, s.logger, "row store fetch failed", err, slog.String("table", q.Table))
		return nil, err
	}

	out := make([]rowstore.Row, len(rows))
	for i, r := range rows {
		out[i] = fromDriverRow(r)
	}
	return out, nil
}

// Count implements rowstore.RowStore.
func (s *Store) Count(ctx context.Context, q rowstore.Query) (int, error) {
	criteria, err := selectCriteria(q.Unpaged())
	if err != nil {
		return 0, err
	}
	sel := s.db.NewSelect().TableExpr("?", bun.Ident(q.Table)).ColumnExpr("count(*)")
	sel = applySelect(sel, criteria...)

	var n int
	if err := sel.Scan(ctx, &n); err != nil {
		err = classify(err, "count "+q.Table)
		logging.Error(ctx, s.logger, "row store count failed", err, slog.String("table", q.Table))
		return 0, err
	}
	return n, nil
}

func selectCriteria(q rowstore.Query) ([]repository.SelectCriteria, error) {
	var criteria []repository.SelectCriteria
	for _, c := range q.Filter {
		where, args, err := conditionSQL(c)
		if err != nil {
			return nil, err
		}
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where(where, args...)
		})
	}
	for _, o := range q.Order {
		dir := "ASC"
		if o.Descending {
			dir = "DESC"
		}
		o := o
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.OrderExpr("? "+dir, bun.Ident(o.Column))
		})
	}
	if q.Limit > 0 {
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Limit(q.Limit)
		})
	}
	if q.Offset > 0 {
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Offset(q.Offset)
		})
	}
	return criteria, nil
}

func conditionSQL(c rowstore.Condition) (string, []any, error) {
	col := bun.Ident(c.Column)
	switch c.Op {
	case rowstore.Eq, "":
		if c.Value == nil {
			return "? IS NULL", []any{col}, nil
		}
		return "? = ?", []any{col, toDriver(c.Value)}, nil
	case rowstore.Ne:
		if c.Value == nil {
			return "? IS NOT NULL", []any{col}, nil
		}
		return "? <> ?", []any{col, toDriver(c.Value)}, nil
	case rowstore.Lt, rowstore.Le, rowstore.Gt, rowstore.Ge, rowstore.Like:
		return "? " + string(c.Op) + " ?", []any{col, toDriver(c.Value)}, nil
	case rowstore.IsNull:
		return "? IS NULL", []any{col}, nil
	case rowstore.In:
		values, ok := c.Value.([]any)
		if !ok {
			return "", nil, goerrors.New("IN condition requires []any", goerrors.CategoryBadInput).
				WithMetadata(map[string]any{"column": c.Column})
		}
		converted := make([]any, len(values))
		for i, v := range values {
			converted[i] = toDriver(v)
		}
		return "? IN (?)", []any{col, bun.In(converted)}, nil
	default:
		return "", nil, goerrors.New("unsupported operator "+string(c.Op), goerrors.CategoryBadInput)
	}
}

type whereQuery[Q any] interface {
	Where(query string, args ...interface{}) Q
}

func keyCriteria[Q whereQuery[Q]](key map[string]any) []func(Q) Q {
	out := make([]func(Q) Q, 0, len(key))
	for _, col := range rowcodec.Columns(key) {
		col, v := col, toDriver(key[col])
		out = append(out, func(q Q) Q {
			return q.Where("? = ?", bun.Ident(col), v)
		})
	}
	return out
}

func applySelect(q *bun.SelectQuery, criteria ...repository.SelectCriteria) *bun.SelectQuery {
	for _, c := range criteria {
		q = c(q)
	}
	return q
}

func applyUpdate(q *bun.UpdateQuery, criteria ...func(*bun.UpdateQuery) *bun.UpdateQuery) *bun.UpdateQuery {
	for _, c := range criteria {
		q = repository.UpdateCriteria(c)(q)
	}
	return q
}

func applyDelete(q *bun.DeleteQuery, criteria ...func(*bun.DeleteQuery) *bun.DeleteQuery) *bun.DeleteQuery {
	for _, c := range criteria {
		q = repository.DeleteCriteria(c)(q)
	}
	return q
}

func rowsAffected(r sql.Result) int64 {
	n, err := r.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func toDriverRow(row map[string]any) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = toDriver(v)
	}
	return out
}

func toDriver(v any) any {
	return rowcodec.Normalize(v)
}

func fromDriverRow(row map[string]interface{}) rowstore.Row {
	out := make(rowstore.Row, len(row))
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out[k] = rowcodec.Normalize(v)
	}
	return out
}

// classify maps driver errors onto the row store error taxonomy.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return rowstore.NewConstraintError(err, message)
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen:
			return rowstore.NewConnectivityError(err, message)
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "23":
			return rowstore.NewConstraintError(err, message)
		case "08", "57":
			return rowstore.NewConnectivityError(err, message)
		}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return rowstore.NewConnectivityError(err, message)
	}

	return goerrors.Wrap(err, goerrors.CategoryOperation, message).WithTextCode(TextCodeFailure)
}
