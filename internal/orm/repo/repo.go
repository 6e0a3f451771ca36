// Package repo persists and loads registered models. A Repo[T] builds a
// fresh query for every operation, so one value can be shared between
// goroutines.
package repo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/dynejs/db/internal/logging"
	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/ids"
	"github.com/dynejs/db/internal/orm/pivot"
	"github.com/dynejs/db/internal/orm/query"
	"github.com/dynejs/db/internal/orm/relationships"
	"github.com/dynejs/db/internal/orm/schema"
	"github.com/dynejs/db/internal/orm/transaction"
)

var (
	// ErrNoModel is returned when the repo's type has no registered model
	ErrNoModel = errors.New("no model registered for repo")

	// ErrInvalidCriteria is returned for query criteria of an unsupported shape
	ErrInvalidCriteria = errors.New("query parameters must be conditions, a modifier or a model")

	// ErrRelationNotFound is returned when Sync names an undeclared relation
	ErrRelationNotFound = errors.New("relation data not found")

	// ErrNotManyToMany is returned when Sync names a relation without a join table
	ErrNotManyToMany = pivot.ErrNotManyToMany
)

// Formatter is implemented by models that adjust themselves after loading
type Formatter interface {
	Format()
}

// Transformer is implemented by models that adjust themselves before saving
type Transformer interface {
	Transform(ctx context.Context) error
}

type options struct {
	strictSync bool
	ids        ids.Generator
	clock      func() time.Time
	parallel   bool
	maxDepth   int
	logger     *zap.Logger
}

// Option configures a Repo
type Option func(*options)

// WithStrictSync runs Sync inside a transaction so a failure leaves the
// join table untouched. Enabled by default.
func WithStrictSync(enabled bool) Option {
	return func(o *options) { o.strictSync = enabled }
}

// WithIDGenerator sets the primary key generator used by Create
func WithIDGenerator(gen ids.Generator) Option {
	return func(o *options) {
		if gen != nil {
			o.ids = gen
		}
	}
}

// WithClock sets the time source for created_at and updated_at
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithParallelRelations resolves the relations of one level concurrently
func WithParallelRelations(enabled bool) Option {
	return func(o *options) { o.parallel = enabled }
}

// WithMaxDepth bounds nested eager loading
func WithMaxDepth(depth int) Option {
	return func(o *options) { o.maxDepth = depth }
}

// WithLogger sets the repo's logger; the connection's logger is used otherwise
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Repo reads and writes models of type T
type Repo[T any] struct {
	conn    *connection.Connection
	reg     *schema.Registry
	model   schema.ModelDescriptor
	binding *binding
	tx      *transaction.Manager
	opts    options
}

// New creates a repo for T. T must be a struct type registered in reg
// under its type name.
func New[T any](conn *connection.Connection, reg *schema.Registry, opts ...Option) (*Repo[T], error) {
	name := schema.NameOf[T]()
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrNoModel, typ)
	}

	model, ok := reg.GetModel(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoModel, name)
	}

	o := options{
		strictSync: true,
		ids:        ids.UUID{},
		clock:      time.Now,
		maxDepth:   relationships.DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = conn.Logger()
	}
	o.logger = logging.OrNop(o.logger).With(zap.String("model", name))

	return &Repo[T]{
		conn:    conn,
		reg:     reg,
		model:   model,
		binding: bindingOf(typ),
		tx:      transaction.NewManager(conn),
		opts:    o,
	}, nil
}

// Table returns the model's table name
func (r *Repo[T]) Table() string {
	return r.model.Table
}

// Model returns the model's descriptor
func (r *Repo[T]) Model() schema.ModelDescriptor {
	return r.model
}

// Query returns a fresh query against the model's table
func (r *Repo[T]) Query() *query.Query {
	return r.conn.Active().Table(r.model.Table)
}

// handle returns the transaction carried by ctx, or the connection's
// active handle
func (r *Repo[T]) handle(ctx context.Context) *connection.DB {
	if db, ok := transaction.FromContext(ctx); ok {
		return db
	}
	return r.conn.Active()
}

func (r *Repo[T]) resolver(db *connection.DB) *relationships.Resolver {
	return relationships.NewResolver(r.reg, db,
		relationships.WithParallel(r.opts.parallel),
		relationships.WithMaxDepth(r.opts.maxDepth),
		relationships.WithLogger(r.opts.logger),
	)
}
