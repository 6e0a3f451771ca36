// Package relationships eager-loads declared relations onto result rows,
// one secondary query per relation
package relationships

import (
	"errors"

	"go.uber.org/zap"

	"github.com/dynejs/db/internal/logging"
	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/query"
	"github.com/dynejs/db/internal/orm/schema"
)

var (
	// ErrUnknownRelation is returned when an eager-load name is not a relation of the model
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrInvalidKey is returned when a key column holds a value that cannot be matched
	ErrInvalidKey = query.ErrInvalidKey
)

// DefaultMaxDepth bounds nested eager loading
const DefaultMaxDepth = 5

// parentKeyColumn carries the pivot's owner column on belongs_to_many rows
const parentKeyColumn = "__parent_key"

// None requests no eager loading, overriding a model's default set
var None = []string{}

// Resolver loads relations for rows of registered models
type Resolver struct {
	reg      *schema.Registry
	db       *connection.DB
	logger   *zap.Logger
	parallel bool
	maxDepth int
}

// Option configures a Resolver
type Option func(*Resolver)

// WithParallel resolves the relations of one level concurrently
func WithParallel(enabled bool) Option {
	return func(r *Resolver) { r.parallel = enabled }
}

// WithMaxDepth bounds nested eager loading
func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// WithLogger sets the resolver's logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) { r.logger = logging.OrNop(logger) }
}

// NewResolver creates a resolver reading descriptors from reg and
// querying through db
func NewResolver(reg *schema.Registry, db *connection.DB, opts ...Option) *Resolver {
	r := &Resolver{
		reg:      reg,
		db:       db,
		logger:   db.Logger(),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// chain is the path of relations being loaded, as "Model.property"
// keys. Each branch of the recursion owns its own copy, so cyclic
// defaults (User.posts -> Post.author -> User.posts) terminate.
type chain []string

func (c chain) contains(key string) bool {
	for _, k := range c {
		if k == key {
			return true
		}
	}
	return false
}

func (c chain) with(key string) chain {
	next := make(chain, len(c), len(c)+1)
	copy(next, c)
	return append(next, key)
}
