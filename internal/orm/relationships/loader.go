package relationships

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dynejs/db/internal/orm/query"
	"github.com/dynejs/db/internal/orm/schema"
)

// plannedRelation is one relation to load and the eager-load set of its
// target rows; a nil nested set means the target model's default
type plannedRelation struct {
	rel    schema.RelationDescriptor
	nested []string
}

// Resolve loads relations onto rows of model. A nil with uses the
// model's default set; an empty non-nil with (None) loads nothing.
// Names may be dotted ("author.address") to load nested relations.
// Relations are loaded in registration order; a failed relation stops
// resolution and leaves relations loaded before it in place.
func (r *Resolver) Resolve(ctx context.Context, model string, rows []query.Row, with []string) error {
	return r.resolve(ctx, model, rows, with, 0, nil)
}

func (r *Resolver) resolve(ctx context.Context, model string, rows []query.Row, with []string, depth int, path chain) error {
	if len(rows) == 0 || depth >= r.maxDepth {
		return nil
	}

	planned, err := r.plan(model, with)
	if err != nil {
		return err
	}
	if len(planned) == 0 {
		return nil
	}

	if !r.parallel || len(planned) == 1 {
		for _, p := range planned {
			j, err := r.prepare(p, rows, path)
			if err != nil {
				return err
			}
			if j == nil {
				continue
			}
			if err := r.fetch(ctx, j, depth, path); err != nil {
				return err
			}
			if err := r.attach(j, rows); err != nil {
				return err
			}
		}
		return nil
	}

	// parent rows are only read here, before any goroutine starts
	jobs := make([]*job, 0, len(planned))
	for _, p := range planned {
		j, err := r.prepare(p, rows, path)
		if err != nil {
			return err
		}
		if j != nil {
			jobs = append(jobs, j)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		g.Go(func() error {
			if err := r.fetch(gctx, j, depth, path); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return r.attach(j, rows)
		})
	}
	return g.Wait()
}

// plan validates the requested names and orders them by registration
func (r *Resolver) plan(model string, with []string) ([]plannedRelation, error) {
	if with == nil {
		m, ok := r.reg.GetModel(model)
		if !ok {
			return nil, fmt.Errorf("%w: %s", schema.ErrModelNotFound, model)
		}
		with = m.With
	}
	if len(with) == 0 {
		return nil, nil
	}

	requested := make(map[string]bool, len(with))
	nested := make(map[string][]string)
	for _, include := range with {
		name, rest := parseInclude(include)
		if _, ok := r.reg.FindRelation(model, name); !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, model, name)
		}
		requested[name] = true
		if rest != "" {
			nested[name] = append(nested[name], rest)
		}
	}

	planned := make([]plannedRelation, 0, len(requested))
	for _, rel := range r.reg.GetRelations(model) {
		if requested[rel.Property] {
			planned = append(planned, plannedRelation{rel: rel, nested: nested[rel.Property]})
		}
	}
	return planned, nil
}

// job is one resolved relation with its secondary query; related is
// filled by fetch and owned by the goroutine running it
type job struct {
	key     string
	rel     schema.ResolvedRelation
	nested  []string
	q       *query.Query
	related []query.Row
}

// prepare resolves the relation and builds its query from the parent
// keys. A nil job means the relation is skipped as cyclic.
func (r *Resolver) prepare(p plannedRelation, rows []query.Row, path chain) (*job, error) {
	key := p.rel.Model + "." + p.rel.Property
	if path.contains(key) {
		r.logger.Debug("skipping cyclic relation", zap.String("relation", key))
		return nil, nil
	}

	rel, err := r.reg.Resolve(p.rel)
	if err != nil {
		return nil, err
	}

	q, err := r.buildQuery(rel, rows)
	if err != nil {
		return nil, fmt.Errorf("relation %s: %w", key, err)
	}
	return &job{key: key, rel: rel, nested: p.nested, q: q}, nil
}

// fetch runs the secondary query and resolves nested relations on the
// related rows. Parent rows are not touched.
func (r *Resolver) fetch(ctx context.Context, j *job, depth int, path chain) error {
	if j.q == nil {
		return nil
	}
	related, err := j.q.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load relation %s: %w", j.key, err)
	}
	if err := r.resolve(ctx, j.rel.Target, related, j.nested, depth+1, path.with(j.key)); err != nil {
		return err
	}
	j.related = related
	return nil
}

// attach merges fetched rows onto the parents. It runs only after
// fetch succeeds, so a failure leaves the parent rows untouched.
func (r *Resolver) attach(j *job, rows []query.Row) error {
	if err := merge(j.rel, rows, j.related); err != nil {
		return fmt.Errorf("relation %s: %w", j.key, err)
	}

	r.logger.Debug("relation loaded",
		zap.String("relation", j.key),
		zap.String("kind", string(j.rel.Kind)),
		zap.Int("parents", len(rows)),
		zap.Int("related", len(j.related)))
	return nil
}

// parseInclude splits "author.address.city" into "author" and "address.city"
func parseInclude(include string) (string, string) {
	name, rest, _ := strings.Cut(include, ".")
	return name, rest
}
