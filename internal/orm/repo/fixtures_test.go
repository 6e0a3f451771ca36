package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/query"
	"github.com/dynejs/db/internal/orm/schema"
)

type User struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	Address   *Address  `db:"address"`
	Posts     []Post    `db:"posts"`
}

type Address struct {
	ID     string `db:"id"`
	UserID string `db:"user_id"`
	City   string `db:"city"`
}

type Category struct {
	ID       string `db:"id"`
	Name     string `db:"name"`
	Position int    `db:"position"`
	Photo    *Photo `db:"photo"`
}

type Comment struct {
	ID     string `db:"id"`
	PostID string `db:"post_id"`
	Body   string `db:"body"`
}

func (c *Comment) Format() {
	c.Body = strings.TrimSpace(c.Body)
}

type Photo struct {
	ID          string `db:"id"`
	RelatedID   string `db:"related_id"`
	RelatedType string `db:"related_type"`
	URL         string `db:"url"`
}

type Post struct {
	ID         string     `db:"id"`
	Title      string     `db:"title"`
	Slug       string     `db:"slug"`
	Published  bool       `db:"published"`
	AuthorID   string     `db:"author_id"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
	Author     *User      `db:"author"`
	Categories []Category `db:"categories"`
	Comments   []*Comment `db:"comments"`

	Formatted bool `db:"-"`
}

func (p *Post) Format() {
	p.Formatted = true
}

func (p *Post) Transform(ctx context.Context) error {
	if p.Slug == "" && p.Title != "" {
		p.Slug = strings.ToLower(strings.ReplaceAll(p.Title, " ", "-"))
	}
	return nil
}

func blogRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()

	require.NoError(t, schema.DefineOf[User](reg, "users").
		Fields("id", "name", "created_at", "updated_at").
		HasOne("address", "Address").
		HasMany("posts", "Post", schema.ForeignKey("author_id")).
		Register())
	require.NoError(t, schema.DefineOf[Address](reg, "addresses").
		Fields("id", "user_id", "city").
		Register())
	require.NoError(t, schema.DefineOf[Category](reg, "categories").
		Fields("id", "name").
		HasOne("photo", "Photo", schema.ForeignKey("related_id"), schema.Scope(func(q *query.Query) {
			q.Where("related_type", "category")
		})).
		Register())
	require.NoError(t, schema.DefineOf[Comment](reg, "comments").
		Fields("id", "post_id", "body").
		Register())
	require.NoError(t, schema.DefineOf[Photo](reg, "photos").
		Fields("id", "related_id", "related_type", "url").
		Register())
	require.NoError(t, schema.DefineOf[Post](reg, "posts").
		With("categories", "comments").
		Fields("id", "title", "slug").
		Field("published", schema.CastBoolean).
		Fields("author_id", "created_at", "updated_at").
		BelongsTo("author", "User", schema.LocalKey("author_id")).
		BelongsToMany("categories", "Category", schema.Pivot("position")).
		HasMany("comments", "Comment").
		Register())

	reg.Freeze()
	return reg
}

const blogSchema = `
CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT, created_at DATETIME, updated_at DATETIME);
CREATE TABLE addresses (id TEXT PRIMARY KEY, user_id TEXT, city TEXT, created_at DATETIME, updated_at DATETIME);
CREATE TABLE categories (id TEXT PRIMARY KEY, name TEXT, created_at DATETIME, updated_at DATETIME);
CREATE TABLE comments (id TEXT PRIMARY KEY, post_id TEXT, body TEXT, created_at DATETIME, updated_at DATETIME);
CREATE TABLE photos (id TEXT PRIMARY KEY, related_id TEXT, related_type TEXT, url TEXT, created_at DATETIME, updated_at DATETIME);
CREATE TABLE posts (id TEXT PRIMARY KEY, title TEXT, slug TEXT, published INTEGER, author_id TEXT, created_at DATETIME, updated_at DATETIME);
CREATE TABLE category_post (post_id TEXT NOT NULL, category_id TEXT NOT NULL, position INTEGER);
`

const blogSeed = `
INSERT INTO users (id, name, created_at, updated_at) VALUES
  ('u1', 'Ann', '2026-01-01 00:00:00', '2026-01-01 00:00:00'),
  ('u2', 'Bob', '2026-01-01 00:00:00', '2026-01-01 00:00:00');
INSERT INTO addresses (id, user_id, city) VALUES ('a1', 'u1', 'Oslo');
INSERT INTO posts (id, title, slug, published, author_id, created_at, updated_at) VALUES
  ('p1', 'First', 'first', 1, 'u1', '2026-01-01 00:00:00', '2026-01-01 00:00:00'),
  ('p2', 'Second', 'second', 0, 'u2', '2026-01-01 00:00:00', '2026-01-01 00:00:00'),
  ('p3', 'Third', 'third', 1, 'u1', '2026-01-01 00:00:00', '2026-01-01 00:00:00');
INSERT INTO categories (id, name) VALUES ('c1', 'Go'), ('c2', 'SQL'), ('c3', 'Rust');
INSERT INTO category_post (post_id, category_id, position) VALUES ('p1', 'c1', 1), ('p1', 'c2', 2), ('p2', 'c1', 5);
INSERT INTO comments (id, post_id, body) VALUES ('m1', 'p1', ' nice '), ('m2', 'p2', 'ok'), ('m3', 'p1', 'more');
INSERT INTO photos (id, related_id, related_type, url) VALUES
  ('ph1', 'c1', 'category', '/go.png'),
  ('ph2', 'c1', 'post', '/wrong.png');
`

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

type sequentialIDs struct{ n int }

func (s *sequentialIDs) NewID() string {
	s.n++
	return fmt.Sprintf("gen-%d", s.n)
}

// sqliteConn opens an in-memory database with the blog schema. seed
// also loads the blog fixtures.
func sqliteConn(t *testing.T, seed bool) *connection.Connection {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	_, err = db.ExecContext(ctx, blogSchema)
	require.NoError(t, err)
	if seed {
		_, err = db.ExecContext(ctx, blogSeed)
		require.NoError(t, err)
	}
	return connection.New(db, query.SQLite, zaptest.NewLogger(t))
}

func newRepo[T any](t *testing.T, conn *connection.Connection, reg *schema.Registry, opts ...Option) *Repo[T] {
	t.Helper()
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(&sequentialIDs{}),
	}, opts...)
	r, err := New[T](conn, reg, opts...)
	require.NoError(t, err)
	return r
}
