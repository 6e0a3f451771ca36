//go:build integration

package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap/zaptest"

	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/pivot"
)

const postgresSchema = `
CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT, created_at TIMESTAMPTZ, updated_at TIMESTAMPTZ);
CREATE TABLE addresses (id TEXT PRIMARY KEY, user_id TEXT, city TEXT, created_at TIMESTAMPTZ, updated_at TIMESTAMPTZ);
CREATE TABLE categories (id TEXT PRIMARY KEY, name TEXT, created_at TIMESTAMPTZ, updated_at TIMESTAMPTZ);
CREATE TABLE comments (id TEXT PRIMARY KEY, post_id TEXT, body TEXT, created_at TIMESTAMPTZ, updated_at TIMESTAMPTZ);
CREATE TABLE photos (id TEXT PRIMARY KEY, related_id TEXT, related_type TEXT, url TEXT, created_at TIMESTAMPTZ, updated_at TIMESTAMPTZ);
CREATE TABLE posts (id TEXT PRIMARY KEY, title TEXT, slug TEXT, published BOOLEAN, author_id TEXT, created_at TIMESTAMPTZ, updated_at TIMESTAMPTZ);
CREATE TABLE category_post (post_id TEXT NOT NULL, category_id TEXT NOT NULL, position INTEGER, UNIQUE (post_id, category_id));
`

func postgresConn(t *testing.T) *connection.Connection {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("dynedb"),
		postgres.WithUsername("dynedb"),
		postgres.WithPassword("dynedb"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := connection.Open(connection.Config{Driver: "postgres", URL: dsn}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.Ping(ctx))

	_, err = conn.SQL().ExecContext(ctx, postgresSchema)
	require.NoError(t, err)
	return conn
}

func TestPostgres_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn := postgresConn(t)
	reg := blogRegistry(t)

	users := newRepo[User](t, conn, reg)
	categories := newRepo[Category](t, conn, reg)
	posts := newRepo[Post](t, conn, reg)

	author, err := users.Create(ctx, map[string]interface{}{"name": "Ann"})
	require.NoError(t, err)

	var categoryIDs []string
	for _, name := range []string{"Go", "SQL", "Rust"} {
		id, err := categories.Create(ctx, map[string]interface{}{"name": name})
		require.NoError(t, err)
		categoryIDs = append(categoryIDs, id)
	}

	postID, err := posts.Create(ctx, map[string]interface{}{"title": "Hello Postgres", "published": 1, "author_id": author})
	require.NoError(t, err)

	require.NoError(t, posts.Sync(ctx, "categories", postID, pivot.IDs(categoryIDs[0], categoryIDs[1])))
	require.NoError(t, posts.Sync(ctx, "categories", postID, []pivot.Target{
		{ID: categoryIDs[1]},
		{ID: categoryIDs[2], Extra: map[string]interface{}{"position": 2}},
	}))

	post, err := posts.Find(ctx, Conditions{"id": postID}, "author", "categories")
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.True(t, post.Published)
	assert.Equal(t, "hello-postgres", post.Slug)
	assert.True(t, fixedNow.Equal(post.CreatedAt))
	require.NotNil(t, post.Author)
	assert.Equal(t, "Ann", post.Author.Name)

	names := map[string]int{}
	for _, c := range post.Categories {
		names[c.Name] = c.Position
	}
	assert.Equal(t, map[string]int{"SQL": 0, "Rust": 2}, names)

	page, err := posts.Paginate(ctx, 10, 0, Conditions{"published": true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	ok, err := posts.Destroy(ctx, post)
	require.NoError(t, err)
	assert.True(t, ok)
}
