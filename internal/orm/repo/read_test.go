package repo

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/query"
	"github.com/dynejs/db/internal/orm/relationships"
)

func TestNew_RequiresRegisteredStruct(t *testing.T) {
	conn := sqliteConn(t, false)
	reg := blogRegistry(t)

	type Unregistered struct{ ID string }
	_, err := New[Unregistered](conn, reg)
	assert.ErrorIs(t, err, ErrNoModel)

	_, err = New[string](conn, reg)
	assert.ErrorIs(t, err, ErrNoModel)

	r, err := New[Post](conn, reg)
	require.NoError(t, err)
	assert.Equal(t, "posts", r.Table())
	assert.Equal(t, "Post", r.Model().Name)
}

func TestGet_DefaultRelations(t *testing.T) {
	ctx := context.Background()
	posts := newRepo[Post](t, sqliteConn(t, true), blogRegistry(t))

	result, err := posts.Get(ctx, Conditions{"author_id": "u1"})
	require.NoError(t, err)
	require.Len(t, result, 2)

	p1 := result[0]
	assert.Equal(t, "p1", p1.ID)
	assert.True(t, p1.Published)
	assert.True(t, p1.Formatted)
	assert.Nil(t, p1.Author)

	names := make([]string, 0, len(p1.Categories))
	for _, c := range p1.Categories {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"Go", "SQL"}, names)

	require.Len(t, p1.Comments, 2)
	assert.Equal(t, "nice", p1.Comments[0].Body)
	assert.Equal(t, "more", p1.Comments[1].Body)

	p3 := result[1]
	assert.Equal(t, "p3", p3.ID)
	assert.Empty(t, p3.Categories)
	assert.Empty(t, p3.Comments)
}

func TestGet_PivotColumnsAndSharedTargets(t *testing.T) {
	ctx := context.Background()
	posts := newRepo[Post](t, sqliteConn(t, true), blogRegistry(t))

	result, err := posts.Get(ctx, func(q *query.Query) { q.OrderBy("id", "asc") }, "categories")
	require.NoError(t, err)
	require.Len(t, result, 3)

	positions := map[string]int{}
	for _, c := range result[0].Categories {
		positions[c.ID] = c.Position
	}
	assert.Equal(t, map[string]int{"c1": 1, "c2": 2}, positions)

	// c1 is attached to p2 as well, with its own pivot data
	require.Len(t, result[1].Categories, 1)
	assert.Equal(t, "c1", result[1].Categories[0].ID)
	assert.Equal(t, 5, result[1].Categories[0].Position)

	assert.Nil(t, result[0].Comments)
}

func TestGet_ExplicitNone(t *testing.T) {
	posts := newRepo[Post](t, sqliteConn(t, true), blogRegistry(t))

	result, err := posts.Get(context.Background(), nil, relationships.None...)
	require.NoError(t, err)
	require.Len(t, result, 3)
	for _, p := range result {
		assert.Nil(t, p.Categories)
		assert.Nil(t, p.Comments)
	}
}

func TestGet_NestedRelations(t *testing.T) {
	ctx := context.Background()
	conn := sqliteConn(t, true)
	reg := blogRegistry(t)

	users := newRepo[User](t, conn, reg)
	result, err := users.Get(ctx, Conditions{"id": "u1"}, "address", "posts")
	require.NoError(t, err)
	require.Len(t, result, 1)

	ann := result[0]
	require.NotNil(t, ann.Address)
	assert.Equal(t, "Oslo", ann.Address.City)
	require.Len(t, ann.Posts, 2)
	// the post's default relations load one level down, and Format runs there too
	assert.True(t, ann.Posts[0].Formatted)
	assert.NotEmpty(t, ann.Posts[0].Categories)
	assert.Equal(t, "nice", ann.Posts[0].Comments[0].Body)

	posts := newRepo[Post](t, conn, reg)
	post, err := posts.Find(ctx, Conditions{"id": "p1"}, "author.address")
	require.NoError(t, err)
	require.NotNil(t, post)
	require.NotNil(t, post.Author)
	assert.Equal(t, "Ann", post.Author.Name)
	assert.Equal(t, "Oslo", post.Author.Address.City)
}

func TestGet_ScopedRelation(t *testing.T) {
	categories := newRepo[Category](t, sqliteConn(t, true), blogRegistry(t))

	result, err := categories.Get(context.Background(), Conditions{"id": "c1"}, "photo")
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.NotNil(t, result[0].Photo)
	assert.Equal(t, "/go.png", result[0].Photo.URL)

	result, err = categories.Get(context.Background(), Conditions{"id": "c2"}, "photo")
	require.NoError(t, err)
	assert.Nil(t, result[0].Photo)
}

func TestGet_ModifierWithDB(t *testing.T) {
	posts := newRepo[Post](t, sqliteConn(t, true), blogRegistry(t))

	result, err := posts.Get(context.Background(), ModifierWithDB(func(q *query.Query, db *connection.DB) {
		q.WhereExists(db.Table("comments").WhereColumn("comments.post_id", "=", "posts.id")).OrderBy("id", "asc")
	}), relationships.None...)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "p1", result[0].ID)
	assert.Equal(t, "p2", result[1].ID)
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	posts := newRepo[Post](t, sqliteConn(t, true), blogRegistry(t))

	post, err := posts.Find(ctx, Conditions{"slug": "second"})
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, "p2", post.ID)
	assert.False(t, post.Published)
	assert.Equal(t, 2026, post.CreatedAt.Year())

	missing, err := posts.Find(ctx, Conditions{"slug": "nope"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPaginate(t *testing.T) {
	ctx := context.Background()
	conn := sqliteConn(t, false)
	posts := newRepo[Post](t, conn, blogRegistry(t))

	for i := 0; i < 7; i++ {
		_, err := posts.Create(ctx, map[string]interface{}{"title": "post", "published": i%2 == 0})
		require.NoError(t, err)
	}

	page, err := posts.Paginate(ctx, 3, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Current)
	assert.Equal(t, 3, page.Pages)
	assert.Equal(t, int64(7), page.Total)
	assert.Len(t, page.Data, 1)

	page, err = posts.Paginate(ctx, 3, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, page.Current)
	assert.Empty(t, page.Data)

	page, err = posts.Paginate(ctx, 0, -1, Conditions{"published": true})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Current)
	assert.Equal(t, 1, page.Pages)
	assert.Equal(t, int64(4), page.Total)
	assert.Len(t, page.Data, 4)

	page, err = posts.Paginate(ctx, 10, 0, Conditions{"title": "none"})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Pages)
	assert.Empty(t, page.Data)
}

func TestCast(t *testing.T) {
	posts := newRepo[Post](t, sqliteConn(t, false), blogRegistry(t))

	params := map[string]interface{}{
		"title":     "Hello",
		"published": "1",
		"admin":     true,
		"formatted": true,
	}
	post, err := posts.Cast(params)
	require.NoError(t, err)
	assert.Equal(t, "Hello", post.Title)
	assert.True(t, post.Published)
	assert.False(t, post.Formatted)

	post, err = posts.Cast(params, "title")
	require.NoError(t, err)
	assert.Equal(t, "Hello", post.Title)
	assert.False(t, post.Published)

	post, err = posts.Cast(map[string]interface{}{"published": 0})
	require.NoError(t, err)
	assert.False(t, post.Published)
}

func TestCriteria_Invalid(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	posts := newRepo[Post](t, connection.New(db, query.SQLite, nil), blogRegistry(t))
	ctx := context.Background()

	_, err = posts.Get(ctx, "title = 'x'")
	assert.ErrorIs(t, err, ErrInvalidCriteria)

	_, err = posts.Find(ctx, Post{ID: "p1"})
	assert.ErrorIs(t, err, ErrInvalidCriteria)

	_, err = posts.Destroy(ctx, &Post{})
	assert.ErrorIs(t, err, ErrInvalidCriteria)

	_, err = posts.Update(ctx, 42, map[string]interface{}{"title": "x"})
	assert.ErrorIs(t, err, ErrInvalidCriteria)

	_, err = posts.Get(ctx, Modifier(func(q *query.Query) { q.OrderBy("id", "sideways") }))
	assert.ErrorIs(t, err, query.ErrInvalidDirection)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_StorageErrorsAreReturned(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	posts := newRepo[Post](t, connection.New(db, query.SQLite, nil), blogRegistry(t))
	boom := errors.New("relation \"posts\" does not exist")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "posts" WHERE "id" = ? LIMIT ?`)).WillReturnError(boom)
	_, err = posts.Find(context.Background(), Conditions{"id": "p1"})
	assert.ErrorIs(t, err, boom)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "posts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "categories".*`)).WillReturnError(boom)
	_, err = posts.Get(context.Background(), nil)
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_ConcurrentReads(t *testing.T) {
	posts := newRepo[Post](t, sqliteConn(t, true), blogRegistry(t), WithParallelRelations(true))

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			result, err := posts.Get(context.Background(), nil)
			if err == nil && len(result) != 3 {
				err = errors.New("unexpected result size")
			}
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		assert.NoError(t, <-errs)
	}
}
