package query

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_SelectWithFilters(t *testing.T) {
	q := New(nil, SQLite, "posts").
		Where("title", "hello").
		OrderBy("created_at", "desc").
		Limit(10).
		Offset(20)

	sql, args, err := q.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "posts" WHERE "title" = ? ORDER BY "created_at" DESC LIMIT ? OFFSET ?`, sql)
	assert.Equal(t, []interface{}{"hello", 10, 20}, args)
}

func TestQuery_PostgresRebind(t *testing.T) {
	q := New(nil, Postgres, "posts").
		Where("title", "hello").
		WhereOp("views", ">=", 3)

	sql, args, err := q.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "posts" WHERE "title" = $1 AND "views" >= $2`, sql)
	assert.Equal(t, []interface{}{"hello", 3}, args)
}

func TestQuery_WhereIn(t *testing.T) {
	t.Run("sqlite expands placeholders", func(t *testing.T) {
		sql, args, err := New(nil, SQLite, "comments").WhereIn("post_id", []string{"a", "b"}).ToSQL()
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "comments" WHERE "post_id" IN (?, ?)`, sql)
		assert.Equal(t, []interface{}{"a", "b"}, args)
	})

	t.Run("postgres binds an array", func(t *testing.T) {
		values := []interface{}{"a", "b"}
		sql, args, err := New(nil, Postgres, "comments").WhereIn("post_id", values).ToSQL()
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "comments" WHERE "post_id" = ANY($1)`, sql)
		require.Len(t, args, 1)
		assert.Equal(t, pq.Array(values), args[0])
	})

	t.Run("empty list matches nothing", func(t *testing.T) {
		sql, args, err := New(nil, SQLite, "comments").WhereIn("post_id", []interface{}{}).ToSQL()
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "comments" WHERE 1 = 0`, sql)
		assert.Empty(t, args)
	})

	t.Run("non slice value", func(t *testing.T) {
		_, _, err := New(nil, SQLite, "comments").WhereIn("post_id", "a").ToSQL()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidValue))
	})
}

func TestQuery_PivotJoin(t *testing.T) {
	q := New(nil, SQLite, "categories").
		Select("categories.*", "category_post.post_id as __parent_key").
		LeftJoin("category_post", "category_post.category_id", "categories.id").
		WhereIn("category_post.post_id", []interface{}{"p1", "p2"})

	sql, args, err := q.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "categories".*, "category_post"."post_id" AS "__parent_key" FROM "categories" `+
		`LEFT JOIN "category_post" ON "category_post"."category_id" = "categories"."id" `+
		`WHERE "category_post"."post_id" IN (?, ?)`, sql)
	assert.Equal(t, []interface{}{"p1", "p2"}, args)
}

func TestQuery_WhereExists(t *testing.T) {
	sub := New(nil, Postgres, "comments").
		WhereColumn("comments.post_id", "=", "posts.id").
		Where("approved", true)

	sql, args, err := New(nil, Postgres, "posts").
		Where("published", true).
		WhereExists(sub).
		ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "posts" WHERE "published" = $1 AND EXISTS `+
		`(SELECT * FROM "comments" WHERE "comments"."post_id" = "posts"."id" AND "approved" = $2)`, sql)
	assert.Equal(t, []interface{}{true, true}, args)
}

func TestQuery_NullAndRaw(t *testing.T) {
	sql, args, err := New(nil, SQLite, "photos").
		Where("related_type", nil).
		WhereRaw("length(title) > ?", 3).
		GroupBy("related_id").
		ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "photos" WHERE "related_type" IS NULL AND (length(title) > ?) GROUP BY "related_id"`, sql)
	assert.Equal(t, []interface{}{3}, args)
}

func TestQuery_InvalidInput(t *testing.T) {
	_, _, err := New(nil, SQLite, "posts").OrderBy("title", "sideways").ToSQL()
	assert.True(t, errors.Is(err, ErrInvalidDirection))

	_, _, err = New(nil, SQLite, "posts").WhereOp("title", "~~", "x").ToSQL()
	assert.True(t, errors.Is(err, ErrInvalidOperator))
}

func TestQuery_Writes(t *testing.T) {
	sql, args, err := New(nil, SQLite, "posts").InsertSQL(Row{"title": "x", "id": "1"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "posts" ("id", "title") VALUES (?, ?)`, sql)
	assert.Equal(t, []interface{}{"1", "x"}, args)

	sql, args, err = New(nil, Postgres, "posts").Where("id", "1").UpdateSQL(Row{"title": "y"})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "posts" SET "title" = $1 WHERE "id" = $2`, sql)
	assert.Equal(t, []interface{}{"y", "1"}, args)

	sql, args, err = New(nil, SQLite, "category_post").Where("post_id", "p").Where("category_id", "c").DeleteSQL()
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "category_post" WHERE "post_id" = ? AND "category_id" = ?`, sql)
	assert.Equal(t, []interface{}{"p", "c"}, args)

	_, _, err = New(nil, SQLite, "posts").InsertSQL(Row{})
	assert.ErrorIs(t, err, ErrEmptyRow)
}

func TestQuery_CountSQL(t *testing.T) {
	sql, args, err := New(nil, SQLite, "posts").Where("published", true).CountSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM (SELECT * FROM "posts" WHERE "published" = ?) AS "aggregate"`, sql)
	assert.Equal(t, []interface{}{true}, args)
}

func TestQuery_CloneIsIndependent(t *testing.T) {
	base := New(nil, SQLite, "posts").Where("published", true)
	page := base.Clone().Limit(5)

	baseSQL, _, err := base.ToSQL()
	require.NoError(t, err)
	pageSQL, _, err := page.ToSQL()
	require.NoError(t, err)

	assert.Equal(t, `SELECT * FROM "posts" WHERE "published" = ?`, baseSQL)
	assert.Equal(t, `SELECT * FROM "posts" WHERE "published" = ? LIMIT ?`, pageSQL)
}

func TestDialect_Quote(t *testing.T) {
	assert.Equal(t, `"posts"."id"`, Postgres.Quote("posts.id"))
	assert.Equal(t, `"posts".*`, SQLite.Quote("posts.*"))
	assert.Equal(t, `COUNT(*)`, Postgres.Quote("COUNT(*)"))
	assert.Equal(t, "SELECT ? FROM t", SQLite.Rebind("SELECT ? FROM t"))
	assert.Equal(t, "SELECT $1, $2", Postgres.Rebind("SELECT ?, ?"))
}

func TestDialect_RebindSkipsQuotedText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`title = ? AND body LIKE '%?%'`, `title = $1 AND body LIKE '%?%'`},
		{`note = 'it''s ?' AND id = ?`, `note = 'it''s ?' AND id = $1`},
		{`"odd?col" = ?`, `"odd?col" = $1`},
		{`a = ? OR b = ?`, `a = $1 OR b = $2`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Postgres.Rebind(tt.in), tt.in)
	}

	sql, args, err := New(nil, Postgres, "posts").WhereRaw("title <> '?' AND id = ?", "p1").ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "posts" WHERE (title <> '?' AND id = $1)`, sql)
	assert.Equal(t, []interface{}{"p1"}, args)
}
