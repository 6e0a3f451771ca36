package schema

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.RegisterModel(ModelDescriptor{Name: "Post", Table: "posts", With: []string{"comments"}}))
	require.NoError(t, reg.RegisterField(FieldDescriptor{Model: "Post", Name: "title"}))
	require.NoError(t, reg.RegisterField(FieldDescriptor{Model: "Post", Name: "published", Cast: CastBoolean}))
	require.NoError(t, reg.RegisterRelation(RelationDescriptor{Model: "Post", Property: "comments", Kind: HasMany, Target: "Comment"}))

	model, ok := reg.GetModel("Post")
	require.True(t, ok)
	assert.Equal(t, "posts", model.Table)
	assert.Equal(t, []string{"comments"}, model.With)

	fields := reg.GetFields("Post")
	require.Len(t, fields, 2)
	assert.Equal(t, "title", fields[0].Name)
	assert.Equal(t, "published", fields[1].Name)

	field, ok := reg.FindField("Post", "published")
	require.True(t, ok)
	assert.Equal(t, CastBoolean, field.Cast)

	rel, ok := reg.FindRelation("Post", "comments")
	require.True(t, ok)
	assert.Equal(t, HasMany, rel.Kind)

	_, ok = reg.FindRelation("Post", "missing")
	assert.False(t, ok)
	_, ok = reg.GetModel("Missing")
	assert.False(t, ok)
	assert.Empty(t, reg.GetFields("Missing"))
	assert.Empty(t, reg.GetRelations("Missing"))
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.RegisterModel(ModelDescriptor{Name: "Post", Table: "posts"}))
	err := reg.RegisterModel(ModelDescriptor{Name: "Post", Table: "other"})
	assert.True(t, errors.Is(err, ErrDuplicate))

	require.NoError(t, reg.RegisterField(FieldDescriptor{Model: "Post", Name: "title"}))
	err = reg.RegisterField(FieldDescriptor{Model: "Post", Name: "title"})
	assert.True(t, errors.Is(err, ErrDuplicate))

	rel := RelationDescriptor{Model: "Post", Property: "author", Kind: BelongsTo, Target: "User"}
	require.NoError(t, reg.RegisterRelation(rel))
	err = reg.RegisterRelation(rel)
	assert.True(t, errors.Is(err, ErrDuplicate))

	// same property on a different model is fine
	rel.Model = "Comment"
	assert.NoError(t, reg.RegisterRelation(rel))
}

func TestRegistry_ValidatesDescriptors(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name string
		rel  RelationDescriptor
	}{
		{"missing property", RelationDescriptor{Model: "Post", Kind: HasMany, Target: "Comment"}},
		{"unknown kind", RelationDescriptor{Model: "Post", Property: "x", Kind: "morph_to", Target: "Comment"}},
		{"missing target", RelationDescriptor{Model: "Post", Property: "x", Kind: HasMany}},
		{"pivot on has_many", RelationDescriptor{Model: "Post", Property: "x", Kind: HasMany, Target: "Comment", Pivot: []string{"order"}}},
		{"join table on belongs_to", RelationDescriptor{Model: "Post", Property: "x", Kind: BelongsTo, Target: "User", JoinTable: "t"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.RegisterRelation(tt.rel)
			assert.True(t, errors.Is(err, ErrInvalidDescriptor), "got %v", err)
		})
	}

	err := reg.RegisterField(FieldDescriptor{Model: "Post", Name: "x", Cast: "date"})
	assert.True(t, errors.Is(err, ErrInvalidDescriptor))

	err = reg.RegisterModel(ModelDescriptor{Name: "Post"})
	assert.True(t, errors.Is(err, ErrInvalidDescriptor))
}

func TestRegistry_CopiesDescriptors(t *testing.T) {
	reg := NewRegistry()

	pivot := []string{"position"}
	with := []string{"categories"}
	require.NoError(t, reg.RegisterModel(ModelDescriptor{Name: "Post", Table: "posts", With: with}))
	require.NoError(t, reg.RegisterRelation(RelationDescriptor{
		Model: "Post", Property: "categories", Kind: BelongsToMany, Target: "Category", Pivot: pivot,
	}))

	pivot[0] = "mutated"
	with[0] = "mutated"

	rel, _ := reg.FindRelation("Post", "categories")
	assert.Equal(t, []string{"position"}, rel.Pivot)
	model, _ := reg.GetModel("Post")
	assert.Equal(t, []string{"categories"}, model.With)

	rel.Pivot[0] = "changed by reader"
	again, _ := reg.FindRelation("Post", "categories")
	assert.Equal(t, []string{"position"}, again.Pivot)
}

func TestRegistry_FreezeAndReset(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterModel(ModelDescriptor{Name: "Post", Table: "posts"}))

	reg.Freeze()
	assert.True(t, reg.Frozen())
	assert.ErrorIs(t, reg.RegisterModel(ModelDescriptor{Name: "User", Table: "users"}), ErrFrozen)
	assert.ErrorIs(t, reg.RegisterField(FieldDescriptor{Model: "Post", Name: "title"}), ErrFrozen)

	_, ok := reg.GetModel("Post")
	assert.True(t, ok)

	reg.Reset()
	assert.False(t, reg.Frozen())
	_, ok = reg.GetModel("Post")
	assert.False(t, ok)
	assert.Empty(t, reg.Models())
	assert.NoError(t, reg.RegisterModel(ModelDescriptor{Name: "Post", Table: "posts"}))
}

func TestRegistry_ResolveDefaults(t *testing.T) {
	reg := NewRegistry()
	for _, m := range []ModelDescriptor{
		{Name: "Post", Table: "posts"},
		{Name: "User", Table: "users"},
		{Name: "Category", Table: "categories"},
		{Name: "BlogPost", Table: "blog_posts"},
	} {
		require.NoError(t, reg.RegisterModel(m))
	}

	tests := []struct {
		name string
		rel  RelationDescriptor
		want ResolvedRelation
	}{
		{
			name: "has_many",
			rel:  RelationDescriptor{Model: "User", Property: "posts", Kind: HasMany, Target: "Post"},
			want: ResolvedRelation{
				RelationDescriptor: RelationDescriptor{Model: "User", Property: "posts", Kind: HasMany, Target: "Post", LocalKey: "id", ForeignKey: "user_id"},
				OwnerTable:         "users",
				TargetTable:        "posts",
			},
		},
		{
			name: "belongs_to",
			rel:  RelationDescriptor{Model: "Post", Property: "user", Kind: BelongsTo, Target: "User"},
			want: ResolvedRelation{
				RelationDescriptor: RelationDescriptor{Model: "Post", Property: "user", Kind: BelongsTo, Target: "User", LocalKey: "user_id", ForeignKey: "id"},
				OwnerTable:         "posts",
				TargetTable:        "users",
			},
		},
		{
			name: "belongs_to with explicit local key",
			rel:  RelationDescriptor{Model: "Post", Property: "author", Kind: BelongsTo, Target: "User", LocalKey: "author_id"},
			want: ResolvedRelation{
				RelationDescriptor: RelationDescriptor{Model: "Post", Property: "author", Kind: BelongsTo, Target: "User", LocalKey: "author_id", ForeignKey: "id"},
				OwnerTable:         "posts",
				TargetTable:        "users",
			},
		},
		{
			name: "belongs_to_many",
			rel:  RelationDescriptor{Model: "Post", Property: "categories", Kind: BelongsToMany, Target: "Category"},
			want: ResolvedRelation{
				RelationDescriptor: RelationDescriptor{
					Model: "Post", Property: "categories", Kind: BelongsToMany, Target: "Category",
					LocalKey: "id", ForeignKey: "id", JoinTable: "category_post", LocalJoin: "post_id", ForeignJoin: "category_id",
				},
				OwnerTable:  "posts",
				TargetTable: "categories",
			},
		},
		{
			name: "multi word names are snake cased",
			rel:  RelationDescriptor{Model: "BlogPost", Property: "categories", Kind: BelongsToMany, Target: "Category"},
			want: ResolvedRelation{
				RelationDescriptor: RelationDescriptor{
					Model: "BlogPost", Property: "categories", Kind: BelongsToMany, Target: "Category",
					LocalKey: "id", ForeignKey: "id", JoinTable: "blog_post_category", LocalJoin: "blog_post_id", ForeignJoin: "category_id",
				},
				OwnerTable:  "blog_posts",
				TargetTable: "categories",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Resolve(tt.rel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_ResolveUnknownTarget(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterModel(ModelDescriptor{Name: "Post", Table: "posts"}))

	_, err := reg.Resolve(RelationDescriptor{Model: "Post", Property: "tags", Kind: BelongsToMany, Target: "Tag"})
	assert.True(t, errors.Is(err, ErrModelNotFound))
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterModel(ModelDescriptor{Name: "Post", Table: "posts"}))
	require.NoError(t, reg.RegisterField(FieldDescriptor{Model: "Post", Name: "title"}))
	reg.Freeze()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := reg.FindField("Post", "title")
			assert.True(t, ok)
		}()
	}
	wg.Wait()
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "post", toSnakeCase("Post"))
	assert.Equal(t, "blog_post", toSnakeCase("BlogPost"))
	assert.Equal(t, "http_request", toSnakeCase("HTTPRequest"))
	assert.Equal(t, "category_post", JoinTableName("Post", "Category"))
}
