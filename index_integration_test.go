package docstore_test

import (
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinfkong/docstore"
)

func TestIndexLifecycle(t *testing.T) {
	// Setup
	tdb := NewTestDB(t)
	ctx := testContext(t)
	coll := tdb.C("indexed")

	// Test creating indexes
	name := CreateTestIndex(t, coll, true, "email")
	assert.Equal(t, "email_1", name)

	keys, err := docstore.IndexKeys("lastname", "-age")
	require.NoError(t, err)
	ttlKeys, err := docstore.IndexKeys("createdAt")
	require.NoError(t, err)
	names, err := coll.CreateIndexes(ctx, []docstore.IndexModel{
		{Keys: keys, Options: docstore.IndexOptions{Name: "by_lastname_age", Sparse: true}},
		{Keys: ttlKeys, Options: docstore.IndexOptions{ExpireAfter: pointer.To(time.Hour)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"by_lastname_age", "createdAt_1"}, names)

	// Test listing indexes
	specs, err := coll.ListIndexes(ctx)
	require.NoError(t, err)
	byName := make(map[string]docstore.IndexSpec)
	for _, s := range specs {
		byName[s.Name] = s
	}
	require.Len(t, byName, 4)
	assert.Contains(t, byName, "_id_")
	assert.True(t, byName["email_1"].Unique)
	assert.True(t, byName["by_lastname_age"].Sparse)
	assert.True(t, keys.Equal(byName["by_lastname_age"].Keys))
	require.NotNil(t, byName["createdAt_1"].ExpireAfter)
	assert.Equal(t, time.Hour, *byName["createdAt_1"].ExpireAfter)
	assert.Nil(t, byName["email_1"].ExpireAfter)

	// Test the unique index is enforced
	_, err = coll.InsertOne(ctx, docstore.D("email", "x@example.com"))
	require.NoError(t, err)
	_, err = coll.InsertOne(ctx, docstore.D("email", "x@example.com"))
	var dup *docstore.DuplicateKeyError
	assert.ErrorAs(t, err, &dup)

	// Test dropping indexes
	require.NoError(t, coll.DropIndex(ctx, "email_1"))
	_, err = coll.InsertOne(ctx, docstore.D("email", "x@example.com"))
	require.NoError(t, err, "no longer unique")

	var ve *docstore.ValidationError
	assert.ErrorAs(t, coll.DropIndex(ctx, "*"), &ve)

	var se *docstore.ServerError
	assert.ErrorAs(t, coll.DropIndex(ctx, "missing_1"), &se)

	require.NoError(t, coll.DropAllIndexes(ctx))
	specs, err = coll.ListIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "_id_", specs[0].Name)
}

func TestTextIndexSearch(t *testing.T) {
	tdb := NewTestDB(t)
	ctx := testContext(t)
	coll := tdb.C("articles")

	CreateTestIndex(t, coll, false, "$text:body")
	InsertTestData(t, coll, []docstore.Document{
		docstore.D("body", "the quick brown fox"),
		docstore.D("body", "a lazy dog"),
	})

	n, err := coll.CountDocuments(ctx, docstore.D("$text", docstore.D("$search", "fox")), docstore.CountOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
