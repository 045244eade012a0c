package docstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinfkong/docstore"
)

func TestAggregate(t *testing.T) {
	// Setup
	tdb := NewTestDB(t)
	ctx := testContext(t)
	coll := tdb.C("products")
	InsertTestData(t, coll, GetTestData().Products)

	// Test grouping
	cur, err := coll.Aggregate(ctx, []docstore.Document{
		docstore.D("$group", docstore.D("_id", "$category", "total", docstore.D("$sum", "$quantity"))),
		docstore.D("$sort", docstore.D("_id", 1)),
	}, docstore.AggregateOptions{BatchSize: 1})
	require.NoError(t, err, "Failed to run aggregation")

	results, err := cur.All(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, docstore.D("_id", "Books", "total", 100).Equal(results[0]), "got %s", results[0])
	assert.True(t, docstore.D("_id", "Electronics", "total", 50).Equal(results[1]), "got %s", results[1])

	// Test match and unwind
	cur, err = coll.Aggregate(ctx, []docstore.Document{
		docstore.D("$match", docstore.D("inStock", true)),
		docstore.D("$unwind", "$tags"),
		docstore.D("$count", "tags"),
	}, docstore.AggregateOptions{})
	require.NoError(t, err)
	results, err = cur.All(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, docstore.D("tags", 3).Equal(results[0]))

	// Test empty stage is rejected
	_, err = coll.Aggregate(ctx, []docstore.Document{docstore.D()}, docstore.AggregateOptions{})
	var ve *docstore.ValidationError
	assert.ErrorAs(t, err, &ve)

	// Test unknown stage is a server error
	_, err = coll.Aggregate(ctx, []docstore.Document{docstore.D("$bogus", 1)}, docstore.AggregateOptions{})
	var se *docstore.ServerError
	assert.ErrorAs(t, err, &se)
}

func TestExplainAggregate(t *testing.T) {
	tdb := NewTestDB(t)
	ctx := testContext(t)
	coll := tdb.C("products")
	InsertTestData(t, coll, GetTestData().Products)

	plan, err := coll.ExplainAggregate(ctx, []docstore.Document{docstore.D("$match", docstore.D("inStock", true))})
	require.NoError(t, err)
	ok, found := plan.Get("ok")
	require.True(t, found)
	n, _ := ok.AsNumber()
	assert.Equal(t, 1.0, n)
}

func TestDatabaseAggregate(t *testing.T) {
	tdb := NewTestDB(t)
	ctx := testContext(t)

	cur, err := tdb.DB().Aggregate(ctx, []docstore.Document{
		docstore.D("$documents", []docstore.Value{
			docstore.DocumentValue(docstore.D("x", 1)),
			docstore.DocumentValue(docstore.D("x", 2)),
		}),
	}, docstore.AggregateOptions{})
	if err != nil {
		var se *docstore.ServerError
		require.ErrorAs(t, err, &se)
		t.Skip("$documents needs a newer server")
	}

	docs, err := cur.All(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}
