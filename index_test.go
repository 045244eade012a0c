package docstore

import (
	"math"
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestIndexKeys(t *testing.T) {
	t.Parallel()

	keys, err := IndexKeys("city", "-pop", "+name")
	require.NoError(t, err)
	assert.True(t, D("city", int32(1), "pop", int32(-1), "name", int32(1)).Equal(keys), "got %s", keys)

	keys, err = IndexKeys("$text:title", "$2dsphere:location", "$hashed:user")
	require.NoError(t, err)
	assert.True(t, D("title", "text", "location", "2dsphere", "user", "hashed").Equal(keys), "got %s", keys)

	for _, bad := range []string{"", "$text", "$text:", "$btree:x"} {
		_, err = IndexKeys(bad)
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve, "%q", bad)
	}
}

func TestIndexOptions(t *testing.T) {
	t.Parallel()

	io, err := IndexOptions{
		Name:          "ttl",
		Unique:        true,
		ExpireAfter:   pointer.To(90 * time.Second),
		PartialFilter: D("active", true),
		Hidden:        true,
	}.driver()
	require.NoError(t, err)

	assert.Equal(t, "ttl", *io.Name)
	assert.True(t, *io.Unique)
	assert.Equal(t, int32(90), *io.ExpireAfterSeconds)
	assert.Equal(t, bson.D{{Key: "active", Value: true}}, io.PartialFilterExpression)
	assert.True(t, *io.Hidden)
	assert.Nil(t, io.Sparse)
	assert.Nil(t, io.Background)

	empty, err := IndexOptions{}.driver()
	require.NoError(t, err)
	assert.Nil(t, empty.Name, "the server names unnamed indexes")
	assert.Nil(t, empty.ExpireAfterSeconds)
}

func TestIndexOptionsTTL(t *testing.T) {
	t.Parallel()

	io, err := IndexOptions{ExpireAfter: pointer.To(time.Duration(0))}.driver()
	require.NoError(t, err)
	require.NotNil(t, io.ExpireAfterSeconds, "a zero TTL is still a TTL index")
	assert.Equal(t, int32(0), *io.ExpireAfterSeconds)

	io, err = IndexOptions{ExpireAfter: pointer.To(math.MaxInt32 * time.Second)}.driver()
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32), *io.ExpireAfterSeconds)

	for _, d := range []time.Duration{-time.Second, (math.MaxInt32 + 1) * time.Second} {
		_, err = IndexOptions{ExpireAfter: pointer.To(d)}.driver()
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve, "%s", d)
	}

	_, err = IndexModel{Keys: D("at", 1), Options: IndexOptions{ExpireAfter: pointer.To(-time.Hour)}}.driver()
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestSortOrder(t *testing.T) {
	t.Parallel()

	assert.True(t, D("name", int32(1), "age", int32(-1)).Equal(SortOrder("name", "-age")))
	assert.Empty(t, SortOrder())
}

func TestFindOptions(t *testing.T) {
	t.Parallel()

	fo := FindOptions{
		Sort:       SortOrder("-n"),
		Projection: D("_id", 0),
		Skip:       10,
		Limit:      5,
		BatchSize:  2,
		CursorType: TailableAwait,
	}.driver()

	assert.Equal(t, bson.D{{Key: "n", Value: int32(-1)}}, fo.Sort)
	assert.Equal(t, int64(10), *fo.Skip)
	assert.Equal(t, int64(5), *fo.Limit)
	assert.Equal(t, int32(2), *fo.BatchSize)
	assert.NotNil(t, fo.CursorType)
	assert.Nil(t, FindOptions{}.driver().Limit)
}

func TestFindOneAndModifyOptions(t *testing.T) {
	t.Parallel()

	uo := FindOneAndModifyOptions{ReturnAfter: true, Upsert: true}.updateOptions()
	require.NotNil(t, uo.ReturnDocument)
	assert.EqualValues(t, 1, *uo.ReturnDocument)
	assert.True(t, *uo.Upsert)

	ro := FindOneAndModifyOptions{}.replaceOptions()
	assert.EqualValues(t, 0, *ro.ReturnDocument)
	assert.Nil(t, ro.Upsert)
}
