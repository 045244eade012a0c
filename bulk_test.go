package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
)

func TestPrepareModels(t *testing.T) {
	t.Parallel()

	def := Namespace{Database: "app", Collection: "orders"}

	t.Run("DefaultsNamespace", func(t *testing.T) {
		t.Parallel()

		prepared, err := prepareModels([]WriteModel{
			InsertOneModel{Document: D("a", 1)},
			UpdateOneModel{Namespace: Namespace{Collection: "items"}, Filter: D("a", 1), Update: D("b", 2)},
			DeleteManyModel{Namespace: Namespace{Database: "other", Collection: "logs"}},
		}, def)
		require.NoError(t, err)
		require.Len(t, prepared, 3)

		assert.Equal(t, def, prepared[0].ns)
		assert.True(t, prepared[0].isInsert)
		assert.Equal(t, KindObjectID, prepared[0].insertedID.Kind())

		assert.Equal(t, Namespace{Database: "app", Collection: "items"}, prepared[1].ns)
		assert.False(t, prepared[1].isInsert)

		assert.Equal(t, Namespace{Database: "other", Collection: "logs"}, prepared[2].ns)

		assert.True(t, Namespace{}.IsZero())
		assert.False(t, Namespace{Collection: "items"}.IsZero())
	})

	t.Run("InvalidModel", func(t *testing.T) {
		t.Parallel()

		_, err := prepareModels([]WriteModel{
			InsertOneModel{Document: D("a", 1)},
			UpdateOneModel{Filter: D(), Update: D("$set", D("a", 1), "b", 2)},
		}, def)

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Reason, "model 1")
	})

	t.Run("PlainUpdateOne", func(t *testing.T) {
		t.Parallel()

		prepared, err := prepareModels([]WriteModel{
			UpdateOneModel{Filter: D("a", 1), Update: D("b", 2), Upsert: true},
		}, def)
		require.NoError(t, err)
		rm, ok := prepared[0].model.(*mongodrv.ReplaceOneModel)
		require.True(t, ok, "got %T", prepared[0].model)
		assert.True(t, *rm.Upsert)
	})

	t.Run("PlainUpdateMany", func(t *testing.T) {
		t.Parallel()

		_, err := prepareModels([]WriteModel{
			UpdateManyModel{Filter: D("a", 1), Update: D("b", 2)},
		}, def)
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
	})

	t.Run("PlainUpdateWithArrayFilters", func(t *testing.T) {
		t.Parallel()

		_, err := prepareModels([]WriteModel{
			UpdateOneModel{Filter: D(), Update: D("b", 2), ArrayFilters: []Document{D("x", 1)}},
		}, def)
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
	})

	t.Run("ReplacementWithOperator", func(t *testing.T) {
		t.Parallel()

		_, err := prepareModels([]WriteModel{
			ReplaceOneModel{Filter: D(), Replacement: D("$set", D("a", 1))},
		}, def)
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
	})

	t.Run("NoCollection", func(t *testing.T) {
		t.Parallel()

		_, err := prepareModels([]WriteModel{DeleteOneModel{}}, Namespace{Database: "app"})
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
	})

	t.Run("Nil", func(t *testing.T) {
		t.Parallel()

		_, err := prepareModels([]WriteModel{nil}, def)
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
	})
}

func TestGroupModels(t *testing.T) {
	t.Parallel()

	a := Namespace{Database: "db", Collection: "a"}
	b := Namespace{Database: "db", Collection: "b"}

	id := func(i int32) Value { return Int32Value(i) }
	models := []preparedModel{
		{ns: a, isInsert: true, insertedID: id(0)},
		{ns: a},
		{ns: b, isInsert: true, insertedID: id(2)},
		{ns: a, isInsert: true, insertedID: id(3)},
		{ns: b},
	}

	t.Run("Ordered", func(t *testing.T) {
		t.Parallel()

		groups := groupModels(models, true)
		require.Len(t, groups, 4)

		assert.Equal(t, a, groups[0].ns)
		assert.Equal(t, []int{0, 1}, groups[0].indices)
		assert.Equal(t, map[int]Value{0: id(0)}, groups[0].inserted)

		assert.Equal(t, b, groups[1].ns)
		assert.Equal(t, []int{2}, groups[1].indices)

		assert.Equal(t, a, groups[2].ns)
		assert.Equal(t, []int{3}, groups[2].indices)
		assert.Equal(t, map[int]Value{0: id(3)}, groups[2].inserted)

		assert.Equal(t, []int{4}, groups[3].indices)
	})

	t.Run("Unordered", func(t *testing.T) {
		t.Parallel()

		groups := groupModels(models, false)
		require.Len(t, groups, 2)

		assert.Equal(t, a, groups[0].ns)
		assert.Equal(t, []int{0, 1, 3}, groups[0].indices)
		assert.Equal(t, map[int]Value{0: id(0), 2: id(3)}, groups[0].inserted)

		assert.Equal(t, b, groups[1].ns)
		assert.Equal(t, []int{2, 4}, groups[1].indices)
		assert.Len(t, groups[1].models, 2)
	})
}

func TestBulkWriteResultMerge(t *testing.T) {
	t.Parallel()

	newResult := func() BulkWriteResult {
		return BulkWriteResult{InsertedIDs: map[int]Value{}, UpsertedIDs: map[int]Value{}}
	}
	group := &bulkGroup{
		ns:       Namespace{Database: "db", Collection: "a"},
		indices:  []int{3, 5, 8, 9},
		models:   make([]mongodrv.WriteModel, 4),
		inserted: map[int]Value{0: Int32Value(30), 2: Int32Value(80), 3: Int32Value(90)},
	}

	t.Run("Success", func(t *testing.T) {
		t.Parallel()

		res := newResult()
		require.NoError(t, res.merge(group, bulkOutcome{
			res: &mongodrv.BulkWriteResult{
				InsertedCount: 3,
				MatchedCount:  1,
				UpsertedCount: 1,
				UpsertedIDs:   map[int64]interface{}{1: "up"},
			},
			firstFailed: -1,
		}, true))

		assert.Equal(t, int64(3), res.InsertedCount)
		assert.Equal(t, int64(1), res.MatchedCount)
		assert.Len(t, res.InsertedIDs, 3)
		assert.True(t, res.UpsertedIDs[5].Equal(StringValue("up")), "local index 1 maps to model 5")
	})

	t.Run("OrderedWriteError", func(t *testing.T) {
		t.Parallel()

		res := newResult()
		require.NoError(t, res.merge(group, bulkOutcome{
			res:         &mongodrv.BulkWriteResult{InsertedCount: 1},
			failed:      map[int]bool{2: true},
			firstFailed: 2,
		}, true))

		assert.Equal(t, map[int]Value{3: Int32Value(30)}, res.InsertedIDs)
	})

	t.Run("UnorderedWriteError", func(t *testing.T) {
		t.Parallel()

		res := newResult()
		require.NoError(t, res.merge(group, bulkOutcome{
			res:         &mongodrv.BulkWriteResult{InsertedCount: 2},
			failed:      map[int]bool{2: true},
			firstFailed: 2,
		}, false))

		assert.Equal(t, map[int]Value{3: Int32Value(30), 9: Int32Value(90)}, res.InsertedIDs)
	})

	t.Run("OrderedFatal", func(t *testing.T) {
		t.Parallel()

		res := newResult()
		require.NoError(t, res.merge(group, bulkOutcome{
			res:         &mongodrv.BulkWriteResult{InsertedCount: 2},
			firstFailed: -1,
			fatal:       assert.AnError,
		}, true))

		assert.Equal(t, map[int]Value{3: Int32Value(30), 8: Int32Value(80)}, res.InsertedIDs)
	})

	t.Run("UnorderedFatal", func(t *testing.T) {
		t.Parallel()

		res := newResult()
		require.NoError(t, res.merge(group, bulkOutcome{
			res:         &mongodrv.BulkWriteResult{InsertedCount: 2},
			firstFailed: -1,
			fatal:       assert.AnError,
		}, false))

		assert.Equal(t, int64(2), res.InsertedCount)
		assert.Empty(t, res.InsertedIDs)
	})

	t.Run("NoResult", func(t *testing.T) {
		t.Parallel()

		res := newResult()
		require.NoError(t, res.merge(group, bulkOutcome{firstFailed: -1, fatal: assert.AnError}, true))
		assert.Empty(t, res.InsertedIDs)
	})
}

func TestBulkBuilder(t *testing.T) {
	t.Parallel()

	b := (&Collection{}).Bulk()
	b.Insert(D("a", 1), D("a", 2))
	b.Update(D("a", 1), D("$set", D("b", 1)))
	b.UpdateAll(D("a", 2), D("$set", D("b", 2)))
	b.Upsert(D("a", 3), D("$inc", D("n", 1)), D("a", 4), D("a", 4, "b", 4))
	b.Replace(D("a", 1), D("a", 1, "c", 1))
	b.Remove(D("a", 1))
	b.RemoveAll(D("a", 2))
	b.Unordered()

	require.Equal(t, 9, b.Len())
	assert.IsType(t, InsertOneModel{}, b.models[0])
	assert.IsType(t, UpdateOneModel{}, b.models[2])
	assert.IsType(t, UpdateManyModel{}, b.models[3])
	assert.IsType(t, UpdateOneModel{}, b.models[4], "operator upserts update")
	assert.IsType(t, ReplaceOneModel{}, b.models[5], "plain upserts replace")
	assert.True(t, b.models[5].(ReplaceOneModel).Upsert)
	assert.IsType(t, ReplaceOneModel{}, b.models[6])
	assert.IsType(t, DeleteOneModel{}, b.models[7])
	assert.IsType(t, DeleteManyModel{}, b.models[8])
	assert.True(t, b.opts.Unordered)

	assert.Panics(t, func() { b.Update(D("a", 1)) })
}
