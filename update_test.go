package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareUpdate(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		update Document
		want   Document // nil means a ValidationError is expected
	}{
		"Operators": {
			update: D("$set", D("a", 1), "$inc", D("n", 1)),
			want:   D("$set", D("a", 1), "$inc", D("n", 1)),
		},
		"PlainRejected": {
			update: D("a", 1, "b", "x"),
		},
		"RepeatedOperator": {
			update: Document{
				{Key: "$set", Value: DocumentValue(D("a", 1))},
				{Key: "$set", Value: DocumentValue(D("b", 1))},
			},
		},
		"Mixed": {
			update: D("$set", D("a", 1), "b", 2),
		},
		"UnknownOperator": {
			update: D("$frobnicate", D("a", 1)),
		},
		"OperandNotDocument": {
			update: D("$set", 5),
		},
		"EmptyOperand": {
			update: D("$unset", D()),
		},
		"Empty": {
			update: D(),
		},
		"Nil": {},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := prepareUpdate("update", tc.update)
			if tc.want == nil {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "update", ve.Op)
				return
			}

			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}
}

func TestPrepareSingleUpdate(t *testing.T) {
	t.Parallel()

	doc, replace, err := prepareSingleUpdate("update", D("a", 1))
	require.NoError(t, err)
	assert.True(t, replace, "an operator-free update replaces the document")
	assert.True(t, D("a", 1).Equal(doc), "got %s", doc)

	doc, replace, err = prepareSingleUpdate("update", D("$inc", D("n", 1)))
	require.NoError(t, err)
	assert.False(t, replace)
	assert.True(t, D("$inc", D("n", 1)).Equal(doc))

	var ve *ValidationError
	_, _, err = prepareSingleUpdate("update", D("$set", D("a", 1), "b", 2))
	assert.ErrorAs(t, err, &ve)

	_, _, err = prepareSingleUpdate("update", D())
	assert.ErrorAs(t, err, &ve)

	_, _, err = prepareSingleUpdate("update", Document{{Key: "a", Value: Int32Value(1)}, {Key: "a", Value: Int32Value(2)}})
	assert.ErrorAs(t, err, &ve)
}

func TestPrepareReplacement(t *testing.T) {
	t.Parallel()

	_, err := prepareReplacement("replace", D("name", "x", "nested", D("$literal", 1)))
	assert.NoError(t, err, "only top-level keys are checked")

	_, err = prepareReplacement("replace", D("name", "x", "$set", D("a", 1)))
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = prepareReplacement("replace", nil)
	assert.ErrorAs(t, err, &ve)

	_, err = prepareReplacement("replace", D())
	assert.NoError(t, err, "an empty replacement clears the document")

	_, err = prepareReplacement("replace", append(D("a", 1, "b", 2), Field{Key: "a", Value: Int32Value(3)}))
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, `duplicate field "a"`)
}

func TestPrepareInsert(t *testing.T) {
	t.Parallel()

	doc, id, err := prepareInsert("insert", D("name", "x"))
	require.NoError(t, err)
	assert.Equal(t, KindObjectID, id.Kind())
	assert.Equal(t, []string{"_id", "name"}, doc.Keys())

	_, _, err = prepareInsert("insert", D("$bad", 1))
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	_, _, err = prepareInsert("insert", nil)
	assert.ErrorAs(t, err, &ve)

	_, _, err = prepareInsert("insert", Document{
		{Key: "a", Value: Int32Value(1)},
		{Key: "a", Value: Int32Value(2)},
	})
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, `duplicate field "a"`)

	_, _, err = prepareInsert("insert", append(D("_id", 1), Field{Key: "_id", Value: Int32Value(2)}))
	assert.ErrorAs(t, err, &ve, "a repeated _id is not silently kept")
}
