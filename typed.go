// typed.go - Struct-typed collection access

package docstore

import (
	"context"
	"iter"
)

// Typed is a collection whose documents are decoded into T, a struct with
// bson tags. It shares the underlying collection's handle.
//
//	type Person struct {
//		ID   docstore.ObjectID `bson:"_id,omitempty"`
//		Name string            `bson:"name"`
//	}
//	people := docstore.NewTyped[Person](client.Collection("", "people"))
type Typed[T any] struct {
	coll *Collection
}

// NewTyped attaches the schema T to coll.
func NewTyped[T any](coll *Collection) *Typed[T] {
	return &Typed[T]{coll: coll}
}

// Collection returns the untyped collection.
func (t *Typed[T]) Collection() *Collection { return t.coll }

// FindOne decodes the first document matching filter. The boolean is false
// when nothing matched.
func (t *Typed[T]) FindOne(ctx context.Context, filter Document, opts FindOneOptions) (T, bool, error) {
	var v T
	doc, found, err := t.coll.FindOne(ctx, filter, opts)
	if err != nil || !found {
		return v, found, err
	}

	if err = decodeDocument(doc, &v); err != nil {
		return v, false, &ValidationError{Op: "find", Reason: "document does not match schema", Err: err}
	}
	return v, true, nil
}

// Find decodes every document matching filter.
func (t *Typed[T]) Find(ctx context.Context, filter Document, opts FindOptions) ([]T, error) {
	var out []T
	for v, err := range t.Iter(ctx, filter, opts) {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Iter returns an iterator over the documents matching filter. The cursor is
// closed when iteration ends.
func (t *Typed[T]) Iter(ctx context.Context, filter Document, opts FindOptions) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		cur, err := t.coll.Find(ctx, filter, opts)
		if err != nil {
			yield(zero, err)
			return
		}
		defer cur.Close(ctx) //nolint:errcheck // iteration errors are yielded

		for cur.Next(ctx) {
			var v T
			if err := cur.Decode(&v); err != nil {
				yield(zero, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(zero, err)
		}
	}
}

// InsertOne encodes v and inserts it, returning the document's _id.
func (t *Typed[T]) InsertOne(ctx context.Context, v T) (Value, error) {
	doc, err := documentFromStruct(v)
	if err != nil {
		return Value{}, &ValidationError{Op: "insert", Reason: "cannot encode document", Err: err}
	}
	return t.coll.InsertOne(ctx, doc)
}

// InsertMany encodes and inserts vs, returning their _id values in order.
func (t *Typed[T]) InsertMany(ctx context.Context, vs []T, opts InsertManyOptions) ([]Value, error) {
	docs := make([]Document, len(vs))
	for i, v := range vs {
		doc, err := documentFromStruct(v)
		if err != nil {
			return nil, &ValidationError{Op: "insert", Reason: "cannot encode document", Err: err}
		}
		docs[i] = doc
	}
	return t.coll.InsertMany(ctx, docs, opts)
}

// ReplaceOne replaces the first document matching filter with v.
func (t *Typed[T]) ReplaceOne(ctx context.Context, filter Document, v T, opts ReplaceOptions) (UpdateResult, error) {
	doc, err := documentFromStruct(v)
	if err != nil {
		return UpdateResult{}, &ValidationError{Op: "replace", Reason: "cannot encode document", Err: err}
	}
	return t.coll.ReplaceOne(ctx, filter, doc, opts)
}
