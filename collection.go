// collection.go - Collection handle CRUD operations

package docstore

import (
	"context"
	"errors"

	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Namespace names a collection within a database.
type Namespace struct {
	Database   string
	Collection string
}

func (ns Namespace) String() string {
	return ns.Database + "." + ns.Collection
}

// IsZero reports whether ns is empty.
func (ns Namespace) IsZero() bool {
	return ns.Database == "" && ns.Collection == ""
}

// Collection is a handle for a named collection. It is safe for concurrent use.
type Collection struct {
	coll *mongodrv.Collection
	db   *Database
	ns   Namespace
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.ns.Collection }

// Namespace returns the collection's full namespace.
func (c *Collection) Namespace() Namespace { return c.ns }

// Database returns the database the collection belongs to.
func (c *Collection) Database() *Database { return c.db }

func (c *Collection) logger() *zap.Logger {
	return c.db.client.l
}

// UpdateResult describes the outcome of an update or replace.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedCount int64
	// UpsertedID is null unless a document was upserted.
	UpsertedID Value
}

// DeleteResult describes the outcome of a delete.
type DeleteResult struct {
	DeletedCount int64
}

// -------------------- Reads --------------------

// FindOne returns the first document matching filter (nil matches everything).
// The boolean is false when nothing matched.
func (c *Collection) FindOne(ctx context.Context, filter Document, opts FindOneOptions) (Document, bool, error) {
	raw, err := c.coll.FindOne(ctx, filter.bsonD(), opts.driver()).Raw()
	if err != nil {
		if errors.Is(err, mongodrv.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, classify("find", err)
	}

	doc, err := documentFromRaw(raw)
	if err != nil {
		return nil, false, classify("find", err)
	}
	return doc, true, nil
}

// Find returns a cursor over the documents matching filter (nil matches everything).
func (c *Collection) Find(ctx context.Context, filter Document, opts FindOptions) (*Cursor, error) {
	cur, err := c.coll.Find(ctx, filter.bsonD(), opts.driver())
	if err != nil {
		return nil, classify("find", err)
	}
	return newCursor(cur, "find", c.logger()), nil
}

// FindID returns the document with the given _id.
func (c *Collection) FindID(ctx context.Context, id Value) (Document, bool, error) {
	return c.FindOne(ctx, Document{{Key: "_id", Value: id}}, FindOneOptions{})
}

// CountDocuments counts the documents matching filter.
func (c *Collection) CountDocuments(ctx context.Context, filter Document, opts CountOptions) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, filter.bsonD(), opts.driver())
	if err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

// EstimatedDocumentCount returns the count from collection metadata.
func (c *Collection) EstimatedDocumentCount(ctx context.Context) (int64, error) {
	n, err := c.coll.EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

// Distinct returns the distinct values of field among documents matching filter.
func (c *Collection) Distinct(ctx context.Context, field string, filter Document) ([]Value, error) {
	res, err := c.coll.Distinct(ctx, field, filter.bsonD())
	if err != nil {
		return nil, classify("distinct", err)
	}

	vals := make([]Value, len(res))
	for i, r := range res {
		if vals[i], err = ValueOf(r); err != nil {
			return nil, classify("distinct", err)
		}
	}
	return vals, nil
}

// FindOneAndUpdate updates the first matching document and returns it, as it was
// before the update unless opts.ReturnAfter is set. An update without operators
// replaces the document.
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, update Document, opts FindOneAndModifyOptions) (Document, bool, error) {
	u, replace, err := prepareSingleUpdate("findAndModify", update)
	if err != nil {
		return nil, false, err
	}
	if replace {
		if opts.ArrayFilters != nil {
			return nil, false, &ValidationError{Op: "findAndModify", Reason: "array filters need update operators"}
		}
		return singleResult("findAndModify", c.coll.FindOneAndReplace(ctx, filter.bsonD(), u.bsonD(), opts.replaceOptions()))
	}
	return singleResult("findAndModify", c.coll.FindOneAndUpdate(ctx, filter.bsonD(), u.bsonD(), opts.updateOptions()))
}

// FindOneAndReplace replaces the first matching document and returns it.
func (c *Collection) FindOneAndReplace(ctx context.Context, filter, replacement Document, opts FindOneAndModifyOptions) (Document, bool, error) {
	r, err := prepareReplacement("findAndModify", replacement)
	if err != nil {
		return nil, false, err
	}
	return singleResult("findAndModify", c.coll.FindOneAndReplace(ctx, filter.bsonD(), r.bsonD(), opts.replaceOptions()))
}

// FindOneAndDelete deletes the first matching document and returns it.
func (c *Collection) FindOneAndDelete(ctx context.Context, filter Document, opts FindOneAndModifyOptions) (Document, bool, error) {
	return singleResult("findAndModify", c.coll.FindOneAndDelete(ctx, filter.bsonD(), opts.deleteOptions()))
}

func singleResult(op string, res *mongodrv.SingleResult) (Document, bool, error) {
	raw, err := res.Raw()
	if err != nil {
		if errors.Is(err, mongodrv.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, classify(op, err)
	}

	doc, err := documentFromRaw(raw)
	if err != nil {
		return nil, false, classify(op, err)
	}
	return doc, true, nil
}

// -------------------- Writes --------------------

// InsertOne inserts doc and returns its _id. A missing _id is generated locally,
// placed first, and is the value returned.
func (c *Collection) InsertOne(ctx context.Context, doc Document) (Value, error) {
	prepared, id, err := prepareInsert("insert", doc)
	if err != nil {
		return Value{}, err
	}

	if _, err = c.coll.InsertOne(ctx, prepared.bsonD()); err != nil {
		return Value{}, classify("insert", err)
	}
	return id, nil
}

// InsertMany inserts docs and returns their _id values in order.
// On failure the returned error is a *BulkWriteError when the server reported
// per-document failures; the ids slice is returned either way.
func (c *Collection) InsertMany(ctx context.Context, docs []Document, opts InsertManyOptions) ([]Value, error) {
	if len(docs) == 0 {
		return nil, &ValidationError{Op: "insert", Reason: "no documents to insert"}
	}

	ids := make([]Value, len(docs))
	prepared := make([]interface{}, len(docs))
	for i, doc := range docs {
		d, id, err := prepareInsert("insert", doc)
		if err != nil {
			return nil, err
		}
		ids[i] = id
		prepared[i] = d.bsonD()
	}

	o := options.InsertMany().SetOrdered(!opts.Unordered)
	if opts.BypassDocumentValidation {
		o.SetBypassDocumentValidation(true)
	}

	if _, err := c.coll.InsertMany(ctx, prepared, o); err != nil {
		var bwe mongodrv.BulkWriteException
		if errors.As(err, &bwe) {
			failed := len(bwe.WriteErrors)
			res := BulkWriteResult{InsertedCount: int64(len(docs) - failed)}
			if !opts.Unordered && failed > 0 {
				res.InsertedCount = int64(bwe.WriteErrors[0].Index)
			}
			return ids, newBulkWriteError(res, bwe, c.ns, nil)
		}
		return ids, classify("insert", err)
	}
	return ids, nil
}

// UpdateOne updates the first document matching filter. An update without
// operators replaces the whole document, keeping only its _id.
func (c *Collection) UpdateOne(ctx context.Context, filter, update Document, opts UpdateOptions) (UpdateResult, error) {
	u, replace, err := prepareSingleUpdate("update", update)
	if err != nil {
		return UpdateResult{}, err
	}

	if replace {
		if opts.ArrayFilters != nil {
			return UpdateResult{}, &ValidationError{Op: "update", Reason: "array filters need update operators"}
		}
		ro := ReplaceOptions{Upsert: opts.Upsert, Collation: opts.Collation}
		res, err := c.coll.ReplaceOne(ctx, filter.bsonD(), u.bsonD(), ro.driver())
		return updateResult("update", res, err)
	}

	res, err := c.coll.UpdateOne(ctx, filter.bsonD(), u.bsonD(), opts.driver())
	return updateResult("update", res, err)
}

// UpdateMany updates all documents matching filter. The update must consist
// of operators.
func (c *Collection) UpdateMany(ctx context.Context, filter, update Document, opts UpdateOptions) (UpdateResult, error) {
	u, err := prepareUpdate("update", update)
	if err != nil {
		return UpdateResult{}, err
	}

	res, err := c.coll.UpdateMany(ctx, filter.bsonD(), u.bsonD(), opts.driver())
	return updateResult("update", res, err)
}

// UpdateID updates the document with the given _id.
func (c *Collection) UpdateID(ctx context.Context, id Value, update Document) (UpdateResult, error) {
	return c.UpdateOne(ctx, Document{{Key: "_id", Value: id}}, update, UpdateOptions{})
}

// ReplaceOne replaces the first document matching filter.
func (c *Collection) ReplaceOne(ctx context.Context, filter, replacement Document, opts ReplaceOptions) (UpdateResult, error) {
	r, err := prepareReplacement("replace", replacement)
	if err != nil {
		return UpdateResult{}, err
	}

	res, err := c.coll.ReplaceOne(ctx, filter.bsonD(), r.bsonD(), opts.driver())
	return updateResult("replace", res, err)
}

func updateResult(op string, res *mongodrv.UpdateResult, err error) (UpdateResult, error) {
	if err != nil {
		return UpdateResult{}, classify(op, err)
	}

	out := UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
	}
	if res.UpsertedID != nil {
		if out.UpsertedID, err = ValueOf(res.UpsertedID); err != nil {
			return out, classify(op, err)
		}
	}
	return out, nil
}

// DeleteOne deletes the first document matching filter.
func (c *Collection) DeleteOne(ctx context.Context, filter Document, opts DeleteOptions) (DeleteResult, error) {
	res, err := c.coll.DeleteOne(ctx, filter.bsonD(), opts.driver())
	if err != nil {
		return DeleteResult{}, classify("delete", err)
	}
	return DeleteResult{DeletedCount: res.DeletedCount}, nil
}

// DeleteMany deletes every document matching filter (nil matches everything).
func (c *Collection) DeleteMany(ctx context.Context, filter Document, opts DeleteOptions) (DeleteResult, error) {
	res, err := c.coll.DeleteMany(ctx, filter.bsonD(), opts.driver())
	if err != nil {
		return DeleteResult{}, classify("delete", err)
	}
	return DeleteResult{DeletedCount: res.DeletedCount}, nil
}

// Drop drops the collection.
func (c *Collection) Drop(ctx context.Context) error {
	return classify("drop", c.coll.Drop(ctx))
}

// Watch opens a change stream over the collection.
func (c *Collection) Watch(ctx context.Context, pipeline []Document, opts ChangeStreamOptions) (*ChangeStream, error) {
	return openChangeStream(ctx, c.coll, c.ns, pipeline, opts, c.logger())
}
