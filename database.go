// database.go - Database handle operations

package docstore

import (
	"context"

	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Database is a handle for a named database. It is safe for concurrent use.
type Database struct {
	db     *mongodrv.Database
	client *Client
	name   string
}

// Name returns the database name.
func (db *Database) Name() string { return db.name }

// Client returns the client the handle belongs to.
func (db *Database) Client() *Client { return db.client }

// Collection returns a handle for the named collection.
func (db *Database) Collection(name string) *Collection {
	return &Collection{
		coll: db.db.Collection(name),
		db:   db,
		ns:   Namespace{Database: db.name, Collection: name},
	}
}

// Validation levels and actions for CreateCollectionOptions.
const (
	ValidationLevelOff      = "off"
	ValidationLevelStrict   = "strict"
	ValidationLevelModerate = "moderate"

	ValidationActionError = "error"
	ValidationActionWarn  = "warn"
)

// CreateCollectionOptions configures CreateCollection.
type CreateCollectionOptions struct {
	// Validator is a query document every inserted or updated document must match,
	// e.g. a {"$jsonSchema": ...} document.
	Validator        Document
	ValidationLevel  string
	ValidationAction string

	Capped       bool
	SizeBytes    int64
	MaxDocuments int64

	// ClusteredIndex creates a clustered collection, e.g. {"key": {"_id": 1}, "unique": true}.
	ClusteredIndex Document

	Collation *Collation
}

// CreateCollection explicitly creates a collection.
func (db *Database) CreateCollection(ctx context.Context, name string, opts CreateCollectionOptions) error {
	o := options.CreateCollection()
	if opts.Validator != nil {
		o.SetValidator(opts.Validator.bsonD())
	}
	if opts.ValidationLevel != "" {
		o.SetValidationLevel(opts.ValidationLevel)
	}
	if opts.ValidationAction != "" {
		o.SetValidationAction(opts.ValidationAction)
	}
	if opts.Capped {
		if opts.SizeBytes <= 0 {
			return &ValidationError{Op: "createCollection", Reason: "capped collection requires a positive size"}
		}
		o.SetCapped(true).SetSizeInBytes(opts.SizeBytes)
		if opts.MaxDocuments > 0 {
			o.SetMaxDocuments(opts.MaxDocuments)
		}
	}
	if opts.ClusteredIndex != nil {
		o.SetClusteredIndex(opts.ClusteredIndex.bsonD())
	}
	if opts.Collation != nil {
		o.SetCollation(opts.Collation.driver())
	}

	if err := db.db.CreateCollection(ctx, name, o); err != nil {
		return classify("createCollection", err)
	}
	return nil
}

// ListCollectionNames returns the names of collections matching filter (nil for all).
func (db *Database) ListCollectionNames(ctx context.Context, filter Document) ([]string, error) {
	names, err := db.db.ListCollectionNames(ctx, filter.bsonD())
	if err != nil {
		return nil, classify("listCollections", err)
	}
	return names, nil
}

// Drop drops the database.
func (db *Database) Drop(ctx context.Context) error {
	return classify("dropDatabase", db.db.Drop(ctx))
}

// RunCommand runs a database command and returns its reply.
func (db *Database) RunCommand(ctx context.Context, cmd Document) (Document, error) {
	if len(cmd) == 0 {
		return nil, &ValidationError{Op: "runCommand", Reason: "command document is empty"}
	}

	raw, err := db.db.RunCommand(ctx, cmd.bsonD()).Raw()
	if err != nil {
		return nil, classify(cmd[0].Key, err)
	}
	return documentFromRaw(raw)
}

// Aggregate runs a database-level pipeline, such as one starting with $currentOp.
func (db *Database) Aggregate(ctx context.Context, pipeline []Document, opts AggregateOptions) (*Cursor, error) {
	cur, err := db.db.Aggregate(ctx, pipelineBSON(pipeline), opts.driver())
	if err != nil {
		return nil, classify("aggregate", err)
	}
	return newCursor(cur, "aggregate", db.client.l), nil
}

// Watch opens a change stream over every collection of the database.
func (db *Database) Watch(ctx context.Context, pipeline []Document, opts ChangeStreamOptions) (*ChangeStream, error) {
	return openChangeStream(ctx, db.db, Namespace{Database: db.name}, pipeline, opts, db.client.l)
}
