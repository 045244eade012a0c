// bulk.go - Multi-namespace bulk writes

package docstore

import (
	"context"
	"errors"
	"fmt"

	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxParallelGroups bounds the namespaces written concurrently by an unordered bulk write.
const maxParallelGroups = 4

// WriteModel is one operation of a bulk write. It is implemented by
// InsertOneModel, ReplaceOneModel, UpdateOneModel, UpdateManyModel,
// DeleteOneModel and DeleteManyModel.
//
// A zero Namespace field targets the default namespace of the call: the
// collection for Collection.BulkWrite, and the client's default database
// for Client.BulkWrite (which requires the collection name).
type WriteModel interface {
	target() Namespace
	withTarget(ns Namespace) WriteModel
	prepare() (mongodrv.WriteModel, Value, error)
}

// InsertOneModel inserts Document. A missing _id is generated locally.
type InsertOneModel struct {
	Namespace Namespace
	Document  Document
}

func (m InsertOneModel) target() Namespace { return m.Namespace }

func (m InsertOneModel) withTarget(ns Namespace) WriteModel {
	m.Namespace = ns
	return m
}

func (m InsertOneModel) prepare() (mongodrv.WriteModel, Value, error) {
	doc, id, err := prepareInsert("insert", m.Document)
	if err != nil {
		return nil, Value{}, err
	}
	return mongodrv.NewInsertOneModel().SetDocument(doc.bsonD()), id, nil
}

// ReplaceOneModel replaces the first document matching Filter.
type ReplaceOneModel struct {
	Namespace   Namespace
	Filter      Document
	Replacement Document
	Upsert      bool
	Collation   *Collation
}

func (m ReplaceOneModel) target() Namespace { return m.Namespace }

func (m ReplaceOneModel) withTarget(ns Namespace) WriteModel {
	m.Namespace = ns
	return m
}

func (m ReplaceOneModel) prepare() (mongodrv.WriteModel, Value, error) {
	r, err := prepareReplacement("replace", m.Replacement)
	if err != nil {
		return nil, Value{}, err
	}
	wm := mongodrv.NewReplaceOneModel().SetFilter(m.Filter.bsonD()).SetReplacement(r.bsonD())
	if m.Upsert {
		wm.SetUpsert(true)
	}
	if m.Collation != nil {
		wm.SetCollation(m.Collation.driver())
	}
	return wm, Value{}, nil
}

// UpdateOneModel updates the first document matching Filter. An Update without
// operators is sent as a replacement.
type UpdateOneModel struct {
	Namespace    Namespace
	Filter       Document
	Update       Document
	Upsert       bool
	ArrayFilters []Document
	Collation    *Collation
}

func (m UpdateOneModel) target() Namespace { return m.Namespace }

func (m UpdateOneModel) withTarget(ns Namespace) WriteModel {
	m.Namespace = ns
	return m
}

func (m UpdateOneModel) prepare() (mongodrv.WriteModel, Value, error) {
	u, replace, err := prepareSingleUpdate("update", m.Update)
	if err != nil {
		return nil, Value{}, err
	}
	if replace {
		if m.ArrayFilters != nil {
			return nil, Value{}, &ValidationError{Op: "update", Reason: "array filters need update operators"}
		}
		return ReplaceOneModel{Filter: m.Filter, Replacement: u, Upsert: m.Upsert, Collation: m.Collation}.prepare()
	}
	wm := mongodrv.NewUpdateOneModel().SetFilter(m.Filter.bsonD()).SetUpdate(u.bsonD())
	if m.Upsert {
		wm.SetUpsert(true)
	}
	if m.ArrayFilters != nil {
		wm.SetArrayFilters(arrayFilters(m.ArrayFilters))
	}
	if m.Collation != nil {
		wm.SetCollation(m.Collation.driver())
	}
	return wm, Value{}, nil
}

// UpdateManyModel updates every document matching Filter. Update must consist
// of operators.
type UpdateManyModel struct {
	Namespace    Namespace
	Filter       Document
	Update       Document
	Upsert       bool
	ArrayFilters []Document
	Collation    *Collation
}

func (m UpdateManyModel) target() Namespace { return m.Namespace }

func (m UpdateManyModel) withTarget(ns Namespace) WriteModel {
	m.Namespace = ns
	return m
}

func (m UpdateManyModel) prepare() (mongodrv.WriteModel, Value, error) {
	u, err := prepareUpdate("update", m.Update)
	if err != nil {
		return nil, Value{}, err
	}
	wm := mongodrv.NewUpdateManyModel().SetFilter(m.Filter.bsonD()).SetUpdate(u.bsonD())
	if m.Upsert {
		wm.SetUpsert(true)
	}
	if m.ArrayFilters != nil {
		wm.SetArrayFilters(arrayFilters(m.ArrayFilters))
	}
	if m.Collation != nil {
		wm.SetCollation(m.Collation.driver())
	}
	return wm, Value{}, nil
}

// DeleteOneModel deletes the first document matching Filter.
type DeleteOneModel struct {
	Namespace Namespace
	Filter    Document
	Collation *Collation
}

func (m DeleteOneModel) target() Namespace { return m.Namespace }

func (m DeleteOneModel) withTarget(ns Namespace) WriteModel {
	m.Namespace = ns
	return m
}

func (m DeleteOneModel) prepare() (mongodrv.WriteModel, Value, error) {
	wm := mongodrv.NewDeleteOneModel().SetFilter(m.Filter.bsonD())
	if m.Collation != nil {
		wm.SetCollation(m.Collation.driver())
	}
	return wm, Value{}, nil
}

// DeleteManyModel deletes every document matching Filter.
type DeleteManyModel struct {
	Namespace Namespace
	Filter    Document
	Collation *Collation
}

func (m DeleteManyModel) target() Namespace { return m.Namespace }

func (m DeleteManyModel) withTarget(ns Namespace) WriteModel {
	m.Namespace = ns
	return m
}

func (m DeleteManyModel) prepare() (mongodrv.WriteModel, Value, error) {
	wm := mongodrv.NewDeleteManyModel().SetFilter(m.Filter.bsonD())
	if m.Collation != nil {
		wm.SetCollation(m.Collation.driver())
	}
	return wm, Value{}, nil
}

// BulkWriteOptions configures a bulk write. Models run in order and stop at the
// first failure unless Unordered is set, in which case every model is attempted.
type BulkWriteOptions struct {
	Unordered                bool
	BypassDocumentValidation bool
	Comment                  string
}

// BulkWriteResult aggregates the counts of a bulk write. Map keys are
// positions in the caller's model slice.
type BulkWriteResult struct {
	InsertedCount int64
	MatchedCount  int64
	ModifiedCount int64
	DeletedCount  int64
	UpsertedCount int64

	// InsertedIDs holds the _id of every insert model known to be applied.
	InsertedIDs map[int]Value
	// UpsertedIDs holds the _id of every document created by an upsert.
	UpsertedIDs map[int]Value
}

// bulkGroup is a run of models sent to one namespace in a single driver call.
type bulkGroup struct {
	ns      Namespace
	indices []int // driver request index -> caller index
	models  []mongodrv.WriteModel
	// inserted maps a request index to the _id of an insert model.
	inserted map[int]Value
}

type bulkOutcome struct {
	res   *mongodrv.BulkWriteResult
	cases []BulkErrorCase
	// failed holds the request indices that reported a write error;
	// firstFailed is the smallest of them, or -1.
	failed      map[int]bool
	firstFailed int
	fatal       error
}

func (o bulkOutcome) ok() bool {
	return len(o.cases) == 0
}

type preparedModel struct {
	ns         Namespace
	model      mongodrv.WriteModel
	insertedID Value
	isInsert   bool
}

// groupModels splits models into driver calls. Ordered writes keep the
// caller's order, so only consecutive models on the same namespace share a
// group. Unordered writes get one group per namespace.
func groupModels(models []preparedModel, ordered bool) []*bulkGroup {
	var groups []*bulkGroup
	byNS := make(map[Namespace]*bulkGroup)

	for i, m := range models {
		var g *bulkGroup
		if ordered {
			if n := len(groups); n > 0 && groups[n-1].ns == m.ns {
				g = groups[n-1]
			}
		} else {
			g = byNS[m.ns]
		}
		if g == nil {
			g = &bulkGroup{ns: m.ns, inserted: make(map[int]Value)}
			groups = append(groups, g)
			if !ordered {
				byNS[m.ns] = g
			}
		}

		if m.isInsert {
			g.inserted[len(g.models)] = m.insertedID
		}
		g.indices = append(g.indices, i)
		g.models = append(g.models, m.model)
	}
	return groups
}

// BulkWrite applies models, which may target different namespaces. On any
// failure it returns the partial result together with a *BulkWriteError whose
// cases carry the caller's model indices.
func (c *Client) BulkWrite(ctx context.Context, models []WriteModel, opts BulkWriteOptions) (BulkWriteResult, error) {
	return c.bulkWrite(ctx, models, opts, Namespace{Database: c.dbName})
}

// BulkWrite applies models to the collection. Models with a Namespace set may
// still target other collections.
func (c *Collection) BulkWrite(ctx context.Context, models []WriteModel, opts BulkWriteOptions) (BulkWriteResult, error) {
	return c.db.client.bulkWrite(ctx, models, opts, c.ns)
}

func (c *Client) bulkWrite(ctx context.Context, models []WriteModel, opts BulkWriteOptions, def Namespace) (BulkWriteResult, error) {
	if len(models) == 0 {
		return BulkWriteResult{}, &ValidationError{Op: "bulk write", Reason: "no write models"}
	}
	if c.closed.Load() {
		return BulkWriteResult{}, fmt.Errorf("docstore: bulk write: %w", ErrClientClosed)
	}

	prepared, err := prepareModels(models, def)
	if err != nil {
		return BulkWriteResult{}, err
	}

	ordered := !opts.Unordered
	groups := groupModels(prepared, ordered)
	outcomes := make([]bulkOutcome, len(groups))

	c.l.Debug("Bulk write",
		zap.Int("models", len(models)),
		zap.Int("groups", len(groups)),
		zap.Bool("ordered", ordered))

	if ordered {
		for i, g := range groups {
			outcomes[i] = c.runGroup(ctx, g, opts)
			if !outcomes[i].ok() {
				outcomes = outcomes[:i+1]
				break
			}
		}
	} else {
		var eg errgroup.Group
		eg.SetLimit(maxParallelGroups)
		for i, g := range groups {
			eg.Go(func() error {
				outcomes[i] = c.runGroup(ctx, g, opts)
				return nil
			})
		}
		_ = eg.Wait()
	}

	res := BulkWriteResult{
		InsertedIDs: make(map[int]Value),
		UpsertedIDs: make(map[int]Value),
	}
	var cases []BulkErrorCase
	for i, out := range outcomes {
		if err := res.merge(groups[i], out, ordered); err != nil {
			cases = append(cases, BulkErrorCase{Index: -1, Namespace: groups[i].ns, Err: err})
		}
		cases = append(cases, out.cases...)
	}

	if len(cases) == 0 {
		return res, nil
	}

	bwErr := &BulkWriteError{Result: res, Cases: cases}
	bwErr.sortCases()
	c.l.Warn("Bulk write failed",
		zap.Int("failures", len(cases)),
		zap.Int64("inserted", res.InsertedCount),
		zap.Int64("modified", res.ModifiedCount),
		zap.Int64("deleted", res.DeletedCount))
	return res, bwErr
}

// prepareModels validates every model before anything is sent.
func prepareModels(models []WriteModel, def Namespace) ([]preparedModel, error) {
	prepared := make([]preparedModel, len(models))
	for i, m := range models {
		if m == nil {
			return nil, &ValidationError{Op: "bulk write", Reason: fmt.Sprintf("model %d is nil", i)}
		}

		ns := m.target()
		if ns.IsZero() {
			ns = def
		} else {
			if ns.Database == "" {
				ns.Database = def.Database
			}
			if ns.Collection == "" {
				ns.Collection = def.Collection
			}
		}
		if ns.Collection == "" {
			return nil, &ValidationError{Op: "bulk write", Reason: fmt.Sprintf("model %d has no target collection", i)}
		}

		wm, id, err := m.withTarget(ns).prepare()
		if err != nil {
			return nil, &ValidationError{Op: "bulk write", Reason: fmt.Sprintf("model %d is invalid", i), Err: err}
		}

		_, isInsert := m.(InsertOneModel)
		prepared[i] = preparedModel{ns: ns, model: wm, insertedID: id, isInsert: isInsert}
	}
	return prepared, nil
}

func (c *Client) runGroup(ctx context.Context, g *bulkGroup, opts BulkWriteOptions) bulkOutcome {
	o := options.BulkWrite().SetOrdered(!opts.Unordered)
	if opts.BypassDocumentValidation {
		o.SetBypassDocumentValidation(true)
	}
	if opts.Comment != "" {
		o.SetComment(opts.Comment)
	}

	coll := c.client.Database(g.ns.Database).Collection(g.ns.Collection)
	res, err := coll.BulkWrite(ctx, g.models, o)

	out := bulkOutcome{res: res, firstFailed: -1}
	if err == nil {
		return out
	}

	var bwe mongodrv.BulkWriteException
	if !errors.As(err, &bwe) {
		out.fatal = err
		out.cases = []BulkErrorCase{{Index: -1, Namespace: g.ns, Err: classify("bulk write", err)}}
		return out
	}

	out.failed = make(map[int]bool, len(bwe.WriteErrors))
	for _, we := range bwe.WriteErrors {
		out.failed[we.Index] = true
		if out.firstFailed < 0 || we.Index < out.firstFailed {
			out.firstFailed = we.Index
		}
	}
	out.cases = bulkCases(bwe, g.ns, g.indices)
	return out
}

// merge folds one group's outcome into r.
func (r *BulkWriteResult) merge(g *bulkGroup, out bulkOutcome, ordered bool) error {
	if out.res == nil {
		return nil
	}

	r.InsertedCount += out.res.InsertedCount
	r.MatchedCount += out.res.MatchedCount
	r.ModifiedCount += out.res.ModifiedCount
	r.DeletedCount += out.res.DeletedCount
	r.UpsertedCount += out.res.UpsertedCount

	for local, id := range out.res.UpsertedIDs {
		v, err := ValueOf(id)
		if err != nil {
			return err
		}
		if idx := int(local); idx >= 0 && idx < len(g.indices) {
			r.UpsertedIDs[g.indices[idx]] = v
		}
	}

	switch {
	case out.fatal != nil && ordered:
		// Nothing failed individually, so the applied inserts are the first ones.
		remaining := out.res.InsertedCount
		for local := 0; local < len(g.models) && remaining > 0; local++ {
			if id, ok := g.inserted[local]; ok {
				r.InsertedIDs[g.indices[local]] = id
				remaining--
			}
		}
	case out.fatal != nil:
		// Unordered requests may have been applied in any order.
	default:
		for local, id := range g.inserted {
			if out.failed[local] {
				continue
			}
			if ordered && out.firstFailed >= 0 && local > out.firstFailed {
				continue
			}
			r.InsertedIDs[g.indices[local]] = id
		}
	}
	return nil
}

// Bulk queues write operations against a collection and runs them together.
//
//	bulk := coll.Bulk()
//	bulk.Insert(doc1, doc2)
//	bulk.Update(selector, update)
//	res, err := bulk.Run(ctx)
type Bulk struct {
	coll   *Collection
	models []WriteModel
	opts   BulkWriteOptions
}

// Bulk returns a new bulk operation on the collection.
func (c *Collection) Bulk() *Bulk {
	return &Bulk{coll: c}
}

// Unordered makes Run attempt every queued operation regardless of failures.
func (b *Bulk) Unordered() {
	b.opts.Unordered = true
}

// Len returns the number of queued operations.
func (b *Bulk) Len() int {
	return len(b.models)
}

// Insert queues insertion of docs.
func (b *Bulk) Insert(docs ...Document) {
	for _, d := range docs {
		b.models = append(b.models, InsertOneModel{Document: d})
	}
}

// Update queues updates of the first document matching each selector.
// Arguments are selector/update pairs.
func (b *Bulk) Update(pairs ...Document) {
	b.pairs("Update", pairs, func(sel, upd Document) WriteModel {
		return UpdateOneModel{Filter: sel, Update: upd}
	})
}

// UpdateAll queues updates of all documents matching each selector.
func (b *Bulk) UpdateAll(pairs ...Document) {
	b.pairs("UpdateAll", pairs, func(sel, upd Document) WriteModel {
		return UpdateManyModel{Filter: sel, Update: upd}
	})
}

// Upsert queues updates that insert a document when the selector matches nothing.
func (b *Bulk) Upsert(pairs ...Document) {
	b.pairs("Upsert", pairs, func(sel, upd Document) WriteModel {
		if hasUpdateOperators(upd) {
			return UpdateOneModel{Filter: sel, Update: upd, Upsert: true}
		}
		return ReplaceOneModel{Filter: sel, Replacement: upd, Upsert: true}
	})
}

// Replace queues replacement of the first document matching each selector.
func (b *Bulk) Replace(pairs ...Document) {
	b.pairs("Replace", pairs, func(sel, repl Document) WriteModel {
		return ReplaceOneModel{Filter: sel, Replacement: repl}
	})
}

// Remove queues removal of the first document matching each selector.
func (b *Bulk) Remove(selectors ...Document) {
	for _, s := range selectors {
		b.models = append(b.models, DeleteOneModel{Filter: s})
	}
}

// RemoveAll queues removal of all documents matching each selector.
func (b *Bulk) RemoveAll(selectors ...Document) {
	for _, s := range selectors {
		b.models = append(b.models, DeleteManyModel{Filter: s})
	}
}

func (b *Bulk) pairs(method string, pairs []Document, build func(a, b Document) WriteModel) {
	if len(pairs)%2 != 0 {
		panic("Bulk." + method + " requires an even number of parameters")
	}
	for i := 0; i < len(pairs); i += 2 {
		b.models = append(b.models, build(pairs[i], pairs[i+1]))
	}
}

// Run executes the queued operations. Running an empty bulk is a no-op.
func (b *Bulk) Run(ctx context.Context) (BulkWriteResult, error) {
	if len(b.models) == 0 {
		return BulkWriteResult{}, nil
	}
	return b.coll.BulkWrite(ctx, b.models, b.opts)
}
