// query.go - Read and write option types and their driver translation

package docstore

import (
	"strings"
	"time"

	"github.com/AlekSi/pointer"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collation specifies language-specific string comparison rules.
type Collation struct {
	Locale          string
	CaseLevel       bool
	CaseFirst       string
	Strength        int
	NumericOrdering bool
	Alternate       string
	MaxVariable     string
	Normalization   bool
	Backwards       bool
}

func (c *Collation) driver() *options.Collation {
	if c == nil {
		return nil
	}
	return &options.Collation{
		Locale:          c.Locale,
		CaseLevel:       c.CaseLevel,
		CaseFirst:       c.CaseFirst,
		Strength:        c.Strength,
		NumericOrdering: c.NumericOrdering,
		Alternate:       c.Alternate,
		MaxVariable:     c.MaxVariable,
		Normalization:   c.Normalization,
		Backwards:       c.Backwards,
	}
}

// CursorType selects how a cursor behaves once it reaches the end of the results.
type CursorType int

// Cursor types.
const (
	// NonTailable cursors close after the last document.
	NonTailable CursorType = iota
	// Tailable cursors stay open on capped collections and can be resumed.
	Tailable
	// TailableAwait cursors block for up to MaxAwaitTime waiting for new documents.
	TailableAwait
)

func (t CursorType) driver() options.CursorType {
	switch t {
	case Tailable:
		return options.Tailable
	case TailableAwait:
		return options.TailableAwait
	default:
		return options.NonTailable
	}
}

// SortOrder builds a sort or key document from field names, where a
// "-" prefix means descending:
//
//	SortOrder("name", "-age") // {"name": 1, "age": -1}
func SortOrder(fields ...string) Document {
	d := make(Document, 0, len(fields))
	for _, f := range fields {
		order := int32(1)
		if strings.HasPrefix(f, "-") {
			order = -1
			f = f[1:]
		} else if strings.HasPrefix(f, "+") {
			f = f[1:]
		}
		d = append(d, Field{Key: f, Value: Int32Value(order)})
	}
	return d
}

// FindOptions configures Find. Zero values mean "server default".
type FindOptions struct {
	Sort            Document
	Projection      Document
	Skip            int64
	Limit           int64
	BatchSize       int32
	NoCursorTimeout bool
	CursorType      CursorType
	MaxAwaitTime    time.Duration
	MaxTime         time.Duration
	Collation       *Collation
	Comment         string
	AllowDiskUse    bool
	Hint            Document
}

func (o FindOptions) driver() *options.FindOptions {
	fo := options.Find()
	if o.Sort != nil {
		fo.SetSort(o.Sort.bsonD())
	}
	if o.Projection != nil {
		fo.SetProjection(o.Projection.bsonD())
	}
	if o.Skip > 0 {
		fo.SetSkip(o.Skip)
	}
	if o.Limit != 0 {
		fo.SetLimit(o.Limit)
	}
	if o.BatchSize > 0 {
		fo.SetBatchSize(o.BatchSize)
	}
	if o.NoCursorTimeout {
		fo.SetNoCursorTimeout(true)
	}
	if o.CursorType != NonTailable {
		fo.SetCursorType(o.CursorType.driver())
	}
	if o.MaxAwaitTime > 0 {
		fo.SetMaxAwaitTime(o.MaxAwaitTime)
	}
	if o.MaxTime > 0 {
		fo.SetMaxTime(o.MaxTime)
	}
	if o.Collation != nil {
		fo.SetCollation(o.Collation.driver())
	}
	if o.Comment != "" {
		fo.SetComment(o.Comment)
	}
	if o.AllowDiskUse {
		fo.SetAllowDiskUse(true)
	}
	if o.Hint != nil {
		fo.SetHint(o.Hint.bsonD())
	}
	return fo
}

// FindOneOptions configures FindOne.
type FindOneOptions struct {
	Sort       Document
	Projection Document
	Skip       int64
	MaxTime    time.Duration
	Collation  *Collation
	Comment    string
}

func (o FindOneOptions) driver() *options.FindOneOptions {
	fo := options.FindOne()
	if o.Sort != nil {
		fo.SetSort(o.Sort.bsonD())
	}
	if o.Projection != nil {
		fo.SetProjection(o.Projection.bsonD())
	}
	if o.Skip > 0 {
		fo.SetSkip(o.Skip)
	}
	if o.MaxTime > 0 {
		fo.SetMaxTime(o.MaxTime)
	}
	if o.Collation != nil {
		fo.SetCollation(o.Collation.driver())
	}
	if o.Comment != "" {
		fo.SetComment(o.Comment)
	}
	return fo
}

// CountOptions configures CountDocuments.
type CountOptions struct {
	Skip      int64
	Limit     int64
	MaxTime   time.Duration
	Collation *Collation
}

func (o CountOptions) driver() *options.CountOptions {
	co := options.Count()
	if o.Skip > 0 {
		co.SetSkip(o.Skip)
	}
	if o.Limit > 0 {
		co.SetLimit(o.Limit)
	}
	if o.MaxTime > 0 {
		co.SetMaxTime(o.MaxTime)
	}
	if o.Collation != nil {
		co.SetCollation(o.Collation.driver())
	}
	return co
}

// InsertManyOptions configures InsertMany. Inserts are ordered unless Unordered is set.
type InsertManyOptions struct {
	Unordered                bool
	BypassDocumentValidation bool
}

// UpdateOptions configures UpdateOne and UpdateMany.
type UpdateOptions struct {
	Upsert       bool
	ArrayFilters []Document
	Collation    *Collation
}

func (o UpdateOptions) driver() *options.UpdateOptions {
	uo := options.Update()
	if o.Upsert {
		uo.SetUpsert(true)
	}
	if o.ArrayFilters != nil {
		uo.SetArrayFilters(arrayFilters(o.ArrayFilters))
	}
	if o.Collation != nil {
		uo.SetCollation(o.Collation.driver())
	}
	return uo
}

func arrayFilters(filters []Document) options.ArrayFilters {
	af := options.ArrayFilters{Filters: make([]interface{}, len(filters))}
	for i, f := range filters {
		af.Filters[i] = f.bsonD()
	}
	return af
}

// ReplaceOptions configures ReplaceOne.
type ReplaceOptions struct {
	Upsert    bool
	Collation *Collation
}

func (o ReplaceOptions) driver() *options.ReplaceOptions {
	ro := options.Replace()
	if o.Upsert {
		ro.SetUpsert(true)
	}
	if o.Collation != nil {
		ro.SetCollation(o.Collation.driver())
	}
	return ro
}

// DeleteOptions configures DeleteOne and DeleteMany.
type DeleteOptions struct {
	Collation *Collation
}

func (o DeleteOptions) driver() *options.DeleteOptions {
	do := options.Delete()
	if o.Collation != nil {
		do.SetCollation(o.Collation.driver())
	}
	return do
}

// FindOneAndModifyOptions configures FindOneAndUpdate, FindOneAndReplace and FindOneAndDelete.
// Upsert and ReturnAfter are ignored by FindOneAndDelete.
type FindOneAndModifyOptions struct {
	Sort         Document
	Projection   Document
	Upsert       bool
	ReturnAfter  bool
	ArrayFilters []Document
	MaxTime      time.Duration
	Collation    *Collation
}

func (o FindOneAndModifyOptions) returnDocument() *options.ReturnDocument {
	if o.ReturnAfter {
		return pointer.To(options.After)
	}
	return pointer.To(options.Before)
}

func (o FindOneAndModifyOptions) updateOptions() *options.FindOneAndUpdateOptions {
	fo := &options.FindOneAndUpdateOptions{
		ReturnDocument: o.returnDocument(),
		Upsert:         pointer.ToBoolOrNil(o.Upsert),
		Collation:      o.Collation.driver(),
	}
	if o.Sort != nil {
		fo.SetSort(o.Sort.bsonD())
	}
	if o.Projection != nil {
		fo.SetProjection(o.Projection.bsonD())
	}
	if o.ArrayFilters != nil {
		fo.SetArrayFilters(arrayFilters(o.ArrayFilters))
	}
	if o.MaxTime > 0 {
		fo.SetMaxTime(o.MaxTime)
	}
	return fo
}

func (o FindOneAndModifyOptions) replaceOptions() *options.FindOneAndReplaceOptions {
	fo := &options.FindOneAndReplaceOptions{
		ReturnDocument: o.returnDocument(),
		Upsert:         pointer.ToBoolOrNil(o.Upsert),
		Collation:      o.Collation.driver(),
	}
	if o.Sort != nil {
		fo.SetSort(o.Sort.bsonD())
	}
	if o.Projection != nil {
		fo.SetProjection(o.Projection.bsonD())
	}
	if o.MaxTime > 0 {
		fo.SetMaxTime(o.MaxTime)
	}
	return fo
}

func (o FindOneAndModifyOptions) deleteOptions() *options.FindOneAndDeleteOptions {
	fo := &options.FindOneAndDeleteOptions{
		Collation: o.Collation.driver(),
	}
	if o.Sort != nil {
		fo.SetSort(o.Sort.bsonD())
	}
	if o.Projection != nil {
		fo.SetProjection(o.Projection.bsonD())
	}
	if o.MaxTime > 0 {
		fo.SetMaxTime(o.MaxTime)
	}
	return fo
}
