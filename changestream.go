// changestream.go - Change streams over a collection, database or deployment

package docstore

import (
	"context"
	"iter"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Values for ChangeStreamOptions.FullDocument and FullDocumentBeforeChange.
const (
	FullDocumentDefault       = "default"
	FullDocumentOff           = "off"
	FullDocumentRequired      = "required"
	FullDocumentUpdateLookup  = "updateLookup"
	FullDocumentWhenAvailable = "whenAvailable"
)

// ChangeStreamOptions configures Watch.
type ChangeStreamOptions struct {
	FullDocument             string
	FullDocumentBeforeChange string
	BatchSize                int32
	MaxAwaitTime             time.Duration

	// At most one of ResumeAfter, StartAfter and StartAtOperationTime may be set.
	ResumeAfter          Document
	StartAfter           Document
	StartAtOperationTime *primitive.Timestamp

	ShowExpandedEvents bool
}

func (o ChangeStreamOptions) validate() error {
	set := 0
	if o.ResumeAfter != nil {
		set++
	}
	if o.StartAfter != nil {
		set++
	}
	if o.StartAtOperationTime != nil {
		set++
	}
	if set > 1 {
		return &ValidationError{Op: "watch", Reason: "only one of ResumeAfter, StartAfter and StartAtOperationTime may be set"}
	}
	return nil
}

func (o ChangeStreamOptions) driver() *options.ChangeStreamOptions {
	co := options.ChangeStream()
	if o.FullDocument != "" {
		co.SetFullDocument(options.FullDocument(o.FullDocument))
	}
	if o.FullDocumentBeforeChange != "" {
		co.SetFullDocumentBeforeChange(options.FullDocument(o.FullDocumentBeforeChange))
	}
	if o.BatchSize > 0 {
		co.SetBatchSize(o.BatchSize)
	}
	if o.MaxAwaitTime > 0 {
		co.SetMaxAwaitTime(o.MaxAwaitTime)
	}
	if o.ResumeAfter != nil {
		co.SetResumeAfter(o.ResumeAfter.bsonD())
	}
	if o.StartAfter != nil {
		co.SetStartAfter(o.StartAfter.bsonD())
	}
	if o.StartAtOperationTime != nil {
		co.SetStartAtOperationTime(o.StartAtOperationTime)
	}
	if o.ShowExpandedEvents {
		co.SetShowExpandedEvents(true)
	}
	return co
}

// UpdateDescription lists the fields changed by an update event.
type UpdateDescription struct {
	UpdatedFields Document
	RemovedFields []string
}

// ChangeEvent is a decoded change notification.
type ChangeEvent struct {
	// ID is the event's resume token.
	ID            Document
	OperationType string
	Namespace     Namespace
	DocumentKey   Document
	// FullDocument is nil unless the server included it.
	FullDocument             Document
	FullDocumentBeforeChange Document
	UpdateDescription        *UpdateDescription
	ClusterTime              primitive.Timestamp
	// Raw is the complete event as sent by the server.
	Raw Document
}

func decodeChangeEvent(raw Document) ChangeEvent {
	ev := ChangeEvent{Raw: raw}
	if v, ok := raw.Get("_id"); ok {
		ev.ID, _ = v.AsDocument()
	}
	if v, ok := raw.Get("operationType"); ok {
		ev.OperationType, _ = v.AsString()
	}
	if v, ok := raw.Lookup("ns.db"); ok {
		ev.Namespace.Database, _ = v.AsString()
	}
	if v, ok := raw.Lookup("ns.coll"); ok {
		ev.Namespace.Collection, _ = v.AsString()
	}
	if v, ok := raw.Get("documentKey"); ok {
		ev.DocumentKey, _ = v.AsDocument()
	}
	if v, ok := raw.Get("fullDocument"); ok {
		ev.FullDocument, _ = v.AsDocument()
	}
	if v, ok := raw.Get("fullDocumentBeforeChange"); ok {
		ev.FullDocumentBeforeChange, _ = v.AsDocument()
	}
	if v, ok := raw.Get("clusterTime"); ok {
		ev.ClusterTime, _ = v.AsTimestamp()
	}
	if v, ok := raw.Get("updateDescription"); ok {
		if ud, ok := v.AsDocument(); ok {
			desc := &UpdateDescription{}
			if f, ok := ud.Get("updatedFields"); ok {
				desc.UpdatedFields, _ = f.AsDocument()
			}
			if f, ok := ud.Get("removedFields"); ok {
				vals, _ := f.AsArray()
				for _, rv := range vals {
					if s, ok := rv.AsString(); ok {
						desc.RemovedFields = append(desc.RemovedFields, s)
					}
				}
			}
			ev.UpdateDescription = desc
		}
	}
	return ev
}

// watcher is implemented by the driver's client, database and collection.
type watcher interface {
	Watch(ctx context.Context, pipeline interface{}, opts ...*options.ChangeStreamOptions) (*mongodrv.ChangeStream, error)
}

// ChangeStream delivers change events. It is not safe for concurrent use.
type ChangeStream struct {
	stream *mongodrv.ChangeStream
	ns     Namespace
	l      *zap.Logger
	event  ChangeEvent
	err    error
	closed bool
}

func openChangeStream(ctx context.Context, w watcher, ns Namespace, pipeline []Document, opts ChangeStreamOptions, l *zap.Logger) (*ChangeStream, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	for _, stage := range pipeline {
		if len(stage) == 0 {
			return nil, &ValidationError{Op: "watch", Reason: "empty pipeline stage"}
		}
	}

	stream, err := w.Watch(ctx, pipelineBSON(pipeline), opts.driver())
	if err != nil {
		return nil, classify("watch", err)
	}

	l.Debug("Change stream opened", zap.Stringer("ns", ns))
	return &ChangeStream{stream: stream, ns: ns, l: l}, nil
}

// Next blocks until the next event is available. It returns false on error,
// when ctx is done, or once the stream is closed.
func (cs *ChangeStream) Next(ctx context.Context) bool {
	return cs.advance(ctx, cs.stream.Next)
}

// TryNext returns false without blocking when no event is buffered.
// Check Err to tell an empty batch from a failure.
func (cs *ChangeStream) TryNext(ctx context.Context) bool {
	return cs.advance(ctx, cs.stream.TryNext)
}

func (cs *ChangeStream) advance(ctx context.Context, next func(context.Context) bool) bool {
	if cs.closed {
		cs.err = &CursorError{Op: "watch", Err: ErrCursorClosed}
		return false
	}
	if cs.err != nil {
		return false
	}

	if !next(ctx) {
		if err := cs.stream.Err(); err != nil {
			cs.err = &CursorError{Op: "watch", Err: classify("watch", err)}
		}
		cs.event = ChangeEvent{}
		return false
	}

	doc, err := documentFromRaw(cs.stream.Current)
	if err != nil {
		cs.err = &CursorError{Op: "watch", Err: err}
		return false
	}
	cs.event = decodeChangeEvent(doc)
	return true
}

// Event returns the event Next moved to.
func (cs *ChangeStream) Event() ChangeEvent {
	return cs.event
}

// ResumeToken returns the token to pass as ResumeAfter to continue after the
// last returned event.
func (cs *ChangeStream) ResumeToken() Document {
	raw := cs.stream.ResumeToken()
	if raw == nil {
		return nil
	}
	doc, err := documentFromRaw(raw)
	if err != nil {
		return nil
	}
	return doc
}

// Err returns the error that stopped the stream, if any.
func (cs *ChangeStream) Err() error {
	if cs.err != nil {
		return cs.err
	}
	if cs.closed {
		return &CursorError{Op: "watch", Err: ErrCursorClosed}
	}
	return nil
}

// Events returns an iterator over events until ctx is done or the stream fails.
// The stream is closed when iteration ends.
func (cs *ChangeStream) Events(ctx context.Context) iter.Seq2[ChangeEvent, error] {
	return func(yield func(ChangeEvent, error) bool) {
		defer cs.Close(context.WithoutCancel(ctx)) //nolint:errcheck // iteration errors are yielded

		for cs.Next(ctx) {
			if !yield(cs.event, nil) {
				return
			}
		}
		if cs.err != nil {
			yield(ChangeEvent{}, cs.err)
		}
	}
}

// Close stops the stream. Closing twice is a no-op.
func (cs *ChangeStream) Close(ctx context.Context) error {
	if cs.closed {
		return nil
	}
	cs.closed = true
	cs.event = ChangeEvent{}

	if err := cs.stream.Close(ctx); err != nil {
		cs.l.Warn("Failed to close change stream", zap.Stringer("ns", cs.ns), zap.Error(err))
		return &CursorError{Op: "watch", Err: classify("watch", err)}
	}
	cs.l.Debug("Change stream closed", zap.Stringer("ns", cs.ns))
	return nil
}
