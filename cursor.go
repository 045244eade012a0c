// cursor.go - Cursor iteration over query and aggregation results

package docstore

import (
	"context"
	"iter"

	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Cursor iterates over a result set. It is not safe for concurrent use and
// cannot be restarted; run the query again to re-iterate.
//
//	for cur.Next(ctx) {
//		doc := cur.Current()
//	}
//	if err := cur.Err(); err != nil { ... }
//	cur.Close(ctx)
type Cursor struct {
	cursor  *mongodrv.Cursor
	op      string
	l       *zap.Logger
	current Document
	err     error
	closed  bool
}

func newCursor(cur *mongodrv.Cursor, op string, l *zap.Logger) *Cursor {
	return &Cursor{
		cursor: cur,
		op:     op,
		l:      l,
	}
}

// Next advances to the next document, fetching a new batch when needed.
// It returns false when the results are exhausted, on error, or once the
// cursor is closed.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.closed {
		c.err = &CursorError{Op: c.op, Err: ErrCursorClosed}
		return false
	}
	if c.err != nil {
		return false
	}

	if !c.cursor.Next(ctx) {
		if err := c.cursor.Err(); err != nil {
			c.err = &CursorError{Op: c.op, Err: classify(c.op, err)}
		}
		c.current = nil
		return false
	}

	doc, err := documentFromRaw(c.cursor.Current)
	if err != nil {
		c.err = &CursorError{Op: c.op, Err: err}
		c.current = nil
		return false
	}
	c.current = doc
	return true
}

// TryNext is like Next but doesn't block waiting for a tailable cursor's next batch.
func (c *Cursor) TryNext(ctx context.Context) bool {
	if c.closed {
		c.err = &CursorError{Op: c.op, Err: ErrCursorClosed}
		return false
	}
	if c.err != nil {
		return false
	}

	if !c.cursor.TryNext(ctx) {
		if err := c.cursor.Err(); err != nil {
			c.err = &CursorError{Op: c.op, Err: classify(c.op, err)}
		}
		c.current = nil
		return false
	}

	doc, err := documentFromRaw(c.cursor.Current)
	if err != nil {
		c.err = &CursorError{Op: c.op, Err: err}
		return false
	}
	c.current = doc
	return true
}

// Current returns the document Next moved to.
func (c *Cursor) Current() Document {
	return c.current
}

// Decode unmarshals the current document into v, which may be a struct pointer.
func (c *Cursor) Decode(v any) error {
	if c.closed {
		return &CursorError{Op: c.op, Err: ErrCursorClosed}
	}
	if err := c.cursor.Decode(v); err != nil {
		return &CursorError{Op: c.op, Err: err}
	}
	return nil
}

// Err returns the error that stopped iteration, if any.
// After Close it returns a *CursorError wrapping ErrCursorClosed.
func (c *Cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if c.closed {
		return &CursorError{Op: c.op, Err: ErrCursorClosed}
	}
	return nil
}

// ID returns the server cursor id; 0 once the server has exhausted it.
func (c *Cursor) ID() int64 {
	return c.cursor.ID()
}

// RemainingBatchLength returns the number of documents left in the current batch.
func (c *Cursor) RemainingBatchLength() int {
	return c.cursor.RemainingBatchLength()
}

// All reads every remaining document and closes the cursor.
func (c *Cursor) All(ctx context.Context) ([]Document, error) {
	defer c.Close(ctx) //nolint:errcheck // the iteration error matters more

	var docs []Document
	for c.Next(ctx) {
		docs = append(docs, c.current)
	}
	if c.err != nil {
		return docs, c.err
	}
	return docs, nil
}

// Documents returns an iterator over the remaining documents. Iteration stops
// after yielding the first error. The cursor is closed when iteration ends.
func (c *Cursor) Documents(ctx context.Context) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		defer c.Close(ctx) //nolint:errcheck // iteration errors are yielded

		for c.Next(ctx) {
			if !yield(c.current, nil) {
				return
			}
		}
		if c.err != nil {
			yield(nil, c.err)
		}
	}
}

// Close releases the server-side cursor. Closing twice is a no-op.
func (c *Cursor) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.current = nil

	if err := c.cursor.Close(ctx); err != nil {
		c.l.Warn("Failed to close cursor", zap.String("op", c.op), zap.Error(err))
		return &CursorError{Op: c.op, Err: classify(c.op, err)}
	}
	return nil
}
