// aggregation.go - Aggregation pipelines

package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AggregateOptions configures Aggregate.
type AggregateOptions struct {
	AllowDiskUse bool
	BatchSize    int32
	MaxTime      time.Duration
	Collation    *Collation
	Comment      string
	// Let defines variables accessible in the pipeline as $$name.
	Let Document
}

func (o AggregateOptions) driver() *options.AggregateOptions {
	ao := options.Aggregate()
	if o.AllowDiskUse {
		ao.SetAllowDiskUse(true)
	}
	if o.BatchSize > 0 {
		ao.SetBatchSize(o.BatchSize)
	}
	if o.MaxTime > 0 {
		ao.SetMaxTime(o.MaxTime)
	}
	if o.Collation != nil {
		ao.SetCollation(o.Collation.driver())
	}
	if o.Comment != "" {
		ao.SetComment(o.Comment)
	}
	if o.Let != nil {
		ao.SetLet(o.Let.bsonD())
	}
	return ao
}

// Aggregate runs pipeline against the collection. Stages are passed through as is.
func (c *Collection) Aggregate(ctx context.Context, pipeline []Document, opts AggregateOptions) (*Cursor, error) {
	for i, stage := range pipeline {
		if len(stage) == 0 {
			return nil, &ValidationError{Op: "aggregate", Reason: fmt.Sprintf("empty pipeline stage at position %d", i)}
		}
	}

	cur, err := c.coll.Aggregate(ctx, pipelineBSON(pipeline), opts.driver())
	if err != nil {
		return nil, classify("aggregate", err)
	}
	return newCursor(cur, "aggregate", c.logger()), nil
}

// ExplainAggregate returns the server's execution plan for pipeline.
func (c *Collection) ExplainAggregate(ctx context.Context, pipeline []Document) (Document, error) {
	cmd := bson.D{
		{Key: "explain", Value: bson.D{
			{Key: "aggregate", Value: c.ns.Collection},
			{Key: "pipeline", Value: pipelineBSON(pipeline)},
			{Key: "cursor", Value: bson.D{}},
		}},
		{Key: "verbosity", Value: "queryPlanner"},
	}

	raw, err := c.db.db.RunCommand(ctx, cmd).Raw()
	if err != nil {
		return nil, classify("explain", err)
	}
	return documentFromRaw(raw)
}
