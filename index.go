// index.go - Index management

package docstore

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/AlekSi/pointer"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// IndexOptions configures a single index. Zero values mean "server default".
type IndexOptions struct {
	// Name defaults to one generated by the server from the keys.
	Name       string
	Unique     bool
	Sparse     bool
	Background bool
	// ExpireAfter makes a TTL index; it is truncated to whole seconds.
	// Zero expires documents as soon as their indexed date has passed.
	ExpireAfter     *time.Duration
	PartialFilter   Document
	DefaultLanguage string
	Weights         Document
	Collation       *Collation
	Hidden          bool
}

func (o IndexOptions) driver() (*options.IndexOptions, error) {
	io := options.Index()
	if o.Name != "" {
		io.SetName(o.Name)
	}
	if o.Unique {
		io.SetUnique(true)
	}
	if o.Sparse {
		io.SetSparse(true)
	}
	if o.Background {
		io.SetBackground(true)
	}
	if o.ExpireAfter != nil {
		secs := int64(*o.ExpireAfter / time.Second)
		if secs < 0 || secs > math.MaxInt32 {
			return nil, &ValidationError{
				Op:     "createIndexes",
				Reason: fmt.Sprintf("TTL %s is outside 0s..%ds", *o.ExpireAfter, math.MaxInt32),
			}
		}
		io.SetExpireAfterSeconds(int32(secs))
	}
	if o.PartialFilter != nil {
		io.SetPartialFilterExpression(o.PartialFilter.bsonD())
	}
	if o.DefaultLanguage != "" {
		io.SetDefaultLanguage(o.DefaultLanguage)
	}
	if o.Weights != nil {
		io.SetWeights(o.Weights.bsonD())
	}
	if o.Collation != nil {
		io.SetCollation(o.Collation.driver())
	}
	if o.Hidden {
		io.SetHidden(true)
	}
	return io, nil
}

// IndexModel describes an index to create. Keys are ordered; build them with
// IndexKeys or SortOrder.
type IndexModel struct {
	Keys    Document
	Options IndexOptions
}

func (m IndexModel) driver() (mongodrv.IndexModel, error) {
	opts, err := m.Options.driver()
	if err != nil {
		return mongodrv.IndexModel{}, err
	}
	return mongodrv.IndexModel{Keys: m.Keys.bsonD(), Options: opts}, nil
}

// IndexSpec describes an existing index.
type IndexSpec struct {
	Name      string
	Keys      Document
	Version   int32
	Unique    bool
	Sparse    bool
	Clustered bool
	// ExpireAfter is nil unless the index is a TTL index.
	ExpireAfter *time.Duration
}

// IndexKeys builds an index key document from field names. A "-" prefix
// means descending and a "$kind:" prefix selects a special index kind:
//
//	IndexKeys("lastname", "-age")   // {"lastname": 1, "age": -1}
//	IndexKeys("$text:title")        // {"title": "text"}
//	IndexKeys("$2dsphere:location") // {"location": "2dsphere"}
//	IndexKeys("$hashed:userId")     // {"userId": "hashed"}
func IndexKeys(fields ...string) (Document, error) {
	keys := make(Document, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			return nil, &ValidationError{Op: "createIndexes", Reason: "empty index key"}
		}

		if strings.HasPrefix(f, "$") {
			kind, field, ok := strings.Cut(f[1:], ":")
			if !ok || field == "" {
				return nil, &ValidationError{Op: "createIndexes", Reason: fmt.Sprintf("invalid index key %q", f)}
			}
			switch kind {
			case "text", "2dsphere", "2d", "hashed":
			default:
				return nil, &ValidationError{Op: "createIndexes", Reason: fmt.Sprintf("unknown index kind %q", kind)}
			}
			keys = append(keys, Field{Key: field, Value: StringValue(kind)})
			continue
		}

		keys = append(keys, SortOrder(f)...)
	}
	return keys, nil
}

// CreateIndex creates an index and returns its name. Creating an index that
// already exists with the same options is a no-op.
func (c *Collection) CreateIndex(ctx context.Context, model IndexModel) (string, error) {
	if len(model.Keys) == 0 {
		return "", &ValidationError{Op: "createIndexes", Reason: "index keys are empty"}
	}

	dm, err := model.driver()
	if err != nil {
		return "", err
	}

	name, err := c.coll.Indexes().CreateOne(ctx, dm)
	if err != nil {
		return "", classify("createIndexes", err)
	}
	c.logger().Debug("Index created", zap.Stringer("ns", c.ns), zap.String("index", name))
	return name, nil
}

// CreateIndexes creates several indexes in one command and returns their names.
func (c *Collection) CreateIndexes(ctx context.Context, models []IndexModel) ([]string, error) {
	if len(models) == 0 {
		return nil, &ValidationError{Op: "createIndexes", Reason: "no index models"}
	}

	dm := make([]mongodrv.IndexModel, len(models))
	for i, m := range models {
		if len(m.Keys) == 0 {
			return nil, &ValidationError{Op: "createIndexes", Reason: fmt.Sprintf("index %d has empty keys", i)}
		}
		var err error
		if dm[i], err = m.driver(); err != nil {
			return nil, err
		}
	}

	names, err := c.coll.Indexes().CreateMany(ctx, dm)
	if err != nil {
		return nil, classify("createIndexes", err)
	}
	return names, nil
}

// DropIndex drops the named index.
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	if name == "" || name == "*" {
		return &ValidationError{Op: "dropIndexes", Reason: fmt.Sprintf("invalid index name %q", name)}
	}

	if _, err := c.coll.Indexes().DropOne(ctx, name); err != nil {
		return classify("dropIndexes", err)
	}
	c.logger().Debug("Index dropped", zap.Stringer("ns", c.ns), zap.String("index", name))
	return nil
}

// DropAllIndexes drops every index except the one on _id.
func (c *Collection) DropAllIndexes(ctx context.Context) error {
	if _, err := c.coll.Indexes().DropAll(ctx); err != nil {
		return classify("dropIndexes", err)
	}
	return nil
}

// ListIndexes describes the collection's indexes.
func (c *Collection) ListIndexes(ctx context.Context) ([]IndexSpec, error) {
	specs, err := c.coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		return nil, classify("listIndexes", err)
	}

	out := make([]IndexSpec, 0, len(specs))
	for _, s := range specs {
		keys, err := documentFromRaw(s.KeysDocument)
		if err != nil {
			return nil, classify("listIndexes", err)
		}

		spec := IndexSpec{
			Name:      s.Name,
			Keys:      keys,
			Version:   s.Version,
			Unique:    pointer.Get(s.Unique),
			Sparse:    pointer.Get(s.Sparse),
			Clustered: pointer.Get(s.Clustered),
		}
		if s.ExpireAfterSeconds != nil {
			spec.ExpireAfter = pointer.To(time.Duration(*s.ExpireAfterSeconds) * time.Second)
		}
		out = append(out, spec)
	}
	return out, nil
}
