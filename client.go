// client.go - Client connection lifecycle and server-level operations

// Package docstore is a typed client facade over a MongoDB deployment.
//
// A Client is created once with Connect and shared; databases, collections and
// GridFS buckets are cheap handles derived from it. Documents are ordered
// Document values built from the Value union. Every blocking operation takes a
// context and reports failures with the error types in errors.go.
package docstore

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/kinfkong/docstore/internal/logging"
	"github.com/kinfkong/docstore/internal/monitor"
)

// Client is a connection to a deployment. It is safe for concurrent use.
type Client struct {
	client  *mongodrv.Client
	dbName  string
	l       *zap.Logger
	monitor *monitor.Monitor
	reg     prometheus.Registerer
	closed  atomic.Bool
}

// Connect validates cfg and connects to the deployment.
// Server discovery runs in the background; set Config.VerifyConnection
// to wait for a successful ping before returning.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := cfg.Logger
	if l == nil {
		var err error
		if l, err = logging.New(cfg.LogLevel, cfg.LogFormat); err != nil {
			return nil, &ConfigurationError{Option: "log", Err: err}
		}
	}
	l = logging.Named(l, "docstore")

	opts, err := cfg.clientOptions()
	if err != nil {
		return nil, err
	}

	mon := monitor.New(l, metricsClientLabel(cfg))
	opts.SetMonitor(mon.Command())
	opts.SetPoolMonitor(mon.Pool())
	opts.SetServerMonitor(mon.Server())

	if cfg.Registerer != nil {
		if err = cfg.Registerer.Register(mon); err != nil {
			return nil, &ConfigurationError{Option: "registerer", Err: err}
		}
	}

	client, err := mongodrv.Connect(ctx, opts)
	if err != nil {
		if cfg.Registerer != nil {
			cfg.Registerer.Unregister(mon)
		}
		return nil, classify("connect", err)
	}

	c := &Client{
		client:  client,
		dbName:  cfg.databaseName(),
		l:       l,
		monitor: mon,
		reg:     cfg.Registerer,
	}

	if cfg.VerifyConnection {
		if err = c.Ping(ctx); err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
			return nil, err
		}
	}

	c.l.Info("Connected", zap.String("app", cfg.AppName), zap.String("database", c.dbName))
	return c, nil
}

// metricsClientLabel names the client in its metrics: the application name,
// or a random id when none is configured.
func metricsClientLabel(cfg Config) string {
	if cfg.AppName != "" {
		return cfg.AppName
	}
	return uuid.NewString()
}

// Close disconnects the client. Closing twice is a no-op.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if c.reg != nil {
		c.reg.Unregister(c.monitor)
	}

	if err := c.client.Disconnect(ctx); err != nil {
		return classify("close", err)
	}

	c.l.Info("Disconnected")
	return nil
}

// Ping checks that the primary is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("docstore: ping: %w", ErrClientClosed)
	}
	return classify("ping", c.client.Ping(ctx, readpref.Primary()))
}

// BuildInfo holds server build information.
type BuildInfo struct {
	Version        string
	GitVersion     string
	VersionArray   []int
	SysInfo        string
	Bits           int
	Debug          bool
	MaxObjectSize  int
	OpenSSLVersion string
}

// VersionAtLeast returns true if the server version is greater than or
// equal to the version given as argument.
func (bi *BuildInfo) VersionAtLeast(version ...int) bool {
	for i, vi := range version {
		if i == len(bi.VersionArray) {
			return false
		}
		if bi.VersionArray[i] != vi {
			return bi.VersionArray[i] >= vi
		}
	}
	return true
}

// BuildInfo retrieves server build information.
func (c *Client) BuildInfo(ctx context.Context) (BuildInfo, error) {
	var result struct {
		Version        string `bson:"version"`
		GitVersion     string `bson:"gitVersion"`
		SysInfo        string `bson:"sysInfo"`
		Bits           int    `bson:"bits"`
		Debug          bool   `bson:"debug"`
		MaxObjectSize  int    `bson:"maxBsonObjectSize"`
		VersionArray   []int  `bson:"versionArray"`
		OpenSSLVersion string `bson:"OpenSSLVersion"`
	}

	err := c.client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&result)
	if err != nil {
		return BuildInfo{}, classify("buildInfo", err)
	}

	return BuildInfo{
		Version:        result.Version,
		GitVersion:     result.GitVersion,
		VersionArray:   result.VersionArray,
		SysInfo:        result.SysInfo,
		Bits:           result.Bits,
		Debug:          result.Debug,
		MaxObjectSize:  result.MaxObjectSize,
		OpenSSLVersion: result.OpenSSLVersion,
	}, nil
}

// ListDatabaseNames returns the names of databases matching filter (nil for all).
func (c *Client) ListDatabaseNames(ctx context.Context, filter Document) ([]string, error) {
	names, err := c.client.ListDatabaseNames(ctx, filter.bsonD())
	if err != nil {
		return nil, classify("listDatabases", err)
	}
	return names, nil
}

// RunCommand runs cmd against database db ("" for the default database).
func (c *Client) RunCommand(ctx context.Context, db string, cmd Document) (Document, error) {
	return c.Database(db).RunCommand(ctx, cmd)
}

// Database returns a handle for the named database; "" is the default database.
func (c *Client) Database(name string) *Database {
	if name == "" {
		name = c.dbName
	}
	return &Database{
		db:     c.client.Database(name),
		client: c,
		name:   name,
	}
}

// Collection is a shorthand for c.Database(db).Collection(coll).
func (c *Client) Collection(db, coll string) *Collection {
	return c.Database(db).Collection(coll)
}

// DefaultDatabase returns the name of the default database.
func (c *Client) DefaultDatabase() string {
	return c.dbName
}

// Watch opens a change stream over every database of the deployment.
func (c *Client) Watch(ctx context.Context, pipeline []Document, opts ChangeStreamOptions) (*ChangeStream, error) {
	return openChangeStream(ctx, c.client, Namespace{}, pipeline, opts, c.l)
}
