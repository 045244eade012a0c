package docstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/kinfkong/docstore"
)

func testURI() string {
	if uri := os.Getenv("DOCSTORE_TEST_URI"); uri != "" {
		return uri
	}
	return "mongodb://localhost:27018/docstore_test"
}

// TestDB holds the test client and the name of a database private to the test.
type TestDB struct {
	Client *docstore.Client
	DBName string
}

// NewTestDB connects to DOCSTORE_TEST_URI and reserves a unique database.
// The test is skipped when no deployment answers.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	uri := testURI()
	cfg := docstore.DefaultConfig(uri)
	cfg.ServerSelectionTimeout = 2 * time.Second
	cfg.VerifyConnection = true
	cfg.Logger = zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := docstore.Connect(ctx, cfg)
	if err != nil {
		t.Skipf("No test deployment at %s: %v", uri, err)
	}

	tdb := &TestDB{
		Client: client,
		DBName: "docstore_test_" + docstore.NewObjectID().Hex(),
	}
	t.Cleanup(func() { tdb.Close(t) })
	return tdb
}

// Close drops the test database and disconnects.
func (tdb *TestDB) Close(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := tdb.DB().Drop(ctx); err != nil {
		t.Logf("Warning: Failed to drop test database: %v", err)
	}
	if err := tdb.Client.Close(ctx); err != nil {
		t.Logf("Warning: Failed to close client: %v", err)
	}
}

// DB returns the test database.
func (tdb *TestDB) DB() *docstore.Database {
	return tdb.Client.Database(tdb.DBName)
}

// C returns a collection of the test database.
func (tdb *TestDB) C(name string) *docstore.Collection {
	return tdb.DB().Collection(name)
}

// RequireReplicaSet skips tests that need change streams on a standalone server.
func (tdb *TestDB) RequireReplicaSet(t *testing.T) {
	t.Helper()

	hello, err := tdb.Client.RunCommand(testContext(t), "admin", docstore.D("hello", 1))
	require.NoError(t, err)
	if !hello.Has("setName") && !hello.Has("msg") {
		t.Skip("Change streams need a replica set or sharded cluster")
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestData provides sample documents.
type TestData struct {
	Users    []docstore.Document
	Products []docstore.Document
}

// GetTestData returns sample test data.
func GetTestData() *TestData {
	now := time.Now()
	return &TestData{
		Users: []docstore.Document{
			docstore.D("name", "John Doe", "email", "john@example.com", "age", 30, "active", true, "createdAt", now),
			docstore.D("name", "Jane Smith", "email", "jane@example.com", "age", 25, "active", true, "createdAt", now.Add(-24*time.Hour)),
			docstore.D("name", "Bob Johnson", "email", "bob@example.com", "age", 35, "active", false, "createdAt", now.Add(-48*time.Hour)),
		},
		Products: []docstore.Document{
			docstore.D("name", "Product A", "price", 100.50, "category", "Electronics", "inStock", true, "quantity", 50,
				"tags", []string{"new", "featured"}),
			docstore.D("name", "Product B", "price", 50.25, "category", "Books", "inStock", true, "quantity", 100,
				"tags", []string{"bestseller"}),
			docstore.D("name", "Product C", "price", 200.00, "category", "Electronics", "inStock", false, "quantity", 0,
				"tags", []string{"premium", "out-of-stock"}),
		},
	}
}

// InsertTestData inserts docs into c.
func InsertTestData(t *testing.T, c *docstore.Collection, docs []docstore.Document) []docstore.Value {
	t.Helper()

	ids, err := c.InsertMany(testContext(t), docs, docstore.InsertManyOptions{})
	require.NoError(t, err, "Failed to insert test data")
	return ids
}

// CreateTestIndex creates an index on the given keys.
func CreateTestIndex(t *testing.T, c *docstore.Collection, unique bool, keys ...string) string {
	t.Helper()

	k, err := docstore.IndexKeys(keys...)
	require.NoError(t, err)
	name, err := c.CreateIndex(testContext(t), docstore.IndexModel{Keys: k, Options: docstore.IndexOptions{Unique: unique}})
	require.NoError(t, err, "Failed to create index")
	return name
}
