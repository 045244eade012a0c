package docstore_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinfkong/docstore"
)

func TestGridFSUploadDownload(t *testing.T) {
	// Setup
	tdb := NewTestDB(t)
	ctx := testContext(t)
	bucket, err := tdb.DB().GridFSBucket(docstore.BucketOptions{Name: "files", ChunkSizeBytes: 1024})
	require.NoError(t, err)
	assert.Equal(t, "files", bucket.Name())

	content := bytes.Repeat([]byte("0123456789"), 500)

	// Test upload
	id, err := bucket.UploadFromStream(ctx, "test.txt", bytes.NewReader(content), docstore.UploadOptions{
		Metadata: docstore.D("owner", "ada"),
	})
	require.NoError(t, err, "Failed to upload file")
	assert.Equal(t, docstore.KindObjectID, id.Kind())

	chunks, err := tdb.C("files.chunks").CountDocuments(ctx, nil, docstore.CountOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), chunks, "5000 bytes in 1 KiB chunks")

	// Test download by id
	var buf bytes.Buffer
	n, err := bucket.DownloadToStream(ctx, id, &buf)
	require.NoError(t, err, "Failed to download file")
	assert.Equal(t, int64(len(content)), n)
	assert.Equal(t, content, buf.Bytes())

	// Test download by name
	ds, err := bucket.OpenDownloadStreamByName(ctx, "test.txt")
	require.NoError(t, err)
	info := ds.File()
	assert.Equal(t, "test.txt", info.Name)
	assert.Equal(t, int64(len(content)), info.Length)
	assert.Equal(t, int32(1024), info.ChunkSize)
	assert.True(t, docstore.D("owner", "ada").Equal(info.Metadata))

	skipped, err := ds.Skip(4990)
	require.NoError(t, err)
	assert.Equal(t, int64(4990), skipped)
	rest, err := io.ReadAll(ds)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), rest)
	require.NoError(t, ds.Close())
}

func TestGridFSStreams(t *testing.T) {
	tdb := NewTestDB(t)
	ctx := testContext(t)
	bucket, err := tdb.DB().GridFSBucket(docstore.BucketOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fs", bucket.Name())

	// Test writing with a caller-chosen id
	us, err := bucket.OpenUploadStream(ctx, "report.csv", docstore.UploadOptions{ID: docstore.StringValue("report-1")})
	require.NoError(t, err)
	assert.True(t, docstore.StringValue("report-1").Equal(us.FileID()))
	_, err = us.Write([]byte("a,b\n"))
	require.NoError(t, err)
	_, err = us.Write([]byte("1,2\n"))
	require.NoError(t, err)
	require.NoError(t, us.Close())

	ds, err := bucket.OpenDownloadStream(ctx, docstore.StringValue("report-1"))
	require.NoError(t, err)
	data, err := io.ReadAll(ds)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
	require.NoError(t, ds.Close())

	// Test aborting an upload
	us, err = bucket.OpenUploadStream(ctx, "partial.bin", docstore.UploadOptions{})
	require.NoError(t, err)
	_, err = us.Write(make([]byte, 1<<20))
	require.NoError(t, err)
	require.NoError(t, us.Abort())

	_, err = bucket.OpenDownloadStreamByName(ctx, "partial.bin")
	assert.ErrorIs(t, err, docstore.ErrFileNotFound)
}

func TestGridFSManage(t *testing.T) {
	tdb := NewTestDB(t)
	ctx := testContext(t)
	bucket, err := tdb.DB().GridFSBucket(docstore.BucketOptions{})
	require.NoError(t, err)

	var ids []docstore.Value
	for _, name := range []string{"a.txt", "b.txt", "c.log"} {
		id, err := bucket.UploadFromStream(ctx, name, bytes.NewReader([]byte(name)), docstore.UploadOptions{})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Test find
	files, err := bucket.Find(ctx, docstore.D("filename", docstore.D("$regex", `\.txt$`)),
		docstore.FindFilesOptions{Sort: docstore.SortOrder("-filename")})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "b.txt", files[0].Name)
	assert.True(t, ids[1].Equal(files[0].ID))

	// Test rename
	require.NoError(t, bucket.Rename(ctx, ids[2], "c.txt"))
	files, err = bucket.Find(ctx, docstore.D("filename", "c.txt"), docstore.FindFilesOptions{})
	require.NoError(t, err)
	assert.Len(t, files, 1)

	// Test delete
	require.NoError(t, bucket.Delete(ctx, ids[0]))
	_, err = bucket.OpenDownloadStream(ctx, ids[0])
	assert.ErrorIs(t, err, docstore.ErrFileNotFound)

	// Test missing files
	missing := docstore.ObjectIDValue(docstore.NewObjectID())
	assert.ErrorIs(t, bucket.Delete(ctx, missing), docstore.ErrFileNotFound)
	assert.ErrorIs(t, bucket.Rename(ctx, missing, "x"), docstore.ErrFileNotFound)
	_, err = bucket.DownloadToStream(ctx, missing, io.Discard)
	assert.ErrorIs(t, err, docstore.ErrFileNotFound)

	// Test drop
	require.NoError(t, bucket.Drop(ctx))
	files, err = bucket.Find(ctx, nil, docstore.FindFilesOptions{})
	require.NoError(t, err)
	assert.Empty(t, files)
}
