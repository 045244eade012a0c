// gridfs.go - GridFS large-object storage

package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// DefaultChunkSizeBytes is the chunk size used when none is configured.
const DefaultChunkSizeBytes = gridfs.DefaultChunkSize

// BucketOptions configures a GridFS bucket.
type BucketOptions struct {
	// Name prefixes the bucket's collections, "<name>.files" and "<name>.chunks".
	// Defaults to "fs".
	Name           string
	ChunkSizeBytes int32
}

// Bucket stores files in chunks across two collections. It is safe for concurrent use.
type Bucket struct {
	db        *Database
	name      string
	chunkSize int32
	l         *zap.Logger
}

// GridFSBucket returns a handle for a GridFS bucket in the database.
func (db *Database) GridFSBucket(opts BucketOptions) (*Bucket, error) {
	if opts.ChunkSizeBytes < 0 {
		return nil, &ValidationError{Op: "gridfs", Reason: "chunk size must not be negative"}
	}

	name := opts.Name
	if name == "" {
		name = "fs"
	}
	chunkSize := opts.ChunkSizeBytes
	if chunkSize == 0 {
		chunkSize = DefaultChunkSizeBytes
	}

	return &Bucket{
		db:        db,
		name:      name,
		chunkSize: chunkSize,
		l:         db.client.l.With(zap.String("bucket", db.name+"."+name)),
	}, nil
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// bucket returns a driver bucket whose deadlines follow ctx. The driver keeps
// deadlines on the bucket, so each operation gets its own.
func (b *Bucket) bucket(ctx context.Context) (*gridfs.Bucket, error) {
	gb, err := gridfs.NewBucket(b.db.db, options.GridFSBucket().SetName(b.name).SetChunkSizeBytes(b.chunkSize))
	if err != nil {
		return nil, classify("gridfs", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = gb.SetReadDeadline(deadline)
		_ = gb.SetWriteDeadline(deadline)
	}
	return gb, nil
}

// FileInfo describes a stored file.
type FileInfo struct {
	ID         Value
	Name       string
	Length     int64
	ChunkSize  int32
	UploadDate time.Time
	Metadata   Document
}

func fileInfo(f *gridfs.File) (FileInfo, error) {
	id, err := ValueOf(f.ID)
	if err != nil {
		return FileInfo{}, err
	}

	fi := FileInfo{
		ID:         id,
		Name:       f.Name,
		Length:     f.Length,
		ChunkSize:  f.ChunkSize,
		UploadDate: f.UploadDate.UTC(),
	}
	if len(f.Metadata) > 0 {
		if fi.Metadata, err = documentFromRaw(f.Metadata); err != nil {
			return FileInfo{}, err
		}
	}
	return fi, nil
}

func gridfsError(op string, err error) error {
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return fmt.Errorf("docstore: %s: %w", op, ErrFileNotFound)
	}
	return classify(op, err)
}

// UploadOptions configures a single upload.
type UploadOptions struct {
	// ID is the file's _id; a new ObjectID when null.
	ID             Value
	Metadata       Document
	ChunkSizeBytes int32
}

func (o UploadOptions) driver() *options.UploadOptions {
	uo := options.GridFSUpload()
	if o.Metadata != nil {
		uo.SetMetadata(o.Metadata.bsonD())
	}
	if o.ChunkSizeBytes > 0 {
		uo.SetChunkSizeBytes(o.ChunkSizeBytes)
	}
	return uo
}

func (o UploadOptions) fileID() Value {
	if o.ID.IsNull() {
		return ObjectIDValue(NewObjectID())
	}
	return o.ID
}

// UploadStream writes a file. The file becomes visible on Close; Abort
// discards the chunks written so far.
type UploadStream struct {
	stream   *gridfs.UploadStream
	id       Value
	filename string
	l        *zap.Logger
}

// OpenUploadStream starts a new file named filename.
func (b *Bucket) OpenUploadStream(ctx context.Context, filename string, opts UploadOptions) (*UploadStream, error) {
	if opts.ChunkSizeBytes < 0 {
		return nil, &ValidationError{Op: "gridfs upload", Reason: "chunk size must not be negative"}
	}

	gb, err := b.bucket(ctx)
	if err != nil {
		return nil, err
	}

	id := opts.fileID()
	stream, err := gb.OpenUploadStreamWithID(id.Interface(), filename, opts.driver())
	if err != nil {
		return nil, gridfsError("gridfs upload", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(deadline)
	}

	return &UploadStream{stream: stream, id: id, filename: filename, l: b.l}, nil
}

// FileID returns the _id the file is stored under.
func (us *UploadStream) FileID() Value { return us.id }

// Write buffers p and flushes complete chunks.
func (us *UploadStream) Write(p []byte) (int, error) {
	n, err := us.stream.Write(p)
	if err != nil {
		return n, gridfsError("gridfs upload", err)
	}
	return n, nil
}

// Close flushes the last chunk and writes the file document.
func (us *UploadStream) Close() error {
	if err := us.stream.Close(); err != nil {
		return gridfsError("gridfs upload", err)
	}
	us.l.Debug("File uploaded", zap.String("filename", us.filename), zap.Stringer("id", us.id))
	return nil
}

// Abort deletes the chunks written so far.
func (us *UploadStream) Abort() error {
	if err := us.stream.Abort(); err != nil {
		return gridfsError("gridfs upload", err)
	}
	us.l.Debug("Upload aborted", zap.String("filename", us.filename), zap.Stringer("id", us.id))
	return nil
}

// UploadFromStream stores everything read from r as a new file and returns its _id.
func (b *Bucket) UploadFromStream(ctx context.Context, filename string, r io.Reader, opts UploadOptions) (Value, error) {
	us, err := b.OpenUploadStream(ctx, filename, opts)
	if err != nil {
		return Value{}, err
	}

	if _, err = io.Copy(us, r); err != nil {
		if abortErr := us.Abort(); abortErr != nil {
			b.l.Warn("Failed to abort upload", zap.String("filename", filename), zap.Error(abortErr))
		}
		return Value{}, gridfsError("gridfs upload", err)
	}
	if err = us.Close(); err != nil {
		return Value{}, err
	}
	return us.id, nil
}

// DownloadStream reads a stored file.
type DownloadStream struct {
	stream *gridfs.DownloadStream
	file   FileInfo
}

func newDownloadStream(ctx context.Context, ds *gridfs.DownloadStream) (*DownloadStream, error) {
	fi, err := fileInfo(ds.GetFile())
	if err != nil {
		_ = ds.Close()
		return nil, classify("gridfs download", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = ds.SetReadDeadline(deadline)
	}
	return &DownloadStream{stream: ds, file: fi}, nil
}

// OpenDownloadStream opens the file with the given _id.
func (b *Bucket) OpenDownloadStream(ctx context.Context, id Value) (*DownloadStream, error) {
	gb, err := b.bucket(ctx)
	if err != nil {
		return nil, err
	}

	ds, err := gb.OpenDownloadStream(id.Interface())
	if err != nil {
		return nil, gridfsError("gridfs download", err)
	}
	return newDownloadStream(ctx, ds)
}

// OpenDownloadStreamByName opens the most recent revision of the named file.
func (b *Bucket) OpenDownloadStreamByName(ctx context.Context, filename string) (*DownloadStream, error) {
	gb, err := b.bucket(ctx)
	if err != nil {
		return nil, err
	}

	ds, err := gb.OpenDownloadStreamByName(filename, options.GridFSName().SetRevision(-1))
	if err != nil {
		return nil, gridfsError("gridfs download", err)
	}
	return newDownloadStream(ctx, ds)
}

// File describes the file being read.
func (ds *DownloadStream) File() FileInfo { return ds.file }

// Read reads file content; it returns io.EOF at the end of the file.
func (ds *DownloadStream) Read(p []byte) (int, error) {
	n, err := ds.stream.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, gridfsError("gridfs download", err)
	}
	return n, err
}

// Skip advances the stream by up to n bytes and returns how far it moved.
func (ds *DownloadStream) Skip(n int64) (int64, error) {
	skipped, err := ds.stream.Skip(n)
	if err != nil {
		return skipped, gridfsError("gridfs download", err)
	}
	return skipped, nil
}

// Close releases the stream's cursor.
func (ds *DownloadStream) Close() error {
	if err := ds.stream.Close(); err != nil {
		return gridfsError("gridfs download", err)
	}
	return nil
}

// DownloadToStream writes the content of the file with the given _id to w.
func (b *Bucket) DownloadToStream(ctx context.Context, id Value, w io.Writer) (int64, error) {
	ds, err := b.OpenDownloadStream(ctx, id)
	if err != nil {
		return 0, err
	}
	defer ds.Close() //nolint:errcheck // the copy error matters more

	n, err := io.Copy(w, ds)
	if err != nil {
		return n, gridfsError("gridfs download", err)
	}
	return n, nil
}

// Rename changes the name of the file with the given _id.
func (b *Bucket) Rename(ctx context.Context, id Value, newFilename string) error {
	gb, err := b.bucket(ctx)
	if err != nil {
		return err
	}

	if err = gb.RenameContext(ctx, id.Interface(), newFilename); err != nil {
		return gridfsError("gridfs rename", err)
	}
	b.l.Debug("File renamed", zap.Stringer("id", id), zap.String("filename", newFilename))
	return nil
}

// Delete removes the file with the given _id and its chunks.
func (b *Bucket) Delete(ctx context.Context, id Value) error {
	gb, err := b.bucket(ctx)
	if err != nil {
		return err
	}

	if err = gb.DeleteContext(ctx, id.Interface()); err != nil {
		return gridfsError("gridfs delete", err)
	}
	b.l.Debug("File deleted", zap.Stringer("id", id))
	return nil
}

// FindFilesOptions configures Find.
type FindFilesOptions struct {
	Sort  Document
	Skip  int32
	Limit int32
}

// Find describes the files whose file documents match filter (nil for all).
func (b *Bucket) Find(ctx context.Context, filter Document, opts FindFilesOptions) ([]FileInfo, error) {
	gb, err := b.bucket(ctx)
	if err != nil {
		return nil, err
	}

	fo := options.GridFSFind()
	if opts.Sort != nil {
		fo.SetSort(opts.Sort.bsonD())
	}
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}

	cur, err := gb.FindContext(ctx, filter.bsonD(), fo)
	if err != nil {
		return nil, gridfsError("gridfs find", err)
	}
	defer cur.Close(ctx) //nolint:errcheck // read errors are reported by cur.Err

	var files []FileInfo
	for cur.Next(ctx) {
		var f gridfs.File
		if err = cur.Decode(&f); err != nil {
			return nil, classify("gridfs find", err)
		}
		fi, err := fileInfo(&f)
		if err != nil {
			return nil, classify("gridfs find", err)
		}
		files = append(files, fi)
	}
	if err = cur.Err(); err != nil {
		return nil, &CursorError{Op: "gridfs find", Err: classify("gridfs find", err)}
	}
	return files, nil
}

// Drop removes the bucket's collections and every file in them.
func (b *Bucket) Drop(ctx context.Context) error {
	gb, err := b.bucket(ctx)
	if err != nil {
		return err
	}

	if err = gb.DropContext(ctx); err != nil {
		return gridfsError("gridfs drop", err)
	}
	b.l.Debug("Bucket dropped")
	return nil
}
