// Package store keeps build records and result blobs in MongoDB. A branch maps
// to a database; a build maps to a collection of records and a GridFS bucket
// of the same name inside it.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	// DefaultURI is the only MongoDB deployment selene talks to.
	DefaultURI = "mongodb://localhost:27017/"

	connectTimeout = 10 * time.Second
)

var (
	// ErrNotConnected is returned by every operation on a handle whose client
	// could not be created.
	ErrNotConnected = errors.New("mongodb client is not connected")
	// ErrBlobNotFound is returned when no GridFS file has the requested name.
	ErrBlobNotFound = errors.New("blob not found")
)

// Store wraps the single client shared by record and blob operations.
type Store struct {
	client *mongo.Client
}

// Connect creates a client for uri and pings the primary. The returned Store
// is never nil: when the client cannot be created its operations fail with
// ErrNotConnected, and when only the ping fails the client is kept so later
// operations report their own errors.
func Connect(ctx context.Context, uri string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return &Store{}, fmt.Errorf("failed to create mongodb client for %s: %w", uri, err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return &Store{client: client}, fmt.Errorf("failed to reach mongodb at %s: %w", uri, err)
	}

	return &Store{client: client}, nil
}

// New wraps an existing client.
func New(client *mongo.Client) *Store {
	return &Store{client: client}
}

// Close disconnects the client, if any.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}

	return s.client.Disconnect(ctx)
}

// Build selects the record collection and blob bucket for (branch, build).
func (s *Store) Build(branch, build string) *Build {
	b := &Build{Branch: branch, Name: build}

	if s.client == nil {
		b.err = ErrNotConnected
		return b
	}

	db := s.client.Database(branch)
	b.records = db.Collection(build)

	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(build))
	if err != nil {
		b.err = fmt.Errorf("failed to open gridfs bucket %s.%s: %w", branch, build, err)
		return b
	}

	b.blobs = bucket

	return b
}

// Build is the (branch, build) coordinate pair resolved against a Store. It
// is not safe for concurrent use because GridFS deadlines are per bucket.
type Build struct {
	Branch string
	Name   string

	records *mongo.Collection
	blobs   *gridfs.Bucket
	err     error
}

// PostBuild inserts rec and returns the hex id assigned to it.
func (b *Build) PostBuild(ctx context.Context, rec BuildRecord) (string, error) {
	if b.err != nil {
		return "", b.err
	}

	res, err := b.records.InsertOne(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to insert build record into %s.%s: %w", b.Branch, b.Name, err)
	}

	return idString(res.InsertedID), nil
}

// Records returns every build record of the collection in insertion order.
func (b *Build) Records(ctx context.Context) ([]BuildRecord, error) {
	if b.err != nil {
		return nil, b.err
	}

	cur, err := b.records.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query build records in %s.%s: %w", b.Branch, b.Name, err)
	}

	records := []BuildRecord{}
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode build records in %s.%s: %w", b.Branch, b.Name, err)
	}

	return records, nil
}

// PutBlob streams r into the bucket as a new file called filename.
func (b *Build) PutBlob(ctx context.Context, filename string, r io.Reader) (string, error) {
	if b.err != nil {
		return "", b.err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := b.blobs.SetWriteDeadline(deadline); err != nil {
			return "", err
		}
	}

	id, err := b.blobs.UploadFromStream(filename, r)
	if err != nil {
		return "", fmt.Errorf("failed to store blob %s in %s.%s: %w", filename, b.Branch, b.Name, err)
	}

	return id.Hex(), nil
}

// Blobs lists every file revision in the bucket, newest first.
func (b *Build) Blobs(ctx context.Context) ([]BlobInfo, error) {
	if b.err != nil {
		return nil, b.err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := b.blobs.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}

	cur, err := b.blobs.Find(bson.D{}, options.GridFSFind().SetSort(bson.D{{Key: "uploadDate", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs in %s.%s: %w", b.Branch, b.Name, err)
	}

	blobs := []BlobInfo{}
	if err := cur.All(ctx, &blobs); err != nil {
		return nil, fmt.Errorf("failed to decode blobs in %s.%s: %w", b.Branch, b.Name, err)
	}

	return blobs, nil
}

// OpenBlob opens the most recent revision of filename. The caller closes the
// returned reader.
func (b *Build) OpenBlob(ctx context.Context, filename string) (io.ReadCloser, BlobInfo, error) {
	if b.err != nil {
		return nil, BlobInfo{}, b.err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := b.blobs.SetReadDeadline(deadline); err != nil {
			return nil, BlobInfo{}, err
		}
	}

	ds, err := b.blobs.OpenDownloadStreamByName(filename)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, BlobInfo{}, fmt.Errorf("%s in %s.%s: %w", filename, b.Branch, b.Name, ErrBlobNotFound)
		}

		return nil, BlobInfo{}, fmt.Errorf("failed to open blob %s in %s.%s: %w", filename, b.Branch, b.Name, err)
	}

	f := ds.GetFile()
	info := BlobInfo{
		Filename:   f.Name,
		Length:     f.Length,
		UploadDate: f.UploadDate,
	}

	if oid, ok := f.ID.(primitive.ObjectID); ok {
		info.ID = oid
	}

	return ds, info, nil
}

func idString(id interface{}) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}

	return fmt.Sprint(id)
}
