// Package storetest provides an in-memory stand-in for a MongoDB build
// target, for tests of code that writes records and blobs.
package storetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/KubeRocketCI/selene/store"
)

// Memory holds the records and blobs of any number of (branch, build) pairs.
// Setting PostErr or PutErr makes the matching operation fail; FailBlob makes
// PutBlob fail for a single filename.
type Memory struct {
	mu     sync.Mutex
	builds map[string]*Build

	PostErr  error
	PutErr   error
	FailBlob string
}

// Blob is one stored revision.
type Blob struct {
	Info    store.BlobInfo
	Content []byte
}

func NewMemory() *Memory {
	return &Memory{builds: map[string]*Build{}}
}

// Build returns the target for (branch, build), creating it on first use.
func (m *Memory) Build(branch, build string) *Build {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := branch + "/" + build
	if b, ok := m.builds[key]; ok {
		return b
	}

	b := &Build{mem: m}
	m.builds[key] = b

	return b
}

// Build is an in-memory target. It satisfies the same method set as
// *store.Build.
type Build struct {
	mem     *Memory
	records []store.BuildRecord
	blobs   []Blob
}

func (b *Build) PostBuild(_ context.Context, rec store.BuildRecord) (string, error) {
	b.mem.mu.Lock()
	defer b.mem.mu.Unlock()

	if b.mem.PostErr != nil {
		return "", b.mem.PostErr
	}

	rec.ID = primitive.NewObjectID()
	b.records = append(b.records, rec)

	return rec.ID.Hex(), nil
}

func (b *Build) Records(_ context.Context) ([]store.BuildRecord, error) {
	b.mem.mu.Lock()
	defer b.mem.mu.Unlock()

	return append([]store.BuildRecord{}, b.records...), nil
}

func (b *Build) PutBlob(_ context.Context, filename string, r io.Reader) (string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	b.mem.mu.Lock()
	defer b.mem.mu.Unlock()

	if b.mem.PutErr != nil {
		return "", b.mem.PutErr
	}

	if b.mem.FailBlob != "" && b.mem.FailBlob == filename {
		return "", fmt.Errorf("refusing to store %s", filename)
	}

	info := store.BlobInfo{
		ID:         primitive.NewObjectID(),
		Filename:   filename,
		Length:     int64(len(content)),
		UploadDate: time.Now().UTC(),
	}
	b.blobs = append(b.blobs, Blob{Info: info, Content: content})

	return info.ID.Hex(), nil
}

// Blobs lists revisions newest first.
func (b *Build) Blobs(_ context.Context) ([]store.BlobInfo, error) {
	b.mem.mu.Lock()
	defer b.mem.mu.Unlock()

	infos := make([]store.BlobInfo, 0, len(b.blobs))
	for i := len(b.blobs) - 1; i >= 0; i-- {
		infos = append(infos, b.blobs[i].Info)
	}

	return infos, nil
}

func (b *Build) OpenBlob(_ context.Context, filename string) (io.ReadCloser, store.BlobInfo, error) {
	b.mem.mu.Lock()
	defer b.mem.mu.Unlock()

	for i := len(b.blobs) - 1; i >= 0; i-- {
		if b.blobs[i].Info.Filename == filename {
			return io.NopCloser(bytes.NewReader(b.blobs[i].Content)), b.blobs[i].Info, nil
		}
	}

	return nil, store.BlobInfo{}, fmt.Errorf("%s: %w", filename, store.ErrBlobNotFound)
}

// Stored returns every stored revision in upload order.
func (b *Build) Stored() []Blob {
	b.mem.mu.Lock()
	defer b.mem.mu.Unlock()

	return append([]Blob{}, b.blobs...)
}
