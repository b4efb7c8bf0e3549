package uploader

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// MaxFileSize limits a single archive entry (2GB)
	MaxFileSize = 2 * 1024 * 1024 * 1024
	// MaxTotalSize limits the bytes read from one archive (8GB)
	MaxTotalSize = 8 * 1024 * 1024 * 1024
)

var (
	// ErrUnsafePath marks absolute or parent-relative archive entries.
	ErrUnsafePath = errors.New("unsafe path")
	// ErrLinkEntry marks symlink and hard link entries.
	ErrLinkEntry = errors.New("symlinks and hard links are not allowed")
	// ErrTooLarge marks entries or archives over the size limits.
	ErrTooLarge = errors.New("size limit exceeded")
	// ErrBadArchive marks streams that are not valid gzip'd tar.
	ErrBadArchive = errors.New("invalid archive")
)

// UploadTarGz stores every regular file of a tar.gz stream as a blob named by
// its basename and returns the names in archive order. Directory entries are
// skipped; the first invalid entry or store error stops the upload.
func UploadTarGz(ctx context.Context, blobs BlobWriter, r io.Reader, log logrus.FieldLogger) ([]string, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gzip reader: %v", ErrBadArchive, err)
	}

	defer func() {
		if closeErr := gzr.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Failed to close gzip reader")
		}
	}()

	tr := tar.NewReader(gzr)

	var (
		uploaded  []string
		totalRead int64
	)

	for {
		header, err := tr.Next()

		switch {
		case err == io.EOF:
			return uploaded, nil
		case err != nil:
			return uploaded, fmt.Errorf("%w: failed to read tar header: %v", ErrBadArchive, err)
		case header == nil:
			continue
		}

		if err := ctx.Err(); err != nil {
			return uploaded, err
		}

		name, err := entryName(header)
		if err != nil {
			return uploaded, err
		}

		if name == "" {
			if header.Typeflag != tar.TypeDir {
				log.WithField("entry", header.Name).Warnf("Skipping unsupported file type %d", header.Typeflag)
			}

			continue
		}

		reader := &trackingReader{reader: tr, currentTotal: totalRead}

		if _, err := blobs.PutBlob(ctx, name, reader); err != nil {
			return uploaded, fmt.Errorf("failed to upload %s: %w", header.Name, err)
		}

		totalRead += reader.read
		uploaded = append(uploaded, name)
	}
}

// entryName validates header and returns the blob name for a regular file,
// or "" for entries that are skipped.
func entryName(header *tar.Header) (string, error) {
	if !isPathSafe(header.Name) {
		return "", fmt.Errorf("%s: %w", header.Name, ErrUnsafePath)
	}

	switch header.Typeflag {
	case tar.TypeReg:
		if header.Size > MaxFileSize {
			return "", fmt.Errorf("file %s exceeds maximum size limit (%d bytes): %w", header.Name, MaxFileSize, ErrTooLarge)
		}

		return path.Base(header.Name), nil
	case tar.TypeSymlink, tar.TypeLink:
		return "", fmt.Errorf("%s: %w", header.Name, ErrLinkEntry)
	default:
		return "", nil
	}
}

// isPathSafe rejects absolute names and names escaping the archive root.
func isPathSafe(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") {
		return false
	}

	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}

	return true
}

// trackingReader counts bytes read from an entry and fails once the archive
// total passes MaxTotalSize.
type trackingReader struct {
	reader       io.Reader
	currentTotal int64
	read         int64
}

func (tr *trackingReader) Read(p []byte) (int, error) {
	n, err := tr.reader.Read(p)
	tr.read += int64(n)

	if tr.currentTotal+tr.read > MaxTotalSize {
		return n, fmt.Errorf("archive exceeds maximum total size limit (%d bytes): %w", int64(MaxTotalSize), ErrTooLarge)
	}

	return n, err
}
