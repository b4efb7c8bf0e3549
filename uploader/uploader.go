// Package uploader posts a build record and uploads the files of a results
// directory as blobs. Failures are logged where they happen and the run
// carries on; callers get the same errors back for reporting.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/KubeRocketCI/selene/store"
)

// ErrNotDirectory is returned when the results path is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// RecordWriter inserts build records.
type RecordWriter interface {
	PostBuild(ctx context.Context, rec store.BuildRecord) (string, error)
}

// BlobWriter stores one blob per call under the given filename.
type BlobWriter interface {
	PutBlob(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Target is a (branch, build) destination for both records and blobs.
type Target interface {
	RecordWriter
	BlobWriter
}

// Report summarises one run.
type Report struct {
	RecordID string
	Uploaded int
	Failed   int
	Skipped  int

	RecordErr error
	UploadErr error
}

// Uploader runs the record insert and directory upload against one target.
type Uploader struct {
	target Target
	log    logrus.FieldLogger
}

func New(target Target, log logrus.FieldLogger) *Uploader {
	return &Uploader{target: target, log: log}
}

// Run posts the build record for stage and resultsPath, then uploads the
// directory. The two steps are independent: a failed insert does not stop
// the upload and vice versa.
func (u *Uploader) Run(ctx context.Context, stage, resultsPath string) Report {
	var report Report

	report.RecordID, report.RecordErr = u.PostBuild(ctx, stage, resultsPath)

	counts, err := u.UploadDirectory(ctx, resultsPath)
	report.Uploaded = counts.Uploaded
	report.Failed = counts.Failed
	report.Skipped = counts.Skipped
	report.UploadErr = err

	return report
}

// PostBuild inserts {stage, results_path}. Errors are logged and returned.
func (u *Uploader) PostBuild(ctx context.Context, stage, resultsPath string) (string, error) {
	id, err := u.target.PostBuild(ctx, store.BuildRecord{Stage: stage, ResultsPath: resultsPath})
	if err != nil {
		u.log.WithError(err).Error("Failed to post build data")
		return "", err
	}

	u.log.WithField("id", id).Info("Build data posted")

	return id, nil
}

// UploadDirectory stores every regular file directly inside dir as a blob
// named by its basename. Subdirectories and other non-regular entries are
// skipped. Symlinks are followed. A failure on one file is logged and
// counted; the remaining files are still uploaded.
func (u *Uploader) UploadDirectory(ctx context.Context, dir string) (Report, error) {
	var report Report

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		err = fmt.Errorf("%s: %w", dir, ErrNotDirectory)
		u.log.WithError(err).Error("Results path is not a directory")

		return report, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		err = fmt.Errorf("failed to list %s: %w", dir, err)
		u.log.WithError(err).Error("Failed to read results directory")

		return report, err
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if !isRegularFile(path) {
			u.log.WithField("path", path).Debug("Skipping non-regular entry")
			report.Skipped++

			continue
		}

		id, err := u.uploadFile(ctx, path)
		if err != nil {
			u.log.WithError(err).WithField("path", path).Error("Failed to upload file")
			report.Failed++

			continue
		}

		u.log.WithFields(logrus.Fields{"path": path, "id": id}).Info("File uploaded")
		report.Uploaded++
	}

	return report, nil
}

func (u *Uploader) uploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}

	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			u.log.WithError(closeErr).WithField("path", path).Warn("Failed to close file")
		}
	}()

	return u.target.PutBlob(ctx, filepath.Base(path), f)
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return info.Mode().IsRegular()
}
