// Package server exposes stored build records and result blobs over HTTP and
// accepts additional uploads.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/KubeRocketCI/selene/store"
	"github.com/KubeRocketCI/selene/uploader"
)

const version = "1.0.0"

// BuildStore is everything the handlers need from one (branch, build) pair.
// *store.Build implements it.
type BuildStore interface {
	uploader.Target
	Records(ctx context.Context) ([]store.BuildRecord, error)
	Blobs(ctx context.Context) ([]store.BlobInfo, error)
	OpenBlob(ctx context.Context, filename string) (io.ReadCloser, store.BlobInfo, error)
}

// OpenFunc resolves a (branch, build) pair. It is called once per request.
type OpenFunc func(branch, build string) BuildStore

type Server struct {
	open OpenFunc
	cfg  Config
	log  logrus.FieldLogger
}

func New(open OpenFunc, cfg Config, log logrus.FieldLogger) *Server {
	return &Server{open: open, cfg: cfg, log: log}
}

// Echo returns the configured router.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	if s.cfg.UploadCredentials != "" {
		e.Use(middleware.BasicAuthWithConfig(s.basicAuthConfig()))
	}

	e.GET("/health", s.healthCheck)
	e.GET("/builds/:branch/:build", s.listBuilds)
	e.POST("/builds/:branch/:build", s.postBuild)
	e.GET("/blobs/:branch/:build", s.listBlobs)
	e.GET("/blobs/:branch/:build/:filename", s.getBlob)
	e.HEAD("/blobs/:branch/:build/:filename", s.lastModified)
	e.POST("/upload", s.upload)

	return e
}

// Start serves until the listener fails.
func (s *Server) Start() error {
	return s.Echo().Start(fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port))
}

// basicAuthConfig protects every write. Reads and /health stay open.
func (s *Server) basicAuthConfig() middleware.BasicAuthConfig {
	creds := strings.Split(s.cfg.UploadCredentials, ":")

	c := middleware.DefaultBasicAuthConfig
	c.Skipper = func(c echo.Context) bool {
		return c.Request().Method != http.MethodPost
	}
	c.Validator = func(username, password string, _ echo.Context) (bool, error) {
		if subtle.ConstantTimeCompare([]byte(username), []byte(creds[0])) == 1 &&
			subtle.ConstantTimeCompare([]byte(password), []byte(strings.Join(creds[1:], ":"))) == 1 {
			return true, nil
		}

		return false, nil
	}

	return c
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version,
	})
}

func (s *Server) listBuilds(c echo.Context) error {
	records, err := s.open(c.Param("branch"), c.Param("build")).Records(c.Request().Context())
	if err != nil {
		return s.storeError(err)
	}

	return c.JSON(http.StatusOK, records)
}

func (s *Server) postBuild(c echo.Context) error {
	branch, build := c.Param("branch"), c.Param("build")

	stage := c.FormValue("stage")
	if stage == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "stage is required")
	}

	rec := store.BuildRecord{Stage: stage, ResultsPath: c.FormValue("results_path")}

	id, err := s.open(branch, build).PostBuild(c.Request().Context(), rec)
	if err != nil {
		return s.storeError(err)
	}

	s.log.WithFields(logrus.Fields{"branch": branch, "build": build, "id": id}).Info("Build data posted")

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": fmt.Sprintf("Build data has been posted to %s/%s", branch, build),
		"id":      id,
	})
}

func (s *Server) listBlobs(c echo.Context) error {
	blobs, err := s.open(c.Param("branch"), c.Param("build")).Blobs(c.Request().Context())
	if err != nil {
		return s.storeError(err)
	}

	return c.JSON(http.StatusOK, blobs)
}

func (s *Server) getBlob(c echo.Context) error {
	rc, info, err := s.open(c.Param("branch"), c.Param("build")).OpenBlob(c.Request().Context(), c.Param("filename"))
	if err != nil {
		return s.storeError(err)
	}

	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			s.log.WithError(closeErr).WithField("filename", info.Filename).Warn("Failed to close blob stream")
		}
	}()

	c.Response().Header().Set(echo.HeaderLastModified, info.UploadDate.UTC().Format(http.TimeFormat))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", info.Filename))

	return c.Stream(http.StatusOK, echo.MIMEOctetStream, rc)
}

func (s *Server) lastModified(c echo.Context) error {
	rc, info, err := s.open(c.Param("branch"), c.Param("build")).OpenBlob(c.Request().Context(), c.Param("filename"))
	if err != nil {
		return s.storeError(err)
	}

	_ = rc.Close()

	c.Response().Header().Set(echo.HeaderLastModified, info.UploadDate.UTC().Format(http.TimeFormat))

	return c.NoContent(http.StatusOK)
}

// upload stores one multipart file as a blob, or every regular file of it
// when targz is "true".
func (s *Server) upload(c echo.Context) error {
	branch, build := c.FormValue("branch"), c.FormValue("build")
	if branch == "" || build == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "branch and build are required")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}

	target := s.open(branch, build)
	log := s.log.WithFields(logrus.Fields{"branch": branch, "build": build})

	dest := branch + "/" + build

	if c.FormValue("targz") == "true" {
		return s.handleTarGzUpload(c, target, file, dest, log)
	}

	return s.handleRegularUpload(c, target, file, dest, log)
}

func (s *Server) handleTarGzUpload(c echo.Context, target BuildStore, file *multipart.FileHeader, dest string, log logrus.FieldLogger) error {
	src, err := file.Open()
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Failed to close tar source file")
		}
	}()

	names, err := uploader.UploadTarGz(c.Request().Context(), target, src, log)
	if err != nil {
		log.WithError(err).WithField("uploaded", len(names)).Error("Failed to upload archive")

		if isArchiveError(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		return s.storeError(err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":  fmt.Sprintf("Archive %s has been uploaded to %s", file.Filename, dest),
		"filename": file.Filename,
		"files":    names,
		"size":     file.Size,
	})
}

func (s *Server) handleRegularUpload(c echo.Context, target BuildStore, file *multipart.FileHeader, dest string, log logrus.FieldLogger) error {
	src, err := file.Open()
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Failed to close source file")
		}
	}()

	name := filepath.Base(file.Filename)

	id, err := target.PutBlob(c.Request().Context(), name, src)
	if err != nil {
		log.WithError(err).WithField("filename", name).Error("Failed to upload file")
		return s.storeError(err)
	}

	log.WithFields(logrus.Fields{"filename": name, "id": id}).Info("File uploaded")

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":  fmt.Sprintf("File has been uploaded to %s", dest),
		"filename": name,
		"id":       id,
		"size":     file.Size,
	})
}

func (s *Server) storeError(err error) error {
	switch {
	case errors.Is(err, store.ErrBlobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Could not find your file")
	case errors.Is(err, store.ErrNotConnected):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "database is not connected")
	default:
		s.log.WithError(err).Error("Store operation failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "store operation failed")
	}
}

func isArchiveError(err error) bool {
	for _, target := range []error{uploader.ErrBadArchive, uploader.ErrUnsafePath, uploader.ErrLinkEntry, uploader.ErrTooLarge} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
