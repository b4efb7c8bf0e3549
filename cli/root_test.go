package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KubeRocketCI/selene/store"
	"github.com/KubeRocketCI/selene/store/storetest"
	"github.com/KubeRocketCI/selene/uploader"
)

type fakeConnector struct {
	mem    *storetest.Memory
	err    error
	calls  int
	uri    string
	branch string
	build  string
	closed bool
}

func (f *fakeConnector) connect(_ context.Context, uri, branch, build string) (uploader.Target, func(context.Context) error, error) {
	f.calls++
	f.uri, f.branch, f.build = uri, branch, build

	return f.mem.Build(branch, build), func(context.Context) error {
		f.closed = true
		return nil
	}, f.err
}

func execute(t *testing.T, conn *fakeConnector, args ...string) (*logtest.Hook, string, error) {
	t.Helper()

	log, hook := logtest.NewNullLogger()

	var out bytes.Buffer

	cmd := NewRootCmd(Options{Connect: conn.connect, Log: log})
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := cmd.Execute()

	return hook, out.String(), err
}

func resultsDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.txt"), []byte("all green"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junit.xml"), []byte("<testsuite/>"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "logs"), 0o755))

	return dir
}

func TestRootCmdUploads(t *testing.T) {
	conn := &fakeConnector{mem: storetest.NewMemory()}
	dir := resultsDir(t)

	hook, _, err := execute(t, conn, "--build", "nightly", "--branch", "main", "--stage", "test", dir)
	require.NoError(t, err)

	assert.Equal(t, 1, conn.calls)
	assert.Equal(t, store.DefaultURI, conn.uri)
	assert.Equal(t, "main", conn.branch)
	assert.Equal(t, "nightly", conn.build)
	assert.True(t, conn.closed)

	target := conn.mem.Build("main", "nightly")

	records, err := target.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "test", records[0].Stage)
	assert.Equal(t, dir, records[0].ResultsPath)
	assert.Len(t, target.Stored(), 2)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "Upload finished", last.Message)
	assert.Equal(t, 2, last.Data["uploaded"])
	assert.Equal(t, 1, last.Data["skipped"])
}

func TestRootCmdMissingFlags(t *testing.T) {
	dir := resultsDir(t)

	for name, args := range map[string][]string{
		"build":  {"--branch", "main", "--stage", "test", dir},
		"branch": {"--build", "nightly", "--stage", "test", dir},
		"stage":  {"--build", "nightly", "--branch", "main", dir},
		"path":   {"--build", "nightly", "--branch", "main", "--stage", "test"},
		"empty":  {"--build", "", "--branch", "main", "--stage", "test", dir},
		"extra":  {"--build", "nightly", "--branch", "main", "--stage", "test", dir, dir},
	} {
		t.Run(name, func(t *testing.T) {
			conn := &fakeConnector{mem: storetest.NewMemory()}

			_, out, err := execute(t, conn, args...)
			require.Error(t, err)
			assert.Contains(t, out, "Usage:")
			assert.Zero(t, conn.calls)
		})
	}
}

func TestRootCmdConnectionFailureDoesNotFail(t *testing.T) {
	mem := storetest.NewMemory()
	mem.PostErr = errors.New("server selection timeout")
	mem.PutErr = errors.New("server selection timeout")

	conn := &fakeConnector{mem: mem, err: errors.New("failed to reach mongodb")}

	hook, _, err := execute(t, conn, "--build", "nightly", "--branch", "main", "--stage", "test", resultsDir(t))
	require.NoError(t, err)
	assert.True(t, conn.closed)

	var messages []string

	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			messages = append(messages, e.Message)
		}
	}

	assert.Contains(t, messages, "Failed to connect to MongoDB")
	assert.Contains(t, messages, "Failed to post build data")
	assert.Contains(t, messages, "Failed to upload file")
	assert.Empty(t, mem.Build("main", "nightly").Stored())
}

func TestRootCmdResultsPathNotDirectory(t *testing.T) {
	conn := &fakeConnector{mem: storetest.NewMemory()}
	missing := filepath.Join(t.TempDir(), "missing")

	_, _, err := execute(t, conn, "--build", "nightly", "--branch", "main", "--stage", "test", missing)
	require.NoError(t, err)

	target := conn.mem.Build("main", "nightly")
	records, err := target.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Empty(t, target.Stored())
}
