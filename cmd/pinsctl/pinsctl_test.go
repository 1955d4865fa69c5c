package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/packrat/pinserver/pkg/pool"
	"github.com/packrat/pinserver/pkg/service"
	"github.com/packrat/pinserver/pkg/store"
)

func newTestServer(t *testing.T) string {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), store.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, store.Migrate(db))

	svc := service.New(db, pool.New(db, 1), service.DefaultConfig(), nil)
	srv := httptest.NewServer(svc.Router(nil))
	t.Cleanup(srv.Close)
	return srv.URL
}

// run executes pinsctl against server and returns stdout.
func run(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand(&out, &errOut)
	cmd.SetArgs(append([]string{"--server", server, "--user", "tester", "--retries", "0"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, server string, args ...string) string {
	t.Helper()
	out, err := run(t, server, args...)
	require.NoError(t, err, "pinsctl %v", args)
	return out
}

type pinRow struct {
	VersionPinID int64    `json:"versionPinId"`
	Distribution string   `json:"distribution"`
	Withs        []string `json:"withs"`
}

func TestPinWorkflow(t *testing.T) {
	server := newTestServer(t)

	out := mustRun(t, server, "add", "packages", "maya", "mtoa", "--comment", "new packages")
	assert.Contains(t, out, "transaction")
	mustRun(t, server, "add", "levels", "dev01", "dev01.rd")
	mustRun(t, server, "add", "distributions", "maya", "1", "2")
	mustRun(t, server, "add", "pins", "maya-1")
	mustRun(t, server, "add", "pins", "maya-2", "-l", "dev01")

	var pin pinRow
	out = mustRun(t, server, "get", "pin", "-p", "maya", "-l", "dev01.rd", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &pin))
	assert.Equal(t, "maya-2", pin.Distribution)

	out = mustRun(t, server, "get", "pin", "-p", "maya", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &pin))
	assert.Equal(t, "maya-1", pin.Distribution)
	facilityPin := pin.VersionPinID

	out = mustRun(t, server, "get", "pins", "-p", "maya", "-m", "descendant")
	assert.Contains(t, out, "DISTRIBUTION")
	assert.Contains(t, out, "maya-1")
	assert.Contains(t, out, "maya-2")

	mustRun(t, server, "add", "withs", strconv.FormatInt(facilityPin, 10), "mtoa")
	out = mustRun(t, server, "get", "pin-withs", "--pin-id", strconv.FormatInt(facilityPin, 10))
	assert.Contains(t, out, "mtoa")

	out = mustRun(t, server, "get", "withs", "-p", "mtoa", "-o", "json")
	var withs []pinRow
	require.NoError(t, json.Unmarshal([]byte(out), &withs))
	require.Len(t, withs, 1)
	assert.Equal(t, facilityPin, withs[0].VersionPinID)

	out = mustRun(t, server, "get", "revisions", "-o", "yaml")
	assert.Contains(t, out, "author: tester")
	assert.Contains(t, out, "comment: new packages")

	out = mustRun(t, server, "get", "distributions", "-p", "maya")
	assert.Contains(t, out, "PACKAGE")

	out = mustRun(t, server, "export", "dev01", "--format", "yaml")
	assert.Contains(t, out, "show: dev01")

	path := filepath.Join(t.TempDir(), "dev01.xml")
	mustRun(t, server, "export", "dev01", "--path", path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `<packages show="dev01">`)
}

func TestSetPins(t *testing.T) {
	server := newTestServer(t)
	mustRun(t, server, "add", "packages", "maya")
	mustRun(t, server, "add", "distributions", "maya", "1", "2")
	mustRun(t, server, "add", "pins", "maya-1")

	var pin pinRow
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, server, "get", "pin", "-p", "maya", "-o", "json")), &pin))

	var dists []store.Distribution
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, server, "get", "distributions", "-p", "maya", "--version", "2", "-o", "json")), &dists))
	require.Len(t, dists, 1)

	mustRun(t, server, "set", "pins",
		"--pin-ids", strconv.FormatInt(pin.VersionPinID, 10),
		"--distribution-ids", strconv.FormatInt(dists[0].ID, 10))

	require.NoError(t, json.Unmarshal([]byte(mustRun(t, server, "get", "pin", "-p", "maya", "-o", "json")), &pin))
	assert.Equal(t, "maya-2", pin.Distribution)

	_, err := run(t, server, "set", "pins", "--pin-ids", "1,2", "--distribution-ids", "1")
	assert.Error(t, err)
}

func TestCommandErrors(t *testing.T) {
	server := newTestServer(t)

	_, err := run(t, server, "get", "pin", "-p", "nosuch")
	assert.Error(t, err)

	_, err = run(t, server, "get", "pin", "-p", "maya", "-l", "dev01..rd")
	assert.ErrorContains(t, err, "malformed level")

	_, err = run(t, server, "get", "bogus")
	assert.ErrorContains(t, err, "unknown entity")

	_, err = run(t, server, "get", "packages", "-o", "xml")
	assert.ErrorContains(t, err, "unsupported output format")

	_, err = run(t, server, "export", "dev01", "--format", "toml")
	assert.Error(t, err)

	_, err = run(t, server, "add", "withs", "notanumber", "mtoa")
	assert.ErrorContains(t, err, "invalid pin id")
}

func TestHealthAndOperations(t *testing.T) {
	server := newTestServer(t)

	out := mustRun(t, server, "health")
	assert.Contains(t, out, "alive")

	out = mustRun(t, server, "ops")
	assert.Contains(t, out, "add-version-pins")
	assert.Contains(t, out, "get-version-pin")
}

func TestEmptyTable(t *testing.T) {
	server := newTestServer(t)
	out := mustRun(t, server, "get", "packages")
	assert.Equal(t, "No packages found.\n", out)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
	assert.Equal(t, "ab", truncate("abcdefgh", 2))
}
