package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-analyzer/internal/analyzer"
	"github.com/JakeFAU/page-analyzer/internal/config"
	"github.com/JakeFAU/page-analyzer/internal/server"
)

type stubFetcher struct {
	fail map[string]bool
}

func (f stubFetcher) Fetch(_ context.Context, url string) (analyzer.FetchResponse, error) {
	if f.fail[url] {
		return analyzer.FetchResponse{}, errors.New("connection refused")
	}
	return analyzer.FetchResponse{
		URL:        url,
		StatusCode: 200,
		Body:       []byte("<html><head><title>Front page</title></head><body><h1>Welcome</h1></body></html>"),
		Duration:   time.Millisecond,
	}, nil
}

// fakeApp records lifecycle calls for commands that do not touch the service.
type fakeApp struct {
	runErr     error
	migrateErr error
	ran        bool
	migrated   bool
	closed     bool
}

func (a *fakeApp) Service() *analyzer.Service { return nil }
func (a *fakeApp) Logger() *zap.Logger        { return zap.NewNop() }

func (a *fakeApp) Migrate(context.Context) error {
	a.migrated = true
	return a.migrateErr
}

func (a *fakeApp) Run(context.Context) error {
	a.ran = true
	return a.runErr
}

func (a *fakeApp) Close(context.Context) error {
	a.closed = true
	return nil
}

// setup points the CLI at a fresh sqlite database and a stub fetcher.
func setup(t *testing.T, fetcher analyzer.Fetcher) string {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("database:\n  driver: sqlite\n  dsn: %q\n", filepath.Join(dir, "analyzer.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	prev := newApp
	newApp = func(ctx context.Context, cfg config.Config) (App, error) {
		return server.Build(ctx, cfg, server.Options{Logger: zap.NewNop(), Fetcher: fetcher})
	}
	t.Cleanup(func() { newApp = prev })
	return cfgPath
}

func useFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	prev := newApp
	newApp = func(context.Context, config.Config) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = prev })
}

func run(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSubmitCheckListShow(t *testing.T) {
	cfgPath := setup(t, stubFetcher{})

	out, err := run("submit", "--config", cfgPath, "HTTP://Example.com/path?x=1", "http://example.com/other")
	require.NoError(t, err, out)
	assert.Contains(t, out, "http://example.com")
	assert.Contains(t, out, "created")
	assert.Contains(t, out, "existing")

	out, err = run("check", "--config", cfgPath, "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Front page")

	out, err = run("list", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "http://example.com")
	assert.Contains(t, out, "200")
	assert.Equal(t, 1, strings.Count(out, "http://example.com"))

	out, err = run("show", "--config", cfgPath, "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "# http://example.com")
	assert.Contains(t, out, "Welcome")
}

func TestSubmitReportsInvalidURLs(t *testing.T) {
	cfgPath := setup(t, stubFetcher{})

	out, err := run("submit", "--config", cfgPath, "https://ok.test", "ftp://nope.test")
	require.Error(t, err)
	assert.ErrorIs(t, err, analyzer.ErrInvalidURL)
	assert.Contains(t, out, "https://ok.test")
}

func TestCheckReportsFailures(t *testing.T) {
	cfgPath := setup(t, stubFetcher{fail: map[string]bool{"https://down.test": true}})

	_, err := run("submit", "--config", cfgPath, "https://up.test", "https://down.test")
	require.NoError(t, err)

	out, err := run("check", "--config", cfgPath, "--concurrency", "2", "1", "2", "99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 checks failed")
	assert.Contains(t, out, "Front page")
	assert.Contains(t, out, "site 2:")
	assert.Contains(t, out, "site 99:")

	out, err = run("show", "--config", cfgPath, "2")
	require.NoError(t, err)
	assert.Contains(t, out, "No checks yet.")
}

func TestCheckCountsRepeatedIDsOnce(t *testing.T) {
	cfgPath := setup(t, stubFetcher{fail: map[string]bool{"https://down.test": true}})

	_, err := run("submit", "--config", cfgPath, "https://down.test")
	require.NoError(t, err)

	_, err = run("check", "--config", cfgPath, "1", "1", "7", "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2 checks failed")
}

func TestParseSiteIDs(t *testing.T) {
	ids, err := parseSiteIDs([]string{"3", "1", "3", "2", "1"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)

	_, err = parseSiteIDs([]string{"1", "0"})
	require.Error(t, err)
}

func TestShowErrors(t *testing.T) {
	cfgPath := setup(t, stubFetcher{})

	_, err := run("show", "--config", cfgPath, "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid site id")

	_, err = run("show", "--config", cfgPath, "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, analyzer.ErrSiteNotFound)
}

func TestCheckRejectsBadConcurrency(t *testing.T) {
	cfgPath := setup(t, stubFetcher{})

	_, err := run("check", "--config", cfgPath, "--concurrency", "0", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--concurrency")
}

func TestMigrateCommand(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app)

	out, err := run("migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema is up to date")
	assert.True(t, app.migrated)
	assert.True(t, app.closed)
}

func TestMigrateCommandError(t *testing.T) {
	app := &fakeApp{migrateErr: errors.New("permission denied")}
	useFakeApp(t, app)

	_, err := run("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.True(t, app.closed)
}

func TestServeCommand(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app)

	_, err := run("serve")
	require.NoError(t, err)
	assert.True(t, app.ran)
	assert.True(t, app.closed)
}

func TestServeCommandError(t *testing.T) {
	app := &fakeApp{runErr: errors.New("address already in use")}
	useFakeApp(t, app)

	_, err := run("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
}

func TestAppFactoryError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	prev := newApp
	newApp = func(context.Context, config.Config) (App, error) { return nil, errors.New("boom") }
	t.Cleanup(func() { newApp = prev })

	_, err := run("list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}

func TestMissingConfigFile(t *testing.T) {
	useFakeApp(t, &fakeApp{})

	_, err := run("list", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
