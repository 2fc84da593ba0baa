// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/zotexport/internal/history"
	"github.com/pdiddy/zotexport/internal/zotero"
	"github.com/pdiddy/zotexport/pkg/types"
)

const bib = "@article{turing1936,\n  title = {On Computable Numbers},\n}\n"

// fakeSource records requests and answers with respond.
type fakeSource struct {
	mu      sync.Mutex
	calls   []zotero.ExportRequest
	respond func(req zotero.ExportRequest, call int) (*zotero.ExportResult, error)
}

func (f *fakeSource) Export(_ context.Context, req zotero.ExportRequest) (*zotero.ExportResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	return f.respond(req, n)
}

func (f *fakeSource) Calls() []zotero.ExportRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]zotero.ExportRequest(nil), f.calls...)
}

func staticSource(body string, version uint64) *fakeSource {
	return &fakeSource{respond: func(zotero.ExportRequest, int) (*zotero.ExportResult, error) {
		return &zotero.ExportResult{Body: []byte(body), LibraryVersion: version, Pages: 1}, nil
	}}
}

func target(t *testing.T) Target {
	t.Helper()
	return Target{
		File:   filepath.Join(t.TempDir(), "library.bib"),
		Format: types.FormatBibLaTeX,
		UserID: "123",
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) string
		wantErr bool
	}{
		{
			name:  "creates missing file",
			setup: func(t *testing.T) string { return filepath.Join(t.TempDir(), "new.bib") },
		},
		{
			name: "keeps existing file",
			setup: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "old.bib")
				require.NoError(t, os.WriteFile(p, []byte("old"), 0o644))
				return p
			},
		},
		{
			name:    "missing directory",
			setup:   func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope", "lib.bib") },
			wantErr: true,
		},
		{
			name:    "target is a directory",
			setup:   func(t *testing.T) string { return t.TempDir() },
			wantErr: true,
		},
		{
			name:    "empty path",
			setup:   func(t *testing.T) string { return "" },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.setup(t)
			var before []byte
			if path != "" {
				before, _ = os.ReadFile(path)
			}

			_, err := New(staticSource(bib, 1), Target{File: path, UserID: "1"}, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, string(before), readFile(t, path), "New must not modify content")
		})
	}
}

func TestOnceWritesBodyVerbatim(t *testing.T) {
	tg := target(t)
	require.NoError(t, os.WriteFile(tg.File, []byte("stale content that is longer than the export"), 0o600))

	src := staticSource(bib, 42)
	e, err := New(src, tg, nil)
	require.NoError(t, err)

	run, err := e.Once(context.Background())
	require.NoError(t, err)

	assert.Equal(t, bib, readFile(t, tg.File))
	assert.Equal(t, types.RunWritten, run.Status)
	assert.Equal(t, uint64(42), run.LibraryVersion)
	assert.Equal(t, int64(len(bib)), run.Bytes)
	assert.NotEmpty(t, run.ID)

	info, err := os.Stat(tg.File)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "existing permissions are kept")

	calls := src.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, zotero.ExportRequest{UserID: "123", Format: types.FormatBibLaTeX}, calls[0])

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(tg.File))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOnceDefaultsToBibLaTeX(t *testing.T) {
	tg := target(t)
	tg.Format = ""
	src := staticSource(bib, 1)
	e, err := New(src, tg, nil)
	require.NoError(t, err)

	_, err = e.Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.FormatBibLaTeX, src.Calls()[0].Format)
}

func TestOnceErrorKeepsFile(t *testing.T) {
	tg := target(t)
	require.NoError(t, os.WriteFile(tg.File, []byte(bib), 0o644))

	apiErr := &zotero.StatusError{URL: "https://api.zotero.org/users/123/items", Code: 503, Body: "down"}
	src := &fakeSource{respond: func(zotero.ExportRequest, int) (*zotero.ExportResult, error) {
		return nil, apiErr
	}}
	e, err := New(src, tg, nil)
	require.NoError(t, err)

	run, err := e.Once(context.Background())
	require.Error(t, err)

	var se *zotero.StatusError
	assert.True(t, errors.As(err, &se))
	assert.Contains(t, err.Error(), "exporting to "+tg.File)
	assert.Equal(t, types.RunFailed, run.Status)
	assert.Equal(t, bib, readFile(t, tg.File))
}

func TestOnceConditionalWithHistory(t *testing.T) {
	tg := target(t)
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	src := &fakeSource{respond: func(req zotero.ExportRequest, call int) (*zotero.ExportResult, error) {
		if req.SinceVersion == 10 {
			return &zotero.ExportResult{Unchanged: true, LibraryVersion: 10}, nil
		}
		return &zotero.ExportResult{Body: []byte(bib), LibraryVersion: 10, Pages: 1}, nil
	}}
	e, err := New(src, tg, store)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := e.Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RunWritten, first.Status)

	second, err := e.Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RunUnchanged, second.Status)
	assert.Equal(t, bib, readFile(t, tg.File))

	// Editing the file by hand invalidates the recorded version.
	require.NoError(t, os.WriteFile(tg.File, []byte("edited"), 0o644))
	third, err := e.Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RunWritten, third.Status)
	assert.Equal(t, bib, readFile(t, tg.File))

	calls := src.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, uint64(0), calls[0].SinceVersion)
	assert.Equal(t, uint64(10), calls[1].SinceVersion)
	assert.Equal(t, uint64(0), calls[2].SinceVersion)

	runs, err := store.List(ctx, history.ListOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, types.RunWritten, runs[0].Status)
	assert.Equal(t, types.RunUnchanged, runs[1].Status)
}

func TestOnceRecordsFailure(t *testing.T) {
	tg := target(t)
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	src := &fakeSource{respond: func(zotero.ExportRequest, int) (*zotero.ExportResult, error) {
		return nil, errors.New("connection refused")
	}}
	e, err := New(src, tg, store)
	require.NoError(t, err)

	_, err = e.Once(context.Background())
	require.Error(t, err)

	runs, err := store.List(context.Background(), history.ListOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, types.RunFailed, runs[0].Status)
	assert.Equal(t, "connection refused", runs[0].Error)
}
