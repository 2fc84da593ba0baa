// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package export writes a Zotero library export to a local file, once or
// whenever a trigger fires.
package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/zotexport/internal/ctxlog"
	"github.com/pdiddy/zotexport/internal/zotero"
	"github.com/pdiddy/zotexport/pkg/types"
)

// ErrInvalidTarget reports an export file that cannot be written.
var ErrInvalidTarget = errors.New("invalid export target")

// Source fetches a library export. *zotero.Client implements it.
type Source interface {
	Export(ctx context.Context, req zotero.ExportRequest) (*zotero.ExportResult, error)
}

// History records export runs. *history.Store implements it.
type History interface {
	LastWritten(ctx context.Context, file string, format types.ExportFormat, userID string) (types.ExportRun, bool, error)
	Record(ctx context.Context, run types.ExportRun) error
}

// Target names what to export and where to write it.
type Target struct {
	File   string
	Format types.ExportFormat
	UserID string
}

// Exporter performs single exports of one library to one file.
type Exporter struct {
	src     Source
	history History
	target  Target

	now func() time.Time
}

// New checks that target.File can be written and returns an Exporter. The
// file is created empty when missing; existing content is left alone until
// the first successful export. hist may be nil.
func New(src Source, target Target, hist History) (*Exporter, error) {
	if err := checkTarget(target.File); err != nil {
		return nil, err
	}
	if target.Format == "" {
		target.Format = types.FormatBibLaTeX
	}
	return &Exporter{
		src:     src,
		history: hist,
		target:  target,
		now:     time.Now,
	}, nil
}

func checkTarget(path string) error {
	if path == "" {
		return fmt.Errorf("%w: file path is empty", ErrInvalidTarget)
	}
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: directory %s: %w", ErrInvalidTarget, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidTarget, dir)
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidTarget, path)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	return f.Close()
}

// Once exports the library a single time and returns the recorded run. When
// a history is configured and the file still holds the last written export,
// the request is conditional and an unchanged library leaves the file alone.
func (e *Exporter) Once(ctx context.Context) (types.ExportRun, error) {
	log := ctxlog.FromContext(ctx)
	run := types.ExportRun{
		ID:        uuid.NewString(),
		StartedAt: e.now(),
		File:      e.target.File,
		Format:    e.target.Format,
		UserID:    e.target.UserID,
	}

	since := e.sinceVersion(ctx)
	if since > 0 {
		log.Info("found existing export", "file", e.target.File, "library_version", since)
	} else {
		log.Info("performing full export", "file", e.target.File, "format", e.target.Format)
	}

	res, err := e.src.Export(ctx, zotero.ExportRequest{
		UserID:       e.target.UserID,
		Format:       e.target.Format,
		SinceVersion: since,
	})
	if err == nil && !res.Unchanged {
		err = writeFile(e.target.File, res.Body)
	}

	run.FinishedAt = e.now()
	switch {
	case err != nil:
		run.Status = types.RunFailed
		run.Error = err.Error()
	case res.Unchanged:
		run.Status = types.RunUnchanged
		run.LibraryVersion = res.LibraryVersion
		log.Info("file is up to date with the Zotero library", "file", e.target.File, "library_version", res.LibraryVersion)
	default:
		run.Status = types.RunWritten
		run.LibraryVersion = res.LibraryVersion
		run.Bytes = int64(len(res.Body))
		log.Info("wrote library export",
			"file", e.target.File,
			"library_version", res.LibraryVersion,
			"pages", res.Pages,
			"bytes", run.Bytes,
			"took", run.Duration().Round(time.Millisecond))
	}

	e.record(ctx, run)

	if err != nil {
		return run, fmt.Errorf("exporting to %s: %w", e.target.File, err)
	}
	return run, nil
}

// sinceVersion returns the library version the file is known to hold, or 0
// when the export must not be conditional.
func (e *Exporter) sinceVersion(ctx context.Context) uint64 {
	if e.history == nil {
		return 0
	}
	info, err := os.Stat(e.target.File)
	if err != nil || info.Size() == 0 {
		return 0
	}
	last, ok, err := e.history.LastWritten(ctx, e.target.File, e.target.Format, e.target.UserID)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("reading export history", "error", err)
		return 0
	}
	if !ok || last.Bytes != info.Size() {
		return 0
	}
	return last.LibraryVersion
}

func (e *Exporter) record(ctx context.Context, run types.ExportRun) {
	if e.history == nil {
		return
	}
	// Failed runs are recorded even when ctx was what cancelled them.
	if err := e.history.Record(context.WithoutCancel(ctx), run); err != nil {
		ctxlog.FromContext(ctx).Warn("recording export run", "error", err)
	}
}

// writeFile replaces path with data through a temporary file in the same
// directory, so readers never observe a partial export.
func writeFile(path string, data []byte) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".zotexport-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, writeErr := tmpFile.Write(data)
	closeErr := tmpFile.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing export: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting file mode: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
