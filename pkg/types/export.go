// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// RunStatus records how an export run ended.
type RunStatus string

const (
	RunWritten   RunStatus = "written"
	RunUnchanged RunStatus = "unchanged"
	RunFailed    RunStatus = "failed"
)

// ExportRun is one attempt to export the library to a file.
type ExportRun struct {
	// ID is a UUID assigned when the run starts.
	ID string `json:"id" yaml:"id"`

	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	// File is the export target path.
	File string `json:"file" yaml:"file"`

	Format ExportFormat `json:"format" yaml:"format"`

	UserID string `json:"user_id" yaml:"user_id"`

	// LibraryVersion is the Last-Modified-Version Zotero reported, or 0.
	LibraryVersion uint64 `json:"library_version" yaml:"library_version"`

	// Bytes is the size of the written export; 0 unless Status is written.
	Bytes int64 `json:"bytes" yaml:"bytes"`

	Status RunStatus `json:"status" yaml:"status"`

	// Error holds the failure message when Status is failed.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Duration returns how long the run took.
func (r ExportRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
