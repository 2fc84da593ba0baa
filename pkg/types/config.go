// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the configuration and run records shared by the
// zotexport packages.
package types

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// HTTPConfig holds shared HTTP settings used for Zotero API requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "zotexport/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// ExportFormat selects the bibliographic format requested from Zotero.
// It implements pflag.Value so it can back a command-line flag directly.
type ExportFormat string

const (
	FormatBibLaTeX ExportFormat = "biblatex"
	FormatBibTeX   ExportFormat = "bibtex"
)

// ExportFormats lists the accepted formats in the order shown in help text.
var ExportFormats = []ExportFormat{FormatBibLaTeX, FormatBibTeX}

// ParseExportFormat converts s (case-insensitive) to an ExportFormat.
func ParseExportFormat(s string) (ExportFormat, error) {
	f := ExportFormat(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ExportFormats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported format %q: use biblatex or bibtex", s)
}

// String returns the format name.
func (f *ExportFormat) String() string { return string(*f) }

// Set parses and stores a format name.
func (f *ExportFormat) Set(s string) error {
	parsed, err := ParseExportFormat(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Type names the flag value type in usage output.
func (f *ExportFormat) Type() string { return "format" }

// ExportConfig holds everything the export command needs after flags,
// environment, config file and secrets have been merged.
type ExportConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// APIKey is the Zotero API key; it needs read access to the user library.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key" validate:"required"`

	// UserID is the numeric Zotero user id. When empty it is resolved from
	// the API key.
	UserID string `json:"user_id,omitempty" yaml:"user_id,omitempty" mapstructure:"user_id" validate:"omitempty,numeric"`

	// File is the path the library export is written to.
	File string `json:"file" yaml:"file" mapstructure:"file" validate:"required"`

	// Interval is the number of seconds between exports; 0 exports once.
	// The upper bound is MaxInterval so IntervalDuration cannot overflow.
	Interval int `json:"interval" yaml:"interval" mapstructure:"interval" validate:"gte=0,lte=9223372036"`

	// Format selects biblatex or bibtex output (default biblatex).
	Format ExportFormat `json:"format" yaml:"format" mapstructure:"format" validate:"oneof=biblatex bibtex"`

	// Watch also triggers an export whenever the streaming API reports a
	// library change.
	Watch bool `json:"watch" yaml:"watch" mapstructure:"watch"`

	// StateDB is an optional SQLite file recording export runs. When set,
	// unchanged libraries are detected with conditional requests.
	StateDB string `json:"state_db,omitempty" yaml:"state_db,omitempty" mapstructure:"state_db"`

	// APIURL and StreamURL override the hosted Zotero endpoints, e.g. for a
	// self-hosted dataserver. Empty means the hosted service.
	APIURL    string `json:"api_url,omitempty" yaml:"api_url,omitempty" mapstructure:"api_url" validate:"omitempty,url"`
	StreamURL string `json:"stream_url,omitempty" yaml:"stream_url,omitempty" mapstructure:"stream_url" validate:"omitempty,url"`
}

// Validate checks required fields and value ranges.
func (c *ExportConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("invalid configuration: %s", describeValidation(verrs))
		}
		return err
	}
	return nil
}

// MaxInterval is the largest Interval, in seconds, a time.Duration can hold.
const MaxInterval = math.MaxInt64 / int64(time.Second)

// IntervalDuration returns the configured interval as a time.Duration.
func (c *ExportConfig) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// flagNames maps struct fields to the flag a user would set to fix them.
var flagNames = map[string]string{
	"APIKey":    "--api-key",
	"UserID":    "--user-id",
	"File":      "--file",
	"Interval":  "--interval",
	"Format":    "--format",
	"APIURL":    "--api-url",
	"StreamURL": "--stream-url",
}

func describeValidation(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := flagNames[fe.Field()]
		if name == "" {
			name = fe.Field()
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, name+" is required")
		case "gte":
			msgs = append(msgs, name+" must not be negative")
		case "lte":
			msgs = append(msgs, fmt.Sprintf("%s is too large (maximum %s)", name, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", name, fe.Param()))
		case "numeric":
			msgs = append(msgs, name+" must be numeric")
		case "url":
			msgs = append(msgs, name+" must be a URL")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %q", name, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
