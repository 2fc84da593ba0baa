// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package history

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/zotexport/pkg/types"
)

// Output formats accepted by Write.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

// Write renders runs to w as a table, JSON or YAML.
func Write(w io.Writer, runs []types.ExportRun, output string) error {
	if runs == nil {
		runs = []types.ExportRun{}
	}
	switch output {
	case OutputTable, "":
		return writeTable(w, runs)
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(runs); err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output %q: use table, json or yaml", output)
	}
}

func writeTable(w io.Writer, runs []types.ExportRun) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No export runs recorded.")
		return err
	}

	fmt.Fprintf(w, "%-20s  %-9s  %-8s  %-10s  %-10s  %-8s  %s\n",
		"Started", "Status", "Format", "Version", "Bytes", "Took", "File")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, r := range runs {
		file := r.File
		if r.Status == types.RunFailed && r.Error != "" {
			msg := r.Error
			if len(msg) > 40 {
				msg = msg[:37] + "..."
			}
			file += " (" + msg + ")"
		}
		fmt.Fprintf(w, "%-20s  %-9s  %-8s  %-10d  %-10d  %-8s  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status, r.Format, r.LibraryVersion, r.Bytes,
			r.Duration().Round(time.Millisecond), file)
	}

	_, err := fmt.Fprintf(w, "\n%d runs\n", len(runs))
	return err
}
