// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Show the user and permissions behind the API key",
	Long: `Key asks Zotero to describe the configured API key and prints the user it
belongs to and what it may access. Use it to check a key before scheduling
exports; zotexport needs library read access.`,
	Args: cobra.NoArgs,
	RunE: runKey,
}

func init() {
	rootCmd.AddCommand(keyCmd)
}

func runKey(cmd *cobra.Command, args []string) error {
	cfg, err := loadExportConfig()
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return errors.New("--api-key is required")
	}
	cmd.SilenceUsage = true

	info, err := newClient(cfg).KeyInfo(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "User ID:  %d\n", info.UserID)
	fmt.Fprintf(w, "Username: %s\n", info.Username)
	access := info.Access.User
	printAccess(w, "Library", access.Library)
	printAccess(w, "Notes", access.Notes)
	printAccess(w, "Files", access.Files)
	printAccess(w, "Write", access.Write)

	if !info.CanReadLibrary() {
		return fmt.Errorf("key %s: library read access is required for export", maskKey(cfg.APIKey))
	}
	return nil
}

func printAccess(w io.Writer, label string, granted bool) {
	v := "no"
	if granted {
		v = "yes"
	}
	fmt.Fprintf(w, "%-9s %s\n", label+":", v)
}

// maskKey keeps the last four characters of key.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
