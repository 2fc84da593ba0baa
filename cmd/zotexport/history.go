// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/zotexport/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded export runs",
	Long: `History reads the state database written by exports run with --state-db and
lists the most recent runs, newest first.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	historyCmd.Flags().String("output", history.OutputTable, "output format: table, json, yaml")
	historyCmd.Flags().StringP("file", "f", "", "only list runs that wrote this file")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	path := viper.GetString("state_db")
	if path == "" {
		return errors.New("--state-db is required")
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}
	output, _ := cmd.Flags().GetString("output")
	switch output {
	case history.OutputTable, history.OutputJSON, history.OutputYAML:
	default:
		return fmt.Errorf("unsupported --output %q: use table, json or yaml", output)
	}
	file, _ := cmd.Flags().GetString("file")
	cmd.SilenceUsage = true

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(cmd.Context(), history.ListOptions{File: file, Limit: limit})
	if err != nil {
		return err
	}
	return history.Write(cmd.OutOrStdout(), runs, output)
}
