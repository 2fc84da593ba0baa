// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/zotexport/internal/ctxlog"
	"github.com/pdiddy/zotexport/internal/export"
	"github.com/pdiddy/zotexport/internal/history"
	"github.com/pdiddy/zotexport/internal/zotero"
	"github.com/pdiddy/zotexport/pkg/types"
)

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadExportConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	// Past this point failures are runtime errors, not usage errors.
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	log := ctxlog.FromContext(ctx)
	client := newClient(cfg)

	if cfg.UserID == "" {
		info, err := client.ResolveUser(ctx)
		if err != nil {
			return err
		}
		cfg.UserID = info.UserIDString()
	}

	var hist export.History
	if cfg.StateDB != "" {
		store, err := history.Open(cfg.StateDB)
		if err != nil {
			return err
		}
		defer store.Close()
		hist = store
	}

	exp, err := export.New(client, export.Target{
		File:   cfg.File,
		Format: cfg.Format,
		UserID: cfg.UserID,
	}, hist)
	if err != nil {
		return err
	}

	if cfg.Interval == 0 && !cfg.Watch {
		_, err := exp.Once(ctx)
		return err
	}

	log.Info("starting exports",
		"file", cfg.File,
		"format", cfg.Format,
		"interval", cfg.IntervalDuration(),
		"watch", cfg.Watch)
	return runLoop(ctx, client, exp, cfg)
}

// runLoop exports on every trigger until ctx is cancelled or an export
// fails. Triggers come from the interval ticker, the streaming API, or both.
func runLoop(ctx context.Context, client *zotero.Client, exp *export.Exporter, cfg types.ExportConfig) error {
	log := ctxlog.FromContext(ctx)
	trigger := export.NewTrigger()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Watch {
		stream, err := client.Subscribe(ctx, cfg.UserID)
		if err != nil {
			return err
		}
		defer stream.Close()
		g.Go(func() error {
			err := stream.Watch(gctx, func(zotero.LibraryUpdate) { trigger.Fire() })
			if err != nil {
				return fmt.Errorf("watching library: %w", err)
			}
			return nil
		})
	}

	if cfg.Interval > 0 {
		trigger.Every(gctx, cfg.IntervalDuration())
	} else {
		// Watch-only mode still starts from a fresh export.
		trigger.Fire()
	}

	g.Go(func() error {
		sum, err := exp.Run(gctx, trigger.C())
		log.Info("exports finished", "written", sum.Written, "unchanged", sum.Unchanged)
		return err
	})
	return g.Wait()
}
