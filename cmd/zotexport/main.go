// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the zotexport CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pdiddy/zotexport/internal/ctxlog"
	"github.com/pdiddy/zotexport/internal/secrets"
	"github.com/pdiddy/zotexport/internal/zotero"
	"github.com/pdiddy/zotexport/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

const defaultTimeout = 60 * time.Second

// rootCmd exports the library; subcommands inspect the key and run history.
var rootCmd = &cobra.Command{
	Use:   "zotexport",
	Short: "Export a Zotero library to a BibLaTeX or BibTeX file",
	Long: `zotexport downloads your complete Zotero library through the Zotero web API
and writes it to a local bibliography file, in BibLaTeX (default) or BibTeX.

Without --interval the library is exported once. With --interval N the export
runs immediately and then every N seconds until interrupted. With --watch an
export also runs whenever the Zotero streaming API reports a library change.

Settings may also come from ZOTEXPORT_* environment variables, a .env file,
zotexport.yaml, or .secrets/zotero-api-key; command-line flags win.`,
	Example: `  zotexport --api-key $KEY --file library.bib
  zotexport -a $KEY -f refs.bib --format bibtex --interval 600
  zotexport -f library.bib --watch --state-db ~/.local/share/zotexport/history.db`,
	Args:              cobra.NoArgs,
	PersistentPreRunE: setup,
	RunE:              runExport,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./zotexport.yaml or ~/.config/zotexport/zotexport.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.StringP("api-key", "a", "", "Zotero API key with read access to your library")
	pf.Duration("timeout", defaultTimeout, "HTTP request timeout")
	pf.String("state-db", "", "SQLite file recording export runs; enables skipping unchanged libraries")
	pf.String("api-url", "", "Zotero web API root")
	pf.String("stream-url", "", "Zotero streaming API endpoint")
	_ = pf.MarkHidden("api-url")
	_ = pf.MarkHidden("stream-url")

	f := rootCmd.Flags()
	f.StringP("file", "f", "", "bibliography file to write")
	f.IntP("interval", "i", 0, "seconds between exports; 0 exports once and exits")
	format := types.FormatBibLaTeX
	f.Var(&format, "format", "export format: biblatex or bibtex")
	f.StringP("user-id", "u", "", "Zotero user id (default: looked up from the API key)")
	f.Bool("watch", false, "also export when the streaming API reports a library change")
}

// setup runs before every command: configuration, logging and secrets.
func setup(cmd *cobra.Command, args []string) error {
	if err := initConfig(cmd); err != nil {
		return err
	}

	logger, err := setupLogger(viper.GetString("log_level"), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))

	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info("using config file", "path", used)
	}

	s, err := secrets.Load(secrets.DefaultDir)
	if err != nil {
		return err
	}
	if len(s) > 0 {
		keys := make([]string, 0, len(s))
		for k := range s {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		logger.Debug("loaded secrets", "keys", keys)
	}
	// Secrets sit below flags, environment and config file.
	if v, ok := s[secrets.ZoteroAPIKey]; ok {
		viper.SetDefault("api_key", v)
	}
	if v, ok := s[secrets.ZoteroUserID]; ok {
		viper.SetDefault("user_id", v)
	}
	return nil
}

func initConfig(cmd *cobra.Command) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("zotexport")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "zotexport"))
		}
	}

	viper.SetEnvPrefix("ZOTEXPORT")
	viper.AutomaticEnv()
	viper.SetDefault("user_agent", "zotexport/"+version)

	if err := bindFlags(cmd.Flags()); err != nil {
		return err
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// bindFlags makes every flag a viper key, with dashes turned into
// underscores so --api-key, ZOTEXPORT_API_KEY and api_key: agree.
func bindFlags(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = viper.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	return err
}

func setupLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: use debug, info, warn or error", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// loadExportConfig merges flags, environment, config file and secrets.
func loadExportConfig() (types.ExportConfig, error) {
	var cfg types.ExportConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding configuration: %w", err)
	}
	if cfg.Format != "" {
		format, err := types.ParseExportFormat(string(cfg.Format))
		if err != nil {
			return cfg, err
		}
		cfg.Format = format
	}
	return cfg, nil
}

// newClient builds a Zotero client from cfg, honouring endpoint overrides.
func newClient(cfg types.ExportConfig) *zotero.Client {
	client := zotero.NewClient(cfg.APIKey, cfg.HTTPConfig)
	if cfg.APIURL != "" {
		client.BaseURL = strings.TrimSuffix(cfg.APIURL, "/")
	}
	if cfg.StreamURL != "" {
		client.StreamURL = cfg.StreamURL
	}
	return client
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
