package main

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"colmerge/internal/config"
	"colmerge/internal/session"
	"colmerge/internal/settings"
)

// rootOptions holds the global flags.
type rootOptions struct {
	Verbose        bool
	ConfigPath     string
	SettingsPath   string
	MetricsBackend string
}

// app is the state shared by one runMain invocation.
type app struct {
	deps   appDeps
	stdout io.Writer
	stderr io.Writer

	opts    rootOptions
	cfg     config.App
	cleanup []func()
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "colmerge",
		Short: "Merge tables with differing columns into one target schema",
		Long: "colmerge maps the columns of CSV and JSON tables onto an ordered target\n" +
			"schema and stacks them into one table. The schema and the per-table\n" +
			"mappings are remembered in a settings document.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	cmd.PersistentFlags().BoolVarP(&a.opts.Verbose, "verbose", "v", false, "log progress to stderr")
	cmd.PersistentFlags().StringVar(&a.opts.ConfigPath, "config", "", "run configuration file (JSON)")
	cmd.PersistentFlags().StringVar(&a.opts.SettingsPath, "settings", "",
		"settings document (default $COLMERGE_SETTINGS, then the config's settings_path)")
	cmd.PersistentFlags().StringVar(&a.opts.MetricsBackend, "metrics-backend", os.Getenv("METRICS_BACKEND"),
		"metrics backend (none|datadog)")

	cmd.AddCommand(newMergeCommand(a))
	cmd.AddCommand(newSchemaCommand(a))
	cmd.AddCommand(newMapCommand(a))
	cmd.AddCommand(newPreviewCommand(a))
	cmd.AddCommand(newValidateCommand(a))
	cmd.AddCommand(newServeCommand(a))

	return cmd
}

// setup runs before every subcommand: logging, run config, metrics.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.opts.Verbose {
		log.SetOutput(a.stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	cfg := config.Default()
	if a.opts.ConfigPath != "" {
		var err error
		cfg, err = config.LoadFile(a.opts.ConfigPath)
		if err != nil {
			return failure("load config", err)
		}
	}
	switch {
	case a.opts.SettingsPath != "":
		cfg.SettingsPath = a.opts.SettingsPath
	case os.Getenv("COLMERGE_SETTINGS") != "":
		cfg.SettingsPath = os.Getenv("COLMERGE_SETTINGS")
	}
	a.cfg = cfg

	done, err := a.deps.initMetrics(cmd.Context(), a.opts.MetricsBackend, cfg.Job)
	if err != nil {
		return usageError("%v", err)
	}
	a.cleanup = append(a.cleanup, done)
	log.Printf("colmerge: job=%s settings=%s parser=%s", cfg.Job, cfg.SettingsPath, cfg.Parser.Kind)
	return nil
}

// newSession opens a session backed by the settings document.
func (a *app) newSession() (*session.Session, error) {
	sess, err := session.New(session.Options{
		Store:       settings.NewFileStore(a.cfg.SettingsPath),
		Parser:      a.cfg.Parser.UploadOptions(),
		PreviewRows: a.cfg.PreviewRows,
	})
	if err != nil {
		return nil, failure("open session", err)
	}
	return sess, nil
}

// save persists sess and reports the settings path on stderr.
func (a *app) save(sess *session.Session) error {
	if err := sess.Save(); err != nil {
		return failure("save settings", err)
	}
	log.Printf("colmerge: saved settings=%s", a.cfg.SettingsPath)
	return nil
}
