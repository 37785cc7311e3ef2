package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"colmerge/internal/config"
	"colmerge/internal/export"
	"colmerge/internal/mapping"
	"colmerge/internal/merge"
	"colmerge/internal/schema"
	"colmerge/internal/session"
	"colmerge/internal/tableset"
	"colmerge/internal/web"
)

func newMergeCommand(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "merge FILE...",
		Short: "Merge files into the target schema and export the result",
		Long: "Merge loads every FILE as a source table, applies the remembered\n" +
			"mappings and writes the merged table as CSV (and to the database\n" +
			"configured under export.storage). Files that fail to parse are skipped.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if issues := config.ValidateApp(a.cfg); config.HasErrors(issues) {
				printIssues(a.stderr, issues)
				return failure("invalid config", nil)
			}

			exportCfg := a.cfg.Export
			if out != "" {
				exportCfg.Path = out
			}

			sess, err := a.newSession()
			if err != nil {
				return err
			}
			a.upload(cmd.Context(), sess, args)

			sinks, closeSinks, err := export.Open(cmd.Context(), exportCfg, a.stdout)
			if err != nil {
				return failure("open export", err)
			}
			defer closeSinks()

			res, err := sess.ExportTo(cmd.Context(), sinks...)
			if err != nil {
				return failure("merge", err)
			}
			for _, c := range res.Contributions {
				for _, target := range c.Stale {
					fmt.Fprintf(a.stderr, "warning: %s: mapping for %q names a column the table lacks\n", c.Table, target)
				}
			}
			if exportCfg.Path != "-" {
				fmt.Fprintf(a.stdout, "merged %d rows x %d columns from %d tables into %s\n",
					len(res.Rows), len(res.Columns), len(res.Contributions), exportCfg.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", `CSV destination, "-" for stdout (default the config's export.path)`)
	return cmd
}

func newSchemaCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show or replace the target schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the target schema, one column per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.newSession()
			if err != nil {
				return err
			}
			for _, c := range sess.Schema() {
				fmt.Fprintln(a.stdout, c)
			}
			return nil
		},
	})

	var file string
	set := &cobra.Command{
		Use:   "set [COLUMN...]",
		Short: "Replace the target schema",
		Long: "Set replaces the target schema with the given columns. Without\n" +
			"arguments the schema is read one column per line from --file, or from\n" +
			"stdin. Blank lines are ignored and surrounding spaces are trimmed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && file != "" {
				return usageError("schema set: give columns or --file, not both")
			}
			sess, err := a.newSession()
			if err != nil {
				return err
			}

			var cols schema.TargetSchema
			if len(args) > 0 {
				cols = sess.SetSchemaLines(args)
			} else {
				text, err := readSchemaText(cmd.InOrStdin(), file)
				if err != nil {
					return failure("read schema", err)
				}
				cols = sess.SetSchemaText(text)
			}
			for _, d := range cols.Duplicates() {
				fmt.Fprintf(a.stderr, "warning: column %q appears more than once\n", d)
			}
			if err := a.save(sess); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "schema: %d columns\n", len(cols))
			return nil
		},
	}
	set.Flags().StringVarP(&file, "file", "f", "", "read the schema from this file")
	cmd.AddCommand(set)

	return cmd
}

func readSchemaText(stdin io.Reader, file string) (string, error) {
	if file != "" {
		raw, err := os.ReadFile(file)
		return string(raw), err
	}
	raw, err := io.ReadAll(stdin)
	return string(raw), err
}

func newMapCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Inspect and edit the remembered column mappings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [TABLE]",
		Short: "Print mappings as table, target, source",
		Long: "Show prints one line per mapping entry: the table name, the target\n" +
			"column and the source column, separated by tabs. An unset entry\n" +
			"prints \"-\" as its source.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.newSession()
			if err != nil {
				return err
			}
			cfg := sess.Config()

			tables := make([]string, 0, len(cfg.Mappings))
			for t := range cfg.Mappings {
				tables = append(tables, t)
			}
			sort.Strings(tables)
			if len(args) == 1 {
				tables = []string{args[0]}
			}

			for _, t := range tables {
				m := cfg.Mappings[t]
				for _, target := range mappingTargets(cfg.TargetColumns, m) {
					src := "-"
					if v := m[target]; v != nil {
						src = *v
					}
					fmt.Fprintf(a.stdout, "%s\t%s\t%s\n", t, target, src)
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set TABLE TARGET [SOURCE]",
		Short: "Map TARGET in TABLE to SOURCE, or unset it when SOURCE is omitted",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.newSession()
			if err != nil {
				return err
			}
			var src *string
			if len(args) == 3 {
				src = mapping.Src(args[2])
			}
			sess.SetMapping(args[0], args[1], src)
			return a.save(sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget every mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.newSession()
			if err != nil {
				return err
			}
			sess.ResetMappings()
			return a.save(sess)
		},
	})

	return cmd
}

// mappingTargets orders m's targets: schema order first, then the rest sorted.
func mappingTargets(schemaCols []string, m mapping.ColumnMapping) []string {
	out := make([]string, 0, len(m))
	for _, c := range schemaCols {
		if _, ok := m[c]; ok && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	var rest []string
	for t := range m {
		if !slices.Contains(out, t) {
			rest = append(rest, t)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func newPreviewCommand(a *app) *cobra.Command {
	var rows int

	cmd := &cobra.Command{
		Use:   "preview FILE...",
		Short: "Print the columns and first rows of each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rows < 0 {
				return usageError("preview: -n must not be negative")
			}
			sess, err := a.newSession()
			if err != nil {
				return err
			}
			a.upload(cmd.Context(), sess, args)

			tables := sess.Tables()
			if len(tables) == 0 {
				return failure("preview", merge.ErrNoTables)
			}
			for _, t := range tables {
				cols, head, _ := sess.Preview(t.Name, rows)
				fmt.Fprintf(a.stdout, "== %s (%d rows)\n", t.Name, len(t.Rows))
				if err := export.WriteCSV(a.stdout, &merge.Output{Columns: cols, Rows: head}); err != nil {
					return failure("preview", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&rows, "rows", "n", 0, "rows to show per file (default the config's preview_rows)")
	return cmd
}

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the run configuration given with --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.opts.ConfigPath == "" {
				return usageError("validate: --config is required")
			}
			issues := config.ValidateApp(a.cfg)
			printIssues(a.stdout, issues)
			if config.HasErrors(issues) {
				return failure(fmt.Sprintf("%s: invalid config", a.opts.ConfigPath), nil)
			}
			fmt.Fprintf(a.stdout, "%s: ok\n", a.opts.ConfigPath)
			return nil
		},
	}
}

func printIssues(w io.Writer, issues []config.Issue) {
	for _, iss := range issues {
		fmt.Fprintln(w, iss.String())
	}
}

func newServeCommand(a *app) *cobra.Command {
	var (
		addr        string
		idleTimeout time.Duration
		maxSessions int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the interactive page",
		Long: "Serve starts the web page. Each browser session gets its own schema,\n" +
			"tables and mappings, seeded from the settings document; \"Save\"\n" +
			"writes them back.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if idleTimeout <= 0 || maxSessions <= 0 {
				return usageError("--idle-timeout and --max-sessions must be positive")
			}
			if issues := config.ValidateApp(a.cfg); config.HasErrors(issues) {
				printIssues(a.stderr, issues)
				return failure("invalid config", nil)
			}
			// Fail early on a corrupt settings document.
			if _, err := a.newSession(); err != nil {
				return err
			}

			sessions := session.NewManager(a.newSession)
			sessions.IdleTimeout = idleTimeout
			sessions.MaxSessions = maxSessions
			fmt.Fprintf(a.stderr, "colmerge: serving on %s (settings %s)\n", addr, a.cfg.SettingsPath)
			if err := a.deps.serve(addr, web.New(sessions)); err != nil {
				return failure("serve", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", session.DefaultIdleTimeout, "drop browser sessions unused for this long")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", session.DefaultMaxSessions, "most browser sessions kept at once")
	return cmd
}

// upload loads paths into sess. Files that cannot be opened or parsed are
// reported on stderr and skipped. Tables are named by base name, so when two
// paths share one the later replaces the earlier, with a warning.
func (a *app) upload(ctx context.Context, sess *session.Session, paths []string) {
	uploads := make([]tableset.Upload, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		if prev, ok := seen[name]; ok && prev != p {
			fmt.Fprintf(a.stderr, "warning: %s and %s share the table name %q; %s replaces the earlier table\n", prev, p, name, p)
		}
		seen[name] = p

		f, err := os.Open(p)
		if err != nil {
			fmt.Fprintf(a.stderr, "skip %v\n", &tableset.LoadError{Name: name, Err: err})
			continue
		}
		defer f.Close()
		uploads = append(uploads, tableset.Upload{Name: name, Body: f})
	}
	for _, le := range sess.Upload(ctx, uploads) {
		fmt.Fprintf(a.stderr, "skip %v\n", le)
	}
}
