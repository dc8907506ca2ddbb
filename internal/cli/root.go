// Package cli implements the opscal command line.
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"opscal/internal/config"
	appLog "opscal/internal/log"
	"opscal/internal/model"
	"opscal/internal/store"
)

const version = "0.1.0"

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath  string
	database    string
	fixture     string
	viewerID    string
	role        string
	departments string
	categories  string
	at          string
}

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "opscal",
		Short:         "Compliance calendar for restaurant operations",
		Long:          `opscal expands recurring compliance tasks into dated occurrences, tracks their completion and raises alerts for what is due or overdue.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "/etc/opscal/config.yaml", "Path to config file")
	pf.StringVar(&opts.database, "db", "", "SQLite database path (overrides config if set)")
	pf.StringVar(&opts.fixture, "fixture", "", "Evaluate a YAML fixture instead of the database (read-only commands)")
	pf.StringVar(&opts.viewerID, "viewer-id", "", "Staff id of the viewer")
	pf.StringVar(&opts.role, "role", "administrator", "Role of the viewer")
	pf.StringVar(&opts.departments, "departments", "", "Comma-separated departments of the viewer")
	pf.StringVar(&opts.categories, "categories", "", "Comma-separated staff categories of the viewer")
	pf.StringVar(&opts.at, "at", "", "Evaluate as of this RFC3339 time or YYYY-MM-DD date instead of now")

	root.AddCommand(
		newServeCmd(opts),
		newCalendarCmd(opts),
		newAlertsCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newDoneCmd(opts),
		newUndoCmd(opts),
		newDismissCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// env is what most subcommands need: the effective config and an open store.
type env struct {
	cfg *config.Config
	db  *store.SQLite
}

func (e *env) Close() {
	if err := e.db.Close(); err != nil {
		appLog.Error("failed to close database", err)
	}
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.database != "" {
		cfg.Database = o.database
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func (o *options) open() (*env, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database, err)
	}
	return &env{cfg: cfg, db: db}, nil
}

func (o *options) viewer() model.Viewer {
	return model.Viewer{
		ID:          strings.TrimSpace(o.viewerID),
		Role:        strings.TrimSpace(o.role),
		Departments: splitList(o.departments),
		Categories:  splitList(o.categories),
	}
}

// now resolves --at in loc, falling back to the wall clock.
func (o *options) now(loc *time.Location) (time.Time, error) {
	return parseAt(o.at, loc, time.Now)
}

func parseAt(v string, loc *time.Location, clock func() time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return clock().In(loc), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(loc), nil
	}
	if t, err := time.ParseInLocation(model.DateLayout, v, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --at value %q: want RFC3339 or YYYY-MM-DD", v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
