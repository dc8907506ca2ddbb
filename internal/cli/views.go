package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"opscal/internal/aggregate"
	"opscal/internal/alert"
	"opscal/internal/feed"
	"opscal/internal/model"
	"opscal/internal/pipeline"
	"opscal/internal/store"
)

// evaluate runs the pipeline for the viewer described by the flags. With
// --fixture the snapshot comes from the YAML file and nothing is dismissed.
func (o *options) evaluate(cmd *cobra.Command) (pipeline.View, error) {
	if o.fixture != "" {
		cfg, err := o.loadConfig()
		if err != nil {
			return pipeline.View{}, err
		}
		snap, err := store.LoadFixture(o.fixture)
		if err != nil {
			return pipeline.View{}, fmt.Errorf("failed to load fixture: %w", err)
		}
		engine := pipeline.New(cfg)
		now, err := o.now(engine.Location())
		if err != nil {
			return pipeline.View{}, err
		}
		return engine.Evaluate(snap, o.viewer(), now, nil), nil
	}

	e, err := o.open()
	if err != nil {
		return pipeline.View{}, err
	}
	defer e.Close()

	engine := pipeline.New(e.cfg)
	now, err := o.now(engine.Location())
	if err != nil {
		return pipeline.View{}, err
	}
	snap, err := e.db.Snapshot(cmd.Context())
	if err != nil {
		return pipeline.View{}, fmt.Errorf("failed to read store: %w", err)
	}
	return engine.Evaluate(snap, o.viewer(), now, e.db.Dismissals()), nil
}

func newCalendarCmd(opts *options) *cobra.Command {
	var (
		date    string
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Show occurrences grouped by day and category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := opts.evaluate(cmd)
			if err != nil {
				return err
			}
			buckets := view.Buckets
			if date != "" {
				if _, err := time.Parse(model.DateLayout, date); err != nil {
					return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
				}
				buckets = aggregate.ForDate(buckets, date)
			}

			out := cmd.OutOrStdout()
			if summary {
				return renderSummaries(out, aggregate.Summarize(buckets))
			}
			if err := renderCalendar(out, buckets); err != nil {
				return err
			}
			for _, x := range view.Excluded {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped template %s: %s\n", x.TemplateID, x.Reason)
			}
			for _, id := range view.Truncated {
				fmt.Fprintf(cmd.ErrOrStderr(), "template %s truncated at the occurrence cap\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Only show this day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Show per-category totals instead of items")
	return cmd
}

func newAlertsCmd(opts *options) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List reminders for due and overdue occurrences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := opts.evaluate(cmd)
			if err != nil {
				return err
			}
			alerts := view.Alerts
			if !all {
				alerts = alert.Active(alerts)
			}
			renderAlerts(cmd.OutOrStdout(), alerts)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include dismissed alerts")
	return cmd
}

func newExportCmd(opts *options) *cobra.Command {
	var (
		output string
		name   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the viewer's occurrences as an iCalendar feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := opts.evaluate(cmd)
			if err != nil {
				return err
			}
			body := feed.Render(view.Occurrences, time.Now(), name)
			if output == "" || output == "-" {
				_, err := io.WriteString(cmd.OutOrStdout(), body)
				return err
			}
			if err := os.WriteFile(output, []byte(body), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d occurrences to %s\n", len(view.Occurrences), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&name, "name", "opscal", "Calendar name")
	return cmd
}

func renderCalendar(w io.Writer, buckets []model.Bucket) error {
	if len(buckets) == 0 {
		fmt.Fprintln(w, "No occurrences.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tCATEGORY\tTASK\tPRIORITY\tSTATUS")
	for _, b := range buckets {
		for _, occ := range b.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				b.Date,
				b.Category,
				occ.Name,
				occ.Priority,
				statusLabel(occ),
			)
		}
	}
	return tw.Flush()
}

func statusLabel(occ model.Occurrence) string {
	if occ.Cancelled {
		return dimStyle.Render("cancelled")
	}
	return statusStyle(occ.Status).Render(string(occ.Status))
}

func renderSummaries(w io.Writer, sums []aggregate.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tTOTAL\tACTIVE\tOVERDUE\tCOMPLETED")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", s.Category, s.Total, s.Active, s.Overdue, s.Completed)
	}
	return tw.Flush()
}

func renderAlerts(w io.Writer, alerts []model.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "No alerts.")
		return
	}
	for _, a := range alerts {
		label := severityStyle(a.Severity).Render(fmt.Sprintf("%-8s", strings.ToUpper(string(a.Severity))))
		line := fmt.Sprintf("%s %s  %s", label, a.Message, dimStyle.Render(a.OccurrenceRef))
		if a.Dismissed {
			line += dimStyle.Render(" (dismissed)")
		}
		fmt.Fprintln(w, line)
	}
}
