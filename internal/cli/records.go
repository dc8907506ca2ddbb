package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"opscal/internal/alert"
	appLog "opscal/internal/log"
	"opscal/internal/model"
	"opscal/internal/pipeline"
	"opscal/internal/status"
	"opscal/internal/store"
)

func newImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import FIXTURE",
		Short: "Load templates and completions from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := store.LoadFixture(args[0])
			if err != nil {
				return fmt.Errorf("failed to load fixture: %w", err)
			}

			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.db.Import(cmd.Context(), snap); err != nil {
				return fmt.Errorf("failed to import fixture: %w", err)
			}
			appLog.Info("fixture imported", "path", args[0],
				"templates", len(snap.Templates), "completions", len(snap.Completions))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d templates and %d completions\n",
				len(snap.Templates), len(snap.Completions))
			return nil
		},
	}
}

func newDoneCmd(opts *options) *cobra.Command {
	var (
		notes string
		actor string
	)

	cmd := &cobra.Command{
		Use:   "done TEMPLATE DATE",
		Short: "Mark the occurrence of TEMPLATE due on DATE (YYYY-MM-DD) as done",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			templateID, date := args[0], args[1]
			if _, err := time.Parse(model.DateLayout, date); err != nil {
				return fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
			}

			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			engine := pipeline.New(e.cfg)
			now, err := opts.now(engine.Location())
			if err != nil {
				return err
			}
			snap, err := e.db.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read store: %w", err)
			}

			viewer := opts.viewer()
			occ, ok := engine.VisibleOccurrence(snap, viewer, now, templateID, date)
			if !ok {
				return fmt.Errorf("no occurrence of %s on %s", templateID, date)
			}
			if occ.Status == model.StatusCompleted {
				return fmt.Errorf("%s is already completed", occ.Key())
			}

			if actor == "" {
				actor = viewer.ID
			}
			rec, err := e.db.CreateCompletion(cmd.Context(), status.NewCompletion(occ, actor, now, notes))
			if err != nil {
				return fmt.Errorf("failed to record completion: %w", err)
			}
			appLog.Info("completion recorded", "template", rec.TemplateID, "id", rec.ID, "by", rec.CompletedBy)
			fmt.Fprintf(cmd.OutOrStdout(), "marked %s done (record %s)\n", occ.Key(), rec.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	cmd.Flags().StringVar(&actor, "by", "", "Who completed it (defaults to --viewer-id)")
	return cmd
}

func newUndoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "undo RECORD",
		Short: "Delete a completion record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			snap, err := e.db.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read store: %w", err)
			}
			if _, ok := pipeline.New(e.cfg).VisibleCompletion(snap, opts.viewer(), args[0]); !ok {
				return fmt.Errorf("no completion record %s", args[0])
			}

			if err := e.db.DeleteCompletion(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no completion record %s", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted completion %s\n", args[0])
			return nil
		},
	}
}

func newDismissCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss KEY",
		Short: "Dismiss the alert for an occurrence (TEMPLATE@YYYY-MM-DD)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templateID, date, err := model.ParseOccurrenceKey(args[0])
			if err != nil {
				return err
			}

			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			engine := pipeline.New(e.cfg)
			now, err := opts.now(engine.Location())
			if err != nil {
				return err
			}
			snap, err := e.db.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read store: %w", err)
			}
			if _, ok := engine.VisibleOccurrence(snap, opts.viewer(), now, templateID, date); !ok {
				return fmt.Errorf("no occurrence of %s on %s", templateID, date)
			}

			if err := alert.Dismiss(e.db.Dismissals(), args[0], time.Now()); err != nil {
				return fmt.Errorf("failed to dismiss %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dismissed %s\n", args[0])
			return nil
		},
	}
}
