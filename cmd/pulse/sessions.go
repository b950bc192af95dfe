package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/pulse/engine/app"
	"github.com/WessleyAI/pulse/engine/capture"
	"github.com/WessleyAI/pulse/pkg/natsutil"
)

var (
	listLimit      int
	pruneOlderThan time.Duration
	pruneShotsOnly bool
	pruneDryRun    bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List indexed research sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rows, err := a.Index.List(cmd.Context(), listLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tSUCCESS\tUPDATED\tQUERY")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\t%s\n", r.ID, r.Status, r.SuccessRate, r.UpdatedAt.Format(time.RFC3339), r.Query)
		}
		return tw.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session, with its provenance when Neo4j is configured",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		row, err := a.Index.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := map[string]any{"session": row}
		if a.Graph != nil {
			if sources, err := a.Graph.Sources(cmd.Context(), row.ID); err == nil {
				out["sources"] = sources
			} else {
				a.Log.Warn("provenance unavailable", "session", row.ID, "err", err)
			}
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete screenshots and sessions older than a cutoff",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		maxAge := pruneOlderThan
		if maxAge <= 0 {
			maxAge = cfg.Capture.MaxAge
		}
		now := time.Now()
		res := pruneResult{}
		if !pruneDryRun {
			if res.Screenshots, err = capture.Cleanup(a.Sessions.Root(), maxAge, now); err != nil {
				return err
			}
		}
		if !pruneShotsOnly {
			if res.Sessions, err = pruneSessions(cmd.Context(), a, now.Add(-maxAge), pruneDryRun); err != nil {
				return err
			}
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

type pruneResult struct {
	Screenshots int      `json:"screenshots_removed"`
	Sessions    []string `json:"sessions_removed"`
}

// pruneSessions removes every trace of sessions last updated before
// cutoff. Graph and vector deletes are best effort; the index row goes
// last so a failed run can be retried.
func pruneSessions(ctx context.Context, a *app.App, cutoff time.Time, dryRun bool) ([]string, error) {
	rows, err := a.Index.OlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	removed := []string{}
	for _, r := range rows {
		if dryRun {
			removed = append(removed, r.ID)
			continue
		}
		log := a.Log.With("session", r.ID)
		if a.Graph != nil {
			if err := a.Graph.DeleteSession(ctx, r.ID); err != nil {
				log.Warn("graph session not deleted", "err", err)
			}
		}
		if a.Vectors != nil {
			if err := a.Vectors.DeleteSession(ctx, r.ID); err != nil {
				log.Warn("evidence vectors not deleted", "err", err)
			}
		}
		if err := a.Sessions.Remove(r.ID); err != nil {
			return removed, err
		}
		if err := a.Index.Delete(ctx, r.ID); err != nil {
			return removed, err
		}
		log.Info("session pruned", "updated_at", r.UpdatedAt)
		removed = append(removed, r.ID)
	}
	return removed, nil
}

var watchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Stream pipeline events from NATS as JSON lines",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.NATS == nil {
			return fmt.Errorf("pulse: watch needs nats.url (or NATS_URL)")
		}

		subject := a.Bus.Subject(">")
		if len(args) == 1 {
			subject = a.Bus.Subject(args[0], ">")
		}
		out := cmd.OutOrStdout()
		lines := make(chan []byte, 64)
		sub, err := natsutil.Subscribe(a.NATS, subject, func(_ context.Context, subj string, v json.RawMessage) {
			line, _ := json.Marshal(map[string]any{"subject": subj, "event": v})
			select {
			case lines <- line:
			default:
				a.Log.Warn("watch output behind, event dropped", "subject", subj)
			}
		})
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		a.Log.Info("watching", "subject", subject)

		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case line := <-lines:
				fmt.Fprintf(out, "%s\n", line)
			}
		}
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum sessions to list")
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "age cutoff (defaults to capture.max_age)")
	pruneCmd.Flags().BoolVar(&pruneShotsOnly, "screenshots-only", false, "only delete old screenshots")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "list sessions that would be removed")
	sessionsCmd.AddCommand(showCmd)
	rootCmd.AddCommand(sessionsCmd, pruneCmd, watchCmd)
}
