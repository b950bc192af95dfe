package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/pulse/engine/app"
	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/modules"
	"github.com/WessleyAI/pulse/engine/pipeline"
	"github.com/WessleyAI/pulse/engine/store"
)

var (
	sessionID   string
	contextKVs  []string
	moduleNames []string
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Run a full research session: collect, synthesize, generate, compile",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qctx, err := parseContext(contextKVs)
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.Pipeline.Run(cmd.Context(), pipeline.Request{
			Query:     strings.Join(args, " "),
			Context:   qctx,
			SessionID: sessionID,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect <query>",
	Short: "Run only the collection phase into a new or given session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		if err := domain.ValidateQuery(query); err != nil {
			return err
		}
		qctx, err := parseContext(contextKVs)
		if err != nil {
			return err
		}
		id := sessionID
		if id == "" {
			id = uuid.NewString()
		}
		if err := domain.ValidateSessionID(id); err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Collector.Collect(cmd.Context(), id, query, qctx)
		if err != nil {
			return err
		}
		stats := rec.Statistics
		upsert(cmd, a, store.SessionRow{ID: id, Query: query, Status: store.StatusRunning, Statistics: &stats, CreatedAt: rec.StartedAt})
		return printJSON(cmd.OutOrStdout(), map[string]any{"session_id": id, "statistics": rec.Statistics})
	},
}

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize <session-id>",
	Short: "Synthesize a collected session into structured insights",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		syn, err := a.Synth.Synthesize(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), syn)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <session-id>",
	Short: "Generate analysis modules for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		gen := a.Modules
		if len(moduleNames) > 0 {
			specs, err := modules.Select(a.Specs, moduleNames)
			if err != nil {
				return err
			}
			gen = modules.New(modules.Deps{
				Gen:      a.Gen,
				Sessions: a.Sessions,
				Specs:    specs,
				Bus:      a.Bus,
				Metrics:  a.Metrics,
				Logger:   a.Log,
			}, cfg.Generator)
		}
		res, err := gen.Generate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"session_id": res.SessionID,
			"modules":    len(res.Artifacts),
			"primary":    res.Count(domain.MethodPrimary),
			"fallback":   res.Count(domain.MethodFallback),
			"emergency":  res.Count(domain.MethodEmergency),
		})
	},
}

var compileCmd = &cobra.Command{
	Use:   "compile <session-id>",
	Short: "Compile the final and complete reports of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Compiler.Compile(args[0])
		if err != nil {
			return err
		}
		row := store.SessionRow{
			ID:          args[0],
			Status:      store.StatusCompleted,
			ReportPath:  res.Final.Path,
			SuccessRate: res.Final.Statistics.SuccessRate,
		}
		if prev, err := a.Index.Get(cmd.Context(), args[0]); err == nil {
			row.Query, row.Statistics, row.CreatedAt = prev.Query, prev.Statistics, prev.CreatedAt
		}
		upsert(cmd, a, row)
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, collectCmd} {
		c.Flags().StringVar(&sessionID, "session", "", "session id (generated when empty)")
		c.Flags().StringArrayVar(&contextKVs, "context", nil, "query context as key=value (repeatable)")
	}
	generateCmd.Flags().StringSliceVar(&moduleNames, "modules", nil, "only generate these modules")
	rootCmd.AddCommand(runCmd, collectCmd, synthesizeCmd, generateCmd, compileCmd)
}

// parseContext turns key=value pairs into a query context.
func parseContext(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("pulse: context %q is not key=value", kv)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, domain.ValidateContext(out)
}

// upsert keeps the session index current for single-step commands.
func upsert(cmd *cobra.Command, a *app.App, row store.SessionRow) {
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if err := a.Index.Upsert(cmd.Context(), row); err != nil {
		a.Log.Warn("session index not updated", "session", row.ID, "err", err)
	}
}
