package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"downtrack/internal/app"
	"downtrack/internal/config"
	"downtrack/internal/db"
	"downtrack/internal/domain"
	"downtrack/internal/engine"
	"downtrack/internal/hooks"
	"downtrack/internal/migrate"
	"downtrack/internal/repo"
	"downtrack/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dt",
	Short: "Downtrack CLI",
	Long: `Downtrack runs downtime trackers for tabletop campaigns.
Core concepts:
- Workspace: your .downtrack directory holding the database; configs live in the DB and are imported explicitly.
- Tracker: one long-term project (dig the tunnel, open the shop) split into phases.
- Phases: ordered stages; each holds groups of skill checks with progress targets.
- Checks: rolls against a DC or difficulty tier; dependencies between checks gate what is available.
- Log: the last 50 entries, newest first; state can always be rebuilt from it.
- GM: the single writer. Players file roll requests that the GM applies or rejects.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DOWNTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("tracker", "", "tracker id (overrides workspace default)")
	rootCmd.PersistentFlags().String("hook-url", "", "webhook endpoint for hook: and macro: config entries")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("tracker", rootCmd.PersistentFlags().Lookup("tracker"))
	_ = viper.BindPFlag("hook-url", rootCmd.PersistentFlags().Lookup("hook-url"))
}

func registerCommands() {
	rootCmd.AddCommand(trackerCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(checksCmd())
	rootCmd.AddCommand(attemptCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rebuildCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(inventoryCmd())
	rootCmd.AddCommand(serveCmd())
}

func trackerCmd() *cobra.Command {
	trk := &cobra.Command{Use: "tracker", Short: "Manage trackers"}
	trk.AddCommand(trackerListCmd())
	trk.AddCommand(trackerCreateCmd())
	trk.AddCommand(trackerShowCmd())
	trk.AddCommand(trackerUpdateCmd())
	trk.AddCommand(trackerDeleteCmd())
	trk.AddCommand(trackerConfigCmd())
	trk.AddCommand(trackerUseCmd())
	return trk
}

func trackerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List trackers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineOnly(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListTrackers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Created"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Status, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func trackerCreateCmd() *cobra.Command {
	var id, name, desc, configPath string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withEngineOnly(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				cfg := config.Default(id)
				if configPath != "" {
					parsed, err := config.FromFile(configPath)
					if err != nil {
						return err
					}
					cfg = parsed
					cfg.Tracker.ID = id
				}
				t, err := e.InitTracker(ctx, domain.Tracker{ID: id, Name: name, Description: desc}, cfg, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tracker id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config (defaults to a starter template)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func trackerShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				t, err := e.Repo.GetTracker(ctx, trackerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func trackerUpdateCmd() *cobra.Command {
	var status, description string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				var descPtr *string
				if cmd.Flags().Changed("description") {
					descPtr = &description
				}
				if err := e.Repo.UpdateTracker(ctx, trackerID, status, descPtr); err != nil {
					return err
				}
				t, err := e.Repo.GetTracker(ctx, trackerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (active, archived)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func trackerDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				return e.Repo.DeleteTracker(ctx, trackerID)
			})
		},
	}
	return cmd
}

func trackerUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current tracker for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trackerID := strings.TrimSpace(args[0])
			if trackerID == "" {
				return fmt.Errorf("tracker id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "DOWNTRACK_TRACKER", trackerID); err != nil {
				return err
			}
			fmt.Printf("Set DOWNTRACK_TRACKER=%s in %s/.env\n", trackerID, workspace)
			return nil
		},
	}
	return cmd
}

func trackerConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage tracker config",
	}
	cfg.AddCommand(trackerConfigShowCmd())
	cfg.AddCommand(trackerConfigImportCmd())
	cfg.AddCommand(trackerConfigValidateCmd())
	cfg.AddCommand(trackerConfigInitCmd())
	return cfg
}

func trackerConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show tracker config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, cfg *config.Config) error {
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				data, err := cfg.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			})
		},
	}
	return cmd
}

func trackerConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import tracker config from YAML and replay the log under it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				cfg.Tracker.ID = trackerID
				state, err := e.ImportConfig(ctx, trackerID, cfg, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				printStatus(trackerID, cfg, state)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func trackerConfigValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file without applying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.FromFile(filePath); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func trackerConfigInitCmd() *cobra.Command {
	var id, out string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = "my-tracker"
			}
			data := config.GenerateDefault(id)
			if out == "" {
				fmt.Print(data)
				return nil
			}
			return os.WriteFile(out, []byte(data), 0o644)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tracker id for the template")
	cmd.Flags().StringVar(&out, "out", "", "output file (stdout if empty)")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tracker status",
		Long:  "See the scoreboard for your tracker: the active phase, per-phase progress, and failure streaks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, cfg *config.Config) error {
				state, err := e.Repo.GetState(ctx, trackerID)
				if err != nil {
					return err
				}
				printStatus(trackerID, cfg, state)
				return nil
			})
		},
	}
	return cmd
}

func printStatus(trackerID string, cfg *config.Config, state domain.TrackerState) {
	if viper.GetBool("json") {
		_ = printJSON(map[string]any{
			"tracker_id":      trackerID,
			"active_phase_id": state.ActivePhaseID,
			"check_count":     state.CheckCount,
			"phases":          state.Phases,
		})
		return
	}
	if state.ActivePhaseID == "" {
		fmt.Printf("Tracker: %s (complete, %d checks)\n", trackerID, state.CheckCount)
	} else {
		fmt.Printf("Tracker: %s (active phase %s, %d checks)\n", trackerID, state.ActivePhaseID, state.CheckCount)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Phase", "Progress", "Target", "Done", "Fail streak"})
	for i := range cfg.Phases {
		p := &cfg.Phases[i]
		var progress, streak int
		var done bool
		if pp := state.Phases[p.ID]; pp != nil {
			progress, done, streak = pp.Progress, pp.Completed, pp.FailuresInRow
		}
		name := p.ID
		if p.ID == state.ActivePhaseID {
			name = "* " + name
		}
		tw.AppendRow(table.Row{name, progress, cfg.PhaseTarget(p), done, streak})
	}
	tw.Render()
}

func checksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checks",
		Short: "List unlocked checks in the active phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, cfg *config.Config) error {
				views, err := e.Available(ctx, trackerID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Check", "Name", "Skill", "Difficulty", "Progress"})
				for _, v := range views {
					diff := v.Params.DifficultyLabel(cfg)
					if v.Params.Advantage {
						diff += " (adv)"
					}
					if v.Params.Disadvantage {
						diff += " (dis)"
					}
					tw.AppendRow(table.Row{v.Check.ID, v.Check.Name, v.Params.Skill, diff, fmt.Sprintf("%d/%d", v.Progress, v.Check.Target)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func attemptCmd() *cobra.Command {
	var modifier int
	var manual string
	var seed int64
	var actorID string
	var force bool
	cmd := &cobra.Command{
		Use:   "attempt <check-id>",
		Short: "Attempt a check",
		Long:  "Roll a check in the active phase. In dc and tiered modes the roll is against the effective DC; in narrative mode declare the outcome with --manual.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				actor := actorID
				if actor == "" {
					actor = viper.GetString("actor-id")
				}
				entry, err := e.Attempt(ctx, engine.AttemptOptions{
					TrackerID: trackerID,
					CheckID:   args[0],
					ActorID:   actor,
					By:        viper.GetString("actor-id"),
					Modifier:  modifier,
					Manual:    manual,
					Seed:      seed,
					Force:     force,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entry)
				}
				printLogEntry(entry)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&modifier, "modifier", 0, "flat roll modifier")
	cmd.Flags().StringVar(&manual, "manual", "", "declared outcome (success, failure, triumph, despair)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "deterministic roll seed")
	cmd.Flags().StringVar(&actorID, "actor", "", "character making the attempt (defaults to --actor-id)")
	cmd.Flags().BoolVar(&force, "force", false, "bypass dependency locks")
	return cmd
}

func printLogEntry(e domain.LogEntry) {
	verdict := "failure"
	if e.Succeeded() {
		verdict = "success"
	}
	if e.Outcome != "" {
		verdict = e.Outcome
	}
	if e.Critical {
		verdict += " (critical)"
	}
	if e.Roll != "" {
		fmt.Printf("#%d %s: %s rolled %s vs %s -> %s (+%d progress)\n",
			e.Number, e.CheckName, e.ActorID, e.Roll, e.Difficulty, verdict, e.Progress)
	} else {
		fmt.Printf("#%d %s: %s -> %s (+%d progress)\n", e.Number, e.CheckName, e.ActorID, verdict, e.Progress)
	}
	if e.Line != "" {
		fmt.Println("  " + e.Line)
	}
	if e.FailureEvent != "" {
		fmt.Println("  Complication: " + e.FailureEvent)
	}
	if e.NextPhaseID != "" {
		fmt.Printf("  Phase complete; next up: %s\n", e.NextPhaseID)
	}
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{
		Use:   "request",
		Short: "Player roll requests",
		Long:  "Players file requests against unlocked checks; the GM applies or rejects them. Pending requests expire after a day.",
	}
	req.AddCommand(requestSubmitCmd())
	req.AddCommand(requestListCmd())
	req.AddCommand(requestApplyCmd())
	req.AddCommand(requestRejectCmd())
	return req
}

func requestSubmitCmd() *cobra.Command {
	var modifier int
	var manual, note string
	cmd := &cobra.Command{
		Use:   "submit <check-id>",
		Short: "Submit a roll request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				r, err := e.SubmitRequest(ctx, trackerID, args[0], viper.GetString("actor-id"), manual, modifier, note)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().IntVar(&modifier, "modifier", 0, "flat roll modifier")
	cmd.Flags().StringVar(&manual, "manual", "", "declared outcome for narrative mode")
	cmd.Flags().StringVar(&note, "note", "", "note for the GM")
	return cmd
}

func requestListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List roll requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				items, err := e.Repo.ListRollRequests(ctx, trackerID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Check", "Actor", "Status", "Note", "Expires"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.CheckID, r.ActorID, r.Status, r.Note, r.ExpiresAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, applied, rejected)")
	return cmd
}

func requestApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <request-id>",
		Short: "Apply a pending request (GM)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				entry, err := e.ApplyRequest(ctx, trackerID, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entry)
				}
				printLogEntry(entry)
				return nil
			})
		},
	}
	return cmd
}

func requestRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a pending request (GM)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				return e.RejectRequest(ctx, trackerID, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Tracker log"}
	lg.AddCommand(logTailCmd())
	lg.AddCommand(logEditCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent log entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				state, err := e.Repo.GetState(ctx, trackerID)
				if err != nil {
					return err
				}
				log := state.Log
				if n > 0 && len(log) > n {
					log = log[:n]
				}
				if viper.GetBool("json") {
					return printJSON(log)
				}
				for _, entry := range log {
					printLogEntry(entry)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func logEditCmd() *cobra.Command {
	var success, outcome string
	var del bool
	cmd := &cobra.Command{
		Use:   "edit <entry-id>",
		Short: "Correct or remove a log entry, then rebuild state (GM)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var edit engine.LogEdit
			switch success {
			case "":
			case "true", "false":
				v := success == "true"
				edit.SetSuccess = &v
			default:
				return fmt.Errorf("--success must be true or false")
			}
			edit.SetOutcome = outcome
			edit.Delete = del
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, cfg *config.Config) error {
				state, err := e.EditLogEntry(ctx, trackerID, args[0], edit, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				printStatus(trackerID, cfg, state)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&success, "success", "", "set the success flag (true or false)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "set the narrative outcome")
	cmd.Flags().BoolVar(&del, "delete", false, "remove the entry")
	return cmd
}

func rebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Replay the log and rebuild tracker state (GM)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, cfg *config.Config) error {
				state, err := e.RebuildState(ctx, trackerID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				printStatus(trackerID, cfg, state)
				return nil
			})
		},
	}
	return cmd
}

func stateCmd() *cobra.Command {
	st := &cobra.Command{Use: "state", Short: "Export and import tracker state"}
	st.AddCommand(stateExportCmd())
	st.AddCommand(stateImportCmd())
	return st
}

func stateExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export tracker state as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				state, err := e.Repo.GetState(ctx, trackerID)
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(state, "", "  ")
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Println(string(data))
					return nil
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (stdout if empty)")
	return cmd
}

func stateImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import tracker state from JSON and replay its log (GM)",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var imported domain.TrackerState
			if err := json.Unmarshal(data, &imported); err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, cfg *config.Config) error {
				state, err := e.ImportState(ctx, trackerID, imported, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				printStatus(trackerID, cfg, state)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to state JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func memberCmd() *cobra.Command {
	mem := &cobra.Command{
		Use:   "member",
		Short: "Manage tracker members",
		Long:  "Members link actors to a tracker with a role. The gm role is the single writer; until a gm is registered the tracker is open for solo use.",
	}
	mem.AddCommand(memberAddCmd())
	mem.AddCommand(memberListCmd())
	mem.AddCommand(memberRemoveCmd())
	return mem
}

func memberAddCmd() *cobra.Command {
	var actor, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return fmt.Errorf("--actor required")
			}
			if role != domain.RoleGM && role != domain.RolePlayer {
				return fmt.Errorf("--role must be gm or player")
			}
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				if err := e.Auth.RequireGM(ctx, trackerID, viper.GetString("actor-id")); err != nil {
					return err
				}
				m := domain.Member{TrackerID: trackerID, ActorID: actor, Role: role}
				if err := e.Repo.UpsertMember(ctx, m); err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", domain.RolePlayer, "role (gm, player)")
	return cmd
}

func memberListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				items, err := e.Repo.ListMembers(ctx, trackerID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Actor", "Role", "Since"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ActorID, m.Role, m.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func memberRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <actor-id>",
		Short: "Remove a member (GM)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, e *engine.Engine, trackerID string, _ *config.Config) error {
				if err := e.Auth.RequireGM(ctx, trackerID, viper.GetString("actor-id")); err != nil {
					return err
				}
				return e.Repo.DeleteMember(ctx, trackerID, args[0])
			})
		},
	}
	return cmd
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{Use: "keys", Short: "Manage API keys for the HTTP server"}
	keys.AddCommand(keysCreateCmd())
	keys.AddCommand(keysListCmd())
	keys.AddCommand(keysDeleteCmd())
	return keys
}

func keysCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.NewString() + uuid.NewString()
				k := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": k.ID, "actor_id": k.ActorID, "key": raw})
				}
				fmt.Printf("Key %s for %s:\n%s\n", k.ID, k.ActorID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keysListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func keysDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func inventoryCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Show an actor's reward items and currency",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListInventory(ctx, actor)
				if err != nil {
					return err
				}
				currency, err := r.GetCurrency(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"actor_id": actor, "items": items, "currency": currency})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Item", "Qty"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ItemRef, it.Quantity})
				}
				tw.Render()
				fmt.Printf("Currency: %d\n", currency)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := newEngine(conn)
			authCfg := server.AuthConfig{
				JWTSecret:        os.Getenv("DOWNTRACK_JWT_SECRET"),
				AllowActorHeader: allowActorHeader,
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("DOWNTRACK_JWT_SECRET is required unless --allow-actor-header is set")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Downtrack API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust the X-Actor-Id header (dev only)")
	return cmd
}

// --- helpers ---

func withTracker(ctx context.Context, fn func(context.Context, *engine.Engine, string, *config.Config) error) error {
	return withEngineOnly(ctx, func(ctx context.Context, e *engine.Engine) error {
		trackerID, cfg, err := app.ResolveTrackerAndConfig(ctx, viper.GetString("tracker"), viper.GetString("actor-id"), e)
		if err != nil {
			return err
		}
		return fn(ctx, e, trackerID, cfg)
	})
}

func withEngineOnly(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, newEngine(conn))
}

// newEngine applies CLI-level engine configuration. With --hook-url (or
// DOWNTRACK_HOOK_URL) set, check hook: and phase macro: entries POST to that
// endpoint instead of being dropped.
func newEngine(conn *sql.DB) *engine.Engine {
	e := engine.New(conn)
	if url := viper.GetString("hook-url"); url != "" {
		e.Hooks = hooks.HTTPInvoker{URL: url}
	}
	return e
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
