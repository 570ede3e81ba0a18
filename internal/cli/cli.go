package cli

import (
	"fmt"
	"os"
	"time"

	internal_gateway "github.com/1ambda/dataops-platform-sub014/internal/gateway"
	internal_http "github.com/1ambda/dataops-platform-sub014/internal/http"
	"github.com/1ambda/dataops-platform-sub014/internal/log"
	internal_specstore "github.com/1ambda/dataops-platform-sub014/internal/specstore"
	internal_storage "github.com/1ambda/dataops-platform-sub014/internal/storage"
	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/1ambda/dataops-platform-sub014/pkg/service"
	"github.com/1ambda/dataops-platform-sub014/pkg/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type deps struct {
	store  *internal_storage.PostgresStore
	wfSvc  *service.WorkflowService
	runSvc *service.RunService
}

func (d *deps) close() {
	if err := d.store.Close(); err != nil {
		log.GetLogger().Errorf("Failed to close store: %v", err)
	}
}

func initDeps(cmd *cobra.Command) *deps {
	if err := godotenv.Load(); err != nil {
		log.GetLogger().Debugf("No .env file found: %v", err)
	}

	dbConnStr, _ := cmd.Flags().GetString("db")
	if dbConnStr == "" {
		dbConnStr = os.Getenv("DATABASE_URL")
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}

	schedulerURL, _ := cmd.Flags().GetString("scheduler-url")
	if schedulerURL == "" {
		schedulerURL = os.Getenv("SCHEDULER_URL")
	}
	gw := internal_gateway.NewAirflowGateway(internal_gateway.Config{
		BaseURL:  schedulerURL,
		Username: os.Getenv("SCHEDULER_USERNAME"),
		Password: os.Getenv("SCHEDULER_PASSWORD"),
	})

	specRoot, _ := cmd.Flags().GetString("spec-root")
	if specRoot == "" {
		specRoot = os.Getenv("SPEC_ROOT")
	}
	specs := internal_specstore.NewFileStore(specRoot)

	logger := log.GetLogger()
	return &deps{
		store:  store,
		wfSvc:  service.NewWorkflowService(store, gw, specs, logger),
		runSvc: service.NewRunService(store, gw, logger),
	}
}

func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("db", "", "Database connection string (or DATABASE_URL)")
	rootCmd.PersistentFlags().String("scheduler-url", "", "Scheduler REST API base URL (or SCHEDULER_URL)")
	rootCmd.PersistentFlags().String("spec-root", "specs", "Root directory of the spec store (or SPEC_ROOT)")

	registerCmd := &cobra.Command{
		Use:   "register [dataset]",
		Short: "Register a workflow for a dataset",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			d := initDeps(cmd)
			defer d.close()

			specFile, _ := cmd.Flags().GetString("spec-file")
			specText, err := os.ReadFile(specFile)
			if err != nil {
				fatalf("Error: failed to read spec file: %v\n", err)
			}
			cron, _ := cmd.Flags().GetString("cron")
			timezone, _ := cmd.Flags().GetString("timezone")
			owner, _ := cmd.Flags().GetString("owner")
			team, _ := cmd.Flags().GetString("team")
			description, _ := cmd.Flags().GetString("description")
			sourceType, _ := cmd.Flags().GetString("source-type")

			wf, err := d.wfSvc.Register(cmd.Context(), service.RegisterRequest{
				DatasetName: args[0],
				SourceType:  models.SourceType(sourceType),
				Schedule:    models.Schedule{Cron: cron, Timezone: timezone},
				Owner:       owner,
				Team:        team,
				Description: description,
				SpecText:    string(specText),
			})
			if err != nil {
				fatalf("Error: failed to register workflow: %v\n", err)
			}
			fmt.Fprintf(os.Stdout, "Registered workflow '%s' (dag: %s)\n", wf.DatasetName, wf.SchedulerDagID)
		},
	}
	registerCmd.Flags().String("spec-file", "", "Path to the workflow spec file")
	registerCmd.Flags().String("cron", "", "Cron schedule expression")
	registerCmd.Flags().String("timezone", "UTC", "Schedule timezone")
	registerCmd.Flags().String("owner", "", "Workflow owner")
	registerCmd.Flags().String("team", "", "Owning team")
	registerCmd.Flags().String("description", "", "Workflow description")
	registerCmd.Flags().String("source-type", string(models.ManualSourceType), "Spec source type (MANUAL or CODE)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered workflows",
		Run: func(cmd *cobra.Command, args []string) {
			d := initDeps(cmd)
			defer d.close()

			filter := storage.WorkflowFilter{}
			if status, _ := cmd.Flags().GetString("status"); status != "" {
				st := models.WorkflowStatus(status)
				filter.Status = &st
			}
			filter.Owner, _ = cmd.Flags().GetString("owner")
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			filter.Offset, _ = cmd.Flags().GetInt("offset")

			workflows, err := d.wfSvc.ListWorkflows(filter)
			if err != nil {
				fatalf("Error: failed to list workflows: %v\n", err)
			}
			if len(workflows) == 0 {
				fmt.Fprintf(os.Stdout, "No workflows found.\n")
				return
			}
			for _, wf := range workflows {
				fmt.Fprintf(os.Stdout, "- %s [%s] owner=%s cron=%q created=%s\n",
					wf.DatasetName, wf.Status, wf.Owner, wf.CronExpr, wf.CreatedAt.Format(time.RFC3339))
			}
		},
	}
	listCmd.Flags().String("status", "", "Filter by status (ACTIVE, PAUSED)")
	listCmd.Flags().String("owner", "", "Filter by owner")
	listCmd.Flags().Int("limit", 50, "Page size")
	listCmd.Flags().Int("offset", 0, "Page offset")

	pauseCmd := &cobra.Command{
		Use:   "pause [dataset]",
		Short: "Pause a workflow's schedule",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			d := initDeps(cmd)
			defer d.close()
			reason, _ := cmd.Flags().GetString("reason")
			by, _ := cmd.Flags().GetString("by")
			wf, err := d.wfSvc.Pause(cmd.Context(), args[0], reason, by)
			if err != nil {
				fatalf("Error: failed to pause workflow: %v\n", err)
			}
			fmt.Fprintf(os.Stdout, "Paused workflow '%s'\n", wf.DatasetName)
		},
	}
	pauseCmd.Flags().String("reason", "", "Reason for pausing")
	pauseCmd.Flags().String("by", "", "Operator identity")

	unpauseCmd := &cobra.Command{
		Use:   "unpause [dataset]",
		Short: "Resume a paused workflow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			d := initDeps(cmd)
			defer d.close()
			by, _ := cmd.Flags().GetString("by")
			wf, err := d.wfSvc.Unpause(cmd.Context(), args[0], by)
			if err != nil {
				fatalf("Error: failed to unpause workflow: %v\n", err)
			}
			fmt.Fprintf(os.Stdout, "Unpaused workflow '%s'\n", wf.DatasetName)
		},
	}
	unpauseCmd.Flags().String("by", "", "Operator identity")

	unregisterCmd := &cobra.Command{
		Use:   "unregister [dataset]",
		Short: "Unregister a workflow (soft delete)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			d := initDeps(cmd)
			defer d.close()
			force, _ := cmd.Flags().GetBool("force")
			by, _ := cmd.Flags().GetString("by")
			wf, err := d.wfSvc.Unregister(cmd.Context(), args[0], force, by)
			if err != nil {
				fatalf("Error: failed to unregister workflow: %v\n", err)
			}
			fmt.Fprintf(os.Stdout, "Unregistered workflow '%s'\n", wf.DatasetName)
		},
	}
	unregisterCmd.Flags().Bool("force", false, "Skip the active-run check")
	unregisterCmd.Flags().String("by", "", "Operator identity")

	triggerCmd := &cobra.Command{
		Use:   "trigger [dataset]",
		Short: "Trigger a manual run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			d := initDeps(cmd)
			defer d.close()
			by, _ := cmd.Flags().GetString("by")
			run, err := d.runSvc.Trigger(cmd.Context(), args[0], nil, by)
			if err != nil {
				fatalf("Error: failed to trigger run: %v\n", err)
			}
			fmt.Fprintf(os.Stdout, "Triggered run '%s' [%s]\n", run.RunID, run.Status)
		},
	}
	triggerCmd.Flags().String("by", "", "Operator identity")

	backfillCmd := &cobra.Command{
		Use:   "backfill [dataset]",
		Short: "Backfill a historical date range, one run per day",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			d := initDeps(cmd)
			defer d.close()
			start, _ := cmd.Flags().GetString("start")
			end, _ := cmd.Flags().GetString("end")
			parallel, _ := cmd.Flags().GetBool("parallel")
			bestEffort, _ := cmd.Flags().GetBool("best-effort")
			by, _ := cmd.Flags().GetString("by")

			strategy := service.FailFastBackfill
			if bestEffort {
				strategy = service.BestEffortBackfill
			}
			runs, err := d.runSvc.Backfill(cmd.Context(), service.BackfillRequest{
				DatasetName: args[0],
				StartDate:   start,
				EndDate:     end,
				Parallel:    parallel,
				Strategy:    strategy,
				TriggeredBy: by,
			})
			for _, run := range runs {
				fmt.Fprintf(os.Stdout, "- %s [%s]\n", run.RunID, run.Status)
			}
			if err != nil {
				fatalf("Error: backfill incomplete: %v\n", err)
			}
			fmt.Fprintf(os.Stdout, "Backfilled %d day(s)\n", len(runs))
		},
	}
	backfillCmd.Flags().String("start", "", "Start date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().String("end", "", "End date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().Bool("parallel", false, "Trigger days concurrently")
	backfillCmd.Flags().Bool("best-effort", false, "Continue past per-day failures")
	backfillCmd.Flags().String("by", "", "Operator identity")

	stopCmd := &cobra.Command{
		Use:   "stop [run-id]",
		Short: "Request a stop for an in-flight run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			d := initDeps(cmd)
			defer d.close()
			reason, _ := cmd.Flags().GetString("reason")
			by, _ := cmd.Flags().GetString("by")
			run, err := d.runSvc.Stop(cmd.Context(), args[0], reason, by)
			if err != nil {
				fatalf("Error: failed to stop run: %v\n", err)
			}
			fmt.Fprintf(os.Stdout, "Run '%s' is now %s\n", run.RunID, run.Status)
		},
	}
	stopCmd.Flags().String("reason", "", "Reason for stopping")
	stopCmd.Flags().String("by", "", "Operator identity")

	runCmd := &cobra.Command{
		Use:   "run [run-id]",
		Short: "Show a run, synced against the scheduler",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			d := initDeps(cmd)
			defer d.close()
			run, err := d.runSvc.GetRunWithSync(cmd.Context(), args[0])
			if err != nil {
				fatalf("Error: failed to get run: %v\n", err)
			}
			fmt.Fprintf(os.Stdout, "%s [%s] type=%s triggered_by=%s\n", run.RunID, run.Status, run.RunType, run.TriggeredBy)
			if run.LogsURL != "" {
				fmt.Fprintf(os.Stdout, "logs: %s\n", run.LogsURL)
			}
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history [dataset]",
		Short: "Show run history for a dataset",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			d := initDeps(cmd)
			defer d.close()
			filter := storage.RunFilter{}
			if len(args) == 1 {
				filter.DatasetName = args[0]
			}
			if start, _ := cmd.Flags().GetString("start"); start != "" {
				day, err := time.Parse(service.DateLayout, start)
				if err != nil {
					fatalf("Error: invalid --start, want YYYY-MM-DD: %v\n", err)
				}
				filter.StartDate = &day
			}
			if end, _ := cmd.Flags().GetString("end"); end != "" {
				day, err := time.Parse(service.DateLayout, end)
				if err != nil {
					fatalf("Error: invalid --end, want YYYY-MM-DD: %v\n", err)
				}
				filter.EndDate = &day
			}
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			runs, err := d.runSvc.ListRunHistory(filter)
			if err != nil {
				fatalf("Error: failed to list run history: %v\n", err)
			}
			if len(runs) == 0 {
				fmt.Fprintf(os.Stdout, "No runs found.\n")
				return
			}
			for _, run := range runs {
				fmt.Fprintf(os.Stdout, "- %s [%s] type=%s created=%s\n",
					run.RunID, run.Status, run.RunType, run.CreatedAt.Format(time.RFC3339))
			}
		},
	}
	historyCmd.Flags().String("start", "", "Earliest created date (YYYY-MM-DD)")
	historyCmd.Flags().String("end", "", "Latest created date (YYYY-MM-DD, end-of-day inclusive)")
	historyCmd.Flags().Int("limit", 50, "Maximum number of runs")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			d := initDeps(cmd)
			defer d.close()
			port, _ := cmd.Flags().GetString("port")
			if err := internal_http.StartServer(port, d.wfSvc, d.runSvc); err != nil {
				fatalf("Error: server failed: %v\n", err)
			}
		},
	}
	serveCmd.Flags().String("port", "8080", "Port to listen on")

	rootCmd.AddCommand(registerCmd, listCmd, pauseCmd, unpauseCmd, unregisterCmd,
		triggerCmd, backfillCmd, stopCmd, runCmd, historyCmd, serveCmd)
}

func fatalf(format string, args ...interface{}) {
	log.GetLogger().Errorf(format, args...)
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}
