package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/wasteplan/internal/plan"
	"github.com/odyssey-erp/wasteplan/internal/reconcile"
	"github.com/odyssey-erp/wasteplan/internal/shared"
	"github.com/odyssey-erp/wasteplan/jobs"
)

// Output formats accepted by reconcile.
const (
	FormatTable = "table"
	FormatCSV   = "csv"
	FormatJSON  = "json"
)

// Options configures the command tree.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	Setup  func(ctx context.Context) (*Env, error)
}

// NewRootCommand assembles the schedulectl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Setup == nil {
		opts.Setup = SetupFromEnv(opts.Stderr)
	}
	root := &cobra.Command{
		Use:           "schedulectl",
		Short:         "Operate waste collection plans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	r := runner{setup: opts.Setup}
	root.AddCommand(
		r.versionsCommand(),
		r.snapshotCommand(),
		r.reconcileCommand(),
		r.migrateCommand(),
		r.jobsCommand(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, opts Options, args []string) int {
	root := NewRootCommand(opts)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "schedulectl: %v\n", err)
		return 1
	}
	return 0
}

type runner struct {
	setup func(ctx context.Context) (*Env, error)
}

func (r runner) with(cmd *cobra.Command, fn func(env *Env) error) error {
	env, err := r.setup(cmd.Context())
	if err != nil {
		return err
	}
	if env.Close != nil {
		defer env.Close()
	}
	return fn(env)
}

func periodArg(args []string) (shared.YearMonth, error) {
	return shared.ParseYearMonth(strings.TrimSpace(args[0]))
}

func (r runner) versionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "versions YYYY-MM",
		Short: "List the live version and every snapshot of a month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ym, err := periodArg(args)
			if err != nil {
				return err
			}
			return r.with(cmd, func(env *Env) error {
				history, err := env.Service.AvailableVersions(cmd.Context(), ym)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tCREATED AT\tCREATED BY")
				fmt.Fprintf(tw, "%d\t-\t-\n", int(plan.Live))
				for _, snap := range history.Snapshots {
					fmt.Fprintf(tw, "%d\t%s\t%s\n", int(snap.Version), snap.CreatedAt.Format(time.RFC3339), snap.CreatedUser)
				}
				return tw.Flush()
			})
		},
	}
}

func (r runner) snapshotCommand() *cobra.Command {
	var (
		user  string
		async bool
	)
	cmd := &cobra.Command{
		Use:   "snapshot YYYY-MM",
		Short: "Freeze the live plan of a month into a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ym, err := periodArg(args)
			if err != nil {
				return err
			}
			return r.with(cmd, func(env *Env) error {
				if async {
					if env.Queue == nil {
						return ErrQueueUnavailable
					}
					info, err := env.Queue.EnqueuePlanSnapshot(cmd.Context(), jobs.PlanSnapshotPayload{Year: ym.Year, Month: ym.Month, User: user})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s task %s\n", info.Type, info.ID)
					return nil
				}
				version, err := env.Service.SnapshotMonth(cmd.Context(), ym, user)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s frozen as version %d\n", ym, int(version))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "cli", "user recorded on the snapshot")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue the snapshot for the worker")
	return cmd
}

type reconcileFlags struct {
	version       int
	onSchedule    int
	acceptable    int
	negativeSlack int
	format        string
	async         bool
}

func (r runner) reconcileCommand() *cobra.Command {
	var f reconcileFlags
	cmd := &cobra.Command{
		Use:   "reconcile YYYY-MM",
		Short: "Match a plan version against the month's actual results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ym, err := periodArg(args)
			if err != nil {
				return err
			}
			switch f.format {
			case FormatTable, FormatCSV, FormatJSON:
			default:
				return shared.NewValidationError("format", "want table, csv or json, got %q", f.format)
			}
			if f.version < 0 {
				return shared.NewValidationError("version", "must be >= 0, got %d", f.version)
			}
			return r.with(cmd, func(env *Env) error {
				if f.async {
					if env.Queue == nil {
						return ErrQueueUnavailable
					}
					info, err := env.Queue.EnqueuePlanReconcile(cmd.Context(), jobs.PlanReconcilePayload{Year: ym.Year, Month: ym.Month, Version: f.version})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s task %s\n", info.Type, info.ID)
					return nil
				}
				tol := env.Tolerances
				flags := cmd.Flags()
				if flags.Changed("on-schedule") {
					tol.OnSchedule = f.onSchedule
				}
				if flags.Changed("acceptable") {
					tol.Acceptable = f.acceptable
				}
				if flags.Changed("negative-slack") {
					slack := f.negativeSlack
					tol.NegativeSlack = &slack
				}
				version := plan.Version(f.version)
				result, err := env.Service.ReconcileVersion(cmd.Context(), ym, version, tol)
				if err != nil {
					return err
				}
				return writeResult(cmd.OutOrStdout(), f.format, ym, version, tol, result)
			})
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&f.version, "version", 0, "plan version to reconcile (0 is live)")
	flags.IntVar(&f.onSchedule, "on-schedule", 0, "on-schedule tolerance in minutes")
	flags.IntVar(&f.acceptable, "acceptable", 0, "acceptable delay tolerance in minutes")
	flags.IntVar(&f.negativeSlack, "negative-slack", 0, "how many minutes early an actual may still match")
	flags.StringVar(&f.format, "format", FormatTable, "output format: table, csv or json")
	flags.BoolVar(&f.async, "async", false, "enqueue the run for the worker")
	return cmd
}

type reconcileReport struct {
	Period     shared.YearMonth     `json:"period"`
	Version    plan.Version         `json:"version"`
	Tolerances reconcile.Tolerances `json:"tolerances"`
	Summary    reconcile.Summary    `json:"summary"`
	reconcile.Result
}

func writeResult(w io.Writer, format string, ym shared.YearMonth, version plan.Version, tol reconcile.Tolerances, result reconcile.Result) error {
	summary := result.Summarize()
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reconcileReport{Period: ym, Version: version, Tolerances: tol, Summary: summary, Result: result})
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.WriteAll(reconcile.ExportRows(result.Records)); err != nil {
			return err
		}
		return cw.Error()
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, row := range reconcile.ExportRows(result.Records) {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	parts := make([]string, 0, len(summary.ByStatus)+2)
	for _, status := range reconcile.Statuses() {
		parts = append(parts, fmt.Sprintf("%s=%d", status, summary.ByStatus[status]))
	}
	parts = append(parts, "UNSCHEDULED="+strconv.Itoa(summary.Unscheduled), "ERRORS="+strconv.Itoa(summary.Errors))
	fmt.Fprintln(w, strings.Join(parts, " "))
	for _, a := range result.Unscheduled {
		fmt.Fprintf(w, "unscheduled: %s %s %s\n", a.Date.Format(time.DateOnly), a.Column, a.ActualTime)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "error: %s\n", e.Error())
	}
	return nil
}

func (r runner) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(cmd, func(env *Env) error {
				if env.Migrate == nil {
					return ErrMigrateUnavailable
				}
				if err := env.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
				return nil
			})
		},
	}
}

func (r runner) jobsCommand() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the background job queue",
	}
	var asJSON bool
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(cmd, func(env *Env) error {
				if env.Queue == nil {
					return ErrQueueUnavailable
				}
				s, err := env.Queue.InspectQueue(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(s)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
					s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
				return nil
			})
		},
	}
	stats.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	jobsCmd.AddCommand(stats)
	return jobsCmd
}
