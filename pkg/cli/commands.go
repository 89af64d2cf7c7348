package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
	"github.com/krisbrooking/Rowbot-sub000/pkg/registry"
	"github.com/krisbrooking/Rowbot-sub000/pkg/runner"
)

func (a *App) listCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the registered containers and their pipelines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			entries, err := a.Registry.Build(cmd.Context(), registry.Env{Config: a.cfg, Logger: logger.Get()})
			if err != nil {
				return err
			}
			return writeEntries(cmd.OutOrStdout(), output, entries)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func (a *App) runCommand() *cobra.Command {
	var (
		f       runner.Filter
		output  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run pipelines once",
		Long: `Run the selected pipelines once and print their summaries.

Example:
  rowbot run --cluster crm --tag nightly -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			stop := a.serveMetrics()
			defer stop()

			summaries, runErr := a.execute(ctx, f)
			if err := writeSummaries(cmd.OutOrStdout(), output, summaries); err != nil {
				return err
			}
			return runErr
		},
	}
	filterFlags(cmd, &f)
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the run after this long (0 means no limit)")
	return cmd
}

func (a *App) scheduleCommand() *cobra.Command {
	var (
		f      runner.Filter
		expr   string
		output string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run pipelines on a cron schedule until interrupted",
		Long: `Run the selected pipelines every time the cron expression fires. The
expression has five fields (minute hour day month weekday) or a descriptor
such as @hourly. It defaults to runner.schedule from the configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			if expr == "" {
				expr = a.cfg.Runner.Schedule
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			c, err := newScheduler(expr, func() {
				summaries, err := a.execute(ctx, f)
				if werr := writeSummaries(out, output, summaries); werr != nil {
					a.log.Warn("failed to write summaries", zap.Error(werr))
				}
				if err != nil {
					a.log.Warn("scheduled run finished with errors", zap.Error(err))
				}
			})
			if err != nil {
				return err
			}

			stop := a.serveMetrics()
			defer stop()

			c.Start()
			a.log.Info("scheduler started", zap.String("schedule", expr))
			<-ctx.Done()
			// wait for a run in progress
			<-c.Stop().Done()
			a.log.Info("scheduler stopped")
			return nil
		},
	}
	filterFlags(cmd, &f)
	cmd.Flags().StringVar(&expr, "cron", "", "Cron expression")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format (table, json)")
	return cmd
}

// newScheduler returns a cron scheduler that calls job on expr. Runs never
// overlap: a tick that fires while a run is in progress is skipped.
func newScheduler(expr string, job func()) (*cron.Cron, error) {
	if expr == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "a cron expression is required (--cron or runner.schedule)")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(expr, job); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid cron expression").WithDetail("schedule", expr)
	}
	return c, nil
}

func checkOutput(output string) error {
	switch output {
	case "table", "json":
		return nil
	}
	return errors.Newf(errors.ErrorTypeValidation, "unknown output format %q", output)
}

func writeEntries(w io.Writer, output string, entries []registry.Entry) error {
	type row struct {
		Container string   `json:"container"`
		Pipeline  string   `json:"pipeline"`
		Cluster   string   `json:"cluster"`
		Tags      []string `json:"tags,omitempty"`
		Target    string   `json:"target,omitempty"`
		Sources   []string `json:"sources,omitempty"`
	}
	rows := make([]row, 0, len(entries))
	for _, e := range entries {
		deps := e.Pipeline.Dependencies()
		rows = append(rows, row{
			Container: e.Container,
			Pipeline:  e.Pipeline.Name(),
			Cluster:   e.Pipeline.Cluster(),
			Tags:      e.Pipeline.Tags(),
			Target:    deps.TargetEntityType,
			Sources:   deps.SourceEntityTypes,
		})
	}
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTAINER\tPIPELINE\tCLUSTER\tTAGS\tTARGET\tSOURCES")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Container, r.Pipeline, r.Cluster,
			strings.Join(r.Tags, ","), r.Target, strings.Join(r.Sources, ","))
	}
	return tw.Flush()
}
