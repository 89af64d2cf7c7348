// Package cli is the command line a Rowbot host embeds. The host registers
// its containers and hands the registry to the root command:
//
//	reg := registry.New()
//	reg.Register(crm.Container())
//	os.Exit(cli.Main(cli.New("crm-etl", "1.2.0", reg)))
package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/config"
	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
	"github.com/krisbrooking/Rowbot-sub000/pkg/observability"
	"github.com/krisbrooking/Rowbot-sub000/pkg/pipeline"
	"github.com/krisbrooking/Rowbot-sub000/pkg/registry"
	"github.com/krisbrooking/Rowbot-sub000/pkg/runner"
)

// App holds the state shared by the commands of one invocation.
type App struct {
	Name     string
	Version  string
	Registry *registry.Registry

	configPath string
	logLevel   string

	cfg *config.Config
	log *zap.Logger
}

// New returns an application over reg.
func New(name, version string, reg *registry.Registry) *App {
	if reg == nil {
		reg = registry.Default()
	}
	return &App{Name: name, Version: version, Registry: reg}
}

// Main runs the root command with the process arguments and returns the exit
// code.
func Main(a *App) int {
	if err := a.Command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// Command builds the root command.
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:   a.Name,
		Short: a.Name + " - change-aware ETL pipelines",
		Long: `Runs the ETL pipelines registered by this host. Pipelines are grouped into
clusters; the pipelines of a cluster run in dependency order.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup() },
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = logger.Sync()
			return observability.Shutdown(ctx)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the configuration")

	root.AddCommand(
		a.versionCommand(),
		a.listCommand(),
		a.runCommand(),
		a.scheduleCommand(),
	)
	return root
}

// setup loads the configuration and installs the logger and tracer.
func (a *App) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	// stdout carries command output
	if len(cfg.Logging.OutputPaths) == 0 {
		cfg.Logging.OutputPaths = []string{"stderr"}
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	if err := observability.InitTracing(cfg.Tracing); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.Get().With(zap.String("component", "cli"))
	return nil
}

func (a *App) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s v%s\n", a.Name, a.Version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// filterFlags registers the pipeline selection flags shared by run and
// schedule.
func filterFlags(cmd *cobra.Command, f *runner.Filter) {
	cmd.Flags().StringSliceVar(&f.Containers, "container", nil, "Run only these containers")
	cmd.Flags().StringSliceVar(&f.Clusters, "cluster", nil, "Run only these clusters (default from runner.clusters)")
	cmd.Flags().StringSliceVar(&f.Tags, "tag", nil, "Run only pipelines carrying one of these tags (default from runner.tags)")
}

// execute runs the pipelines selected by f. Clusters and tags left empty
// fall back to the runner section of the configuration.
func (a *App) execute(ctx context.Context, f runner.Filter) ([]pipeline.PipelineSummary, error) {
	if len(f.Clusters) == 0 {
		f.Clusters = a.cfg.Runner.Clusters
	}
	if len(f.Tags) == 0 {
		f.Tags = a.cfg.Runner.Tags
	}
	r := runner.New(a.Registry, runner.WithConfig(a.cfg), runner.WithLogger(logger.Get()))

	start := time.Now()
	summaries, err := r.Run(ctx, f)
	fields := []zap.Field{
		zap.Int("pipelines", len(summaries)),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		a.log.Error("run failed", append(fields, zap.Error(err))...)
	} else {
		a.log.Info("run completed", fields...)
	}
	return summaries, err
}
