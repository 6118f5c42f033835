package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odvcencio/qapilot/pkg/apirun"
	"github.com/odvcencio/qapilot/pkg/config"
	qerrors "github.com/odvcencio/qapilot/pkg/errors"
	"github.com/odvcencio/qapilot/pkg/report"
	"github.com/odvcencio/qapilot/pkg/testcase"
)

type runFlags struct {
	driver       string
	engine       string
	runsDir      string
	envTag       string
	headed       bool
	failOnIssues bool
}

func (f *runFlags) register(cmd *cobra.Command, browserFlags bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.runsDir, "runs-dir", "", "directory receiving run folders (overrides runner.runs_dir)")
	flags.BoolVar(&f.failOnIssues, "fail-on-issues", true, "exit with status 3 when any test fails")
	if browserFlags {
		flags.StringVar(&f.driver, "driver", "", "browser driver: playwright or static")
		flags.StringVar(&f.engine, "browser", "", "playwright engine: chromium, firefox or webkit")
		flags.StringVar(&f.envTag, "env-tag", "", "environment recorded on every issue")
		flags.BoolVar(&f.headed, "headed", false, "show the browser window")
	}
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if f.runsDir != "" {
		cfg.Runner.RunsDir = f.runsDir
	}
	if f.driver != "" {
		cfg.Browser.Driver = f.driver
	}
	if f.engine != "" {
		cfg.Browser.Engine = f.engine
	}
	if f.envTag != "" {
		cfg.Runner.EnvTag = f.envTag
	}
	if cmd.Flags().Changed("headed") {
		cfg.Browser.Headless = !f.headed
	}
	if err := cfg.Validate(); err != nil {
		return qerrors.Wrap(err, qerrors.ErrCodeConfigInvalid, "invalid configuration")
	}
	return nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <suite.json|suite.yaml>",
		Short: "Run a UI test suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cases, err := testcase.LoadFile(args[0])
			if err != nil {
				return withExitCode(qerrors.Wrap(err, qerrors.ErrCodeInvalidInput, "failed to load test suite"), exitConfig)
			}
			return execute(cmd, opts, flags, "run", func(ctx context.Context, a *app) (*report.RunSummary, error) {
				r, err := a.webRunner()
				if err != nil {
					return nil, err
				}
				return r.Run(ctx, cases)
			})
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newAPICmd(opts *rootOptions) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "api <suite.json>",
		Short: "Run an API test suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tests, err := apirun.LoadFile(args[0])
			if err != nil {
				return withExitCode(qerrors.Wrap(err, qerrors.ErrCodeInvalidInput, "failed to load api test suite"), exitConfig)
			}
			return execute(cmd, opts, flags, "api", func(ctx context.Context, a *app) (*report.RunSummary, error) {
				r, err := a.apiRunner()
				if err != nil {
					return nil, err
				}
				return r.Run(ctx, tests)
			})
		},
	}
	flags.register(cmd, false)
	return cmd
}

// execute loads config, wires the app and runs fn with progress output.
func execute(cmd *cobra.Command, opts *rootOptions, flags *runFlags, name string, fn func(context.Context, *app) (*report.RunSummary, error)) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if err := flags.apply(cmd, cfg); err != nil {
		return err
	}

	a, err := newApp(cfg, name, opts.errOut)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	p := opts.printer()
	stop := func() {}
	if !opts.quiet {
		stop = p.watch(a.hub)
	}
	summary, err := fn(ctx, a)
	stop()
	if err != nil {
		return err
	}

	a.record(ctx, summary)
	p.summary(summary)
	if flags.failOnIssues && summary.Failed > 0 {
		return withExitCode(fmt.Errorf("%d of %d tests failed", summary.Failed, summary.Total), exitIssues)
	}
	return nil
}
