package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/qapilot/pkg/config"
	qerrors "github.com/odvcencio/qapilot/pkg/errors"
)

type rootOptions struct {
	configPath string
	quiet      bool
	noColor    bool

	out    io.Writer
	errOut io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{out: out, errOut: errOut}

	cmd := &cobra.Command{
		Use:   "qapilot",
		Short: "Run declarative UI and API test suites",
		Long: `qapilot executes plain-language UI test cases in a browser, evaluates
their expectations and writes every failure to an XLSX issue report together
with screenshots, a session video and a trace.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetVersionTemplate(`{{printf "qapilot version %s\n" .Version}}`)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.qapilot/config.yaml and ./.qapilot/config.yaml)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "only print the final summary")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newAPICmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newRunsCmd(opts))
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if strings.TrimSpace(o.configPath) != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeConfigLoad, "failed to load configuration")
	}
	return cfg, nil
}

func (o *rootOptions) printer() *printer {
	return newPrinter(o.out, o.noColor)
}
