package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	qerrors "github.com/odvcencio/qapilot/pkg/errors"
	"github.com/odvcencio/qapilot/pkg/logging"
	"github.com/odvcencio/qapilot/pkg/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	flags := &runFlags{}
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API, run history and artifacts over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return err
			}

			a, err := newApp(cfg, "serve", opts.errOut)
			if err != nil {
				return err
			}
			defer a.Close()

			p := opts.printer()
			for _, w := range cfg.ValidationWarnings() {
				p.println(p.warn.Render("warning: ") + w)
				_ = a.logger.Warn(logging.CategoryServer, "config.warning", w, nil)
			}

			web, err := a.webRunner()
			if err != nil {
				return err
			}
			api, err := a.apiRunner()
			if err != nil {
				return err
			}
			srv := server.New(server.Config{
				BindAddress: cfg.Server.Bind,
				RunsDir:     cfg.Runner.RunsDir,
			},
				server.WithWebRunner(web),
				server.WithAPIRunner(api),
				server.WithStore(a.store),
				server.WithLogger(a.logger),
			)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Start(gctx)
			})
			if !opts.quiet {
				g.Go(func() error {
					stop := p.watch(a.hub)
					<-gctx.Done()
					stop()
					return nil
				})
			}
			p.println(p.title.Render("qapilot") + " listening on http://" + cfg.Server.Bind)
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return qerrors.Wrap(err, qerrors.ErrCodeInternal, "server stopped")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "listen address (overrides server.bind)")
	flags.register(cmd, true)
	return cmd
}
