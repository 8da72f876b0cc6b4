package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/georgepadayatti/mdsign/config"
	"github.com/georgepadayatti/mdsign/server"
)

func newServeCommand(flags *GlobalFlags) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the signing API over HTTP",
		Long: `Start the HTTP API:

  POST /api/markdown/sign    sign the request body, query parameters become metadata
  POST /api/markdown/verify  verify the request body, returns JSON results
  GET  /healthz              liveness
  GET  /metrics              Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags, appOptions{
				loadKeystore: true,
				metrics:      true,
				override: func(cfg *config.AppConfig) {
					if host != "" {
						cfg.Server.Host = host
					}
					if port != 0 {
						cfg.Server.Port = port
					}
				},
			})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host, overrides server.host")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port, overrides server.port")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	srv := server.New(a.cfg.Server, a.service,
		server.WithLogger(a.logger),
		server.WithMetrics(a.metrics))

	a.logger.Info("starting mdsign server",
		zap.String("version", Version),
		zap.String("addr", a.cfg.Server.Addr()),
		zap.Bool("canSign", a.service.CanSign()))
	return srv.Run(ctx)
}
