package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fabian4/peaudiosys-gateway/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Long: `Run the HTTP gateway until SIGINT or SIGTERM.

In-flight requests are given a few seconds to finish on shutdown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := server.NewLogger(cmd.ErrOrStderr(), c.Log)

		srv, err := server.New(c, logger, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listen, "listen", "", "override the configured listen address")
	rootCmd.AddCommand(serveCmd)
}
