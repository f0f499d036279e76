package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fabian4/peaudiosys-gateway/internal/directory"
	"github.com/fabian4/peaudiosys-gateway/internal/handler"
	"github.com/fabian4/peaudiosys-gateway/internal/router"
	"github.com/fabian4/peaudiosys-gateway/internal/session"
)

var sendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "Relay one command directly and print the reply",
	Long: `Route a command like the HTTP gateway does, run one session against
the selected service and write the raw reply to stdout.

Exits non-zero when the session does not succeed.

Example:
  gateway send "players get_meta"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.ContainsAny(args[0], "\r\n") {
			return handler.ErrMalformedCommand
		}
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		dir, err := directory.New(c.Services, c.DefaultService)
		if err != nil {
			return err
		}
		dec := router.New(c.Routes, c.DefaultService).Route(args[0])
		svc, err := dir.Lookup(dec.Service)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, c.Timeouts.Exchange)
		defer cancel()

		t := handler.SessionTimeouts(dec.Rule, svc, c.Timeouts.Session)
		reply, err := session.NewClient().Execute(ctx, svc.Address(), dec.Payload, t)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", svc.Name, session.StateOf(err), err)
		}
		_, err = cmd.OutOrStdout().Write(reply)
		return err
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
