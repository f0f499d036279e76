package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabian4/peaudiosys-gateway/internal/directory"
	"github.com/fabian4/peaudiosys-gateway/internal/ratelimit"
	"github.com/fabian4/peaudiosys-gateway/internal/router"
)

var routeCmd = &cobra.Command{
	Use:   "route <command>",
	Short: "Show which service a command would be relayed to",
	Long: `Apply the configured routing rules to a command and print the
selected service, its address, the payload that would be sent and
whether the service is rate limited.
No connection is made.

Example:
  gateway route "aux amp_switch on"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		dir, err := directory.New(c.Services, c.DefaultService)
		if err != nil {
			return err
		}
		rt := router.New(c.Routes, c.DefaultService)
		dec := rt.Route(args[0])
		svc, err := dir.Lookup(dec.Service)
		if err != nil {
			return err
		}

		rule := "(default)"
		if dec.Rule != nil {
			rule = dec.Rule.Name
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "rule:     %s\n", rule)
		fmt.Fprintf(out, "service:  %s\n", svc.Name)
		fmt.Fprintf(out, "address:  %s\n", svc.Address())
		fmt.Fprintf(out, "payload:  %q\n", dec.Payload)
		fmt.Fprintf(out, "limited:  %t\n", ratelimit.New(c.Services).Limited(svc.Name))
		def := dir.Default()
		fmt.Fprintf(out, "default:  %s (%s, %d rules)\n", rt.Default(), def.Address(), len(rt.Rules()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(routeCmd)
}
