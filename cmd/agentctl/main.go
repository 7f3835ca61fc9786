// Command agentctl is the Client CLI: one subcommand per wire verb,
// dialing an Agent over loopback TCP and printing its response.
//
// A cobra root command with one newXCommand() per subcommand, all in
// this package (commands.go),
// persistent flags threaded through package-level vars rather than a
// shared context struct.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var addr string
var legacyEncoding bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentctl",
		Short: "Inspect and control a running agentlink Agent",
		Long:  `agentctl drives an agentlink Agent over loopback TCP: enumerate types, walk the tracked-object heap, pin and invoke, subscribe to events, and install method hooks.`,
	}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:0", "Agent listen address (host:port)")
	rootCmd.PersistentFlags().BoolVar(&legacyEncoding, "legacy-encoding", false, "round-trip method/field arguments through the historical query-string encoding before sending")

	rootCmd.AddCommand(
		newPingCommand(),
		newDomainsCommand(),
		newTypesCommand(),
		newTypeCommand(),
		newHeapCommand(),
		newObjectCommand(),
		newInvokeCommand(),
		newGetFieldCommand(),
		newSetFieldCommand(),
		newUnpinCommand(),
		newSubscribeCommand(),
		newHookCommand(),
		newDiscoverCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
