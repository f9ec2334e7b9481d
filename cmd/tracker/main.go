// Command tracker follows one order live in the terminal: a progress bar that advances
// with the kitchen's status changes and a short queue of notification cards.
package main

import (
	"os"

	"github.com/spf13/cobra"

	xlog "github.com/duisenbekovayan/order_live/internal/log"
)

var rootCmd = &cobra.Command{
	Use:           "tracker",
	Short:         "Live order tracking in the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		l := xlog.WithComponent("tracker_cli")
		l.Error().Err(err).Msg("tracker failed")
		os.Exit(1)
	}
}
