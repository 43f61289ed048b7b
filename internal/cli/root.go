// Package cli wires the peer-link commands together.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "peer-link",
		Short: "Pair with one nearby device and exchange messages and files",
		Long: `peer-link finds another peer-link on the local network, pairs with it
and lets both sides exchange text messages and files.

  peer-link start        open an interactive session
  peer-link history      show past messages and transfers
  peer-link demo         pair two in-process peers and exchange data`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newDemoCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func Execute(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "peer-link "+Version)
		},
	}
}
