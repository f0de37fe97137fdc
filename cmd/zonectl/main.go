package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/askwhyharsh/safezone/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "zonectl",
		Short: "zonectl - safe zone inspection tool",
		Long: `zonectl checks positions against safe zones without a running server.
It reads the same environment configuration as the server for stored zones.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.DistanceCmd())
	rootCmd.AddCommand(cli.GeohashCmd())
	rootCmd.AddCommand(cli.EvaluateCmd())
	rootCmd.AddCommand(cli.ZonesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
