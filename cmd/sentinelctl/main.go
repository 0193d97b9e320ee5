// Command sentinelctl scores transactions offline and inspects engine
// configuration without starting the server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sentinelctl",
		Short:         "Sentinel - offline risk scoring and config tooling",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "config/fraud_detection_config.json", "Engine config file")

	root.AddCommand(scoreCmd())
	root.AddCommand(configCmd())
	return root
}
