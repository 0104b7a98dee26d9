// remitd is the claim-to-remittance pipeline daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remitflow/remitflow/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "remitd",
	Short: "Pharmacy claim-to-remittance pipeline",
	Long: `remitd ingests raw NCPDP pharmacy transactions, maps them to canonical
claims, accumulates them into buckets per configurable rules, and generates
and delivers remittance files to payer SFTP endpoints.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Initialize(configFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importConfigCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
