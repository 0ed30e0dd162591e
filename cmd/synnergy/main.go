package main

import (
	"os"

	"github.com/spf13/cobra"

	"synnergy-evaluation/cmd/cli"
)

func main() {
	rootCmd := &cobra.Command{Use: "synnergy-eval"}
	rootCmd.AddCommand(cli.AccessCmd, cli.EvalCmd, cli.StagedTxCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
