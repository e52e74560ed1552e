package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "swarm-orch",
		Short: "Schedule and supervise an agent swarm working a GitHub backlog",
		Long: `swarm-orch picks the next claimable issue for an agent, merges routine
pull requests, audits backlog labels and keeps agent performance in check.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
