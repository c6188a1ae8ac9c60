// Package cmd provides the agentfirewall CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/IsaacHuo/agent-firewall/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentfirewall",
	Short: "agentfirewall - a transparent security gateway for MCP",
	Long: `agentfirewall intercepts Model Context Protocol traffic between an
agent and its upstream MCP server, running each request through static
pattern analysis, semantic classification, and a policy decision table
before forwarding it, with audit logging and human escalation for
uncertain calls.

Quick start:
  1. Create a config file: agentfirewall.yaml
  2. Run: agentfirewall start

Configuration:
  Config is loaded from agentfirewall.yaml in the current directory,
  $HOME/.agentfirewall/, or /etc/agentfirewall/.

  Environment variables can override config values with the
  AGENTFIREWALL_ prefix. Example: AGENTFIREWALL_METRICS_ADDR=:9090

Commands:
  start       Start the gateway
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./agentfirewall.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
