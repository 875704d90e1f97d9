package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "psocial",
		Short:         "PSocial presence and signaling server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/WebSocket server",
		Long: `Start the presence server.

Configuration is read from the YAML file given by --config and then
overridden by PSOCIAL_* environment variables. Redis, NATS and Kafka are
only used when enabled. SIGINT/SIGTERM trigger a graceful shutdown.`,
		Example: `  psocial serve
  psocial serve --config /etc/psocial/psocial.yaml
  PSOCIAL_REDIS_ADDR=127.0.0.1:6379 psocial serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "psocial", version)
		},
	}
}
