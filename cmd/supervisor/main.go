package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultAPIUrl = "http://127.0.0.1:9180/api"

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot assembles the command tree.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags),
		createStopCommand(globalFlags),
		createStatusCommand(),
		createValidateCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "supervisor",
		Short: "Health-checked process supervisor",
		Long: `supervisor launches services, polls their HTTP health endpoint and
restarts them after sustained failures, with cool-down and backoff.

Examples:
  supervisor run --config /etc/healthsup/healthsup.toml
  supervisor status --api-url http://127.0.0.1:9180/api
  supervisor stop --config /etc/healthsup/healthsup.toml --wait 10s`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML or YAML config file")
	return root
}

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor daemon in the foreground",
		Long: `Start supervising every service in the config file. Exits 0 after a
clean shutdown (SIGINT, SIGTERM, 'supervisor stop') and 1 when a service
cannot be launched or stopped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), globalFlags.ConfigPath)
		},
	}
}

func createStopCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running supervisor daemon",
		Long: `Send SIGTERM to the daemon recorded in the pid file and wait for the
file to disappear. With --api-url the daemon is asked over HTTP instead.

Examples:
  supervisor stop --config healthsup.toml
  supervisor stop --pidfile /run/healthsup.pid --wait 30s
  supervisor stop --api-url http://127.0.0.1:9180/api`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return stopDaemon(cmd.Context(), cmd.OutOrStdout(), globalFlags.ConfigPath, *flags)
		},
	}
	cmd.Flags().StringVar(&flags.PIDFile, "pidfile", "", "daemon pid file (overrides [daemon].pidfile)")
	cmd.Flags().DurationVar(&flags.Wait, "wait", 10*time.Second, "how long to wait for the daemon to exit (0 = don't wait)")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "control API base URL, e.g. "+defaultAPIUrl)
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "control API request timeout")
	return cmd
}

func createStatusCommand() *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervised service status as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showStatus(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "service name (default: all)")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", defaultAPIUrl, "control API base URL")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "control API request timeout")
	return cmd
}

func createValidateCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validateConfig(cmd.OutOrStdout(), globalFlags.ConfigPath)
		},
	}
}
