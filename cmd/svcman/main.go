package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/svcman/pkg/client"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createAgentCommand(globalFlags),
		createTokenCommand(globalFlags),
		createStatusCommand(),
		createStartCommand(),
		createStopCommand(),
		createUICommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "svcman",
		Short: "Local supervisor for the client, server and agent services",
		Long: `svcman starts, stops and watches the client/server/agent stack and
exposes it over a small HTTP API.

Examples:
  svcman serve --config=svcman.toml     # manager API on :4000
  svcman agent                          # token-protected single-service agent
  svcman start server                   # via the running manager
  svcman ui                             # live dashboard`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the manager API and supervise all services",
		Long: `Run the manager variant: every configured service can be started and
stopped over HTTP and its output is streamed at {base_path}/events.

Examples:
  svcman serve
  svcman serve svcman.toml
  svcman serve --daemonize --logfile=/var/log/svcman.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				flags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func createAgentCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the token-protected single-service agent",
		Long: `Run the agent variant. It supervises one service (SERVER_PATH run with the
configured runtime, or agent.service) and requires an ADMIN bearer token
signed with JWT_SECRET on every request.

Environment:
  AGENT_PORT   listen port (default 5001)
  JWT_SECRET   HS256 secret (required)
  SERVER_PATH  entry script of the supervised service
  SERVER_PORT  port the supervised service binds (default 5000)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), AgentFlags{ConfigPath: globalFlags.ConfigPath})
		},
	}
}

func createTokenCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &TokenFlags{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an ADMIN token for the agent",
		Long: `Print an HS256 token with role ADMIN. The secret defaults to the configured
agent.jwt_secret (JWT_SECRET).

Examples:
  svcman token --ttl=1h
  svcman token --secret=changeme --subject=deploy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = globalFlags.ConfigPath
			return runToken(cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Secret, "secret", "", "signing secret (defaults to agent.jwt_secret)")
	cmd.Flags().StringVar(&flags.Subject, "subject", "svcman-cli", "token subject")
	cmd.Flags().DurationVar(&flags.TTL, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}

func addClientFlags(cmd *cobra.Command, flags *ClientFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", client.DefaultBaseURL, "manager or agent URL (e.g. http://host:4000/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&flags.Token, "token", "", "bearer token, selects the agent API")
}

func createStatusCommand() *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Long: `Show the status of every service known to the manager, or of the agent's
service when --token is given.

Examples:
  svcman status
  svcman status --api-url=http://127.0.0.1:5001 --token=$TOKEN`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(*flags).Status(cmd.Context(), cmd.OutOrStdout())
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createStartCommand() *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "start [service]",
		Short: "Start a service",
		Long: `Start a service through the manager. With --token the agent's service is
started and no argument is needed.

Examples:
  svcman start server
  svcman start --api-url=http://127.0.0.1:5001 --token=$TOKEN`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(*flags).Start(cmd.Context(), cmd.OutOrStdout(), firstArg(args))
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createStopCommand() *cobra.Command {
	flags := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop [service]",
		Short: "Stop a service",
		Long: `Stop a service through the manager. --wait makes the manager wait for the
process to exit, killing it when the wait expires.

Examples:
  svcman stop client
  svcman stop server --wait=5s`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(flags.ClientFlags).Stop(cmd.Context(), cmd.OutOrStdout(), firstArg(args), flags.Wait)
		},
	}
	addClientFlags(cmd, &flags.ClientFlags)
	cmd.Flags().DurationVar(&flags.Wait, "wait", 0, "wait for the process to exit")
	return cmd
}

func createUICommand() *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Open the live terminal dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(*flags).UI(cmd.Context())
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
