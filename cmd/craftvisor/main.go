package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	// API connection
	APIUrl     string
	APITimeout time.Duration
	Token      string
	Username   string
	Password   string
	Insecure   bool
	CACert     string
	JSON       bool
}

// buildRoot creates the root command with every subcommand attached
func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}
	root := createRootCommand(flags)

	root.AddCommand(
		createServeCommand(flags),
		createListCommand(flags),
		createStatusCommand(flags),
		createStartCommand(flags),
		createStopCommand(flags),
		createKillCommand(flags),
		createSendCommand(flags),
		createConsoleCommand(flags),
		createConfigCommand(flags),
		createSchedulesCommand(flags),
		createLoginCommand(flags),
		createLogoutCommand(),
		createHashPasswordCommand(),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "craftvisor",
		Short: "Minecraft server supervisor",
		Long: `Craftvisor runs one Minecraft server per profile directory, keeps a console
scrollback for each and exposes start, stop and console control over HTTP.

Examples:
  craftvisor serve craftvisor.toml          # Start the daemon
  craftvisor list                           # List profiles
  craftvisor start survival                 # Start a server by name
  craftvisor send survival say hello        # Send a console command
  craftvisor console survival --follow      # Tail the console
  craftvisor status survival --api-url=http://remote:8080/api`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (e.g. http://host:8080/api)")
	pf.DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	pf.StringVar(&flags.Token, "token", "", "bearer token (overrides the saved session)")
	pf.StringVar(&flags.Username, "username", "", "basic auth username")
	pf.StringVar(&flags.Password, "password", "", "basic auth password")
	pf.BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")
	pf.StringVar(&flags.CACert, "ca-cert", "", "CA certificate for the daemon's TLS certificate")
	pf.BoolVar(&flags.JSON, "json", false, "print JSON instead of text")

	return root
}
