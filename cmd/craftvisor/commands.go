package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/craftvisor"
	"github.com/loykin/craftvisor/pkg/client"
)

func requestContext(cmd *cobra.Command, flags *GlobalFlags) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), flags.APITimeout)
}

// createListCommand creates the list subcommand
func createListCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext(cmd, flags)
			defer cancel()
			servers, err := newClient(flags).Servers(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flags.JSON {
				printJSON(out, servers)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tSTATE\tID")
			for _, s := range servers {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.State, s.ID)
			}
			return tw.Flush()
		},
	}
}

// createStatusCommand creates the status subcommand
func createStatusCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <profile>",
		Short: "Show state, PID and resource usage of a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd, flags)
			defer cancel()
			st, err := newClient(flags).Status(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flags.JSON {
				printJSON(out, st)
				return nil
			}
			_, _ = fmt.Fprintf(out, "state: %s\n", st.State)
			if st.PID > 0 {
				_, _ = fmt.Fprintf(out, "pid: %d\n", st.PID)
			}
			if st.MetricsAvailable && st.CPUPercent != nil && st.MemoryMB != nil {
				_, _ = fmt.Fprintf(out, "cpu: %.1f%%\nmemory: %.1f MB\n", *st.CPUPercent, *st.MemoryMB)
			}
			return nil
		},
	}
}

type controlFunc func(c *client.Client, ctx context.Context, id string) error

func createControlCommand(flags *GlobalFlags, use, short, done string, fn controlFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <profile>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd, flags)
			defer cancel()
			if err := fn(newClient(flags), ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], done)
			return nil
		},
	}
}

// createStartCommand creates the start subcommand
func createStartCommand(flags *GlobalFlags) *cobra.Command {
	return createControlCommand(flags, "start", "Start a server", "starting", (*client.Client).Start)
}

// createStopCommand creates the stop subcommand
func createStopCommand(flags *GlobalFlags) *cobra.Command {
	return createControlCommand(flags, "stop", "Ask a server to stop", "stopping", (*client.Client).Stop)
}

// createKillCommand creates the kill subcommand
func createKillCommand(flags *GlobalFlags) *cobra.Command {
	return createControlCommand(flags, "kill", "Terminate a server immediately", "killed", (*client.Client).Kill)
}

// createSendCommand creates the send subcommand
func createSendCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <profile> <command...>",
		Short: "Send a console command to a running server",
		Long: `Send a console command to a running server. Remaining arguments are
joined with spaces.

Examples:
  craftvisor send survival say hello
  craftvisor send survival "whitelist add Steve"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd, flags)
			defer cancel()
			return newClient(flags).SendCommand(ctx, args[0], strings.Join(args[1:], " "))
		},
	}
}

// createConsoleCommand creates the console subcommand
func createConsoleCommand(flags *GlobalFlags) *cobra.Command {
	var follow bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "console <profile>",
		Short: "Print the console scrollback of a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(flags)
			out := cmd.OutOrStdout()
			var prev []string
			for {
				ctx, cancel := requestContext(cmd, flags)
				lines, err := c.Console(ctx, args[0])
				cancel()
				if err != nil {
					return err
				}
				for _, l := range newLines(prev, lines) {
					_, _ = fmt.Fprintln(out, l)
				}
				prev = lines
				if !follow {
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(interval):
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new lines")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --follow")
	return cmd
}

// createConfigCommand creates the config command with subcommands
func createConfigCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or replace a profile's server.properties",
	}

	get := &cobra.Command{
		Use:   "get <profile>",
		Short: "Print server.properties",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd, flags)
			defer cancel()
			c := newClient(flags)
			if flags.JSON {
				props, err := c.Properties(ctx, args[0])
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), props)
				return nil
			}
			text, err := c.Config(ctx, args[0])
			if err != nil {
				return err
			}
			_, _ = io.WriteString(cmd.OutOrStdout(), text)
			return nil
		},
	}

	var file string
	set := &cobra.Command{
		Use:   "set <profile>",
		Short: "Replace server.properties",
		Long: `Replace server.properties with the contents of --file, or stdin when the
file is "-".

Examples:
  craftvisor config set survival --file=server.properties
  craftvisor config get survival | sed 's/pvp=true/pvp=false/' | craftvisor config set survival --file=-`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if file == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			ctx, cancel := requestContext(cmd, flags)
			defer cancel()
			warning, err := newClient(flags).SetConfig(ctx, args[0], string(data))
			if err != nil {
				return err
			}
			if warning != "" {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "warning:", warning)
			}
			return nil
		},
	}
	set.Flags().StringVar(&file, "file", "", `properties file to upload, "-" for stdin (required)`)
	if err := set.MarkFlagRequired("file"); err != nil {
		panic(err)
	}

	cmd.AddCommand(get, set)
	return cmd
}

// createSchedulesCommand creates the schedules subcommand
func createSchedulesCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "List scheduled console commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext(cmd, flags)
			defer cancel()
			list, err := newClient(flags).Schedules(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flags.JSON {
				printJSON(out, list)
				return nil
			}
			sort.Slice(list, func(i, j int) bool { return list[i].Next.Before(list[j].Next) })
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "PROFILE\tSPEC\tCOMMAND\tNEXT\tLAST ERROR")
			for _, s := range list {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Profile, s.Spec, s.Command, s.Next.Format(time.RFC3339), s.LastErr)
			}
			return tw.Flush()
		},
	}
}

// createLoginCommand creates the login subcommand
func createLoginCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in to the daemon and save the token",
		Long: `Exchange --username and --password for a token and save it to
~/.craftvisor/session.json. Later commands use the saved token.

Examples:
  craftvisor login --username=admin --password=secret
  craftvisor login --username=admin --password=secret --api-url=https://mc.example.com/api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.Username == "" || flags.Password == "" {
				return fmt.Errorf("--username and --password are required")
			}
			sm := NewSessionManager()
			_ = sm.ClearSession()
			base := apiURL(flags, nil)
			c := client.New(client.Config{BaseURL: base, Timeout: flags.APITimeout, Insecure: flags.Insecure})
			ctx, cancel := requestContext(cmd, flags)
			defer cancel()
			tok, err := c.Login(ctx, flags.Username, flags.Password)
			if err != nil {
				return err
			}
			if err := sm.SaveSession(&Session{Token: tok.Token, ExpiresAt: tok.ExpiresAt, Username: flags.Username, ServerURL: base}); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s until %s\n", flags.Username, tok.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}

// createLogoutCommand creates the logout subcommand
func createLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return NewSessionManager().ClearSession()
		},
	}
}

// createHashPasswordCommand creates the hash-password subcommand
func createHashPasswordCommand() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for an [[auth.users]] entry",
		Long: `Print a bcrypt hash for the password_hash field of an [[auth.users]]
entry. Without an argument the password is read from the first line of stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pw string
			if len(args) == 1 {
				pw = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				pw = strings.TrimRight(line, "\r\n")
			}
			if pw == "" {
				return fmt.Errorf("password must not be empty")
			}
			hash, err := craftvisor.HashPassword(pw, cost)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (0 uses the library default)")
	return cmd
}
