package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/scriptdeck/pkg/client"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	cmd := &command{flags: globalFlags, out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags),
		createScriptsCommand(cmd),
		createStartCommand(cmd),
		createStopCommand(cmd),
		createStatusCommand(cmd),
		createLogsCommand(cmd),
		createPackagesCommand(cmd),
		createInstallRequirementsCommand(cmd),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "scriptdeck",
		Short: "Script supervision dashboard",
		Long: `Scriptdeck discovers Python scripts in a directory tree, runs them as
supervised processes, streams their output live and keeps their logs.

Examples:
  scriptdeck serve config.toml                 # Start the daemon
  scriptdeck scripts                           # List discovered scripts
  scriptdeck start --script=job/a.py
  scriptdeck logs --script=job/a.py
  scriptdeck status --api-url=http://remote:7447/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", client.DefaultBaseURL, "daemon API URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return root
}

func createScriptsCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "scripts",
		Short: "List discovered scripts and whether they are running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Scripts(cmd.Context())
		},
	}
}

func createStartCommand(c *command) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a script",
		Long: `Start a script by name. Starting a running script does nothing.

Examples:
  scriptdeck start --script=a.py
  scriptdeck start --script=job/a.py --path=/scripts/job/a.py --folder=/scripts/job`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Script, "script", "", "script name (required)")
	cmd.Flags().StringVar(&f.Path, "path", "", "absolute script path (default <scripts_dir>/<script>)")
	cmd.Flags().StringVar(&f.Folder, "folder", "", "working directory (default scripts_dir)")
	if err := cmd.MarkFlagRequired("script"); err != nil {
		panic(err)
	}
	return cmd
}

func createStopCommand(c *command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Script, "script", "", "script name (required)")
	if err := cmd.MarkFlagRequired("script"); err != nil {
		panic(err)
	}
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show script status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Script, "script", "", "script name (all started scripts when empty)")
	return cmd
}

func createLogsCommand(c *command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the persisted log of a script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Logs(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Script, "script", "", "script name (required)")
	if err := cmd.MarkFlagRequired("script"); err != nil {
		panic(err)
	}
	return cmd
}

func createPackagesCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "Manage packages of the shared environment",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List installed packages",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.Packages(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "install <package>",
			Short: "Install a package",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.Install(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "uninstall <package>",
			Short: "Uninstall a package",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.Uninstall(cmd.Context(), args[0])
			},
		},
	)
	return cmd
}

func createInstallRequirementsCommand(c *command) *cobra.Command {
	f := &RequirementsFlags{}
	cmd := &cobra.Command{
		Use:   "install-requirements",
		Short: "Install requirements.txt of a folder (default scripts_dir)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.InstallRequirements(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Folder, "folder", "", "absolute folder containing requirements.txt")
	return cmd
}
