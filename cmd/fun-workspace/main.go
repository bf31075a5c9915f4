package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

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
	cmd := command{}

	root.AddCommand(
		createServeCommand(globalFlags),
		createLogsCommand(cmd),
		createPortCommand(cmd),
		createAppsCommand(cmd),
		createReclaimCommand(cmd, globalFlags),
		createVersionCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "fun-workspace",
		Short: "Per-user development workspace daemon",
		Long: `fun-workspace serves the per-user workspace directories of the studio:
run logs, optimistic file edits, app directory cleanup and the preview port gate.

Examples:
  fun-workspace serve config.toml
  fun-workspace logs --user=1 --app=2 --type=BUILD --tail=4096
  fun-workspace port lookup --user=1 --token=secret
  fun-workspace reclaim --user=1 --app=2`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL including base path (default http://127.0.0.1:7001/workspace)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.Token, "token", os.Getenv("FUNWS_GATE_SHARED_TOKEN"), "gate shared token")
}

func mustRequire(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the workspace daemon",
		Long: `Start the workspace daemon. Configuration comes from the TOML file
(optional) and FUNWS_* environment variables.

Examples:
  fun-workspace serve config.toml
  fun-workspace serve --config=config.toml --daemonize --pidfile=/run/funws.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write daemon PID to file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func createLogsCommand(c command) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print a run log of an app",
		Long: `Print the current BUILD, INSTALL or PREVIEW log of an app.

Examples:
  fun-workspace logs --user=1 --app=2
  fun-workspace logs --user=1 --app=2 --type=BUILD --tail=8192
  fun-workspace logs --user=1 --app=2 --type=INSTALL --stream`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withOut(cmd).Logs(cmd.Context(), *f)
		},
	}
	cmd.Flags().Int64Var(&f.UserID, "user", 0, "user id (required)")
	cmd.Flags().Int64Var(&f.AppID, "app", 0, "app id (required)")
	cmd.Flags().StringVar(&f.Type, "type", "PREVIEW", "log type: BUILD, INSTALL or PREVIEW")
	cmd.Flags().Int64Var(&f.TailBytes, "tail", 0, "only the last N bytes (0 = whole file)")
	cmd.Flags().BoolVar(&f.Stream, "stream", false, "print raw text instead of JSON")
	addAPIFlags(cmd, &f.API)
	mustRequire(cmd, "user", "app")
	return cmd
}

func createPortCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Query or change preview port assignments",
	}

	lookup := &PortFlags{}
	lookupCmd := &cobra.Command{
		Use:   "lookup",
		Short: "Print the preview port of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withOut(cmd).PortLookup(cmd.Context(), *lookup)
		},
	}
	lookupCmd.Flags().Int64Var(&lookup.UserID, "user", 0, "user id (required)")
	addAPIFlags(lookupCmd, &lookup.API)
	mustRequire(lookupCmd, "user")

	assign := &PortFlags{}
	assignCmd := &cobra.Command{
		Use:   "assign",
		Short: "Record the preview port of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withOut(cmd).PortAssign(cmd.Context(), *assign)
		},
	}
	assignCmd.Flags().Int64Var(&assign.UserID, "user", 0, "user id (required)")
	assignCmd.Flags().IntVar(&assign.Port, "port", 0, "host port (required)")
	addAPIFlags(assignCmd, &assign.API)
	mustRequire(assignCmd, "user", "port")

	release := &PortFlags{}
	releaseCmd := &cobra.Command{
		Use:   "release",
		Short: "Forget the preview port of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withOut(cmd).PortRelease(cmd.Context(), *release)
		},
	}
	releaseCmd.Flags().Int64Var(&release.UserID, "user", 0, "user id (required)")
	addAPIFlags(releaseCmd, &release.API)
	mustRequire(releaseCmd, "user")

	cmd.AddCommand(lookupCmd, assignCmd, releaseCmd)
	return cmd
}

func createAppsCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Manage app records and directories",
	}

	create := &AppFlags{}
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an app and its directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withOut(cmd).AppCreate(cmd.Context(), *create)
		},
	}
	createCmd.Flags().Int64Var(&create.UserID, "user", 0, "user id (required)")
	createCmd.Flags().Int64Var(&create.AppID, "app", 0, "app id (required)")
	createCmd.Flags().StringVar(&create.Name, "name", "", "display name")
	addAPIFlags(createCmd, &create.API)
	mustRequire(createCmd, "user", "app")

	list := &AppFlags{}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the apps of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withOut(cmd).AppList(cmd.Context(), *list)
		},
	}
	listCmd.Flags().Int64Var(&list.UserID, "user", 0, "user id (required)")
	addAPIFlags(listCmd, &list.API)
	mustRequire(listCmd, "user")

	del := &AppFlags{}
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an app, its directory and its run logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withOut(cmd).AppDelete(cmd.Context(), *del)
		},
	}
	deleteCmd.Flags().Int64Var(&del.UserID, "user", 0, "user id (required)")
	deleteCmd.Flags().Int64Var(&del.AppID, "app", 0, "app id (required)")
	addAPIFlags(deleteCmd, &del.API)
	mustRequire(deleteCmd, "user", "app")

	cmd.AddCommand(createCmd, listCmd, deleteCmd)
	return cmd
}

func createReclaimCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ReclaimFlags{}
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Reclaim an app directory or purge quarantine on this host",
		Long: `Delete an app directory and its run logs directly on the local filesystem,
quarantining the directory when it cannot be removed. With --purge, remove
quarantined directories older than the configured retention instead.

Examples:
  fun-workspace reclaim --config=config.toml --user=1 --app=2
  fun-workspace reclaim --root=/data/funai/workspaces --user=1 --app=2
  fun-workspace reclaim --config=config.toml --purge`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.ConfigPath = globalFlags.ConfigPath
			return c.withOut(cmd).Reclaim(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Root, "root", "", "workspace root (overrides [workspace].root)")
	cmd.Flags().Int64Var(&f.UserID, "user", 0, "user id")
	cmd.Flags().Int64Var(&f.AppID, "app", 0, "app id")
	cmd.Flags().BoolVar(&f.Purge, "purge", false, "purge expired quarantine entries")
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
