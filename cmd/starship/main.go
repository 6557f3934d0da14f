package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ghabxph/starship/internal/version"
)

var envFile string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "starship",
		Short:         "Slack bot that turns commands and threads into Jira or Monday tickets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file; missing files are ignored")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Receive Slack traffic over HTTP webhooks",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), transportHTTP)
			},
		},
		&cobra.Command{
			Use:   "socket",
			Short: "Receive Slack traffic over Socket Mode; HTTP still serves OAuth and health",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), transportSocket)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.AppName, version.GetBuildInfo())
			},
		},
	)
	return root
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
