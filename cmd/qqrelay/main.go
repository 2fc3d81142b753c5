package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memohai/qqrelay/internal/version"
)

// configPath overrides CONFIG_PATH when set through --config.
var configPath string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "qqrelay",
		Short:         "Relay QQ messages to a Coze bot and send the replies back",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or config.toml)")

	cmd.AddCommand(
		newServeCommand(),
		newAskCommand(),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetInfo())
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
