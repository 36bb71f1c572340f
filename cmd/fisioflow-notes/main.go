package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	fisioflow "github.com/rafaelminatto1/fisioflow-51658291-sub019"
)

type globalFlags struct {
	configPath string
	envFiles   []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "fisioflow-notes",
		Short:         "Encrypted clinical note service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, ".env files to load before reading the environment")

	root.AddCommand(serveCmd(flags))
	root.AddCommand(keysCmd(flags))
	root.AddCommand(configCmd(flags))
	root.AddCommand(tokenCmd(flags))
	root.AddCommand(versionCmd())
	return root
}

func (f *globalFlags) load() (fisioflow.Config, error) {
	if err := fisioflow.LoadDotEnv(f.envFiles...); err != nil {
		return fisioflow.Config{}, err
	}
	return fisioflow.LoadConfig(f.configPath)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), fisioflow.VersionInfo())
		},
	}
}
