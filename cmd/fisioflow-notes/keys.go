package main

import (
	"fmt"

	"github.com/spf13/cobra"

	fisioflow "github.com/rafaelminatto1/fisioflow-51658291-sub019"
)

func keysCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage key encryption keys and owner data keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Record a new KEK version; new owner keys are wrapped with it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			version, err := rt.Keyring.RotateKEK(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "KEK %s rotated to version %d\n", rt.Config.KMS.KEKAlias, version)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rewrap",
		Short: "Re-wrap owner keys recorded under an older KEK version",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.Keyring.RewrapOwnerKeys(cmd.Context())
			if err != nil {
				return fmt.Errorf("re-wrapped %d keys before failing: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "re-wrapped %d owner keys\n", n)
			return nil
		},
	})
	return cmd
}

func openRuntime(cmd *cobra.Command, flags *globalFlags) (*fisioflow.Runtime, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, err
	}
	return fisioflow.New(cmd.Context(), cfg)
}
