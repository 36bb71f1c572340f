package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	fisioflow "github.com/rafaelminatto1/fisioflow-51658291-sub019"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/identity"
)

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	var show bool
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if show {
				redact(&cfg)
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(out))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
	validate.Flags().BoolVar(&show, "show", false, "print the effective configuration with secrets redacted")
	cmd.AddCommand(validate)
	return cmd
}

func redact(cfg *fisioflow.Config) {
	for _, s := range []*string{
		&cfg.KMS.MasterKey, &cfg.KMS.Passphrase, &cfg.KMS.VaultToken, &cfg.KMS.VaultSecretID,
		&cfg.Redis.Password, &cfg.HTTP.JWTSigningKey, &cfg.Store.PostgresURL,
	} {
		if *s != "" {
			*s = "REDACTED"
		}
	}
}

// tokenCmd mints a bearer token for local testing of the API.
func tokenCmd(flags *globalFlags) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token signed with http.jwt_signing_key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			var opts []identity.JWTOption
			if cfg.HTTP.JWTIssuer != "" {
				opts = append(opts, identity.WithIssuer(cfg.HTTP.JWTIssuer))
			}
			if cfg.HTTP.JWTAudience != "" {
				opts = append(opts, identity.WithAudience(cfg.HTTP.JWTAudience))
			}
			verifier, err := identity.NewJWTVerifier([]byte(cfg.HTTP.JWTSigningKey), opts...)
			if err != nil {
				return err
			}
			token, err := verifier.Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
