package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/dbrotate/internal/config"
)

// NewConfigCommand groups configuration helpers
func NewConfigCommand(rt *Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(newConfigPrintCommand(rt), newConfigEnvCommand())
	return cmd
}

func newConfigPrintCommand(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "print",
		Short: "Print the configuration after defaults, file and environment are merged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := rt.Load(cmd)
			if err != nil {
				return err
			}
			return cfg.Write(cmd.OutOrStdout())
		},
	}
}

func newConfigEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variable bound to each configuration key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, key := range config.Keys() {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-30s %s\n", key, config.EnvVar(key)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
