package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCommand assembles the dbrotate command tree around rt
func NewRootCommand(rt *Runtime, info BuildInfo) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dbrotate",
		Short: "Rotate database credentials stored in AWS Secrets Manager",
		Long: `dbrotate runs the four-phase Secrets Manager rotation protocol against
MySQL-compatible databases.

Two strategies are available:
  multi-user    alternate between two application users for zero downtime
  single-user   change one cluster master password in place

Configuration comes from defaults, an optional YAML file (--config) and
environment variables, in increasing order of precedence.`,
		Version:       info.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&rt.ConfigPath, "config", "", "Config file path (YAML)")
	rootCmd.PersistentFlags().BoolVar(&rt.Debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format: json or console")
	_ = rt.Viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(
		NewRotateCommand(rt),
		NewRunCommand(rt),
		NewPreflightCommand(rt),
		NewConfigCommand(rt),
		NewVersionCommand(info),
	)
	return rootCmd
}
