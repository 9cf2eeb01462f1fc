package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/dbrotate/internal/config"
	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/internal/providers"
	"github.com/systmms/dbrotate/pkg/secretstore"
)

// CheckResult is one line of the preflight report
type CheckResult struct {
	Name   string
	OK     bool
	Detail string
}

// NewPreflightCommand verifies that a rotation could run
func NewPreflightCommand(rt *Runtime) *cobra.Command {
	var secretID string

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check credentials, configuration and secret state before rotating",
		Long: `Verify that a rotation can run without changing anything.

This command checks:
- Configuration validity
- The AWS identity the credentials resolve to
- The secret has an AWSCURRENT version with the connection fields
- In multi-user mode, the master secret is readable and not mid-rotation`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rt.Load(cmd)
			if err != nil {
				return err
			}
			logger.Debug("Running preflight checks for %s", secretID)

			results := rt.preflight(cmd.Context(), cfg, secretID)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "CHECK\tSTATUS\tDETAIL")
			failed := 0
			for _, r := range results {
				status := "✓ ok"
				if !r.OK {
					status = "✗ failed"
					failed++
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, status, r.Detail)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if failed > 0 {
				return dberrors.UserError{
					Message:    fmt.Sprintf("Preflight found %d problem(s)", failed),
					Suggestion: "Fix the failed checks above before rotating",
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&secretID, "secret-id", "", "Secret ARN or name (required)")
	_ = cmd.MarkFlagRequired("secret-id")

	return cmd
}

func (r *Runtime) preflight(ctx context.Context, cfg *config.Config, secretID string) []CheckResult {
	results := []CheckResult{{Name: "config", OK: true, Detail: "strategy " + cfg.Strategy}}

	awsCfg, err := r.NewAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return append(results, CheckResult{Name: "aws", Detail: err.Error()})
	}

	identity, err := providers.CallerIdentity(ctx, r.NewSTS(awsCfg))
	if err != nil {
		results = append(results, CheckResult{Name: "identity", Detail: err.Error()})
	} else {
		results = append(results, CheckResult{Name: "identity", OK: true, Detail: identity.ARN})
	}

	store := r.NewStore(awsCfg)
	results = append(results, checkSecret(ctx, store, "secret", secretID,
		secretstore.FieldHost, secretstore.FieldPort, secretstore.FieldUsername, secretstore.FieldPassword)...)

	if cfg.MultiUser() {
		results = append(results, checkSecret(ctx, store, "master secret", cfg.MasterSecretID,
			secretstore.FieldUsername, secretstore.FieldPassword)...)
	}
	return results
}

func checkSecret(ctx context.Context, store secretstore.Store, name, secretID string, required ...string) []CheckResult {
	stages, err := store.DescribeStages(ctx, secretID)
	if err != nil {
		return []CheckResult{{Name: name, Detail: err.Error()}}
	}

	results := []CheckResult{{Name: name + " stages", OK: true, Detail: formatStages(stages)}}
	if pending, ok := secretstore.VersionWithStage(stages, secretstore.StagePending); ok {
		if current, _ := secretstore.CurrentVersion(stages); current != pending {
			results[0].Detail += " (rotation in progress)"
		}
	}

	current, err := store.Get(ctx, secretID, secretstore.StageCurrent, "")
	switch {
	case err != nil:
		return append(results, CheckResult{Name: name + " payload", Detail: err.Error()})
	case !current.Found:
		return append(results, CheckResult{Name: name + " payload", Detail: "no AWSCURRENT version"})
	}

	if err := secretstore.ValidatePayload(current.Payload, name, required...); err != nil {
		return append(results, CheckResult{Name: name + " payload", Detail: err.Error()})
	}
	detail := "user " + current.Payload.Username()
	if host := current.Payload.Host(); host != "" {
		detail += " at " + host
	}
	return append(results, CheckResult{Name: name + " payload", OK: true, Detail: detail})
}

func formatStages(stages map[string][]secretstore.Stage) string {
	ids := make([]string, 0, len(stages))
	for id := range stages {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		labels := make([]string, 0, len(stages[id]))
		for _, s := range stages[id] {
			labels = append(labels, string(s))
		}
		parts = append(parts, fmt.Sprintf("%s=%s", id, strings.Join(labels, "+")))
	}
	return strings.Join(parts, " ")
}
