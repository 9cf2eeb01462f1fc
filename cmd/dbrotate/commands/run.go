package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/systmms/dbrotate/pkg/rotation"
)

// NewRunCommand runs every phase of a rotation in order
func NewRunCommand(rt *Runtime) *cobra.Command {
	var (
		secretID string
		token    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Rotate a secret now, running all four phases",
		Long: `Run createSecret, setSecret, testSecret and finishSecret in order.

A new client request token is generated unless --token is given. Re-running
with the token printed by a failed attempt resumes the same rotation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = uuid.NewString()
			}

			s, err := rt.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.pushMetrics(s, "dbrotate_run")

			out := cmd.OutOrStdout()
			for _, phase := range rotation.Phases {
				req := rotation.Request{Phase: phase, SecretID: secretID, Token: token}
				if err := s.coordinator.Handle(cmd.Context(), req); err != nil {
					return fmt.Errorf("rotation stopped at %s (resume with --token %s): %w", phase, token, err)
				}
				_, _ = fmt.Fprintf(out, "✓ %s\n", phase)
			}
			_, _ = fmt.Fprintf(out, "Rotated %s (version %s)\n", secretID, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secretID, "secret-id", "", "Secret ARN or name (required)")
	cmd.Flags().StringVar(&token, "token", "", "Client request token (default: a new UUID)")
	_ = cmd.MarkFlagRequired("secret-id")

	return cmd
}
