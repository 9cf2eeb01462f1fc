package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/pkg/rotation"
)

// NewRotateCommand runs a single rotation phase
func NewRotateCommand(rt *Runtime) *cobra.Command {
	var (
		step      string
		secretID  string
		token     string
		eventPath string
	)

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Run one rotation phase for a secret",
		Long: `Run one phase of the four-phase rotation protocol.

The phase is given either with --step, --secret-id and --token, or as the
JSON event Secrets Manager sends to a rotation function, read from a file or
from stdin with --event -.

Phases, in order: createSecret, setSecret, testSecret, finishSecret.
Every phase is idempotent and may be retried with the same token.

Examples:
  # Stage a new pending version
  dbrotate rotate --step createSecret --secret-id prod/app/mysql --token 6f1c...

  # Handle a Secrets Manager event
  echo '{"Step":"setSecret","SecretId":"prod/app/mysql","ClientRequestToken":"6f1c..."}' | dbrotate rotate --event -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := rotateRequest(cmd, step, secretID, token, eventPath)
			if err != nil {
				return err
			}

			s, err := rt.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.pushMetrics(s, "dbrotate_rotate")

			if err := s.coordinator.Handle(cmd.Context(), req); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s completed for %s (token %s)\n", req.Phase, req.SecretID, req.Token)
			return nil
		},
	}

	cmd.Flags().StringVar(&step, "step", "", "Rotation phase: createSecret, setSecret, testSecret or finishSecret")
	cmd.Flags().StringVar(&secretID, "secret-id", "", "Secret ARN or name")
	cmd.Flags().StringVar(&token, "token", "", "Client request token identifying the pending version")
	cmd.Flags().StringVar(&eventPath, "event", "", "Read the rotation event JSON from a file, or - for stdin")
	cmd.MarkFlagsMutuallyExclusive("event", "step")
	cmd.MarkFlagsMutuallyExclusive("event", "secret-id")
	cmd.MarkFlagsMutuallyExclusive("event", "token")

	return cmd
}

func rotateRequest(cmd *cobra.Command, step, secretID, token, eventPath string) (rotation.Request, error) {
	if eventPath == "" {
		if step == "" && secretID == "" && token == "" {
			return rotation.Request{}, dberrors.UserError{
				Message:    "Nothing to rotate",
				Suggestion: "Pass --step, --secret-id and --token, or --event <file|->",
			}
		}
		req := rotation.Request{Phase: rotation.Phase(step), SecretID: secretID, Token: token}
		return req, req.Validate()
	}

	var (
		data []byte
		err  error
	)
	if eventPath == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(eventPath)
	}
	if err != nil {
		return rotation.Request{}, dberrors.UserError{
			Message:    "Failed to read rotation event",
			Details:    err.Error(),
			Suggestion: "Check the --event path",
			Err:        err,
		}
	}
	return rotation.ParseEvent(data)
}
