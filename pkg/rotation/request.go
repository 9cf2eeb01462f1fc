package rotation

import (
	"encoding/json"
	"fmt"
	"strings"

	dberrors "github.com/systmms/dbrotate/internal/errors"
)

// Phase is one step of the rotation protocol
type Phase string

const (
	PhaseCreateSecret Phase = "createSecret"
	PhaseSetSecret    Phase = "setSecret"
	PhaseTestSecret   Phase = "testSecret"
	PhaseFinishSecret Phase = "finishSecret"
)

// Phases lists the phases in execution order
var Phases = []Phase{PhaseCreateSecret, PhaseSetSecret, PhaseTestSecret, PhaseFinishSecret}

// ParsePhase accepts the exact step names
func ParsePhase(s string) (Phase, error) {
	for _, p := range Phases {
		if string(p) == s {
			return p, nil
		}
	}
	return "", dberrors.ConfigError{
		Field:      "Step",
		Value:      s,
		Message:    "unknown rotation step",
		Suggestion: "Use one of createSecret, setSecret, testSecret, finishSecret",
	}
}

// Request is the unit of work for one invocation
type Request struct {
	Phase    Phase
	SecretID string
	Token    string
}

// Validate checks that every field is set
func (r Request) Validate() error {
	var missing []string
	if r.Phase == "" {
		missing = append(missing, "Step")
	}
	if r.SecretID == "" {
		missing = append(missing, "SecretId")
	}
	if r.Token == "" {
		missing = append(missing, "ClientRequestToken")
	}
	if len(missing) > 0 {
		return dberrors.ConfigError{
			Field:   "event",
			Message: "missing required event parameter: " + strings.Join(missing, ", "),
		}
	}
	if _, err := ParsePhase(string(r.Phase)); err != nil {
		return err
	}
	return nil
}

// Event is the rotation event delivered by Secrets Manager
type Event struct {
	Step               string `json:"Step"`
	SecretID           string `json:"SecretId"`
	ClientRequestToken string `json:"ClientRequestToken"`
}

// ParseEvent decodes and validates a rotation event
func ParseEvent(data []byte) (Request, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Request{}, dberrors.ConfigError{
			Field:   "event",
			Message: fmt.Sprintf("invalid event JSON: %v", err),
		}
	}

	req := Request{Phase: Phase(ev.Step), SecretID: ev.SecretID, Token: ev.ClientRequestToken}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}
