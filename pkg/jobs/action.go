package jobs

import (
	"fmt"
	"strings"

	"github.com/ztpkit/ztpkit/pkg/engine"
	"github.com/ztpkit/ztpkit/pkg/stores"
)

// Action is the decoded form of a job's kind. The worker switches over the concrete
// types; the persisted kind string is only looked at by DecodeAction.
type Action interface {
	Kind() stores.JobKind
	isAction()
}

// CommandAction runs a raw command on the device as a one-shot exec.
type CommandAction struct {
	Command string
}

// Kind implements Action.
func (CommandAction) Kind() stores.JobKind { return stores.JobKindCommand }

func (CommandAction) isAction() {}

// DeployAction renders the device's configuration template and pushes it.
type DeployAction struct{}

// Kind implements Action.
func (DeployAction) Kind() stores.JobKind { return stores.JobKindDeploy }

func (DeployAction) isAction() {}

// DecodeAction maps a persisted job onto its Action.
func DecodeAction(job *stores.Job) (Action, error) {
	switch stores.JobKind(strings.ToLower(string(job.Kind))) {
	case stores.JobKindCommand:
		if strings.TrimSpace(job.Command) == "" {
			return nil, engine.NewValidationError("command job has no command", nil).
				WithResource("job/" + job.ID)
		}
		return CommandAction{Command: job.Command}, nil
	case stores.JobKindDeploy:
		return DeployAction{}, nil
	default:
		return nil, engine.NewValidationError(fmt.Sprintf("unknown job kind %q", job.Kind), nil).
			WithCode(engine.ErrCodeUnknownKind).
			WithResource("job/" + job.ID)
	}
}
