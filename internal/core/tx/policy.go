package tx

// Action is the outcome of the propagation decision.
type Action int

const (
	// ActionStartNew acquires a resource and pushes an owning frame.
	ActionStartNew Action = iota
	// ActionParticipate pushes a frame sharing the active resource.
	ActionParticipate
	// ActionSuspendAndStartNew parks the active resource, then starts new.
	ActionSuspendAndStartNew
)

func (a Action) String() string {
	switch a {
	case ActionStartNew:
		return "start_new"
	case ActionParticipate:
		return "participate"
	case ActionSuspendAndStartNew:
		return "suspend_and_start_new"
	default:
		return "unknown"
	}
}

// decide maps the top-of-stack frame and the requested definition to an
// action. It touches nothing.
func decide(top *frame, def Definition) (Action, error) {
	if err := def.Validate(); err != nil {
		return 0, err
	}
	if top == nil || top.completed || top.holder == nil || top.holder.finished {
		return ActionStartNew, nil
	}
	if def.Propagation == PropagationRequiresNew {
		return ActionSuspendAndStartNew, nil
	}
	return ActionParticipate, nil
}
