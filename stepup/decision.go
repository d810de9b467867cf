package stepup

// Kind is the outcome of a step-up policy evaluation.
type Kind int

const (
	// NoStepUp means the operation may proceed without additional authentication.
	NoStepUp Kind = iota
	// StepUp means the caller must challenge the user with Decision.OptionID first.
	StepUp
	// Misconfigured means the policy can't be satisfied by any usable authenticator.
	Misconfigured
)

func (k Kind) String() string {
	switch k {
	case NoStepUp:
		return "no_step_up"
	case StepUp:
		return "step_up"
	case Misconfigured:
		return "misconfigured"
	default:
		return "unknown"
	}
}

// Decision is the result of CheckRequirements.
type Decision struct {
	Kind     Kind
	OptionID string // Authenticator to use for the step-up challenge, set for StepUp
	Reason   string // Diagnostic for operators, set for Misconfigured. Never show it to end users.
}

func noStepUp() Decision {
	return Decision{Kind: NoStepUp}
}

func stepUpWith(optionID string) Decision {
	return Decision{Kind: StepUp, OptionID: optionID}
}

func misconfigured(reason string) Decision {
	return Decision{Kind: Misconfigured, Reason: reason}
}

// Required reports whether additional authentication must happen before proceeding.
func (d Decision) Required() bool {
	return d.Kind == StepUp
}

// Err converts the decision into error form for callers that prefer error flow:
// nil, a *RequiredError or ErrMisconfigured.
func (d Decision) Err() error {
	switch d.Kind {
	case StepUp:
		return &RequiredError{OptionID: d.OptionID}
	case Misconfigured:
		return ErrMisconfigured
	default:
		return nil
	}
}
