package stepup

import (
	"errors"
	"fmt"
)

var (
	ErrAdditionalAuthenticationRequired = errors.New("additional authentication required")
	ErrMisconfigured                    = errors.New("additional authentication misconfigured")
	ErrEmptyPolicy                      = errors.New("additional authentication enabled without a policy")
)

// RequiredError signals that the user must authenticate with OptionID before proceeding.
type RequiredError struct {
	OptionID string
}

func (e *RequiredError) Error() string {
	return fmt.Sprintf("%s with %s", ErrAdditionalAuthenticationRequired, e.OptionID)
}

func (e *RequiredError) Is(target error) bool {
	return target == ErrAdditionalAuthenticationRequired
}
