package executor

import (
	"errors"
	"fmt"

	"github.com/leadflow/leadflow/pkg/model"
)

// Kind classifies a step failure for the retry manager.
type Kind int

const (
	// KindTransient failures (network, provider 5xx, timeouts) are retried
	// with a fixed delay up to the attempt cap.
	KindTransient Kind = iota
	// KindPrerequisite failures mean the contact cannot receive this step,
	// e.g. no phone number. The step is logged as failed and skipped.
	KindPrerequisite
	// KindConfiguration failures mean the deployment or program is missing
	// something (provider credentials, assistant). No retry budget is used.
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindPrerequisite:
		return "prerequisite"
	case KindConfiguration:
		return "configuration"
	default:
		return "transient"
	}
}

type Error struct {
	Kind    Kind
	Channel model.Channel
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Channel, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Channel, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func Transient(channel model.Channel, message string, cause error) *Error {
	return &Error{Kind: KindTransient, Channel: channel, Message: message, Cause: cause}
}

func Prerequisite(channel model.Channel, message string) *Error {
	return &Error{Kind: KindPrerequisite, Channel: channel, Message: message}
}

func Configuration(channel model.Channel, message string, cause error) *Error {
	return &Error{Kind: KindConfiguration, Channel: channel, Message: message, Cause: cause}
}

// KindOf returns the kind of err. Unclassified errors are transient.
func KindOf(err error) Kind {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return KindTransient
}
