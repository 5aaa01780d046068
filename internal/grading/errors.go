package grading

import (
	"errors"
	"fmt"

	"github.com/stemsi/gradedesk/internal/model"
	"github.com/stemsi/gradedesk/internal/transport"
	"github.com/stemsi/gradedesk/internal/validator"
)

// Classify maps a save error onto the failure taxonomy. Anything that is
// neither a validation error nor a server rejection counts as a network
// failure.
func Classify(err error) model.FailureKind {
	switch {
	case errors.Is(err, validator.ErrInvalidGrade):
		return model.FailureValidation
	case errors.Is(err, transport.ErrServerRejected):
		return model.FailureRejected
	default:
		return model.FailureNetwork
	}
}

// Message renders a one-line, human-readable description of a failure.
func Message(kind model.FailureKind, err error) string {
	switch kind {
	case model.FailureValidation:
		return "Grade not saved: " + trimInvalid(err)
	case model.FailureRejected:
		var rej *transport.RejectedError
		if errors.As(err, &rej) {
			if rej.Message != "" {
				return "Grade not saved: " + rej.Message
			}
			return fmt.Sprintf("Grade not saved: server responded with status %d", rej.StatusCode)
		}
		return "Grade not saved: the server refused the change"
	default:
		if transport.IsTimeout(err) {
			return "Grade not saved: the grades server did not respond in time"
		}
		return "Grade not saved: could not reach the grades server"
	}
}

func trimInvalid(err error) string {
	if err == nil {
		return "invalid value"
	}
	msg := err.Error()
	prefix := validator.ErrInvalidGrade.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
