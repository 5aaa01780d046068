package grading

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stemsi/gradedesk/internal/model"
	"github.com/stemsi/gradedesk/internal/transport"
	"github.com/stemsi/gradedesk/internal/validator"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.FailureKind
	}{
		{"invalid grade", fmt.Errorf("%w: grade is required", validator.ErrInvalidGrade), model.FailureValidation},
		{"non-2xx", &transport.RejectedError{StatusCode: 403}, model.FailureRejected},
		{"wrapped rejection", fmt.Errorf("save: %w", &transport.RejectedError{StatusCode: 200, Message: "locked"}), model.FailureRejected},
		{"connection refused", &transport.NetworkError{Method: "POST", URL: "/x", Err: errors.New("refused")}, model.FailureNetwork},
		{"deadline", context.DeadlineExceeded, model.FailureNetwork},
		{"unknown", errors.New("boom"), model.FailureNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Grade not saved: grade must be a number from 1 to 5",
		Message(model.FailureValidation, fmt.Errorf("%w: grade must be a number from 1 to 5", validator.ErrInvalidGrade)))
	assert.Equal(t, "Grade not saved: locked",
		Message(model.FailureRejected, &transport.RejectedError{StatusCode: 200, Message: "locked"}))
	assert.Equal(t, "Grade not saved: server responded with status 502",
		Message(model.FailureRejected, &transport.RejectedError{StatusCode: 502}))
	assert.Equal(t, "Grade not saved: could not reach the grades server",
		Message(model.FailureNetwork, &transport.NetworkError{Err: errors.New("refused")}))
}
