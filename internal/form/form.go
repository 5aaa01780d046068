// Package form submits generic portal forms to the grades server and turns
// the reply into something a page can render: a message, a redirect, or
// field errors shown next to the inputs.
package form

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/gradedesk/internal/logger"
	"github.com/stemsi/gradedesk/internal/model"
	"github.com/stemsi/gradedesk/internal/transport"
)

// ErrInvalidAction is returned when a form targets anything but a path on
// the grades server.
var ErrInvalidAction = errors.New("form: action must be an absolute path")

// Sender performs one request against the grades server.
type Sender interface {
	Send(ctx context.Context, req transport.Request) (*transport.Outcome, error)
}

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(message string, kind model.NotificationKind, d time.Duration) model.Notification
}

// Form is one submission.
type Form struct {
	// Method defaults to POST.
	Method string
	Action string
	Fields map[string]interface{}
}

// Result is what the page renders after a submission.
type Result struct {
	Success  bool              `json:"success"`
	Message  string            `json:"message,omitempty"`
	Redirect string            `json:"redirect,omitempty"`
	Reset    bool              `json:"reset,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
}

const (
	defaultSuccess = "Changes saved"
	defaultFailure = "The form could not be saved"
	networkFailure = "Could not submit the form"
)

// Submitter posts forms through a Sender and reports the outcome through a
// Notifier, one message per submission.
type Submitter struct {
	sender   Sender
	notifier Notifier
	duration time.Duration
	log      zerolog.Logger
}

// NewSubmitter builds a Submitter. notifier may be nil.
func NewSubmitter(sender Sender, notifier Notifier, duration time.Duration, log zerolog.Logger) *Submitter {
	return &Submitter{
		sender:   sender,
		notifier: notifier,
		duration: duration,
		log:      logger.Component(log, "form"),
	}
}

// Submit sends f. A rejected submission returns both a Result carrying the
// server's message and field errors and the *transport.RejectedError. A
// network failure returns a nil Result.
func (s *Submitter) Submit(ctx context.Context, f Form) (*Result, error) {
	if !strings.HasPrefix(f.Action, "/") || strings.HasPrefix(f.Action, "//") {
		return nil, ErrInvalidAction
	}
	method := strings.ToUpper(f.Method)
	if method == "" {
		method = http.MethodPost
	}

	out, err := s.sender.Send(ctx, transport.Request{Method: method, Path: f.Action, Body: f.Fields})
	if err == nil {
		err = out.Rejection()
	}

	if err != nil {
		var rej *transport.RejectedError
		if !errors.As(err, &rej) {
			s.log.Warn().Err(err).Str("action", f.Action).Msg("Form submission failed")
			s.notify(networkFailure, model.KindDanger)
			return nil, fmt.Errorf("submit %s: %w", f.Action, err)
		}
		res := &Result{Message: rej.Message, Errors: flatten(rej.Fields)}
		if res.Message == "" {
			res.Message = defaultFailure
		}
		s.log.Debug().Int("status", rej.StatusCode).Str("action", f.Action).Msg("Form rejected")
		s.notify(res.Message, model.KindDanger)
		return res, err
	}

	res := &Result{Success: true, Message: out.Message, Redirect: out.Redirect, Reset: out.Reset}
	if res.Message == "" {
		res.Message = defaultSuccess
	}
	s.notify(res.Message, model.KindSuccess)
	return res, nil
}

func (s *Submitter) notify(message string, kind model.NotificationKind) {
	if s.notifier != nil {
		s.notifier.Notify(message, kind, s.duration)
	}
}

// flatten joins each field's messages into one line.
func flatten(fields map[string][]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for name, msgs := range fields {
		out[name] = strings.Join(msgs, " ")
	}
	return out
}
