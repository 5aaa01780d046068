package websocket

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/stemsi/gradedesk/internal/form"
	"github.com/stemsi/gradedesk/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionMount               Action = "mount"
	ActionUnmount             Action = "unmount"
	ActionFocus               Action = "focus"
	ActionInput               Action = "input"
	ActionComment             Action = "comment"
	ActionBlur                Action = "blur"
	ActionAuxPointer          Action = "aux_pointer"
	ActionCommit              Action = "commit"
	ActionDismiss             Action = "dismiss"
	ActionDismissNotification Action = "dismiss_notification"
	ActionSubmitForm          Action = "submit_form"
	ActionPing                Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// CellRequest addresses one grade cell. It covers unmount, focus, blur,
// aux_pointer, commit and dismiss.
type CellRequest struct {
	Action       Action `json:"action"`
	StudentID    string `json:"student_id" validate:"required,max=64"`
	AssignmentID string `json:"assignment_id" validate:"required,max=64"`
}

// Key returns the addressed cell.
func (r CellRequest) Key() model.GradeKey {
	return model.GradeKey{StudentID: r.StudentID, AssignmentID: r.AssignmentID}
}

// MountRequest materializes a cell with its server-rendered value.
type MountRequest struct {
	CellRequest
	Value   string `json:"value" validate:"max=32"`
	Comment string `json:"comment" validate:"max=1000"`
}

// InputRequest carries the current text of the value field.
type InputRequest struct {
	CellRequest
	Value string `json:"value" validate:"max=32"`
}

// CommentRequest carries the current text of the comment field.
type CommentRequest struct {
	CellRequest
	Comment string `json:"comment" validate:"max=1000"`
}

// DismissNotificationRequest closes one notification.
type DismissNotificationRequest struct {
	Action Action    `json:"action"`
	ID     uuid.UUID `json:"id" validate:"required"`
}

// SubmitFormRequest posts a generic portal form. Ref is echoed back in the
// form_result event.
type SubmitFormRequest struct {
	Action Action                 `json:"action"`
	Ref    string                 `json:"ref" validate:"max=128"`
	Method string                 `json:"method" validate:"omitempty,oneof=POST PUT PATCH DELETE post put patch delete"`
	Path   string                 `json:"path" validate:"required,startswith=/,max=512"`
	Fields map[string]interface{} `json:"fields"`
}

// Decode unmarshals raw into v.
func Decode(raw json.RawMessage, v interface{}) error {
	return json.Unmarshal(raw, v)
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventCellState    Event = "cell_state"
	EventNotification Event = "notification"
	EventFormResult   Event = "form_result"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

type CellStateResponse struct {
	Event Event           `json:"event"`
	Cell  model.CellState `json:"cell"`
}

type NotificationResponse struct {
	Event        Event              `json:"event"`
	Notification model.Notification `json:"notification"`
}

type FormResultResponse struct {
	Event  Event        `json:"event"`
	Ref    string       `json:"ref,omitempty"`
	Result *form.Result `json:"result,omitempty"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code,omitempty"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
