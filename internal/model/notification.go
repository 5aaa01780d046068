package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind selects the visual style of a notification.
type NotificationKind string

const (
	KindSuccess NotificationKind = "success"
	KindInfo    NotificationKind = "info"
	KindWarning NotificationKind = "warning"
	KindDanger  NotificationKind = "danger"
)

// Valid reports whether k is one of the known kinds.
func (k NotificationKind) Valid() bool {
	switch k {
	case KindSuccess, KindInfo, KindWarning, KindDanger:
		return true
	}
	return false
}

// NotificationPhase tracks a notification through its on-screen life.
type NotificationPhase string

const (
	PhaseShown     NotificationPhase = "shown"
	PhaseFading    NotificationPhase = "fading"
	PhaseDismissed NotificationPhase = "dismissed"
)

// Notification is one transient user-facing message.
type Notification struct {
	ID      uuid.UUID        `json:"id"`
	Message string           `json:"message"`
	Kind    NotificationKind `json:"kind"`

	// DurationMS is how long the notification stays before fading.
	DurationMS int64             `json:"duration_ms"`
	Phase      NotificationPhase `json:"phase"`
	CreatedAt  time.Time         `json:"created_at"`
}
