package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidGrade   ErrCode = "INVALID_GRADE"
	ErrSessionMissing ErrCode = "SESSION_REQUIRED"

	// ─── Grade cells ───────────────────────────────────────────────────
	ErrUnknownCell   ErrCode = "UNKNOWN_CELL"
	ErrCellExists    ErrCode = "CELL_EXISTS"
	ErrUnknownAction ErrCode = "UNKNOWN_ACTION"

	// ─── Upstream ──────────────────────────────────────────────────────
	ErrUpstreamUnavailable ErrCode = "UPSTREAM_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrInvalidGrade:
		return "The grade is not accepted by the grading policy."
	case ErrSessionMissing:
		return "A portal session is required."

	// ─── Grade cells ───────────────────────────────────────────────────
	case ErrUnknownCell:
		return "No grade cell is mounted for this student and assignment."
	case ErrCellExists:
		return "This grade cell is already mounted."
	case ErrUnknownAction:
		return "Unknown action."

	// ─── Upstream ──────────────────────────────────────────────────────
	case ErrUpstreamUnavailable:
		return "The grades server could not be reached."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
