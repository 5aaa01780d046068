package model

// Status enumerates the states of a grade cell.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusEditing Status = "editing"
	StatusSaving  Status = "saving"
	StatusSaved   Status = "saved"
	StatusError   Status = "error"
)

// FailureKind classifies why a save attempt ended in the error state.
type FailureKind string

const (
	FailureValidation FailureKind = "validation_failure"
	FailureNetwork    FailureKind = "network_failure"
	FailureRejected   FailureKind = "server_rejected"
)

// GradeKey identifies a grade cell.
type GradeKey struct {
	StudentID    string `json:"student_id"`
	AssignmentID string `json:"assignment_id"`
}

func (k GradeKey) String() string {
	return k.StudentID + "/" + k.AssignmentID
}

// Valid reports whether both halves of the key are set.
func (k GradeKey) Valid() bool {
	return k.StudentID != "" && k.AssignmentID != ""
}

// GradeEntry is one editable student/assignment grade.
type GradeEntry struct {
	StudentID    string `json:"student_id"`
	AssignmentID string `json:"assignment_id"`
	Value        string `json:"value"`
	Comment      string `json:"comment,omitempty"`
	Status       Status `json:"status"`
}

// Key returns the entry's identity.
func (e GradeEntry) Key() GradeKey {
	return GradeKey{StudentID: e.StudentID, AssignmentID: e.AssignmentID}
}

// SaveGradeRequest is the body posted to the grades server.
type SaveGradeRequest struct {
	Grade        string `json:"grade"`
	StudentID    string `json:"student_id"`
	AssignmentID string `json:"assignment_id"`
	Comment      string `json:"comment,omitempty"`
}

// SaveGradeResult is the grades server's acknowledgement.
type SaveGradeResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// CellFlags are the mutually exclusive visual flags of a cell. At most one
// is set; none means idle.
type CellFlags struct {
	Editing bool `json:"editing"`
	Saving  bool `json:"saving"`
	Saved   bool `json:"saved"`
	Error   bool `json:"error"`
}

// FlagsFor maps a status onto its visual flag.
func FlagsFor(s Status) CellFlags {
	switch s {
	case StatusEditing:
		return CellFlags{Editing: true}
	case StatusSaving:
		return CellFlags{Saving: true}
	case StatusSaved:
		return CellFlags{Saved: true}
	case StatusError:
		return CellFlags{Error: true}
	default:
		return CellFlags{}
	}
}

// CellFailure describes the last failed save of a cell.
type CellFailure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// CellState is the render snapshot of a grade cell pushed to the page.
type CellState struct {
	GradeEntry
	Flags         CellFlags    `json:"flags"`
	DetailVisible bool         `json:"detail_visible"`
	Failure       *CellFailure `json:"failure,omitempty"`
	Version       uint64       `json:"version"`
}
