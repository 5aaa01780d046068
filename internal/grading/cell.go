package grading

import (
	"github.com/stemsi/gradedesk/internal/clock"
	"github.com/stemsi/gradedesk/internal/model"
)

// timerSlot holds one pending timer of a cell. gen invalidates fires that
// raced with stop or re-arm.
type timerSlot struct {
	t   clock.Timer
	gen uint64
}

// stop cancels the pending timer and reports whether one was pending.
func (s *timerSlot) stop() bool {
	s.gen++
	if s.t == nil {
		return false
	}
	s.t.Stop()
	s.t = nil
	return true
}

type cell struct {
	key model.GradeKey

	value   string
	comment string

	// Last values the server acknowledged.
	confirmedValue   string
	confirmedComment string

	// Values of the last issued save, or the values a failure settled on.
	// An edit that differs from them makes the cell dirty.
	baseValue   string
	baseComment string

	status  model.Status
	focused bool
	detail  bool
	dirty   bool
	failure *model.CellFailure

	// seq is the sequence number of the latest issued save.
	seq uint64

	blur   timerSlot
	revert timerSlot

	published *model.CellState
}

func newCell(e model.GradeEntry) *cell {
	return &cell{
		key:              e.Key(),
		value:            e.Value,
		comment:          e.Comment,
		confirmedValue:   e.Value,
		confirmedComment: e.Comment,
		baseValue:        e.Value,
		baseComment:      e.Comment,
		status:           model.StatusIdle,
	}
}

func (c *cell) differsFromBase() bool {
	return c.value != c.baseValue || c.comment != c.baseComment
}

// rebase makes the current values the new base.
func (c *cell) rebase() {
	c.baseValue, c.baseComment = c.value, c.comment
	c.dirty = false
}

func (c *cell) entry() model.GradeEntry {
	return model.GradeEntry{
		StudentID:    c.key.StudentID,
		AssignmentID: c.key.AssignmentID,
		Value:        c.value,
		Comment:      c.comment,
		Status:       c.status,
	}
}

func (c *cell) state() model.CellState {
	st := model.CellState{
		GradeEntry:    c.entry(),
		Flags:         model.FlagsFor(c.status),
		DetailVisible: c.detail,
		Version:       c.seq,
	}
	if c.failure != nil {
		f := *c.failure
		st.Failure = &f
	}
	return st
}

func sameState(a, b model.CellState) bool {
	if a.GradeEntry != b.GradeEntry || a.Flags != b.Flags ||
		a.DetailVisible != b.DetailVisible || a.Version != b.Version {
		return false
	}
	if (a.Failure == nil) != (b.Failure == nil) {
		return false
	}
	return a.Failure == nil || *a.Failure == *b.Failure
}
