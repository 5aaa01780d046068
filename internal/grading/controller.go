// Package grading runs the edit → save → confirm cycle of grade cells.
//
// A Controller owns a set of cells and processes every operation, timer and
// save result on one event loop goroutine, so cell state is never touched
// concurrently. Saves run in their own goroutines and report back tagged
// with the sequence number they were issued under; only the latest sequence
// of a cell is applied.
package grading

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/gradedesk/internal/clock"
	"github.com/stemsi/gradedesk/internal/logger"
	"github.com/stemsi/gradedesk/internal/model"
)

var (
	// ErrClosed is returned by operations on a stopped Controller.
	ErrClosed = errors.New("grading: controller closed")
	// ErrUnknownCell is returned for keys that were never mounted.
	ErrUnknownCell = errors.New("grading: unknown cell")
	// ErrCellExists is returned when mounting a key twice.
	ErrCellExists = errors.New("grading: cell already mounted")
	// ErrInvalidKey is returned when a student or assignment id is missing.
	ErrInvalidKey = errors.New("grading: student_id and assignment_id are required")
)

// Saver persists one grade entry.
type Saver interface {
	SaveGrade(ctx context.Context, entry model.GradeEntry) (*model.SaveGradeResult, error)
}

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(message string, kind model.NotificationKind, d time.Duration) model.Notification
}

// Policy validates a committed grade value.
type Policy interface {
	Validate(value string) error
}

// Options configures a Controller.
type Options struct {
	Saver    Saver
	Notifier Notifier
	// Policy may be nil, in which case any non-empty value is accepted.
	Policy Policy
	Clock  clock.Clock

	BlurGrace        time.Duration
	SavedRevertDelay time.Duration
	ErrorRevertDelay time.Duration
	NotifyDuration   time.Duration
	RequestTimeout   time.Duration
	NotifySuccess    bool

	Log zerolog.Logger
}

func (o *Options) defaults() {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.BlurGrace <= 0 {
		o.BlurGrace = 100 * time.Millisecond
	}
	if o.SavedRevertDelay <= 0 {
		o.SavedRevertDelay = 2000 * time.Millisecond
	}
	if o.ErrorRevertDelay <= 0 {
		o.ErrorRevertDelay = 2000 * time.Millisecond
	}
	if o.NotifyDuration <= 0 {
		o.NotifyDuration = 3000 * time.Millisecond
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
}

// Stats counts save results.
type Stats struct {
	Issued    uint64 `json:"issued"`
	Applied   uint64 `json:"applied"`
	Discarded uint64 `json:"discarded"`
}

// Controller manages the grade cells of one page.
type Controller struct {
	opts Options
	log  zerolog.Logger

	jobs chan func()
	quit chan struct{}
	done chan struct{}

	// Owned by the loop goroutine.
	cells  map[model.GradeKey]*cell
	reqCtx context.Context

	subsMu  sync.Mutex
	subs    map[int]func(model.CellState)
	nextSub int

	issued    atomic.Uint64
	applied   atomic.Uint64
	discarded atomic.Uint64

	runOnce   sync.Once
	closeOnce sync.Once
}

// New builds a Controller. Run must be running before any operation is
// called.
func New(opts Options) *Controller {
	opts.defaults()
	return &Controller{
		opts:   opts,
		log:    logger.Component(opts.Log, "grading"),
		jobs:   make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		cells:  make(map[model.GradeKey]*cell),
		reqCtx: context.Background(),
		subs:   make(map[int]func(model.CellState)),
	}
}

// Run processes operations until ctx is done or Close is called. In-flight
// saves are abandoned and pending timers stopped on exit. Call in a
// goroutine; later calls return immediately.
func (c *Controller) Run(ctx context.Context) {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.reqCtx = loopCtx
	defer func() {
		for _, cl := range c.cells {
			cl.blur.stop()
			cl.revert.stop()
		}
		cancel()
		close(c.done)
		c.log.Debug().Msg("Controller stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.quit:
			return
		case job := <-c.jobs:
			job()
		}
	}
}

// Close stops the loop and waits for it to exit if it was running.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.quit) })
	started := true
	c.runOnce.Do(func() { started = false })
	if !started {
		close(c.done)
		return
	}
	<-c.done
}

// Done is closed once the controller has stopped.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Stats returns the save counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Issued:    c.issued.Load(),
		Applied:   c.applied.Load(),
		Discarded: c.discarded.Load(),
	}
}

// Subscribe registers fn for every visible change of any cell and returns a
// func that removes it. fn runs on the loop goroutine and must not call back
// into the Controller.
func (c *Controller) Subscribe(fn func(model.CellState)) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

// ─── Operations ─────────────────────────────────────────────────────────

// Mount materializes a cell from its server-supplied value.
func (c *Controller) Mount(entry model.GradeEntry) error {
	key := entry.Key()
	if !key.Valid() {
		return ErrInvalidKey
	}
	var err error
	if doErr := c.do(func() {
		if _, ok := c.cells[key]; ok {
			err = ErrCellExists
			return
		}
		cl := newCell(entry)
		c.cells[key] = cl
		c.publish(cl)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Unmount discards a cell. A save still in flight for it is ignored when it
// completes.
func (c *Controller) Unmount(key model.GradeKey) error {
	return c.withCell(key, func(cl *cell) {
		cl.blur.stop()
		cl.revert.stop()
		delete(c.cells, key)
	})
}

// Focus marks the cell as being edited and reveals its detail affordance.
func (c *Controller) Focus(key model.GradeKey) error {
	return c.withCell(key, func(cl *cell) {
		cl.focused = true
		cl.detail = true
		cl.blur.stop()
		c.beginEditing(cl)
		c.publish(cl)
	})
}

// Input records a keystroke in the value field.
func (c *Controller) Input(key model.GradeKey, value string) error {
	return c.withCell(key, func(cl *cell) {
		cl.value = value
		cl.dirty = cl.differsFromBase()
		c.beginEditing(cl)
		c.publish(cl)
	})
}

// InputComment records a keystroke in the comment field.
func (c *Controller) InputComment(key model.GradeKey, comment string) error {
	return c.withCell(key, func(cl *cell) {
		cl.comment = comment
		cl.dirty = cl.differsFromBase()
		c.beginEditing(cl)
		c.publish(cl)
	})
}

// Blur reports that focus left the cell. The leave becomes definitive after
// the blur grace delay unless AuxPointer or Focus arrives first; a dirty
// cell is then committed.
func (c *Controller) Blur(key model.GradeKey) error {
	return c.withCell(key, func(cl *cell) {
		cl.focused = false
		c.schedule(cl, &cl.blur, c.opts.BlurGrace, c.settleBlur)
	})
}

// AuxPointer reports pointer or keyboard interaction with the cell's own
// auxiliary controls (comment box, save button). It cancels a pending blur.
func (c *Controller) AuxPointer(key model.GradeKey) error {
	return c.withCell(key, func(cl *cell) {
		if cl.blur.stop() {
			c.log.Debug().Str("cell", key.String()).Msg("Blur deferred by auxiliary control")
		}
		cl.detail = true
		c.publish(cl)
	})
}

// Commit saves the cell now (change event or save button).
func (c *Controller) Commit(key model.GradeKey) error {
	return c.withCell(key, func(cl *cell) {
		cl.blur.stop()
		c.commit(cl)
		c.publish(cl)
	})
}

// Dismiss returns an editing, saved or errored cell to idle, dropping any
// uncommitted edit. A saving cell is left alone.
func (c *Controller) Dismiss(key model.GradeKey) error {
	return c.withCell(key, func(cl *cell) {
		if cl.status == model.StatusSaving {
			return
		}
		cl.blur.stop()
		cl.revert.stop()
		cl.value, cl.comment = cl.confirmedValue, cl.confirmedComment
		cl.rebase()
		cl.status = model.StatusIdle
		cl.failure = nil
		cl.detail = false
		c.publish(cl)
	})
}

// Snapshot returns the render state of one cell.
func (c *Controller) Snapshot(key model.GradeKey) (model.CellState, bool) {
	var (
		st model.CellState
		ok bool
	)
	_ = c.do(func() {
		if cl, found := c.cells[key]; found {
			st, ok = cl.state(), true
		}
	})
	return st, ok
}

// Snapshots returns the render state of every cell.
func (c *Controller) Snapshots() []model.CellState {
	var out []model.CellState
	_ = c.do(func() {
		out = make([]model.CellState, 0, len(c.cells))
		for _, cl := range c.cells {
			out = append(out, cl.state())
		}
	})
	return out
}

// ─── State machine (loop goroutine only) ────────────────────────────────

func (c *Controller) beginEditing(cl *cell) {
	switch cl.status {
	case model.StatusIdle, model.StatusSaved, model.StatusError:
		cl.revert.stop()
		cl.status = model.StatusEditing
		cl.failure = nil
	}
}

func (c *Controller) settleBlur(cl *cell) {
	if cl.focused {
		return
	}
	cl.detail = false
	if cl.dirty {
		c.commit(cl)
	} else if cl.status == model.StatusEditing {
		cl.status = model.StatusIdle
	}
	c.publish(cl)
}

func (c *Controller) commit(cl *cell) {
	if strings.TrimSpace(cl.value) == "" {
		c.log.Debug().Str("cell", cl.key.String()).Msg("Empty commit ignored")
		return
	}

	if c.opts.Policy != nil {
		if err := c.opts.Policy.Validate(cl.value); err != nil {
			if !cl.focused {
				cl.value, cl.comment = cl.confirmedValue, cl.confirmedComment
			}
			cl.rebase()
			c.fail(cl, model.FailureValidation, err)
			return
		}
	}

	cl.seq++
	cl.revert.stop()
	cl.status = model.StatusSaving
	cl.failure = nil
	cl.rebase()
	if !cl.focused {
		cl.detail = false
	}

	entry := cl.entry()
	seq := cl.seq
	c.issued.Add(1)

	c.log.Debug().
		Str("student_id", entry.StudentID).
		Str("assignment_id", entry.AssignmentID).
		Uint64("seq", seq).
		Msg("Saving grade")

	go c.save(c.reqCtx, cl, entry, seq)
}

func (c *Controller) save(ctx context.Context, cl *cell, entry model.GradeEntry, seq uint64) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	var err error
	if c.opts.Saver == nil {
		err = errors.New("no saver configured")
	} else {
		_, err = c.opts.Saver.SaveGrade(ctx, entry)
	}

	c.post(func() { c.settle(cl, entry, seq, err) })
}

// settle applies a save result to the cell that issued it. Results for an
// unmounted cell, a remounted cell under the same key, or an older sequence
// are discarded.
func (c *Controller) settle(cl *cell, entry model.GradeEntry, seq uint64, err error) {
	cur, ok := c.cells[entry.Key()]
	if !ok || cur != cl || cl.seq != seq {
		c.discarded.Add(1)
		c.log.Debug().
			Str("cell", entry.Key().String()).
			Uint64("seq", seq).
			Msg("Superseded save result discarded")
		return
	}
	c.applied.Add(1)

	if err != nil {
		if !cl.dirty {
			if !cl.focused {
				cl.value, cl.comment = cl.confirmedValue, cl.confirmedComment
			}
			cl.rebase()
		}
		c.fail(cl, Classify(err), err)
		c.publish(cl)
		return
	}

	cl.confirmedValue, cl.confirmedComment = entry.Value, entry.Comment
	if cl.status != model.StatusSaving {
		// The cell left Saving without issuing a newer request, e.g. a later
		// commit failed validation. Only the confirmed values move.
		if !cl.dirty && !cl.focused {
			cl.value, cl.comment = entry.Value, entry.Comment
			cl.rebase()
		}
		c.publish(cl)
		return
	}
	cl.failure = nil
	if cl.dirty {
		cl.status = model.StatusEditing
	} else {
		cl.status = model.StatusSaved
		c.schedule(cl, &cl.revert, c.opts.SavedRevertDelay, c.settleRevert)
	}
	if c.opts.NotifySuccess && c.opts.Notifier != nil {
		c.opts.Notifier.Notify("Grade saved", model.KindSuccess, c.opts.NotifyDuration)
	}
	c.publish(cl)
}

func (c *Controller) fail(cl *cell, kind model.FailureKind, err error) {
	msg := Message(kind, err)
	cl.status = model.StatusError
	cl.failure = &model.CellFailure{Kind: kind, Message: msg}

	c.log.Warn().
		Err(err).
		Str("cell", cl.key.String()).
		Str("kind", string(kind)).
		Msg("Grade save failed")

	if c.opts.Notifier != nil {
		c.opts.Notifier.Notify(msg, model.KindDanger, c.opts.NotifyDuration)
	}
	c.schedule(cl, &cl.revert, c.opts.ErrorRevertDelay, c.settleRevert)
}

func (c *Controller) settleRevert(cl *cell) {
	switch cl.status {
	case model.StatusSaved, model.StatusError:
		cl.status = model.StatusIdle
		cl.failure = nil
		c.publish(cl)
	}
}

// ─── Loop plumbing ──────────────────────────────────────────────────────

// schedule arms slot to run fn on the loop after d. Re-arming or stopping
// the slot invalidates earlier fires.
func (c *Controller) schedule(cl *cell, slot *timerSlot, d time.Duration, fn func(*cell)) {
	slot.stop()
	slot.gen++
	gen := slot.gen
	key := cl.key
	slot.t = c.opts.Clock.AfterFunc(d, func() {
		c.post(func() {
			cur, ok := c.cells[key]
			if !ok || cur != cl || slot.gen != gen {
				return
			}
			slot.t = nil
			fn(cl)
		})
	})
}

func (c *Controller) withCell(key model.GradeKey, fn func(*cell)) error {
	var err error
	if doErr := c.do(func() {
		cl, ok := c.cells[key]
		if !ok {
			err = ErrUnknownCell
			return
		}
		fn(cl)
	}); doErr != nil {
		return doErr
	}
	return err
}

// do runs fn on the loop and waits for it.
func (c *Controller) do(fn func()) error {
	ran := make(chan struct{})
	job := func() {
		defer close(ran)
		fn()
	}
	select {
	case c.jobs <- job:
	case <-c.quit:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// post queues fn on the loop without waiting for it to run.
func (c *Controller) post(fn func()) {
	select {
	case c.jobs <- fn:
	case <-c.quit:
	case <-c.done:
	}
}

func (c *Controller) publish(cl *cell) {
	st := cl.state()
	if cl.published != nil && sameState(*cl.published, st) {
		return
	}
	cl.published = &st

	c.subsMu.Lock()
	subs := make([]func(model.CellState), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subsMu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}
