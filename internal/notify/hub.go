// Package notify keeps the stack of transient notifications shown on a page.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/gradedesk/internal/clock"
	"github.com/stemsi/gradedesk/internal/logger"
	"github.com/stemsi/gradedesk/internal/model"
)

const (
	DefaultDuration = 3000 * time.Millisecond
	DefaultFade     = 500 * time.Millisecond
)

// Publisher forwards locally raised notifications to other hubs.
type Publisher interface {
	Publish(n model.Notification, origin uuid.UUID)
}

// Options configures a Hub. Zero values take the defaults above.
type Options struct {
	Clock     clock.Clock
	Duration  time.Duration
	Fade      time.Duration
	Publisher Publisher
	Log       zerolog.Logger
}

type entry struct {
	n     model.Notification
	timer clock.Timer
}

// Hub owns the notifications of one page. Every phase change (shown,
// fading, dismissed) is delivered to subscribers.
type Hub struct {
	mu       sync.Mutex
	clock    clock.Clock
	duration time.Duration
	fade     time.Duration
	pub      Publisher
	origin   uuid.UUID
	items    []*entry
	subs     map[int]func(model.Notification)
	nextSub  int
	closed   bool
	log      zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(opts Options) *Hub {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.Fade <= 0 {
		opts.Fade = DefaultFade
	}
	return &Hub{
		clock:    opts.Clock,
		duration: opts.Duration,
		fade:     opts.Fade,
		pub:      opts.Publisher,
		origin:   uuid.New(),
		subs:     make(map[int]func(model.Notification)),
		log:      logger.Component(opts.Log, "notify_hub"),
	}
}

// Origin identifies this hub on the relay.
func (h *Hub) Origin() uuid.UUID { return h.origin }

// Notify shows a message for d (the hub default when d <= 0) and returns it.
// Unknown kinds are shown as info.
func (h *Hub) Notify(message string, kind model.NotificationKind, d time.Duration) model.Notification {
	if !kind.Valid() {
		kind = model.KindInfo
	}
	if d <= 0 {
		d = h.duration
	}
	n := model.Notification{
		ID:         uuid.New(),
		Message:    message,
		Kind:       kind,
		DurationMS: d.Milliseconds(),
		Phase:      model.PhaseShown,
		CreatedAt:  h.clock.Now(),
	}
	if !h.show(n) {
		return n
	}
	if h.pub != nil {
		h.pub.Publish(n, h.origin)
	}
	return n
}

// Show displays a notification raised elsewhere without republishing it.
func (h *Hub) Show(n model.Notification) {
	n.Phase = model.PhaseShown
	if !n.Kind.Valid() {
		n.Kind = model.KindInfo
	}
	if n.DurationMS <= 0 {
		n.DurationMS = h.duration.Milliseconds()
	}
	h.show(n)
}

func (h *Hub) show(n model.Notification) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	for _, e := range h.items {
		if e.n.ID == n.ID {
			h.mu.Unlock()
			return false
		}
	}
	e := &entry{n: n}
	id := n.ID
	e.timer = h.clock.AfterFunc(time.Duration(n.DurationMS)*time.Millisecond, func() { h.startFade(id) })
	h.items = append(h.items, e)
	h.mu.Unlock()

	h.emit(n)
	return true
}

func (h *Hub) startFade(id uuid.UUID) {
	h.mu.Lock()
	e := h.find(id)
	if e == nil || h.closed || e.n.Phase != model.PhaseShown {
		h.mu.Unlock()
		return
	}
	e.n.Phase = model.PhaseFading
	e.timer = h.clock.AfterFunc(h.fade, func() { h.Dismiss(id) })
	n := e.n
	h.mu.Unlock()

	h.emit(n)
}

// Dismiss removes a notification immediately. It reports whether the
// notification was still on screen.
func (h *Hub) Dismiss(id uuid.UUID) bool {
	h.mu.Lock()
	idx := -1
	for i, e := range h.items {
		if e.n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		h.mu.Unlock()
		return false
	}
	e := h.items[idx]
	e.timer.Stop()
	h.items = append(h.items[:idx], h.items[idx+1:]...)
	n := e.n
	n.Phase = model.PhaseDismissed
	h.mu.Unlock()

	h.emit(n)
	return true
}

// Active returns the notifications on screen, oldest first.
func (h *Hub) Active() []model.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Notification, 0, len(h.items))
	for _, e := range h.items {
		out = append(out, e.n)
	}
	return out
}

// Subscribe registers fn for every phase change and returns a func that
// removes it.
func (h *Hub) Subscribe(fn func(model.Notification)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Close stops all timers and drops subscribers. Later calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, e := range h.items {
		e.timer.Stop()
	}
	h.items = nil
	h.subs = make(map[int]func(model.Notification))
}

func (h *Hub) find(id uuid.UUID) *entry {
	for _, e := range h.items {
		if e.n.ID == id {
			return e
		}
	}
	return nil
}

func (h *Hub) emit(n model.Notification) {
	h.mu.Lock()
	subs := make([]func(model.Notification), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	h.log.Debug().Str("id", n.ID.String()).Str("phase", string(n.Phase)).Msg("Notification")
	for _, fn := range subs {
		fn(n)
	}
}
