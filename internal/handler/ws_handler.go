package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/gradedesk/internal/clock"
	"github.com/stemsi/gradedesk/internal/config"
	"github.com/stemsi/gradedesk/internal/form"
	"github.com/stemsi/gradedesk/internal/grading"
	"github.com/stemsi/gradedesk/internal/logger"
	"github.com/stemsi/gradedesk/internal/model"
	"github.com/stemsi/gradedesk/internal/notify"
	"github.com/stemsi/gradedesk/internal/response"
	"github.com/stemsi/gradedesk/internal/transport"
	"github.com/stemsi/gradedesk/internal/validator"
	ws "github.com/stemsi/gradedesk/internal/websocket"
)

const (
	outboxSize   = 256
	maxMessage   = 64 << 10
	maxSessionID = 128
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the gradebook stream: one grading controller and one
// notification hub per connected page.
type WSHandler struct {
	rdb      *redis.Client
	cfg      *config.Config
	policy   *validator.GradePolicy
	clock    clock.Clock
	log      zerolog.Logger
	upgrader websocket.Upgrader

	active    atomic.Int64
	issued    atomic.Uint64
	applied   atomic.Uint64
	discarded atomic.Uint64
}

// GradebookStats aggregates the save counters of every closed connection.
type GradebookStats struct {
	ActiveConnections int64  `json:"active_connections"`
	SavesIssued       uint64 `json:"saves_issued"`
	SavesApplied      uint64 `json:"saves_applied"`
	SavesDiscarded    uint64 `json:"saves_discarded"`
}

// Stats returns the live connection count and the save counters of
// connections that have closed.
func (h *WSHandler) Stats() GradebookStats {
	return GradebookStats{
		ActiveConnections: h.active.Load(),
		SavesIssued:       h.issued.Load(),
		SavesApplied:      h.applied.Load(),
		SavesDiscarded:    h.discarded.Load(),
	}
}

// NewWSHandler creates a new WSHandler. rdb may be nil, which disables the
// cross-tab notification relay.
func NewWSHandler(rdb *redis.Client, cfg *config.Config, policy *validator.GradePolicy, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		rdb:      rdb,
		cfg:      cfg,
		policy:   policy,
		clock:    clock.Real(),
		log:      logger.Component(log, "ws_handler"),
		upgrader: buildUpgrader(cfg.AllowedOrigins),
	}
}

// GradebookWebSocketStream godoc
// WS /ws/v1/gradebook/stream?session=<id>
// Upgrades to WebSocket and drives the grade cells of one page.
func (h *WSHandler) GradebookWebSocketStream(c *gin.Context) {
	sessionID := c.Query("session")
	if sessionID == "" || len(sessionID) > maxSessionID {
		response.Fail(c, http.StatusBadRequest, response.ErrSessionMissing)
		return
	}

	base, err := url.Parse(h.cfg.GradesAPIURL)
	if err != nil {
		h.log.Error().Err(err).Msg("Invalid grades API URL")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	// The page's session and CSRF cookies travel with every upstream call.
	jar, err := transport.NewSessionJar(base, c.Request.Cookies())
	if err != nil {
		h.log.Error().Err(err).Msg("Create cookie jar")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	client, err := transport.NewClient(transport.Options{
		BaseURL:     h.cfg.GradesAPIURL,
		Tokens:      transport.CookieToken{Jar: jar, URL: base, Name: h.cfg.CSRFCookieName},
		TokenHeader: h.cfg.CSRFHeaderName,
		Timeout:     h.cfg.RequestTimeout,
		HTTPClient:  &http.Client{Jar: jar},
		Log:         h.log,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Create grades client")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessage)
	// Hijacked connections are not closed by http.Server.Shutdown.
	stop := context.AfterFunc(c.Request.Context(), func() { conn.Close() })
	defer stop()

	wsLog := h.log.With().Str("session", sessionID).Logger()
	s := h.openSession(c.Request.Context(), conn, client, sessionID, wsLog)
	h.active.Add(1)
	defer func() {
		stats := s.close()
		h.active.Add(-1)
		h.issued.Add(stats.Issued)
		h.applied.Add(stats.Applied)
		h.discarded.Add(stats.Discarded)
	}()

	wsLog.Info().Msg("Gradebook connected")

	for {
		raw, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		if !s.dispatch(raw) {
			return
		}
	}
}

// ─── Per-connection session ─────────────────────────────────────────

type gradebookSession struct {
	ctx       context.Context
	cancel    context.CancelFunc
	outbox    *ws.Outbox
	hub       *notify.Hub
	ctrl      *grading.Controller
	submitter *form.Submitter
	unsubs    []func()
	log       zerolog.Logger
}

func (h *WSHandler) openSession(parent context.Context, conn *websocket.Conn, client *transport.Client, sessionID string, log zerolog.Logger) *gradebookSession {
	ctx, cancel := context.WithCancel(parent)
	s := &gradebookSession{ctx: ctx, cancel: cancel, log: log}

	s.outbox = ws.NewOutbox(conn, outboxSize)
	go s.outbox.Start()

	var pub notify.Publisher
	var relay *notify.RedisRelay
	if h.rdb != nil {
		relay = notify.NewRedisRelay(h.rdb, sessionID, log)
		pub = relay
	}
	s.hub = notify.NewHub(notify.Options{
		Clock:     h.clock,
		Duration:  h.cfg.NotifyDuration,
		Publisher: pub,
		Log:       log,
	})
	s.unsubs = append(s.unsubs, s.hub.Subscribe(func(n model.Notification) {
		s.send(ws.NotificationResponse{Event: ws.EventNotification, Notification: n})
	}))
	if relay != nil {
		go relay.Run(ctx, s.hub)
	}

	s.ctrl = grading.New(grading.Options{
		Saver:            transport.NewGradeSaver(client, h.cfg.GradesSavePath),
		Notifier:         s.hub,
		Policy:           h.policy,
		Clock:            h.clock,
		BlurGrace:        h.cfg.BlurGrace,
		SavedRevertDelay: h.cfg.SavedRevertDelay,
		ErrorRevertDelay: h.cfg.ErrorRevertDelay,
		NotifyDuration:   h.cfg.NotifyDuration,
		RequestTimeout:   h.cfg.RequestTimeout,
		NotifySuccess:    h.cfg.NotifySuccess,
		Log:              log,
	})
	s.unsubs = append(s.unsubs, s.ctrl.Subscribe(func(st model.CellState) {
		s.send(ws.CellStateResponse{Event: ws.EventCellState, Cell: st})
	}))
	go s.ctrl.Run(ctx)

	s.submitter = form.NewSubmitter(client, s.hub, h.cfg.NotifyDuration, log)
	return s
}

// close tears the session down: no subscription or timer outlives the
// connection.
func (s *gradebookSession) close() grading.Stats {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.cancel()
	s.ctrl.Close()
	s.hub.Close()
	if err := s.outbox.Close(); err != nil {
		s.log.Debug().Err(err).Msg("Outbox write failed")
	}
	stats := s.ctrl.Stats()
	s.log.Info().
		Uint64("saves_issued", stats.Issued).
		Uint64("saves_applied", stats.Applied).
		Uint64("saves_discarded", stats.Discarded).
		Msg("Gradebook disconnected")
	return stats
}

func (s *gradebookSession) send(v interface{}) {
	if !s.outbox.Send(v) {
		s.log.Warn().Msg("Outbox full or closed, event dropped")
	}
}

func (s *gradebookSession) sendError(code response.ErrCode, fields map[string]string) {
	s.send(ws.ErrorResponse{Event: ws.EventError, Code: string(code), Error: response.GetMessage(code), Fields: fields})
}

// dispatch handles one client message. It returns false when the
// connection should close.
func (s *gradebookSession) dispatch(raw []byte) bool {
	var env ws.RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.sendError(response.ErrInvalidPayload, nil)
		return true
	}

	var err error
	switch env.Action {
	case ws.ActionPing:
		s.send(ws.PongResponse{Event: ws.EventPong})
		return true

	case ws.ActionMount:
		var req ws.MountRequest
		if !s.decode(raw, &req) {
			return true
		}
		err = s.ctrl.Mount(model.GradeEntry{
			StudentID:    req.StudentID,
			AssignmentID: req.AssignmentID,
			Value:        req.Value,
			Comment:      req.Comment,
		})

	case ws.ActionInput:
		var req ws.InputRequest
		if !s.decode(raw, &req) {
			return true
		}
		err = s.ctrl.Input(req.Key(), req.Value)

	case ws.ActionComment:
		var req ws.CommentRequest
		if !s.decode(raw, &req) {
			return true
		}
		err = s.ctrl.InputComment(req.Key(), req.Comment)

	case ws.ActionUnmount, ws.ActionFocus, ws.ActionBlur, ws.ActionAuxPointer, ws.ActionCommit, ws.ActionDismiss:
		var req ws.CellRequest
		if !s.decode(raw, &req) {
			return true
		}
		err = s.cellAction(env.Action, req.Key())

	case ws.ActionDismissNotification:
		var req ws.DismissNotificationRequest
		if !s.decode(raw, &req) {
			return true
		}
		s.hub.Dismiss(req.ID)

	case ws.ActionSubmitForm:
		var req ws.SubmitFormRequest
		if !s.decode(raw, &req) {
			return true
		}
		go s.submitForm(req)

	default:
		s.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		s.sendError(response.ErrUnknownAction, nil)
		return true
	}

	switch {
	case err == nil:
	case errors.Is(err, grading.ErrClosed):
		return false
	case errors.Is(err, grading.ErrUnknownCell):
		s.sendError(response.ErrUnknownCell, nil)
	case errors.Is(err, grading.ErrCellExists):
		s.sendError(response.ErrCellExists, nil)
	case errors.Is(err, grading.ErrInvalidKey):
		s.sendError(response.ErrValidation, nil)
	default:
		s.log.Error().Err(err).Str("action", string(env.Action)).Msg("Action failed")
		s.sendError(response.ErrInternal, nil)
	}
	return true
}

func (s *gradebookSession) cellAction(action ws.Action, key model.GradeKey) error {
	switch action {
	case ws.ActionUnmount:
		return s.ctrl.Unmount(key)
	case ws.ActionFocus:
		return s.ctrl.Focus(key)
	case ws.ActionBlur:
		return s.ctrl.Blur(key)
	case ws.ActionAuxPointer:
		return s.ctrl.AuxPointer(key)
	case ws.ActionCommit:
		return s.ctrl.Commit(key)
	default:
		return s.ctrl.Dismiss(key)
	}
}

// decode unmarshals and validates a payload, reporting problems to the
// client.
func (s *gradebookSession) decode(raw []byte, dst interface{}) bool {
	if err := ws.Decode(raw, dst); err != nil {
		s.sendError(response.ErrInvalidPayload, nil)
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		s.sendError(response.ErrValidation, fields)
		return false
	}
	return true
}

func (s *gradebookSession) submitForm(req ws.SubmitFormRequest) {
	res, err := s.submitter.Submit(s.ctx, form.Form{Method: req.Method, Action: req.Path, Fields: req.Fields})
	if err != nil && res == nil {
		if errors.Is(err, form.ErrInvalidAction) {
			s.sendError(response.ErrValidation, map[string]string{"path": err.Error()})
			return
		}
		if s.ctx.Err() != nil {
			return
		}
		res = &form.Result{Message: response.GetMessage(response.ErrUpstreamUnavailable)}
	}
	s.send(ws.FormResultResponse{Event: ws.EventFormResult, Ref: req.Ref, Result: res})
}
