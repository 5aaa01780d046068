package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/gradedesk/internal/config"
	"github.com/stemsi/gradedesk/internal/form"
	"github.com/stemsi/gradedesk/internal/model"
	"github.com/stemsi/gradedesk/internal/validator"
	ws "github.com/stemsi/gradedesk/internal/websocket"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

func testConfig(gradesURL string) *config.Config {
	return &config.Config{
		GinMode:          gin.TestMode,
		GradesAPIURL:     gradesURL,
		GradesSavePath:   "/api/grades/save/",
		CSRFCookieName:   "csrftoken",
		CSRFHeaderName:   "X-CSRFToken",
		RequestTimeout:   2 * time.Second,
		BlurGrace:        20 * time.Millisecond,
		SavedRevertDelay: 150 * time.Millisecond,
		ErrorRevertDelay: 150 * time.Millisecond,
		NotifyDuration:   5 * time.Second,
		GradeMin:         1,
		GradeMax:         5,
		GradeTokens:      []string{"pass", "fail"},
	}
}

func testPolicy(t *testing.T) *validator.GradePolicy {
	t.Helper()
	policy, err := validator.NewGradePolicy(1, 5, 0, []string{"pass", "fail"})
	require.NoError(t, err)
	return policy
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newDesk starts a fake grades server and a desk pointing at it.
func newDesk(t *testing.T, grades http.HandlerFunc) (*httptest.Server, *WSHandler) {
	t.Helper()
	upstream := httptest.NewServer(grades)
	t.Cleanup(upstream.Close)

	h := NewWSHandler(nil, testConfig(upstream.URL), testPolicy(t), zerolog.Nop())
	r := gin.New()
	r.GET("/ws/v1/gradebook/stream", h.GradebookWebSocketStream)

	desk := httptest.NewServer(r)
	t.Cleanup(desk.Close)
	return desk, h
}

func dial(t *testing.T, desk *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(desk.URL, "http") + "/ws/v1/gradebook/stream?session=teacher-1"
	header := http.Header{"Cookie": {"csrftoken=tok123; sessionid=sess-abc"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type event struct {
	Event        ws.Event            `json:"event"`
	Cell         *model.CellState    `json:"cell"`
	Notification *model.Notification `json:"notification"`
	Ref          string              `json:"ref"`
	Result       *form.Result        `json:"result"`
	Code         string              `json:"code"`
	Error        string              `json:"error"`
	Fields       map[string]string   `json:"fields"`
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// waitFor reads events until pred matches one.
func waitFor(t *testing.T, conn *websocket.Conn, pred func(event) bool) event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var e event
		require.NoError(t, conn.ReadJSON(&e), "no matching event before deadline")
		if pred(e) {
			return e
		}
	}
}

func cellIs(key model.GradeKey, status model.Status) func(event) bool {
	return func(e event) bool {
		return e.Event == ws.EventCellState && e.Cell != nil && e.Cell.Key() == key && e.Cell.Status == status
	}
}

func errorIs(code string) func(event) bool {
	return func(e event) bool { return e.Event == ws.EventError && e.Code == code }
}

func cellMsg(action ws.Action, key model.GradeKey, extra map[string]string) map[string]string {
	m := map[string]string{
		"action":        string(action),
		"student_id":    key.StudentID,
		"assignment_id": key.AssignmentID,
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

var cellKey = model.GradeKey{StudentID: "S1", AssignmentID: "A1"}

func TestGradebookSavesGrade(t *testing.T) {
	var hits atomic.Int32
	desk, h := newDesk(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/grades/save/", r.URL.Path)
		assert.Equal(t, "tok123", r.Header.Get("X-CSRFToken"))
		if c, err := r.Cookie("sessionid"); assert.NoError(t, err) {
			assert.Equal(t, "sess-abc", c.Value)
		}

		var body model.SaveGradeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, model.SaveGradeRequest{Grade: "5", StudentID: "S1", AssignmentID: "A1"}, body)

		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	})
	conn := dial(t, desk)

	send(t, conn, cellMsg(ws.ActionMount, cellKey, map[string]string{"value": ""}))
	waitFor(t, conn, cellIs(cellKey, model.StatusIdle))

	send(t, conn, cellMsg(ws.ActionFocus, cellKey, nil))
	send(t, conn, cellMsg(ws.ActionInput, cellKey, map[string]string{"value": "5"}))
	send(t, conn, cellMsg(ws.ActionBlur, cellKey, nil))

	waitFor(t, conn, cellIs(cellKey, model.StatusSaving))
	saved := waitFor(t, conn, cellIs(cellKey, model.StatusSaved))
	assert.Equal(t, "5", saved.Cell.Value)
	assert.True(t, saved.Cell.Flags.Saved)

	idle := waitFor(t, conn, cellIs(cellKey, model.StatusIdle))
	assert.Equal(t, "5", idle.Cell.Value)
	assert.Equal(t, int32(1), hits.Load())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		s := h.Stats()
		return s.ActiveConnections == 0 && s.SavesIssued == 1 && s.SavesApplied == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestGradebookReportsRejection(t *testing.T) {
	desk, _ := newDesk(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "Grading period closed"})
	})
	conn := dial(t, desk)

	send(t, conn, cellMsg(ws.ActionMount, cellKey, map[string]string{"value": "3"}))
	send(t, conn, cellMsg(ws.ActionFocus, cellKey, nil))
	send(t, conn, cellMsg(ws.ActionInput, cellKey, map[string]string{"value": "4"}))
	send(t, conn, cellMsg(ws.ActionCommit, cellKey, nil))

	note := waitFor(t, conn, func(e event) bool { return e.Event == ws.EventNotification })
	assert.Equal(t, model.KindDanger, note.Notification.Kind)
	assert.Equal(t, "Grade not saved: Grading period closed", note.Notification.Message)
	assert.Equal(t, model.PhaseShown, note.Notification.Phase)

	failed := waitFor(t, conn, cellIs(cellKey, model.StatusError))
	require.NotNil(t, failed.Cell.Failure)
	assert.Equal(t, model.FailureRejected, failed.Cell.Failure.Kind)

	send(t, conn, map[string]string{"action": string(ws.ActionDismissNotification), "id": note.Notification.ID.String()})
	gone := waitFor(t, conn, func(e event) bool {
		return e.Event == ws.EventNotification && e.Notification.Phase == model.PhaseDismissed
	})
	assert.Equal(t, note.Notification.ID, gone.Notification.ID)
}

func TestGradebookValidationNeverCallsServer(t *testing.T) {
	desk, _ := newDesk(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("grades server must not be called")
	})
	conn := dial(t, desk)

	send(t, conn, cellMsg(ws.ActionMount, cellKey, nil))
	send(t, conn, cellMsg(ws.ActionFocus, cellKey, nil))
	send(t, conn, cellMsg(ws.ActionInput, cellKey, map[string]string{"value": "12"}))
	send(t, conn, cellMsg(ws.ActionCommit, cellKey, nil))

	failed := waitFor(t, conn, cellIs(cellKey, model.StatusError))
	require.NotNil(t, failed.Cell.Failure)
	assert.Equal(t, model.FailureValidation, failed.Cell.Failure.Kind)
}

func TestGradebookProtocolErrors(t *testing.T) {
	desk, _ := newDesk(t, func(w http.ResponseWriter, r *http.Request) {})
	conn := dial(t, desk)

	send(t, conn, map[string]string{"action": "ping"})
	waitFor(t, conn, func(e event) bool { return e.Event == ws.EventPong })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	waitFor(t, conn, errorIs("INVALID_PAYLOAD"))

	send(t, conn, map[string]string{"action": "explode"})
	waitFor(t, conn, errorIs("UNKNOWN_ACTION"))

	send(t, conn, cellMsg(ws.ActionFocus, cellKey, nil))
	waitFor(t, conn, errorIs("UNKNOWN_CELL"))

	send(t, conn, map[string]string{"action": "mount", "assignment_id": "A1"})
	invalid := waitFor(t, conn, errorIs("VALIDATION_ERROR"))
	assert.Contains(t, invalid.Fields, "student_id")

	send(t, conn, cellMsg(ws.ActionMount, cellKey, nil))
	send(t, conn, cellMsg(ws.ActionMount, cellKey, nil))
	waitFor(t, conn, errorIs("CELL_EXISTS"))
}

func TestGradebookSubmitForm(t *testing.T) {
	desk, _ := newDesk(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/teaching/assignments/create/", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "redirect": "/teaching/assignments/"})
	})
	conn := dial(t, desk)

	send(t, conn, map[string]interface{}{
		"action": "submit_form",
		"ref":    "create-assignment",
		"path":   "/teaching/assignments/create/",
		"fields": map[string]string{"title": "Essay"},
	})

	res := waitFor(t, conn, func(e event) bool { return e.Event == ws.EventFormResult })
	assert.Equal(t, "create-assignment", res.Ref)
	require.NotNil(t, res.Result)
	assert.True(t, res.Result.Success)
	assert.Equal(t, "/teaching/assignments/", res.Result.Redirect)
}

func TestGradebookRequiresSession(t *testing.T) {
	desk, _ := newDesk(t, func(w http.ResponseWriter, r *http.Request) {})

	url := "ws" + strings.TrimPrefix(desk.URL, "http") + "/ws/v1/gradebook/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
