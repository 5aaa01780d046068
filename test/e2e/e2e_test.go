//go:build e2e
// +build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/gradedesk/internal/model"
)

const (
	defaultBaseURL = "http://localhost:8080"
	studentID      = "e2e_student"
	assignmentID   = "e2e_assignment"
)

var (
	baseURL   string
	csrfToken string
	sessionID string
)

func TestMain(m *testing.M) {
	// Load .env if present (ignore error)
	_ = godotenv.Load("../../.env")

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	// Portal cookies of a logged-in teacher; the desk forwards them upstream.
	csrfToken = os.Getenv("E2E_CSRF_TOKEN")
	sessionID = os.Getenv("E2E_SESSION_ID")

	if _, err := http.Get(baseURL + "/health"); err != nil {
		fmt.Printf("Desk not reachable at %s: %v\n", baseURL, err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func getJSON(t *testing.T, path string) (int, envelope) {
	t.Helper()
	resp, err := http.Get(baseURL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHealth(t *testing.T) {
	status, env := getJSON(t, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"status"`)
}

func TestGradePolicy(t *testing.T) {
	status, env := getJSON(t, "/api/v1/grades/policy")
	require.Equal(t, http.StatusOK, status)

	var policy struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &policy))
	assert.LessOrEqual(t, policy.Min, policy.Max)
}

type event struct {
	Event        string              `json:"event"`
	Cell         *model.CellState    `json:"cell"`
	Notification *model.Notification `json:"notification"`
}

// TestGradebookRoundTrip drives one cell through a save. Depending on the
// grades server behind the desk, the attempt ends in saved or error; either
// way the cell must leave saving and return to idle.
func TestGradebookRoundTrip(t *testing.T) {
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/v1/gradebook/stream?session=e2e"
	header := http.Header{}
	if csrfToken != "" {
		header.Add("Cookie", "csrftoken="+csrfToken)
	}
	if sessionID != "" {
		header.Add("Cookie", "sessionid="+sessionID)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	cell := func(action string, extra map[string]string) {
		msg := map[string]string{"action": action, "student_id": studentID, "assignment_id": assignmentID}
		for k, v := range extra {
			msg[k] = v
		}
		require.NoError(t, conn.WriteJSON(msg))
	}

	cell("mount", map[string]string{"value": ""})
	cell("focus", nil)
	cell("input", map[string]string{"value": "4"})
	cell("commit", nil)

	deadline := time.Now().Add(30 * time.Second)
	var settled model.Status
	for settled == "" || settled == model.StatusSaving {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var e event
		require.NoError(t, conn.ReadJSON(&e))
		if e.Event == "notification" {
			t.Logf("notification [%s]: %s", e.Notification.Kind, e.Notification.Message)
		}
		if e.Event != "cell_state" || e.Cell.Status == model.StatusEditing || e.Cell.Status == model.StatusIdle {
			continue
		}
		settled = e.Cell.Status
	}
	assert.Contains(t, []model.Status{model.StatusSaved, model.StatusError}, settled)

	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var e event
		require.NoError(t, conn.ReadJSON(&e))
		if e.Event == "cell_state" && e.Cell.Status == model.StatusIdle {
			return
		}
	}
}
