package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketPair returns the server and client ends of one connection.
func socketPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	serverSide := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-serverSide:
		t.Cleanup(func() { conn.Close() })
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server side never upgraded")
		return nil, nil
	}
}

func TestOutboxSerializesConcurrentSenders(t *testing.T) {
	server, client := socketPair(t)
	out := NewOutbox(server, 128)
	go out.Start()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.True(t, out.Send(PongResponse{Event: EventPong}))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 40; i++ {
		var p PongResponse
		require.NoError(t, client.ReadJSON(&p))
		assert.Equal(t, EventPong, p.Event)
	}
	assert.NoError(t, out.Close())
}

func TestOutboxFlushesOnClose(t *testing.T) {
	server, client := socketPair(t)
	out := NewOutbox(server, 8)
	go out.Start()

	require.True(t, out.Send(ErrorResponse{Event: EventError, Code: "A", Error: "first"}))
	require.True(t, out.Send(ErrorResponse{Event: EventError, Code: "B", Error: "second"}))
	require.NoError(t, out.Close())
	assert.False(t, out.Send(PongResponse{Event: EventPong}), "closed outbox accepts nothing")

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first, second ErrorResponse
	require.NoError(t, client.ReadJSON(&first))
	require.NoError(t, client.ReadJSON(&second))
	assert.Equal(t, "A", first.Code)
	assert.Equal(t, "B", second.Code)
}

func TestCellRequestKey(t *testing.T) {
	req := MountRequest{CellRequest: CellRequest{Action: ActionMount, StudentID: "S1", AssignmentID: "A1"}, Value: "4"}
	assert.Equal(t, "S1/A1", req.Key().String())
}
