package ws

import (
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
	"github.com/bioinfoflow/backend/internal/shared/paths"
	"github.com/bioinfoflow/backend/internal/terminal"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingGauge struct {
	inc, dec atomic.Int32
}

func (g *countingGauge) Inc() { g.inc.Add(1) }
func (g *countingGauge) Dec() { g.dec.Add(1) }

type serverMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	CommandID string `json:"command_id,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Status    string `json:"status,omitempty"`
}

func dialTestServer(t *testing.T, store *terminal.Store, gauge ConnGauge) *websocket.Conn {
	t.Helper()

	router := gin.New()
	handler := NewHandler(store, gauge, logging.NewNop())
	router.GET("/ws/terminal", handler.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/terminal"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg serverMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func newTerminal(t *testing.T) (*terminal.Store, *terminal.Executor) {
	t.Helper()

	logger := logging.NewNop()
	layout := paths.New(t.TempDir())
	require.NoError(t, layout.Ensure())

	store := terminal.NewStore(layout, terminal.StoreConfig{
		IdleTimeout:     time.Hour,
		ReapInterval:    time.Minute,
		KillGracePeriod: 100 * time.Millisecond,
	}, logger)
	t.Cleanup(store.Stop)

	executor := terminal.NewExecutor(store, terminal.ExecutorConfig{
		CommandTimeout: 10 * time.Second,
		MaxOutputBytes: 1 << 20,
	}, logger)
	return store, executor
}

func TestPingPong(t *testing.T) {
	store, _ := newTerminal(t)
	conn := dialTestServer(t, store, nil)

	hello := readMessage(t, conn)
	assert.Equal(t, "system", hello.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	assert.Equal(t, "error", readMessage(t, conn).Type)
}

func TestWatchFinishedCommand(t *testing.T) {
	store, executor := newTerminal(t)

	session, err := store.CreateSession("conv_ws_test")
	require.NoError(t, err)

	view, err := executor.Execute(session.ID.String(), "echo streamed")
	require.NoError(t, err)

	conn := dialTestServer(t, store, nil)
	readMessage(t, conn) // system hello

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":       "watch",
		"session_id": session.ID.String(),
		"command_id": view.ID,
	}))

	out := readMessage(t, conn)
	assert.Equal(t, "output", out.Type)
	assert.Contains(t, out.Chunk, "streamed")

	done := readMessage(t, conn)
	assert.Equal(t, "done", done.Type)
	assert.Equal(t, "completed", done.Status)
}

func TestWatchUnknownSession(t *testing.T) {
	store, _ := newTerminal(t)
	conn := dialTestServer(t, store, nil)
	readMessage(t, conn) // system hello

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":       "watch",
		"session_id": "term_missing",
		"command_id": "cmd_missing",
	}))
	assert.Equal(t, "error", readMessage(t, conn).Type)
}

func TestGaugeTracksConnections(t *testing.T) {
	store, _ := newTerminal(t)
	gauge := &countingGauge{}

	conn := dialTestServer(t, store, gauge)
	readMessage(t, conn) // system hello
	assert.Equal(t, int32(1), gauge.inc.Load())

	conn.Close()
	assert.Eventually(t, func() bool { return gauge.dec.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
}
