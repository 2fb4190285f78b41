package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/common"
	"github.com/avermeer/circlesift/internal/models"
	"github.com/avermeer/circlesift/internal/ratelimit"
	"github.com/avermeer/circlesift/internal/scan"
)

const wsReadTimeout = 5 * time.Second

func newSocketServer(t *testing.T, source *stubSource, pushInterval string) (*scan.Manager, *httptest.Server) {
	t.Helper()

	cfg := &common.Config{}
	cfg.Scan.DiscoverySampleSize = 10
	cfg.Scan.BatchSize = 10
	cfg.Scan.BatchConcurrency = 1
	cfg.Scan.ConfidenceThreshold = 0.8
	cfg.Scan.PersistChunkSize = 10
	cfg.Scan.RetryBaseDelay = "1ms"
	cfg.Scan.RetryMaxDelay = "2ms"

	logger := arbor.NewLogger()
	manager := scan.NewManager(cfg, source, &stubClassifier{}, &stubStore{},
		ratelimit.NewWindow(nil), scan.NewBroadcaster(), logger)
	t.Cleanup(manager.Close)

	handler := NewWebSocketHandler(manager, &common.WebSocketConfig{PushInterval: pushInterval}, logger)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ScanSocketHandler(w, r, strings.TrimPrefix(r.URL.Path, "/ws/scan/"))
	}))
	t.Cleanup(srv.Close)

	return manager, srv
}

func dialScanSocket(t *testing.T, srv *httptest.Server, jobID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/scan/" + jobID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestScanSocket_UnknownJobRejectedBeforeUpgrade(t *testing.T) {
	_, srv := newSocketServer(t, &stubSource{}, "1ms")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/scan/missing"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScanSocket_StreamsUntilTerminalThenCloses(t *testing.T) {
	manager, srv := newSocketServer(t, &stubSource{}, "1ms")

	jobID, err := manager.Start("acct_1")
	require.NoError(t, err)

	conn := dialScanSocket(t, srv, jobID)

	var lastSequence uint64
	var terminal wsMessage
	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))

		assert.Equal(t, "progress", msg.Type)
		assert.Equal(t, jobID, msg.JobID)
		assert.Greater(t, msg.Sequence, lastSequence, "delivered sequences strictly increase")
		lastSequence = msg.Sequence

		if msg.Status == models.JobStatusCompleted || msg.Status == models.JobStatusError || msg.Status == models.JobStatusCancelled {
			terminal = msg
			break
		}
	}

	assert.Equal(t, models.JobStatusCompleted, terminal.Status)
	assert.Equal(t, 100, terminal.Progress)

	// the server closes the stream once the terminal event is delivered
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "expected normal closure, got %v", err)
}

func TestScanSocket_TerminalEventBypassesThrottle(t *testing.T) {
	manager, srv := newSocketServer(t, &stubSource{block: true}, "1m")

	jobID, err := manager.Start("acct_1")
	require.NoError(t, err)

	conn := dialScanSocket(t, srv, jobID)

	// the snapshot is delivered immediately and consumes the only throttle
	// token for the next minute
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var snapshot wsMessage
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, models.JobStatusRunning, snapshot.Status)

	require.NoError(t, manager.Cancel(jobID))

	// the terminal event must still arrive despite the exhausted throttle
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var terminal wsMessage
	require.NoError(t, conn.ReadJSON(&terminal))
	assert.Equal(t, models.JobStatusCancelled, terminal.Status)
}
