package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapfsio/snapfs-agent-mysql/internal/store"
)

// gateway accepts one agent connection at a time and hands it to the test.
func gateway(t *testing.T) (string, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stream" || r.URL.Query().Get("durable") != "mysql" {
			http.Error(w, "bad subscription", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func TestRun_AppliesAcksAndStopsOnCancel(t *testing.T) {
	isolateEnv(t)
	url, conns := gateway(t)
	db := tempStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := runRoot(ctx, "run", "--gateway-ws", url, "--store-url", db, "--durable", "mysql")
		errc <- err
	}()

	var conn *websocket.Conn
	select {
	case conn = <-conns:
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not connect")
	}
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frameB1)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, ack, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ack","ack_token":"t1","batch":"t1"}`, string(ack))

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not stop")
	}

	st, err := store.Open(context.Background(), db)
	require.NoError(t, err)
	defer st.Close()
	f, err := st.GetFile(context.Background(), "f42")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", f.Name)
	assert.Equal(t, int64(5), f.Sequence)
}

func TestRun_ReconnectsAfterGatewayDrop(t *testing.T) {
	isolateEnv(t)
	url, conns := gateway(t)
	db := tempStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := runRoot(ctx, "run", "--gateway-ws", url, "--store-url", db,
			"--backoff-base", "10ms", "--backoff-max", "50ms")
		errc <- err
	}()

	first := <-conns
	first.Close()

	select {
	case second := <-conns:
		second.Close()
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not reconnect")
	}

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestRun_BadStoreURL(t *testing.T) {
	_, err := execute(t, "run", "--store-url", "oracle://x/y")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open store")
}

func TestRun_RejectsArgs(t *testing.T) {
	_, err := execute(t, "run", "extra")
	require.Error(t, err)
}
