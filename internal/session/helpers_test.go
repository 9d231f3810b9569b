package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
	"github.com/snapfsio/snapfs-agent-mysql/internal/store"
)

var testSub = event.Subscription{Subject: "snapfs.files", Durable: "mysql", BatchSize: 100}

// fakeGateway accepts WebSocket connections and hands them to the test.
type fakeGateway struct {
	srv     *httptest.Server
	conns   chan *websocket.Conn
	queries chan url.Values
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	gw := &fakeGateway{
		conns:   make(chan *websocket.Conn, 4),
		queries: make(chan url.Values, 4),
	}
	upgrader := websocket.Upgrader{}
	gw.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stream" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gw.queries <- r.URL.Query()
		gw.conns <- conn
	}))
	t.Cleanup(gw.srv.Close)
	return gw
}

func (g *fakeGateway) URL() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-g.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no connection from agent")
		return nil
	}
}

type message struct {
	data string
	err  error
}

// readAll drains conn into a channel; the last message carries the read error.
func readAll(conn *websocket.Conn) <-chan message {
	out := make(chan message, 16)
	go func() {
		defer close(out)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				out <- message{err: err}
				return
			}
			out <- message{data: string(data)}
		}
	}()
	return out
}

func next(t *testing.T, msgs <-chan message) message {
	t.Helper()
	select {
	case m, ok := <-msgs:
		if !ok {
			t.Fatal("message stream closed")
		}
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return message{}
	}
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("gateway write failed: %v", err)
	}
}

type applierFunc func(ctx context.Context, b event.Batch) (store.ApplyResult, error)

func (f applierFunc) Apply(ctx context.Context, b event.Batch) (store.ApplyResult, error) {
	return f(ctx, b)
}

func okApplier() Applier {
	return applierFunc(func(ctx context.Context, b event.Batch) (store.ApplyResult, error) {
		return store.ApplyResult{Applied: len(b.Events)}, nil
	})
}

// runSession starts RunSession in the background.
func runSession(t *testing.T, d *Dialer, hooks Hooks) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errc := make(chan error, 1)
	go func() { errc <- d.RunSession(ctx, hooks) }()
	return cancel, errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

const (
	frameB1 = `{"type":"batch","batch_id":"b1","ack_token":"t1","events":[` +
		`{"kind":"upsert","entity_id":"f42","payload":{"name":"a.txt","size":10},"sequence":5}]}`
	frameB2 = `{"type":"batch","batch_id":"b2","ack_token":"t2","events":[` +
		`{"kind":"upsert","entity_id":"f43","payload":{"name":"b.txt"},"sequence":1}]}`
	ackT1 = `{"type":"ack","ack_token":"t1","batch":"t1"}`
	ackT2 = `{"type":"ack","ack_token":"t2","batch":"t2"}`
)
