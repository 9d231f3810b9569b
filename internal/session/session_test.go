package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapfsio/snapfs-agent-mysql/internal/apply"
	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
	"github.com/snapfsio/snapfs-agent-mysql/internal/store"
)

func TestStreamURL(t *testing.T) {
	tests := []struct {
		gateway string
		want    string
	}{
		{"ws://localhost:8000", "ws://localhost:8000/stream?batch=100&durable=mysql&subject=snapfs.files"},
		{"ws://gw/", "ws://gw/stream?batch=100&durable=mysql&subject=snapfs.files"},
		{"http://gw/api", "ws://gw/api/stream?batch=100&durable=mysql&subject=snapfs.files"},
		{"wss://gw/stream", "wss://gw/stream?batch=100&durable=mysql&subject=snapfs.files"},
	}
	for _, tt := range tests {
		t.Run(tt.gateway, func(t *testing.T) {
			got, err := StreamURL(tt.gateway, testSub)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := StreamURL("ftp://gw", testSub)
	assert.Error(t, err)
	_, err = StreamURL("", testSub)
	assert.Error(t, err)
}

func TestNewDialer_RejectsInvalidSubscription(t *testing.T) {
	_, err := NewDialer(Config{GatewayURL: "ws://gw", Subscription: event.Subscription{Subject: "s"}}, okApplier())
	assert.Error(t, err)
}

func TestSession_HandshakeParameters(t *testing.T) {
	gw := newFakeGateway(t)
	d, err := NewDialer(Config{GatewayURL: gw.URL(), Subscription: testSub}, okApplier())
	require.NoError(t, err)

	var opened atomic.Value
	runSession(t, d, Hooks{OnOpen: func(id string) { opened.Store(id) }})
	gw.accept(t)

	q := <-gw.queries
	assert.Equal(t, "snapfs.files", q.Get("subject"))
	assert.Equal(t, "mysql", q.Get("durable"))
	assert.Equal(t, "100", q.Get("batch"))

	assert.Eventually(t, func() bool { return opened.Load() != nil }, time.Second, 10*time.Millisecond)
}

func TestSession_AppliesAndAcks(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	gw := newFakeGateway(t)
	d, err := NewDialer(Config{GatewayURL: gw.URL(), Subscription: testSub}, apply.New(st, apply.WithRetryInterval(0)))
	require.NoError(t, err)

	var progress atomic.Int32
	cancel, errc := runSession(t, d, Hooks{OnProgress: func() { progress.Add(1) }})
	conn := gw.accept(t)
	msgs := readAll(conn)

	send(t, conn, frameB1)
	assert.Equal(t, ackT1, next(t, msgs).data)

	seq, ok, err := st.LastAppliedSequence(ctx, "f42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), seq)
	f, err := st.GetFile(ctx, "f42")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", f.Name)

	// Redelivery is a store no-op and is still acked.
	send(t, conn, frameB1)
	assert.Equal(t, ackT1, next(t, msgs).data)
	assert.Equal(t, int32(2), progress.Load())

	cancel()
	require.NoError(t, waitErr(t, errc))

	m := next(t, msgs)
	assert.True(t, websocket.IsCloseError(m.err, websocket.CloseNormalClosure), "got %v", m.err)
}

func TestSession_NoAckWhenApplyFails(t *testing.T) {
	gw := newFakeGateway(t)
	failing := applierFunc(func(ctx context.Context, b event.Batch) (store.ApplyResult, error) {
		return store.ApplyResult{}, &apply.ApplyError{BatchID: b.ID, Attempts: 3, Cause: errors.New("connection lost")}
	})
	d, err := NewDialer(Config{GatewayURL: gw.URL(), Subscription: testSub}, failing)
	require.NoError(t, err)

	_, errc := runSession(t, d, Hooks{})
	conn := gw.accept(t)
	msgs := readAll(conn)

	send(t, conn, frameB1)

	err = waitErr(t, errc)
	var aerr *apply.ApplyError
	require.True(t, errors.As(err, &aerr), "got %v", err)

	// The only thing the gateway sees is the socket closing.
	m := next(t, msgs)
	assert.Error(t, m.err)
	assert.Empty(t, m.data)
}

func TestSession_FatalBatchDroppedSessionContinues(t *testing.T) {
	gw := newFakeGateway(t)
	applier := applierFunc(func(ctx context.Context, b event.Batch) (store.ApplyResult, error) {
		if b.ID == "b1" {
			return store.ApplyResult{}, &apply.ApplyError{BatchID: b.ID, Attempts: 1, Fatal: true, Cause: store.ErrInvalidPayload}
		}
		return store.ApplyResult{Applied: len(b.Events)}, nil
	})
	d, err := NewDialer(Config{GatewayURL: gw.URL(), Subscription: testSub}, applier)
	require.NoError(t, err)

	runSession(t, d, Hooks{})
	conn := gw.accept(t)
	msgs := readAll(conn)

	send(t, conn, frameB1)
	send(t, conn, frameB2)
	assert.Equal(t, ackT2, next(t, msgs).data)
}

func TestSession_MalformedFrameDropped(t *testing.T) {
	gw := newFakeGateway(t)
	d, err := NewDialer(Config{GatewayURL: gw.URL(), Subscription: testSub}, okApplier())
	require.NoError(t, err)

	runSession(t, d, Hooks{})
	conn := gw.accept(t)
	msgs := readAll(conn)

	send(t, conn, `{"type":"batch","events":[`)
	send(t, conn, `{"type":"mystery"}`)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	send(t, conn, frameB1)
	assert.Equal(t, ackT1, next(t, msgs).data)
}

func TestSession_PingGetsPong(t *testing.T) {
	gw := newFakeGateway(t)
	d, err := NewDialer(Config{GatewayURL: gw.URL(), Subscription: testSub}, okApplier())
	require.NoError(t, err)

	runSession(t, d, Hooks{})
	conn := gw.accept(t)
	msgs := readAll(conn)

	send(t, conn, `{"type":"ping","id":7}`)
	assert.Equal(t, `{"type":"pong","id":7}`, next(t, msgs).data)

	send(t, conn, `{"type":"ping"}`)
	assert.Equal(t, `{"type":"pong"}`, next(t, msgs).data)
}

func TestSession_EmptyBatchAcked(t *testing.T) {
	gw := newFakeGateway(t)
	d, err := NewDialer(Config{GatewayURL: gw.URL(), Subscription: testSub}, okApplier())
	require.NoError(t, err)

	runSession(t, d, Hooks{})
	conn := gw.accept(t)
	msgs := readAll(conn)

	send(t, conn, `{"type":"events","batch":9,"messages":[]}`)
	assert.Equal(t, `{"type":"ack","ack_token":"9","batch":9}`, next(t, msgs).data)
}

func TestSession_LivenessTimeout(t *testing.T) {
	gw := newFakeGateway(t)
	d, err := NewDialer(Config{
		GatewayURL:      gw.URL(),
		Subscription:    testSub,
		PingInterval:    time.Hour,
		LivenessTimeout: 100 * time.Millisecond,
	}, okApplier())
	require.NoError(t, err)

	_, errc := runSession(t, d, Hooks{})
	gw.accept(t)

	err = waitErr(t, errc)
	var lerr *LivenessError
	assert.True(t, errors.As(err, &lerr), "got %v", err)
}

func TestSession_KeepalivePingsKeepSessionAlive(t *testing.T) {
	gw := newFakeGateway(t)
	d, err := NewDialer(Config{
		GatewayURL:      gw.URL(),
		Subscription:    testSub,
		PingInterval:    50 * time.Millisecond,
		LivenessTimeout: 300 * time.Millisecond,
	}, okApplier())
	require.NoError(t, err)

	_, errc := runSession(t, d, Hooks{})
	conn := gw.accept(t)
	// Reading lets the gateway side answer pings with pongs.
	msgs := readAll(conn)

	select {
	case err := <-errc:
		t.Fatalf("session ended early: %v", err)
	case <-time.After(time.Second):
	}

	send(t, conn, frameB1)
	assert.Equal(t, ackT1, next(t, msgs).data)
}

func TestSession_SlowApplyWithFullQueueIsNotLivenessFailure(t *testing.T) {
	var calls atomic.Int32
	slow := applierFunc(func(ctx context.Context, b event.Batch) (store.ApplyResult, error) {
		if calls.Add(1) == 1 {
			time.Sleep(600 * time.Millisecond)
		}
		return store.ApplyResult{Applied: len(b.Events)}, nil
	})

	gw := newFakeGateway(t)
	d, err := NewDialer(Config{
		GatewayURL:      gw.URL(),
		Subscription:    testSub,
		PingInterval:    50 * time.Millisecond,
		LivenessTimeout: 250 * time.Millisecond,
		QueueDepth:      1,
	}, slow)
	require.NoError(t, err)

	_, errc := runSession(t, d, Hooks{})
	conn := gw.accept(t)
	msgs := readAll(conn)

	frameB3 := `{"type":"batch","batch_id":"b3","ack_token":"t3","events":[]}`
	send(t, conn, frameB1)
	send(t, conn, frameB2)
	send(t, conn, frameB3)

	assert.Equal(t, ackT1, next(t, msgs).data)
	assert.Equal(t, ackT2, next(t, msgs).data)
	assert.Equal(t, `{"type":"ack","ack_token":"t3","batch":"t3"}`, next(t, msgs).data)

	select {
	case err := <-errc:
		t.Fatalf("session ended: %v", err)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestSession_RemoteCloseIsConnectionError(t *testing.T) {
	gw := newFakeGateway(t)
	d, err := NewDialer(Config{GatewayURL: gw.URL(), Subscription: testSub}, okApplier())
	require.NoError(t, err)

	_, errc := runSession(t, d, Hooks{})
	conn := gw.accept(t)
	conn.Close()

	err = waitErr(t, errc)
	var cerr *ConnectionError
	assert.True(t, errors.As(err, &cerr), "got %v", err)
}

func TestSession_DialFailure(t *testing.T) {
	d, err := NewDialer(Config{GatewayURL: "ws://127.0.0.1:1", Subscription: testSub, HandshakeTimeout: time.Second}, okApplier())
	require.NoError(t, err)

	err = d.RunSession(context.Background(), Hooks{})
	var cerr *ConnectionError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, "dial", cerr.Op)
}

func TestSession_ShutdownFinishesInFlightApply(t *testing.T) {
	gw := newFakeGateway(t)
	started := make(chan struct{})
	release := make(chan struct{})
	applier := applierFunc(func(ctx context.Context, b event.Batch) (store.ApplyResult, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return store.ApplyResult{}, ctx.Err()
		}
		return store.ApplyResult{Applied: len(b.Events)}, nil
	})
	d, err := NewDialer(Config{GatewayURL: gw.URL(), Subscription: testSub, ShutdownGrace: 5 * time.Second}, applier)
	require.NoError(t, err)

	cancel, errc := runSession(t, d, Hooks{})
	conn := gw.accept(t)
	msgs := readAll(conn)

	send(t, conn, frameB1)
	<-started
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(release)

	assert.Equal(t, ackT1, next(t, msgs).data)
	require.NoError(t, waitErr(t, errc))

	m := next(t, msgs)
	assert.True(t, websocket.IsCloseError(m.err, websocket.CloseNormalClosure), "got %v", m.err)
}

func TestSession_ShutdownGraceBoundsApply(t *testing.T) {
	gw := newFakeGateway(t)
	started := make(chan struct{})
	applier := applierFunc(func(ctx context.Context, b event.Batch) (store.ApplyResult, error) {
		close(started)
		<-ctx.Done()
		return store.ApplyResult{}, &apply.ApplyError{BatchID: b.ID, Attempts: 1, Cause: ctx.Err()}
	})
	d, err := NewDialer(Config{GatewayURL: gw.URL(), Subscription: testSub, ShutdownGrace: 50 * time.Millisecond}, applier)
	require.NoError(t, err)

	cancel, errc := runSession(t, d, Hooks{})
	conn := gw.accept(t)
	msgs := readAll(conn)

	send(t, conn, frameB1)
	<-started
	cancel()

	require.NoError(t, waitErr(t, errc))
	m := next(t, msgs)
	assert.Error(t, m.err, "no ack expected, got %q", m.data)
}

func TestSession_StateTransitions(t *testing.T) {
	gw := newFakeGateway(t)
	d, err := NewDialer(Config{GatewayURL: gw.URL(), Subscription: testSub}, okApplier())
	require.NoError(t, err)

	s, err := d.Dial(context.Background())
	require.NoError(t, err)
	gw.accept(t)
	assert.Equal(t, StateOpen, s.State())
	assert.NotEmpty(t, s.ID())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx, Hooks{}))
	assert.Equal(t, StateClosed, s.State())
}
