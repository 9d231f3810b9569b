package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolateEnv clears the environment variables the config layer reads.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"STORE_URL", "MYSQL_URL", "GATEWAY_WS", "SNAPFS_SUBJECT", "SNAPFS_DURABLE", "SNAPFS_BATCH"} {
		t.Setenv(name, "")
	}
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	isolateEnv(t)
	return runRoot(context.Background(), args...)
}

// runRoot is execute without the environment reset, safe to call from a
// goroutine once the test has called isolateEnv.
func runRoot(ctx context.Context, args ...string) (string, error) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func tempStore(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "agent.db")
}

func writeFrames(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frames.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

// decodeData unmarshals the data field of a JSON CLI response into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

const (
	frameB1 = `{"type":"batch","batch_id":"b1","ack_token":"t1","events":[` +
		`{"kind":"upsert","entity_id":"f42","payload":{"name":"a.txt","size":10},"sequence":5}]}`
	frameB2Bad = `{"type":"batch","batch_id":"b2","ack_token":"t2","events":[` +
		`{"kind":"upsert","entity_id":"f43","payload":{"size":"abc"},"sequence":1}]}`
)
