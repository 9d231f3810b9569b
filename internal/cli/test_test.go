package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

const passingScenario = `
name: one_batch
description: "one batch, one ack"
frames:
  - '{"type":"batch","batch_id":"b1","ack_token":"t1","events":[{"kind":"upsert","entity_id":"f1","payload":{},"sequence":1}]}'
assertions:
  - type: acks
    tokens: [t1]
`

const failingScenario = `
name: wrong_ack
description: "expects an ack that never comes"
frames:
  - '{"type":"nonsense"}'
assertions:
  - type: acks
    tokens: [t1]
`

func scenarioDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestTestCommand_HarnessScenariosPass(t *testing.T) {
	out, err := execute(t, "test", harnessScenarios)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ apply_and_ack")
	assert.Contains(t, out, "✓ transient_failure")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_JSON(t *testing.T) {
	out, err := execute(t, "test", "--format", "json", "--filter", "redelivery", harnessScenarios)
	require.NoError(t, err)

	var res TestResult
	decodeData(t, out, &res)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Passed)
	require.Len(t, res.Scenarios, 1)
	assert.Equal(t, "redelivery", res.Scenarios[0].Name)
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"one_batch.yaml": passingScenario,
		"wrong_ack.yaml": failingScenario,
	})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ one_batch")
	assert.Contains(t, out, "✗ wrong_ack")
	assert.Contains(t, out, "Assertion failed: acks")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommand_LoadError(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"broken.yaml": "name: broken\n"})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"one_batch.yaml": passingScenario})

	out, err := execute(t, "test", "--update", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ one_batch (golden updated)")

	golden := filepath.Join(filepath.Dir(dir), "golden", "one_batch.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name":"one_batch"`)

	_, err = execute(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario_name":"one_batch","trace":[]}`), 0644))
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_EmptyDir(t *testing.T) {
	out, err := execute(t, "test", scenarioDir(t, nil))
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("testdata", "golden", "x.golden"),
		goldenFilePath(filepath.Join("testdata", "scenarios"), "x"))
	assert.Equal(t,
		filepath.Join("testdata", "golden", "x.golden"),
		goldenFilePath(filepath.Join("testdata", "scenarios")+"/", "x"))
}
