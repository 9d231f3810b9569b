package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
)

// TraceSnapshot captures the complete trace for a scenario replay.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map for canonical JSON
// serialization, leaving out zero-valued optional fields.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"frame":   ev.Frame,
			"outcome": ev.Outcome,
		}
		if ev.BatchID != "" {
			m["batch_id"] = ev.BatchID
		}
		if ev.Applied != 0 {
			m["applied"] = ev.Applied
		}
		if ev.Skipped != 0 {
			m["skipped"] = ev.Skipped
		}
		if ev.Conflicts != 0 {
			m["conflicts"] = ev.Conflicts
		}
		if len(ev.Sent) > 0 {
			sent := make([]any, len(ev.Sent))
			for j, f := range ev.Sent {
				sent[j] = f
			}
			m["sent"] = sent
		}
		traceList[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// MarshalSnapshot renders the trace of result in canonical JSON.
func MarshalSnapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	return event.MarshalPayload(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
