package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/modux/internal/ir"
)

// TraceSnapshot captures the trace and final state hash of a run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
	StateHash    string       `json:"state_hash"`
}

// toCanonicalMap converts a TraceSnapshot for canonical JSON serialization.
// Payloads are embedded as values, not as JSON strings.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq":        event.Seq,
			"token":      event.Token,
			"type":       event.Type,
			"state_hash": event.StateHash,
		}
		if payload, err := ir.ParseJSON([]byte(event.Payload)); err == nil {
			eventMap["payload"] = payload
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"state_hash":    s.StateHash,
	}
}

// Snapshot returns the canonical JSON golden representation of a result.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		StateHash:    result.StateHash,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// {fixtureDir}/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, fixtureDir string) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result, fixtureDir); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result, fixtureDir string) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(fixtureDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// UpdateGolden writes the golden file for a result.
func UpdateGolden(t *testing.T, scenarioName string, result *Result, fixtureDir string) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(fixtureDir),
		goldie.WithNameSuffix(".golden"),
	)
	return g.Update(t, scenarioName, data)
}
