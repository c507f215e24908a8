package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/vrelay/internal/ir"
)

// GoldenDir is the subdirectory of a scenario directory holding golden traces.
const GoldenDir = "golden"

const goldenSuffix = ".golden"

// GoldenStatus is the result of comparing a trace with its golden file.
type GoldenStatus int

const (
	GoldenMissing GoldenStatus = iota
	GoldenMatch
	GoldenMismatch
)

// Snapshot renders a result's trace as canonical JSON, the golden file format.
// Events carry op, args, outcome and seq; successful calls also carry value.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	events := make([]any, 0, len(result.Trace))
	for _, ev := range result.Trace {
		m := map[string]any{
			"op":      ev.Op,
			"args":    ev.Args,
			"outcome": ev.Outcome,
			"seq":     ev.Seq,
		}
		if ev.Value != "" {
			m["value"] = ev.Value
		}
		events = append(events, m)
	}
	return ir.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"trace":         events,
	})
}

// GoldenPath returns where the golden trace for scenarioFile lives:
// <dir>/golden/<basename without extension>.golden.
func GoldenPath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), GoldenDir, name+goldenSuffix)
}

// CompareGolden compares snapshot with the golden file at path.
// A missing file is GoldenMissing, not an error.
func CompareGolden(path string, snapshot []byte) (GoldenStatus, error) {
	want, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return GoldenMissing, nil
	}
	if err != nil {
		return GoldenMissing, fmt.Errorf("read golden %s: %w", path, err)
	}
	if !bytes.Equal(want, snapshot) {
		return GoldenMismatch, nil
	}
	return GoldenMatch, nil
}

// WriteGolden stores snapshot at path, creating the golden directory.
func WriteGolden(path string, snapshot []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create golden directory: %w", err)
	}
	if err := os.WriteFile(path, snapshot, 0o644); err != nil {
		return fmt.Errorf("write golden %s: %w", path, err)
	}
	return nil
}

// RunWithGolden runs scenario and checks its trace against
// {dir}/{scenario.Name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
//
// or "vrelay test <scenarios-dir> --update", which writes the same files.
func RunWithGolden(t *testing.T, dir string, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, dir, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden checks an already-run result against {dir}/{scenarioName}.golden.
func AssertGolden(t *testing.T, dir, scenarioName string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(goldenSuffix),
	).Assert(t, scenarioName, snapshot)
	return nil
}
