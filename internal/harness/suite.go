package harness

import (
	"fmt"
	"path/filepath"
	"sort"
	"testing"
)

// SuiteResult summarizes running every scenario in a directory.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents a scenario that did not load, run or pass.
type ScenarioFailure struct {
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// ScenarioFiles returns the *.yaml files in dir in lexical order.
func ScenarioFiles(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios in %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// RunDir loads and runs every scenario in dir.
func RunDir(tb testing.TB, dir string) (*SuiteResult, error) {
	tb.Helper()

	paths, err := ScenarioFiles(dir)
	if err != nil {
		return nil, err
	}

	result := &SuiteResult{}
	for _, path := range paths {
		result.TotalScenarios++

		fail := func(msg string) {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{ScenarioPath: path, Error: msg})
		}

		scenario, err := LoadScenario(path)
		if err != nil {
			fail(fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		runResult, err := Run(tb, scenario)
		if err != nil {
			fail(fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}

		if !runResult.Pass {
			fail(fmt.Sprintf("scenario assertions failed: %v", runResult.Errors))
			continue
		}

		result.Passed++
	}

	return result, nil
}
