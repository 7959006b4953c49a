package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDirTestdata(t *testing.T) {
	result, err := RunDir(t, filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	assert.Equal(t, 5, result.TotalScenarios)
	assert.Equal(t, 5, result.Passed)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Failures)
}

func TestRunDirReportsFailures(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	write("a_broken.yaml", "name: broken\n")
	write("b_failing.yaml", "name: failing\ndescription: d\nsteps:\n  - op: seal\n")
	write("c_passing.yaml", "name: passing\ndescription: d\nsteps:\n  - op: seal\n    expect: NO_PRIV_KEY\n")
	write("notes.txt", "ignored")

	result, err := RunDir(t, dir)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalScenarios)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Contains(t, result.Failures[0].Error, "failed to load scenario")
	assert.Contains(t, result.Failures[1].Error, "scenario assertions failed")
}

func TestRunDirEmpty(t *testing.T) {
	result, err := RunDir(t, t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, result.TotalScenarios)
}
