package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: parsed
description: parses every field
force_synchronous: true
max_async_workers: 2
operation_id: op-1
units:
  - name: a
    group: One
    sync: true
    register: 2
  - name: b
    clean: true
  - name: c
    fail: boom
  - name: d
    writes:
      k: {x: 1}
assertions:
  - type: same_lane
    units: [a, c]
  - type: stored
    key: k
    value: {x: 1}
`))
	require.NoError(t, err)

	assert.Equal(t, "parsed", s.Name)
	assert.True(t, s.ForceSynchronous)
	assert.Equal(t, 2, s.MaxAsyncWorkers)
	assert.Equal(t, "op-1", s.OperationID)
	require.Len(t, s.Units, 4)
	assert.Equal(t, UnitSpec{Name: "a", Group: "One", Sync: true, Register: 2}, s.Units[0])
	assert.Equal(t, 2, s.Units[0].Registrations())
	assert.Equal(t, 1, s.Units[1].Registrations())
	assert.Equal(t, map[string]any{"k": map[string]any{"x": 1}}, s.Units[3].Writes)
	assert.Equal(t, map[string]any{"x": 1}, s.Assertions[1].Value)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: x\ndescription: d\nunit: []\n",
			wantErr: "field unit not found",
		},
		{
			name:    "missing name",
			yaml:    "description: d\nunits: [{name: a}]\nassertions: [{type: flush_succeeds}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: x\nunits: [{name: a}]\nassertions: [{type: flush_succeeds}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no units",
			yaml:    "name: x\ndescription: d\nassertions: [{type: flush_succeeds}]\n",
			wantErr: "units list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: x\ndescription: d\nunits: [{name: a}]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "duplicate unit",
			yaml:    "name: x\ndescription: d\nunits: [{name: a}, {name: a}]\nassertions: [{type: flush_succeeds}]\n",
			wantErr: `duplicate unit name "a"`,
		},
		{
			name:    "fail and panic",
			yaml:    "name: x\ndescription: d\nunits: [{name: a, fail: f, panic: p}]\nassertions: [{type: flush_succeeds}]\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "writes with fail",
			yaml:    "name: x\ndescription: d\nunits: [{name: a, fail: f, writes: {k: 1}}]\nassertions: [{type: flush_succeeds}]\n",
			wantErr: "cannot fail or panic",
		},
		{
			name:    "clean writes",
			yaml:    "name: x\ndescription: d\nunits: [{name: a, clean: true, writes: {k: 1}}]\nassertions: [{type: flush_succeeds}]\n",
			wantErr: "cannot be clean",
		},
		{
			name:    "negative workers",
			yaml:    "name: x\ndescription: d\nmax_async_workers: -1\nunits: [{name: a}]\nassertions: [{type: flush_succeeds}]\n",
			wantErr: "max_async_workers must be non-negative",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\ndescription: d\nunits: [{name: a}]\nassertions: [{type: trace_order}]\n",
			wantErr: `unknown assertion type "trace_order"`,
		},
		{
			name:    "assertion on unknown unit",
			yaml:    "name: x\ndescription: d\nunits: [{name: a}]\nassertions: [{type: on_caller, units: [b]}]\n",
			wantErr: `unknown unit "b"`,
		},
		{
			name:    "same_lane needs two",
			yaml:    "name: x\ndescription: d\nunits: [{name: a}]\nassertions: [{type: same_lane, units: [a]}]\n",
			wantErr: "requires at least 2 unit(s)",
		},
		{
			name:    "flush_count needs unit",
			yaml:    "name: x\ndescription: d\nunits: [{name: a}]\nassertions: [{type: flush_count, count: 1}]\n",
			wantErr: "unit is required for flush_count",
		},
		{
			name:    "stored needs key",
			yaml:    "name: x\ndescription: d\nunits: [{name: a}]\nassertions: [{type: stored}]\n",
			wantErr: "key is required for stored",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestDiscoverScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "c_fail.yaml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	paths, err := DiscoverScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "c_fail.yaml"),
	}, paths)

	paths, err = DiscoverScenarios(dir, "*fail*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "c_fail.yaml")}, paths)

	_, err = DiscoverScenarios(dir, "[")
	assert.Error(t, err)

	_, err = DiscoverScenarios(filepath.Join(dir, "b.yaml"), "")
	assert.ErrorContains(t, err, "not a directory")
}
