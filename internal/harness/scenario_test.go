package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scores/pulse.cue", `score: pulse: main: [{fire: "a"}]`)
	path := writeFile(t, dir, "pulse.yaml", `
name: pulse
description: "One fire"
score: scores/pulse.cue
tick: 0.1
duration: 1
seed: 7
events:
  - { at: 0.2, close: hold }
  - { at: 0.4, set: { param: tempo, value: 2 } }
assertions:
  - { type: trace_count, name: a, count: 1 }
`)

	sc, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "pulse", sc.Name)
	assert.Equal(t, "One fire", sc.Description)
	assert.Equal(t, filepath.Join(dir, "scores", "pulse.cue"), sc.Score)
	assert.Equal(t, 0.1, sc.Tick)
	assert.Equal(t, uint64(7), sc.Seed)
	require.Len(t, sc.Events, 2)
	assert.Equal(t, "hold", sc.Events[0].Close)
	require.NotNil(t, sc.Events[1].Set)
	assert.Equal(t, "tempo", sc.Events[1].Set.Param)
	assert.Equal(t, 2.0, sc.Events[1].Set.Value)
	require.Len(t, sc.Assertions, 1)
}

func TestLoadScenario_AbsoluteScoreKept(t *testing.T) {
	dir := t.TempDir()
	abs := writeFile(t, dir, "s.cue", `score: s: main: [{fire: "a"}]`)
	path := writeFile(t, t.TempDir(), "s.yaml", "name: s\nscore: "+abs+"\nduration: 1\n")

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, abs, sc.Score)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\nsource: 'score: x: main: []'\nduration: 1\nassertion: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: "source: 'x'\nduration: 1\n",
			want: "name is required",
		},
		{
			name: "no score",
			yaml: "name: x\nduration: 1\n",
			want: "score or source is required",
		},
		{
			name: "score and source",
			yaml: "name: x\nscore: a.cue\nsource: 'x'\nduration: 1\n",
			want: "mutually exclusive",
		},
		{
			name: "zero duration",
			yaml: "name: x\nsource: 'x'\n",
			want: "duration must be positive",
		},
		{
			name: "negative tick",
			yaml: "name: x\nsource: 'x'\nduration: 1\ntick: -1\n",
			want: "tick must not be negative",
		},
		{
			name: "bad stall",
			yaml: "name: x\nsource: 'x'\nduration: 1\nstalls: [{at: 0.1, for: 0}]\n",
			want: "stalls[0]",
		},
		{
			name: "event with two actions",
			yaml: "name: x\nsource: 'x'\nduration: 1\nevents: [{at: 0, open: a, close: a}]\n",
			want: "exactly one of open, close, toggle, set, sync is required, found 2",
		},
		{
			name: "event with no action",
			yaml: "name: x\nsource: 'x'\nduration: 1\nevents: [{at: 0}]\n",
			want: "found 0",
		},
		{
			name: "sync without fire",
			yaml: "name: x\nsource: 'x'\nduration: 1\nevents: [{at: 0, sync: {point: p}}]\n",
			want: "sync.point and sync.fire are required",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\nsource: 'x'\nduration: 1\nassertions: [{type: final_state}]\n",
			want: `unknown assertion type "final_state"`,
		},
		{
			name: "order without names",
			yaml: "name: x\nsource: 'x'\nduration: 1\nassertions: [{type: trace_order}]\n",
			want: "names list is required",
		},
		{
			name: "negative count",
			yaml: "name: x\nsource: 'x'\nduration: 1\nassertions: [{type: trace_count, name: a, count: -1}]\n",
			want: "count must be non-negative",
		},
		{
			name: "unknown clock",
			yaml: "name: x\nsource: 'x'\nduration: 1\nassertions: [{type: fired_before, name: a, at: 1, clock: wall}]\n",
			want: `unknown clock "wall"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarios_SortedAndAggregated(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.yaml", "name: b\nsource: 'x'\nduration: 1\n")
	writeFile(t, dir, "a.yml", "name: a\nsource: 'x'\nduration: 1\n")
	writeFile(t, dir, "c.yaml", "name: c\n")
	writeFile(t, dir, "d.yaml", "source: 'x'\nduration: 1\n")
	writeFile(t, dir, "notes.txt", "ignored")

	scenarios, err := LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c.yaml")
	assert.Contains(t, err.Error(), "d.yaml")

	require.Len(t, scenarios, 2)
	assert.Equal(t, "a", scenarios[0].Name)
	assert.Equal(t, "b", scenarios[1].Name)
}

func TestLoadScenarios_Empty(t *testing.T) {
	_, err := LoadScenarios(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenario files")
}
