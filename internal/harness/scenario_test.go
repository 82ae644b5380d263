package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: ok
source: "(pure 1)"
handlers:
  - tag: f
    op: const
    value: 3
expect:
  value: "1"
assertions:
  - type: trace_length
    count: 0
`))
	require.NoError(t, err)
	assert.Equal(t, "ok", s.Name)
	assert.Equal(t, int64(3), s.Handlers[0].Value)
	require.Len(t, s.Assertions, 1)
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "name: x\nfixture: alloc-consume\nasserts: []\n"},
		{"no name", "fixture: alloc-consume\n"},
		{"no program", "name: x\n"},
		{"two programs", "name: x\nfixture: alloc-consume\nsource: \"(pure 1)\"\n"},
		{"inputs without values", "name: x\nfixture: inputs\n"},
		{"value and failure", "name: x\nfixture: alloc-consume\nexpect: {value: \"1\", failure: X}\n"},
		{"handler op", "name: x\nfixture: alloc-consume\nhandlers: [{tag: f, op: explode}]\n"},
		{"handler tag", "name: x\nfixture: alloc-consume\nhandlers: [{op: echo}]\n"},
		{"assertion type", "name: x\nfixture: alloc-consume\nassertions: [{type: vibes}]\n"},
		{"order without ops", "name: x\nfixture: alloc-consume\nassertions: [{type: instruction_order}]\n"},
		{"event without kind", "name: x\nfixture: alloc-consume\nassertions: [{type: event_count}]\n"},
		{"bad state", "name: x\nfixture: alloc-consume\nassertions: [{type: resource_state, state: melted}]\n"},
		{"one label", "name: x\nfixture: alloc-consume\nassertions: [{type: happens_before, labels: [a]}]\n"},
		{"bad backend", "name: x\nfixture: alloc-consume\nassertions: [{type: proof_verifies, backend: plonk}]\n"},
		{"negative count", "name: x\nfixture: alloc-consume\nassertions: [{type: trace_length, count: -1}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadScenario_ResolvesSourceFile(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "causal-chain.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "programs", "chain.cl"), s.SourceFile)

	_, src, err := s.program()
	require.NoError(t, err)
	assert.Contains(t, src, "causal-chain")
}

func TestLoadScenario_Missing(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt", "sub/c.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("name: x\n"), 0o600))
	}

	files, err := ScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "sub", "c.yaml"),
	}, files)

	files, err = ScenarioFiles(dir, "b*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, files)

	_, err = ScenarioFiles(filepath.Join(dir, "nope"), "")
	assert.Error(t, err)
}

func TestRunFiles_RecordsLoadErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: bad\n"), 0o600))

	out := RunFiles(t.Context(), []string{path})
	require.Len(t, out, 1)
	assert.False(t, out[0].Pass())
	assert.Contains(t, out[0].Err, "exactly one of")
}
