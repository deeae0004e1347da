package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/owner_upgrades.yaml")
	require.NoError(t, err)

	assert.Equal(t, "owner_upgrades", scenario.Name)
	require.Len(t, scenario.Steps, 4)
	assert.Equal(t, ActionDeploy, scenario.Steps[0].Action)
	assert.Equal(t, 7, scenario.Steps[0].Args["value"])
	require.NotNil(t, scenario.Steps[2].Expect)
	assert.Equal(t, 2, scenario.Steps[2].Expect.Result)
	assert.Len(t, scenario.Assertions, 3)
}

func TestLoadScenario_ResolvesManifests(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/scripted_tally.yaml")
	require.NoError(t, err)
	require.Len(t, scenario.Manifests, 1)
	assert.Equal(t, filepath.Join("testdata", "manifests", "tally.cue"), scenario.Manifests[0])
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: "name: x\ndescription: y\nstep: []\n",
			wantErr: "field step not found",
		},
		{
			name:    "missing name",
			content: "description: y\nsteps:\n  - {action: call, by: a, proxy: p, entry: e}\n",
			wantErr: "name is required",
		},
		{
			name:    "no steps",
			content: "name: x\ndescription: y\n",
			wantErr: "steps list is required",
		},
		{
			name:    "unknown action",
			content: "name: x\ndescription: y\nsteps:\n  - {action: selfdestruct, by: a, proxy: p}\n",
			wantErr: `unknown action "selfdestruct"`,
		},
		{
			name:    "deploy without module",
			content: "name: x\ndescription: y\nsteps:\n  - {action: deploy, by: a, proxy: p}\n",
			wantErr: "module is required for deploy",
		},
		{
			name:    "call without entry",
			content: "name: x\ndescription: y\nsteps:\n  - {action: call, by: a, proxy: p}\n",
			wantErr: "entry is required for call",
		},
		{
			name:    "missing caller",
			content: "name: x\ndescription: y\nsteps:\n  - {action: call, proxy: p, entry: e}\n",
			wantErr: "by is required",
		},
		{
			name:    "missing manifest",
			content: "name: x\ndescription: y\nmanifests: [nope.cue]\nsteps:\n  - {action: call, by: a, proxy: p, entry: e}\n",
			wantErr: "manifest not found",
		},
		{
			name:    "unknown assertion",
			content: "name: x\ndescription: y\nsteps:\n  - {action: call, by: a, proxy: p, entry: e}\nassertions:\n  - {type: vibes}\n",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "state without expect",
			content: "name: x\ndescription: y\nsteps:\n  - {action: call, by: a, proxy: p, entry: e}\nassertions:\n  - {type: state, proxy: p}\n",
			wantErr: "proxy and expect are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(), tt.content)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
