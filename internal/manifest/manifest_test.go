package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stablecall/internal/ir"
	"github.com/roach88/stablecall/internal/module"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.cue")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDir_Counters(t *testing.T) {
	entries, err := LoadDir("testdata/counters")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "counter_v1", entries[0].Label)
	assert.Equal(t, module.CounterV1(), entries[0].Spec)
	assert.Equal(t, "counter_v2", entries[1].Label)
	assert.Equal(t, module.CounterV2(), entries[1].Spec)

	// Same spec, same reference as the built-in definitions.
	assert.Equal(t, ir.MustModuleRef(module.CounterV2()), ir.MustModuleRef(entries[1].Spec))
}

func TestLoadFile_LuaSourceFile(t *testing.T) {
	entries, err := LoadFile("testdata/scripted/tally.cue")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	spec := entries[0].Spec
	assert.Equal(t, ir.RuntimeLua, spec.Runtime)
	assert.Contains(t, spec.Source, "function bump(args)")
	assert.NoError(t, module.NewRegistry().Validate(spec))
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no modules",
			content: `other: 1`,
			wantErr: "no modules declared",
		},
		{
			name: "bad field type",
			content: `module: m: {
	name: "m", version: 1
	layout: [{name: "x", type: "float"}]
	entry_points: ["f"]
}`,
			wantErr: "cue",
		},
		{
			name:    "zero version",
			content: `module: m: {name: "m", version: 0, entry_points: ["f"]}`,
			wantErr: "cue",
		},
		{
			name:    "unknown key",
			content: `module: m: {name: "m", version: 1, entry_points: ["f"], colour: "red"}`,
			wantErr: "cue",
		},
		{
			name:    "no entry points",
			content: `module: m: {name: "m", version: 1, entry_points: []}`,
			wantErr: "cue",
		},
		{
			name:    "both sources",
			content: `module: m: {name: "m", version: 1, runtime: "lua", entry_points: ["f"], source: "x", source_file: "y.lua"}`,
			wantErr: "not both",
		},
		{
			name:    "missing source file",
			content: `module: m: {name: "m", version: 1, runtime: "lua", entry_points: ["f"], source_file: "nope.lua"}`,
			wantErr: "source_file",
		},
		{
			name:    "duplicate entry points",
			content: `module: m: {name: "m", version: 1, entry_points: ["f", "f"]}`,
			wantErr: "EntryPoints",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeManifest(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var ce *CompileError
			assert.True(t, errors.As(err, &ce))
		})
	}
}

func TestLoadDir_Missing(t *testing.T) {
	_, err := LoadDir("testdata/does-not-exist")
	assert.Error(t, err)
}

func TestLoad_FileOrDir(t *testing.T) {
	fromDir, err := Load("testdata/counters")
	require.NoError(t, err)
	assert.Len(t, fromDir, 2)

	fromFile, err := Load("testdata/counters/counters.cue")
	require.NoError(t, err)
	assert.Equal(t, fromDir, fromFile)

	_, err = Load("testdata/nope.cue")
	assert.Error(t, err)
}
