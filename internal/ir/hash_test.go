package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec() ModuleSpec {
	return ModuleSpec{
		Name:        "counter",
		Version:     1,
		Runtime:     RuntimeNative,
		Layout:      []Field{{Name: "value", Type: FieldInt}},
		EntryPoints: []string{"initialize", "value", "version"},
	}
}

func TestModuleRefDeterminism(t *testing.T) {
	ref1, err := ModuleRefFor(testSpec())
	require.NoError(t, err)

	ref2, err := ModuleRefFor(testSpec())
	require.NoError(t, err)

	assert.Equal(t, ref1, ref2, "ModuleRefFor must be deterministic")
	assert.Len(t, string(ref1), 64, "SHA-256 hex is 64 characters")
}

func TestModuleRefChangesWithSpec(t *testing.T) {
	base := MustModuleRef(testSpec())

	bumped := testSpec()
	bumped.Version = 2

	appended := testSpec()
	appended.Layout = append(appended.Layout, Field{Name: "label", Type: FieldString})

	retyped := testSpec()
	retyped.Layout = []Field{{Name: "value", Type: FieldString}}

	assert.NotEqual(t, base, MustModuleRef(bumped))
	assert.NotEqual(t, base, MustModuleRef(appended))
	assert.NotEqual(t, base, MustModuleRef(retyped))
}

func TestLayoutFingerprintOrderSensitive(t *testing.T) {
	a := []Field{{Name: "value", Type: FieldInt}, {Name: "label", Type: FieldString}}
	b := []Field{{Name: "label", Type: FieldString}, {Name: "value", Type: FieldInt}}

	fa, err := LayoutFingerprint(a)
	require.NoError(t, err)
	fb, err := LayoutFingerprint(b)
	require.NoError(t, err)

	assert.NotEqual(t, fa, fb)
}

func TestModuleRefShort(t *testing.T) {
	ref := MustModuleRef(testSpec())
	assert.Equal(t, string(ref)[:12], ref.Short())
	assert.Equal(t, "abc", ModuleRef("abc").Short())
	assert.True(t, ModuleRef("").IsZero())
}

func TestHasEntryPoint(t *testing.T) {
	spec := testSpec()
	assert.True(t, spec.HasEntryPoint("value"))
	assert.False(t, spec.HasEntryPoint("setValue"))
}
