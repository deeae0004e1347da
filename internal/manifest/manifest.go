// Package manifest compiles CUE module manifests into deployable specs.
//
// A manifest declares modules under the top-level "module" struct:
//
//	module: counter_v2: {
//		name:    "counter"
//		version: 2
//		layout: [{name: "value", type: "int"}, {name: "writes", type: "int"}]
//		entry_points: ["initialize", "value", "setValue", "version"]
//	}
//
// Lua modules set runtime: "lua" and carry their code in source, or in
// source_file relative to the manifest's directory.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/stablecall/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

// Entry is one module declared in a manifest.
type Entry struct {
	// Label is the key under "module".
	Label string
	Spec  ir.ModuleSpec
}

// CompileError is a manifest error with its CUE position when known.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load compiles path, which is either a .cue file or a directory
// holding one CUE package.
func Load(path string) ([]Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}

// LoadFile compiles one .cue manifest file.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	return compileAll(ctx, v, filepath.Dir(path))
}

// LoadDir compiles every .cue file in dir as one CUE package.
func LoadDir(dir string) ([]Entry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("manifest directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", err)
	}

	ctx := cuecontext.New()
	return compileAll(ctx, ctx.BuildInstance(instances[0]), dir)
}

// compileAll unifies v with the manifest schema and compiles every module,
// ordered by label.
func compileAll(ctx *cue.Context, v cue.Value, baseDir string) ([]Entry, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("manifest schema: %w", err)
	}
	v = schema.Unify(v)

	modules := v.LookupPath(cue.ParsePath("module"))
	if !modules.Exists() {
		return nil, &CompileError{Field: "module", Message: "no modules declared", Pos: v.Pos()}
	}
	iter, err := modules.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var entries []Entry
	for iter.Next() {
		spec, err := Compile(iter.Value(), baseDir)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Label: iter.Label(), Spec: spec})
	}
	if len(entries) == 0 {
		return nil, &CompileError{Field: "module", Message: "no modules declared", Pos: modules.Pos()}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Label < entries[j].Label })
	return entries, nil
}

type manifestModule struct {
	Name        string     `json:"name"`
	Version     int64      `json:"version"`
	Runtime     string     `json:"runtime"`
	Layout      []ir.Field `json:"layout"`
	EntryPoints []string   `json:"entry_points"`
	Source      string     `json:"source"`
	SourceFile  string     `json:"source_file"`
}

// Compile turns one module value into a spec. source_file is resolved
// against baseDir.
func Compile(v cue.Value, baseDir string) (ir.ModuleSpec, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return ir.ModuleSpec{}, formatCUEError(err)
	}

	var m manifestModule
	if err := v.Decode(&m); err != nil {
		return ir.ModuleSpec{}, formatCUEError(err)
	}

	if m.Source != "" && m.SourceFile != "" {
		return ir.ModuleSpec{}, &CompileError{Field: "source", Message: "set source or source_file, not both", Pos: v.Pos()}
	}
	if m.SourceFile != "" {
		path := m.SourceFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return ir.ModuleSpec{}, &CompileError{Field: "source_file", Message: err.Error(), Pos: v.Pos()}
		}
		m.Source = string(data)
	}

	spec := ir.ModuleSpec{
		Name:        m.Name,
		Version:     m.Version,
		Runtime:     ir.Runtime(m.Runtime),
		Layout:      m.Layout,
		EntryPoints: m.EntryPoints,
		Source:      m.Source,
	}
	if err := spec.Validate(); err != nil {
		return ir.ModuleSpec{}, &CompileError{Field: "module", Message: err.Error(), Pos: v.Pos()}
	}
	return spec, nil
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &CompileError{Field: "cue", Message: first.Error()}
}
