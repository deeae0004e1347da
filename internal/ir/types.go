package ir

// Address identifies a caller, an owner, or a deployed proxy.
type Address string

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool {
	return a == ""
}

// ModuleRef is the content-addressed identity of a deployed Logic Module.
// Computed by ModuleRefFor; a hex-encoded SHA-256.
type ModuleRef string

// IsZero reports whether the reference is empty.
func (r ModuleRef) IsZero() bool {
	return r == ""
}

// Short returns the first 12 hex characters, for logs.
func (r ModuleRef) Short() string {
	if len(r) <= 12 {
		return string(r)
	}
	return string(r[:12])
}

// FieldType is the declared type of a module-defined storage field.
type FieldType string

const (
	FieldInt     FieldType = "int"
	FieldString  FieldType = "string"
	FieldBool    FieldType = "bool"
	FieldAddress FieldType = "address"
)

// ValidFieldTypes defines the allowed field types.
var ValidFieldTypes = map[FieldType]bool{
	FieldInt:     true,
	FieldString:  true,
	FieldBool:    true,
	FieldAddress: true,
}

// Field is one module-defined slot in a storage layout.
// A field's position in the layout decides its slot.
type Field struct {
	Name string    `json:"name" validate:"required,identifier"`
	Type FieldType `json:"type" validate:"required,oneof=int string bool address"`
}

// Runtime selects how a module's behavior is executed.
type Runtime string

const (
	// RuntimeNative modules are compiled into the binary and looked up by name.
	RuntimeNative Runtime = "native"
	// RuntimeLua modules carry Lua source that runs against the proxy's storage.
	RuntimeLua Runtime = "lua"
)

// ModuleSpec is the deployable description of a Logic Module.
// Its canonical JSON form is hashed to produce the ModuleRef.
type ModuleSpec struct {
	Name        string   `json:"name" validate:"required,max=128"`
	Version     int64    `json:"version" validate:"gt=0"`
	Runtime     Runtime  `json:"runtime" validate:"required,oneof=native lua"`
	Layout      []Field  `json:"layout" validate:"unique=Name,dive"`
	EntryPoints []string `json:"entry_points" validate:"required,min=1,unique,dive,identifier"`
	Source      string   `json:"source,omitempty" validate:"required_if=Runtime lua"`
}

// Object returns the spec as an Object for canonical hashing.
func (s ModuleSpec) Object() Object {
	layout := make(Array, len(s.Layout))
	for i, f := range s.Layout {
		layout[i] = NewObject(O("name", String(f.Name)), O("type", String(f.Type)))
	}
	entries := make(Array, len(s.EntryPoints))
	for i, e := range s.EntryPoints {
		entries[i] = String(e)
	}
	return NewObject(
		O("name", String(s.Name)),
		O("version", Int(s.Version)),
		O("runtime", String(s.Runtime)),
		O("layout", layout),
		O("entry_points", entries),
		O("source", String(s.Source)),
	)
}

// HasEntryPoint reports whether the spec declares the named entry point.
func (s ModuleSpec) HasEntryPoint(name string) bool {
	for _, e := range s.EntryPoints {
		if e == name {
			return true
		}
	}
	return false
}

// Call is a forwarded invocation: entry point identifier plus arguments.
type Call struct {
	Entry string `json:"entry"`
	Args  Object `json:"args"`
}

// EventKind names an audit event.
type EventKind string

const (
	EventInitialized          EventKind = "Initialized"
	EventUpgraded             EventKind = "Upgraded"
	EventStateChanged         EventKind = "StateChanged"
	EventOwnershipTransferred EventKind = "OwnershipTransferred"
	EventProxyDeployed        EventKind = "ProxyDeployed"
)

// Event is an audit record. Seq is assigned by the store when the event is
// written and orders the whole log.
type Event struct {
	Seq   int64     `json:"seq"`
	Proxy Address   `json:"proxy"`
	Kind  EventKind `json:"kind"`
	Data  Object    `json:"data"`
}
