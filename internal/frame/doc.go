// Package frame implements the Storage Frame: the slot arena a Delegated Proxy
// owns and every Logic Module reads and writes through.
//
// # Layout
//
//	slot 0  implementation  active module reference
//	slot 1  initialized     one-byte initialization flag
//	slot 2  owner           upgrade authority identity
//	slot 3+ module fields   FieldBase + index, in declared order
//
// Module fields are addressed by their position in the module's declared
// layout, not by name. A successor module that appends fields reads every
// predecessor field from the same slot; one that reorders or retypes a field
// reads whatever bytes the old layout left there. Nothing here prevents that:
// layout compatibility is the upgrader's responsibility.
package frame
