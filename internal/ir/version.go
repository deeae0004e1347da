package ir

// Version constants for the storage schema and the binary.
const (
	// LayoutVersion is the reserved-slot layout version.
	LayoutVersion = "1"

	// EngineVersion is the stablecall version.
	EngineVersion = "0.1.0"
)
