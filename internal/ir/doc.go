// Package ir provides the shared data types for stablecall.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps IR the foundational layer
// with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - Module references are content-addressed (SHA-256 over canonical JSON)
//   - All JSON tags use snake_case
//   - Event ordering uses a logical seq, never wall-clock timestamps
package ir
