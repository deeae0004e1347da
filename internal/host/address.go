package host

import (
	"github.com/google/uuid"
)

// AddressGenerator produces addresses for newly deployed proxies.
type AddressGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 proxy addresses.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
