package flush

import "github.com/google/uuid"

// OperationIDGenerator generates identifiers for logical operations.
// Implemented by UUIDv7Generator (production) and testutil.FixedOperationGenerator (tests).
type OperationIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 operation ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
