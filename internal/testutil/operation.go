package testutil

// FixedOperationGenerator generates the same operation id every time.
//
// This enables deterministic test execution and golden snapshot comparison:
// every event of a scenario run carries the same operation id.
//
// Thread-safety: FixedOperationGenerator is stateless and safe for concurrent use.
type FixedOperationGenerator struct {
	id string
}

// NewFixedOperationGenerator creates a generator returning id.
// If id is empty, Generate() returns "test-operation-default".
func NewFixedOperationGenerator(id string) *FixedOperationGenerator {
	if id == "" {
		id = "test-operation-default"
	}
	return &FixedOperationGenerator{id: id}
}

// Generate returns the fixed operation id.
//
// Implements flush.OperationIDGenerator.
func (g *FixedOperationGenerator) Generate() string {
	return g.id
}
