package flush_test

import (
	"testing"

	"go.uber.org/goleak"
)

// Every async lane must be joined before Flush returns.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
