package qtest

import (
	"log/slog"
	"testing"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a debug-level logger
// that writes through t.Log,
// so output is attributed to the right test
// and suppressed unless the test fails or -v is set.
func NewLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slogt.New(t, slogt.Text())
}
