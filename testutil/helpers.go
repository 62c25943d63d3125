package testutil

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"golang.org/x/exp/maps"
)

// Timeouts for test contexts.
const (
	WaitShort = 10 * time.Second
	WaitLong  = 30 * time.Second
)

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

// mustNoError fails t with a message built from format when err is set.
func mustNoError(t testing.TB, err error, format string, args ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", fmt.Sprintf(format, args...), err)
	}
}
