package catalog_test

import (
	"testing"
	"time"
)

// timeIn returns a time hours from now, truncated to the second.
func timeIn(t *testing.T, hours int) time.Time {
	t.Helper()
	return time.Now().UTC().Add(time.Duration(hours) * time.Hour).Truncate(time.Second)
}
