package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCleanString(t *testing.T) {
	assert.Equal(t, "Hello", CleanString("  Hello \n"))
	assert.Equal(t, "hello", CleanString("  HeLLo ", true))
}

func TestUniqueStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, UniqueStrings([]string{"a", "", "b", "a", "c", "b"}))
	assert.Empty(t, UniqueStrings(nil))
}

func TestOverlaps(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

	tests := []struct {
		name       string
		aStart     time.Time
		aEnd       time.Time
		bStart     time.Time
		bEnd       time.Time
		wantResult bool
	}{
		{name: "disjoint before", aStart: at(0), aEnd: at(1), bStart: at(2), bEnd: at(3)},
		{name: "touching edges", aStart: at(0), aEnd: at(1), bStart: at(1), bEnd: at(2)},
		{name: "partial overlap", aStart: at(0), aEnd: at(2), bStart: at(1), bEnd: at(3), wantResult: true},
		{name: "contained", aStart: at(0), aEnd: at(4), bStart: at(1), bEnd: at(2), wantResult: true},
		{name: "identical", aStart: at(1), aEnd: at(2), bStart: at(1), bEnd: at(2), wantResult: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantResult, Overlaps(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd))
			assert.Equal(t, tt.wantResult, Overlaps(tt.bStart, tt.bEnd, tt.aStart, tt.aEnd))
		})
	}
}

func TestCleanOrdering(t *testing.T) {
	ordering := []DBOrdering{{Field: "name", Ascending: true}, {Field: "password_hash"}, {Field: "created_at"}}
	got := CleanOrdering(ordering, "name", "created_at")
	assert.Equal(t, []DBOrdering{{Field: "name", Ascending: true}, {Field: "created_at"}}, got)
	assert.Equal(t, "created_at DESC", got[1].String())
}

func TestPage_Clean(t *testing.T) {
	p := Page{Number: 0, Size: 1000}
	p.Clean()
	assert.Equal(t, Page{Number: 1, Size: MaxPageSize}, p)
	assert.Equal(t, 0, p.Offset())

	p = Page{Number: 3}
	p.Clean()
	assert.Equal(t, DefaultPageSize, p.Size)
	assert.Equal(t, 40, p.Offset())
}
