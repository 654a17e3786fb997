package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ds "github.com/sqlwatch/sqlwatch/internal/domain/datasource"
)

func fixedClock(at *time.Time) func() time.Time {
	return func() time.Time { return *at }
}

func TestStoreThenLookupWithinTTL(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New()
	c.now = fixedClock(&now)

	out := ds.Outcome{Columns: []string{"n"}, Rows: [][]string{{"42"}}}
	c.Store("warehouse", "SELECT count(*) FROM t", out, time.Minute)

	now = now.Add(30 * time.Second)
	got, ok := c.Lookup("warehouse", "SELECT count(*) FROM t")
	require.True(t, ok)
	assert.Equal(t, out.Columns, got.Columns)
	assert.Equal(t, out.Rows, got.Rows)
	require.NotNil(t, got.CachedAt)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), *got.CachedAt)
}

func TestLookupAfterExpiryMisses(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New()
	c.now = fixedClock(&now)

	c.Store("warehouse", "SELECT 1", ds.Outcome{Columns: []string{"one"}}, time.Minute)

	now = now.Add(time.Minute + time.Second)
	_, ok := c.Lookup("warehouse", "SELECT 1")
	assert.False(t, ok)
	// expired entry was evicted on lookup
	assert.Equal(t, 0, c.Len())
}

func TestLookupMissesOnAbsent(t *testing.T) {
	c := New()
	_, ok := c.Lookup("warehouse", "SELECT 1")
	assert.False(t, ok)
}

func TestStoreOverwritesUnconditionally(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New()
	c.now = fixedClock(&now)

	c.Store("warehouse", "SELECT 1", ds.Outcome{Rows: [][]string{{"old"}}}, time.Hour)
	c.Store("warehouse", "SELECT 1", ds.Outcome{Rows: [][]string{{"new"}}}, time.Hour)

	got, ok := c.Lookup("warehouse", "SELECT 1")
	require.True(t, ok)
	assert.Equal(t, [][]string{{"new"}}, got.Rows)
	assert.Equal(t, 1, c.Len())
}

func TestKeyIsPerDataSource(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New()
	c.now = fixedClock(&now)

	c.Store("a", "SELECT 1", ds.Outcome{Rows: [][]string{{"from-a"}}}, time.Hour)

	_, ok := c.Lookup("b", "SELECT 1")
	assert.False(t, ok)

	got, ok := c.Lookup("a", "SELECT 1")
	require.True(t, ok)
	assert.Equal(t, [][]string{{"from-a"}}, got.Rows)
}

func TestZeroTTLDisablesStoring(t *testing.T) {
	c := New()
	c.Store("a", "SELECT 1", ds.Outcome{}, 0)
	assert.Equal(t, 0, c.Len())
}
