package store

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUsageStoreRecordUsageAccumulates(t *testing.T) {
	dir := t.TempDir()
	s, err := NewUsageStore(filepath.Join(dir, "usage.json"))
	require.NoError(t, err)

	_, err = s.RecordUsage("cat1", "addr1", "/api/weather", "req1", NewSats(100000), NewSats(100), "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	usage, err := s.RecordUsage("cat1", "addr1", "/api/weather", "req2", NewSats(100000), NewSats(50), "2026-01-01T00:01:00Z")
	require.NoError(t, err)

	require.Equal(t, int64(150), usage.PendingSats.Int64())
	require.Equal(t, int64(150), usage.TotalSats.Int64())
	require.Len(t, usage.RecentCalls, 2)
	require.Equal(t, "req2", usage.RecentCalls[0].RequestID) // newest first
}

func TestUsageStoreResetPendingKeepsTotal(t *testing.T) {
	dir := t.TempDir()
	s, err := NewUsageStore(filepath.Join(dir, "usage.json"))
	require.NoError(t, err)
	_, err = s.RecordUsage("cat1", "addr1", "/api/weather", "req1", NewSats(100000), NewSats(100), "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	require.NoError(t, s.ResetPendingSats("cat1", NewSats(100)))
	usage := s.GetUsage("cat1")
	require.Equal(t, int64(0), usage.PendingSats.Int64())
	require.Equal(t, int64(100), usage.TotalSats.Int64())
}

func TestUsageStoreResetPendingPreservesUsageRecordedDuringClaim(t *testing.T) {
	dir := t.TempDir()
	s, err := NewUsageStore(filepath.Join(dir, "usage.json"))
	require.NoError(t, err)
	_, err = s.RecordUsage("cat1", "addr1", "/api/weather", "req1", NewSats(100000), NewSats(100), "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	// A claim snapshots pendingSats (100) before resetting, but a new
	// call lands against the same category while the claim's on-chain
	// broadcast is in flight.
	snapshot := s.GetUsage("cat1").PendingSats
	_, err = s.RecordUsage("cat1", "addr1", "/api/weather", "req2", NewSats(100000), NewSats(30), "2026-01-01T00:00:30Z")
	require.NoError(t, err)

	require.NoError(t, s.ResetPendingSats("cat1", snapshot))
	usage := s.GetUsage("cat1")
	require.Equal(t, int64(30), usage.PendingSats.Int64(), "usage recorded after the claim snapshot must survive the reset")
	require.Equal(t, int64(130), usage.TotalSats.Int64())
}

func TestUsageStoreRecentCallsCappedAt100(t *testing.T) {
	dir := t.TempDir()
	s, err := NewUsageStore(filepath.Join(dir, "usage.json"))
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		_, err := s.RecordUsage("cat1", "addr1", "/api/x", "req", NewSats(100000), NewSats(1), "2026-01-01T00:00:00Z")
		require.NoError(t, err)
	}
	usage := s.GetUsage("cat1")
	require.Len(t, usage.RecentCalls, MaxRecentCalls)
	require.Equal(t, int64(150), usage.TotalSats.Int64())
}

func TestUsageStoreConcurrentRecordUsageIsAtomic(t *testing.T) {
	dir := t.TempDir()
	s, err := NewUsageStore(filepath.Join(dir, "usage.json"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.RecordUsage("cat1", "addr1", "/api/x", "req", NewSats(100000), NewSats(10), "2026-01-01T00:00:00Z")
		}()
	}
	wg.Wait()

	usage := s.GetUsage("cat1")
	require.Equal(t, int64(500), usage.PendingSats.Int64())
}

func TestUsageStoreGetTotalPendingSatsAcrossCategories(t *testing.T) {
	dir := t.TempDir()
	s, err := NewUsageStore(filepath.Join(dir, "usage.json"))
	require.NoError(t, err)
	_, err = s.RecordUsage("cat1", "addr1", "/api/x", "req1", NewSats(100000), NewSats(100), "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	_, err = s.RecordUsage("cat2", "addr2", "/api/x", "req2", NewSats(100000), NewSats(200), "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	total := s.GetTotalPendingSats([]string{"cat1", "cat2"})
	require.Equal(t, int64(300), total.Int64())
}

func TestUsageStoreRecordUsageRejectsWhenBalanceExhausted(t *testing.T) {
	dir := t.TempDir()
	s, err := NewUsageStore(filepath.Join(dir, "usage.json"))
	require.NoError(t, err)

	_, err = s.RecordUsage("cat1", "addr1", "/api/x", "req1", NewSats(100), NewSats(100), "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	_, err = s.RecordUsage("cat1", "addr1", "/api/x", "req2", NewSats(100), NewSats(1), "2026-01-01T00:01:00Z")
	require.Error(t, err)

	usage := s.GetUsage("cat1")
	require.Equal(t, int64(100), usage.PendingSats.Int64(), "a rejected deduction must not mutate pending")
}
