package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func samplePlan(id string) *Plan {
	return &Plan{
		PlanID:          id,
		Name:            "Pro Weather",
		AuthorizedSats:  NewSats(20000),
		IntervalBlocks:  144,
		PerCallSats:     NewSats(100),
		AllowedPaths:    []string{"/api/weather/*"},
		MerchantAddress: "bchtest:merchant",
		Status:          PlanActive,
	}
}

func TestPlanStoreAddAndGet(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPlanStore(filepath.Join(dir, "plans.json"))
	require.NoError(t, err)
	require.NoError(t, s.Add(samplePlan("plan1")))

	got, err := s.Get("plan1")
	require.NoError(t, err)
	require.Equal(t, "Pro Weather", got.Name)
}

func TestPlanStoreIncrementSubscribers(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPlanStore(filepath.Join(dir, "plans.json"))
	require.NoError(t, err)
	require.NoError(t, s.Add(samplePlan("plan1")))

	require.NoError(t, s.IncrementSubscribers("plan1"))
	require.NoError(t, s.IncrementSubscribers("plan1"))
	got, err := s.Get("plan1")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.SubscriberCount)
}

func TestIsPathAllowedExactAndWildcard(t *testing.T) {
	plan := samplePlan("plan1")
	require.True(t, IsPathAllowed(plan, "/api/weather/today"))
	require.False(t, IsPathAllowed(plan, "/api/other"))

	exact := samplePlan("plan2")
	exact.AllowedPaths = []string{"/api/exact"}
	require.True(t, IsPathAllowed(exact, "/api/exact"))
	require.False(t, IsPathAllowed(exact, "/api/exact/sub"))
}

func TestPlanStoreGetByMerchant(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPlanStore(filepath.Join(dir, "plans.json"))
	require.NoError(t, err)
	require.NoError(t, s.Add(samplePlan("plan1")))

	other := samplePlan("plan2")
	other.MerchantAddress = "bchtest:othermerchant"
	require.NoError(t, s.Add(other))

	plans := s.GetByMerchant("bchtest:merchant")
	require.Len(t, plans, 1)
	require.Equal(t, "plan1", plans[0].PlanID)
}
