package valuation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

func TestPVROI_SingleExperience(t *testing.T) {
	got, err := PVROI(1000, 1100, 365, 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 1100.0/1000.0/1.05, got, 1e-9)
}

func TestPVROI_ZeroInvestmentFails(t *testing.T) {
	_, err := PVROI(0, 100, 30, 0.05)
	require.Error(t, err)
	assert.Equal(t, types.InvalidArgument, types.KindOf(err))
}

func TestPVROI_NegativeTimeframeFails(t *testing.T) {
	_, err := PVROI(100, 100, -1, 0.05)
	require.Error(t, err)
	assert.Equal(t, types.InvalidArgument, types.KindOf(err))
}

func TestAggregate_SingleExperience(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := types.Experience{PVROI: 1.04762, InvestedVolume: 1000, Timestamp: now}

	score := Aggregate([]types.Experience{exp}, now, 0)

	assert.InDelta(t, 1.04762, score.ExpectedPVROI, 1e-5)
	assert.InDelta(t, 1000, score.TotalVolume, 1e-9)
	assert.EqualValues(t, 1, score.DataPoints)
}

func TestAggregate_TwoExperiencesNoDecay(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	experiences := []types.Experience{
		{PVROI: 1.04762, InvestedVolume: 1000, Timestamp: now},
		{PVROI: 0.9, InvestedVolume: 500, Timestamp: now},
	}

	score := Aggregate(experiences, now, 0)

	assert.InDelta(t, 0.99841, score.ExpectedPVROI, 1e-5)
	assert.InDelta(t, 1500, score.TotalVolume, 1e-9)
	assert.EqualValues(t, 2, score.DataPoints)
}

func TestAggregate_DecayZeroesOldExperience(t *testing.T) {
	pointInTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	experiences := []types.Experience{
		{PVROI: 1.04762, InvestedVolume: 1000, Timestamp: pointInTime.AddDate(-2, 0, 0)},
		{PVROI: 0.9, InvestedVolume: 500, Timestamp: pointInTime},
	}

	score := Aggregate(experiences, pointInTime, 0.5)

	// first experience's aged_volume = 1000 * max(0, 1 - 2*0.5) = 0
	assert.InDelta(t, 0.9, score.ExpectedPVROI, 1e-9)
	assert.InDelta(t, 500, score.TotalVolume, 1e-9)
	assert.EqualValues(t, 2, score.DataPoints)
}

func TestAggregate_EmptyIsNeutral(t *testing.T) {
	score := Aggregate(nil, time.Now(), 0)
	assert.Equal(t, 1.0, score.ExpectedPVROI)
	assert.Equal(t, 0.0, score.TotalVolume)
	assert.EqualValues(t, 0, score.DataPoints)
}

func TestAggregate_TimeInvariantWhenDecayOff(t *testing.T) {
	experiences := []types.Experience{
		{PVROI: 1.2, InvestedVolume: 100, Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	a := Aggregate(experiences, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	b := Aggregate(experiences, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), 0)

	assert.InDelta(t, a.ExpectedPVROI, b.ExpectedPVROI, 1e-9)
	assert.InDelta(t, a.TotalVolume, b.TotalVolume, 1e-9)
}

func TestAggregate_MonotonicNonIncreasingInForgetRate(t *testing.T) {
	now := time.Now()
	experiences := []types.Experience{
		{PVROI: 1.5, InvestedVolume: 100, Timestamp: now.AddDate(-1, 0, 0)},
		{PVROI: 2.0, InvestedVolume: 200, Timestamp: now.AddDate(-3, 0, 0)},
	}

	prev := Aggregate(experiences, now, 0).ExpectedPVROI
	for _, rate := range []float64{0.1, 0.2, 0.4, 0.8, 1.0} {
		cur := Aggregate(experiences, now, rate).ExpectedPVROI
		assert.LessOrEqual(t, cur, prev+1e-9)
		prev = cur
	}
}
