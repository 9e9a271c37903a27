// Package valuation implements the node's two pure scoring
// operations: PV-ROI for a single experience, and decayed aggregation
// across a set of experiences into a TrustScore. Neither operation
// performs I/O or suspends.
package valuation

import (
	"math"
	"time"

	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

// DefaultDiscountRate is the rate POST /experiences passes to PVROI
// when the request omits discount_rate.
const DefaultDiscountRate = 0.05

const daysPerYear = 365.0

// PVROI computes the present-value return on investment for a single
// experience: pv = return / (1+rate)^years, result = pv / investment.
//
// Preconditions: investment > 0, timeframeDays >= 0.
func PVROI(investment, returnValue, timeframeDays, discountRate float64) (float64, error) {
	if investment <= 0 {
		return 0, types.Newf(types.InvalidArgument, "valuation.PVROI", "investment must be positive, got %v", investment)
	}
	if timeframeDays < 0 {
		return 0, types.Newf(types.InvalidArgument, "valuation.PVROI", "timeframe_days must be non-negative, got %v", timeframeDays)
	}

	years := timeframeDays / daysPerYear
	pv := returnValue / math.Pow(1+discountRate, years)
	return pv / investment, nil
}

// AgeFactor is the linear-clamped decay multiplier applied to an
// experience's invested volume. forgetRate = 0 disables decay.
func AgeFactor(yearsElapsed, forgetRate float64) float64 {
	if yearsElapsed < 0 {
		yearsElapsed = 0
	}
	return math.Max(0, 1-yearsElapsed*forgetRate)
}

// Aggregate combines a set of experiences into a TrustScore as of
// `now`, applying linear age decay at `forgetRate` per year.
func Aggregate(experiences []types.Experience, now time.Time, forgetRate float64) types.TrustScore {
	var totalWeightedROI, totalAgedVolume float64

	for _, exp := range experiences {
		yearsElapsed := now.Sub(exp.Timestamp).Hours() / 24 / daysPerYear
		if yearsElapsed < 0 {
			yearsElapsed = 0
		}
		agedVolume := exp.InvestedVolume * AgeFactor(yearsElapsed, forgetRate)

		totalWeightedROI += exp.PVROI * agedVolume
		totalAgedVolume += agedVolume
	}

	expected := 1.0
	if totalAgedVolume > 0 {
		expected = totalWeightedROI / totalAgedVolume
	}

	return types.TrustScore{
		ExpectedPVROI: expected,
		TotalVolume:   totalAgedVolume,
		DataPoints:    int64(len(experiences)),
	}
}
