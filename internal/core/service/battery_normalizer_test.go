package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func raw(v float64) *float64 {
	return &v
}

func TestNormalizeIdentityOnPercentRange(t *testing.T) {
	n := NewRangeBatteryNormalizer(DEFAULT_LOW_BATTERY_THRESHOLD)

	for r := 0; r <= 100; r++ {
		reading := n.Normalize(raw(float64(r)))
		assert.True(t, reading.Known)
		assert.Equal(t, r, reading.Percent, "raw %d should map to itself", r)
	}
}

func TestNormalizeOutOfRangeIsClampedVoltage(t *testing.T) {
	n := NewRangeBatteryNormalizer(DEFAULT_LOW_BATTERY_THRESHOLD)

	// anything above 100 is a voltage far beyond full charge
	assert.Equal(t, 100, n.Normalize(raw(150)).Percent)
	assert.Equal(t, 100, n.Normalize(raw(101)).Percent)
	// negative readings clamp to empty
	assert.Equal(t, 0, n.Normalize(raw(-3)).Percent)
}

func TestVoltageToPercentLinearAndClamped(t *testing.T) {
	assert.Equal(t, 0, VoltageToPercent(3.30))
	assert.Equal(t, 0, VoltageToPercent(2.1))
	assert.Equal(t, 100, VoltageToPercent(4.20))
	assert.Equal(t, 100, VoltageToPercent(5.0))
	assert.Equal(t, 50, VoltageToPercent(3.75))
	assert.Equal(t, 67, VoltageToPercent(3.90))

	// monotonically non-decreasing
	prev := -1
	for v := 2.0; v <= 5.0; v += 0.01 {
		pct := VoltageToPercent(v)
		assert.GreaterOrEqual(t, pct, prev)
		prev = pct
	}
}

func TestNormalizeLowFlagFollowsThreshold(t *testing.T) {
	for _, threshold := range []int{0, 10, 20, 50, 100} {
		n := NewRangeBatteryNormalizer(threshold)
		for r := 0; r <= 100; r += 5 {
			reading := n.Normalize(raw(float64(r)))
			assert.Equal(t, reading.Percent < threshold, reading.Low,
				"threshold %d raw %d", threshold, r)
		}
	}
}

func TestNormalizeUnknownInputs(t *testing.T) {
	n := NewRangeBatteryNormalizer(DEFAULT_LOW_BATTERY_THRESHOLD)

	assert.False(t, n.Normalize(nil).Known)
	assert.False(t, n.Normalize(raw(math.NaN())).Known)
	assert.False(t, n.Normalize(raw(math.Inf(1))).Known)
	assert.False(t, n.Normalize(raw(math.Inf(-1))).Known)
}

func TestNormalizeAmbiguousVoltageBandReadsAsPercent(t *testing.T) {
	// 3.9 is a plausible pack voltage but sits inside [0, 100], so the
	// range heuristic reads it as a (low) percentage. Documented behavior.
	n := NewRangeBatteryNormalizer(DEFAULT_LOW_BATTERY_THRESHOLD)

	reading := n.Normalize(raw(3.9))
	assert.True(t, reading.Known)
	assert.Equal(t, 4, reading.Percent)
	assert.True(t, reading.Low)
}
