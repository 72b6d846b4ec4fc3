package service

import (
	"math"

	"github.com/berfenger/shadeauto2mqtt/internal/core/domain"
	"github.com/berfenger/shadeauto2mqtt/internal/core/port"
)

// Voltage-to-percent mapping for shades that report volts instead of percent.
// Typical Li-ion pack: 3.30 V empty, 4.20 V full.
const (
	BATTERY_EMPTY_VOLTAGE = 3.30
	BATTERY_FULL_VOLTAGE  = 4.20

	DEFAULT_LOW_BATTERY_THRESHOLD = 20
)

// RangeBatteryNormalizer decides percent-vs-voltage purely by value range:
// a raw reading inside [0, 100] is taken as a percentage; anything else is
// taken as a voltage and mapped linearly, clamped to [0, 100].
//
// Known limitation of the heuristic: a hub reporting a true voltage (3.30 to
// 4.20) cannot be told apart from a very low percentage, because that band
// lies inside [0, 100] and is therefore read as a percent. There is no device
// introspection to disambiguate, so the range rule is applied as-is.
type RangeBatteryNormalizer struct {
	Threshold int
}

var _ port.BatteryNormalizer = (*RangeBatteryNormalizer)(nil)

func NewRangeBatteryNormalizer(threshold int) *RangeBatteryNormalizer {
	return &RangeBatteryNormalizer{Threshold: threshold}
}

// Normalize is total over all inputs: nil or non-finite readings yield an
// unknown reading, every finite number yields a percent in [0, 100].
func (n *RangeBatteryNormalizer) Normalize(raw *float64) domain.BatteryReading {
	if raw == nil {
		return domain.BatteryReading{}
	}
	value := *raw
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return domain.BatteryReading{}
	}
	var percent int
	if value >= 0 && value <= 100 {
		percent = int(math.Round(value))
	} else {
		percent = VoltageToPercent(value)
	}
	return domain.BatteryReading{
		Percent: percent,
		Low:     percent < n.Threshold,
		Known:   true,
	}
}

func (n *RangeBatteryNormalizer) LowThreshold() int {
	return n.Threshold
}

// VoltageToPercent maps a battery voltage to [0, 100] linearly over the
// [3.30 V, 4.20 V] range, clamping outside it.
func VoltageToPercent(volts float64) int {
	if volts <= BATTERY_EMPTY_VOLTAGE {
		return 0
	}
	if volts >= BATTERY_FULL_VOLTAGE {
		return 100
	}
	pct := (volts - BATTERY_EMPTY_VOLTAGE) / (BATTERY_FULL_VOLTAGE - BATTERY_EMPTY_VOLTAGE) * 100
	return int(math.Round(pct))
}
