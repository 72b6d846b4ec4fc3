package port

import (
	"github.com/berfenger/shadeauto2mqtt/internal/core/domain"
)

// BatteryNormalizer maps a raw hub battery reading (ambiguous unit: percent
// or voltage) to a normalized percentage with a low-battery determination.
type BatteryNormalizer interface {
	Normalize(raw *float64) domain.BatteryReading
	LowThreshold() int
}
