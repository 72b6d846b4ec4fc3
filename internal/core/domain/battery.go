package domain

// BatteryReading is a normalized battery value. Known is false when the raw
// hub reading was missing or not a finite number; Percent and Low are only
// meaningful when Known is true.
type BatteryReading struct {
	Percent int
	Low     bool
	Known   bool
}
