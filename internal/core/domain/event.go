package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

// CoverUpdateEvent carries a shade's position. Unknown positions (never
// successfully polled) are published as unavailable instead.
type CoverUpdateEvent struct {
	SensorUpdateEventMixIn
	Position int
}

// CoverAvailabilityUpdateEvent reflects a shade's reachability flag.
type CoverAvailabilityUpdateEvent struct {
	SensorUpdateEventMixIn
	Available bool
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}
