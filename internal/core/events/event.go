package events

import (
	. "github.com/berfenger/shadeauto2mqtt/internal/core/domain"
	"github.com/berfenger/shadeauto2mqtt/internal/core/store"
)

// ShadeStateToUpdateEvents maps one cached shade state to the MQTT update
// events that represent it. A shade whose position was never polled is
// announced as unavailable rather than at a made-up position.
func ShadeStateToUpdateEvents(st store.ShadeState) []any {
	var events []any

	// Cover availability
	events = append(events, CoverAvailabilityUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: CoverId(st.UID),
		},
		Available: st.Reachable && st.PositionKnown,
	})
	// Cover position
	if st.PositionKnown {
		events = append(events, CoverUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: CoverId(st.UID),
			},
			Position: st.Position,
		})
	}
	// Battery level
	if st.Battery.Known {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: BatterySensorId(st.UID),
			},
			Value:    float64(st.Battery.Percent),
			Decimals: 0,
		})
		events = append(events, BinarySensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: BatteryLowSensorId(st.UID),
			},
			Value: st.Battery.Low,
		})
	}
	// Reachability
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: ReachableSensorId(st.UID),
		},
		Value: st.Reachable,
	})

	return events
}

func BridgeStateUpdateEvents(online bool) []any {
	return []any{
		BridgeStateUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_BRIDGE_STATE,
			},
			Value: online,
		},
	}
}
