package events

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"

	. "github.com/berfenger/shadeauto2mqtt/internal/core/domain"
	"github.com/berfenger/shadeauto2mqtt/pkg/shadeauto"
)

const (
	SENSOR_ID_BRIDGE_STATE = "bridge"

	SENSOR_SUFFIX_BATTERY     = "battery"
	SENSOR_SUFFIX_BATTERY_LOW = "battery_low"
	SENSOR_SUFFIX_REACHABLE   = "reachable"

	STATE_CLASS_MEASUREMENT   = "measurement"
	DEVICE_CLASS_BATTERY      = "battery"
	DEVICE_CLASS_CONNECTIVITY = "connectivity"
	DEVICE_CLASS_SHADE        = "shade"
	ENTITY_CLASS_DIAGNOSTIC   = "diagnostic"
	SENSOR_TYPE_SENSOR        = "sensor"
	SENSOR_TYPE_BINARY        = "binary_sensor"
)

func CoverId(uid string) string {
	return uid
}

func BatterySensorId(uid string) string {
	return fmt.Sprintf("%s_%s", uid, SENSOR_SUFFIX_BATTERY)
}

func BatteryLowSensorId(uid string) string {
	return fmt.Sprintf("%s_%s", uid, SENSOR_SUFFIX_BATTERY_LOW)
}

func ReachableSensorId(uid string) string {
	return fmt.Sprintf("%s_%s", uid, SENSOR_SUFFIX_REACHABLE)
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("shadeauto_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "ShadeAuto2MQTT",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("ShadeAuto %s", md5HashShort(baseTopic)),
	}
}

func HubDevice(bridgeDevice Device, host string) Device {
	return Device{
		Id:           fmt.Sprintf("sha_hub_%s", md5HashShort(host)),
		Manufacturer: "NEO Smart",
		Model:        "Smart Controller",
		Name:         fmt.Sprintf("Shade hub %s", host),
		ViaDevice:    bridgeDevice.Id,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func ShadeCover(hubDevice Device, shade shadeauto.ShadeDescriptor) GenericCover {
	return GenericCover{
		Device:      hubDevice,
		Id:          CoverId(shade.UID),
		Name:        shade.Name,
		DeviceClass: DEVICE_CLASS_SHADE,
		UniqueId:    uniqueId(hubDevice.Id, CoverId(shade.UID)),
	}
}

func ShadeSensors(hubDevice Device, shade shadeauto.ShadeDescriptor) []GenericSensor {

	var sensors []GenericSensor
	name := shade.Name

	// Battery level
	sensors = append(sensors, GenericSensor{
		Device:            hubDevice,
		Id:                BatterySensorId(shade.UID),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              fmt.Sprintf("%s battery", name),
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_BATTERY,
		UnitOfMeasurement: "%",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:          uniqueId(hubDevice.Id, BatterySensorId(shade.UID)),
	})

	// Battery low
	sensors = append(sensors, GenericSensor{
		Device:         hubDevice,
		Id:             BatteryLowSensorId(shade.UID),
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           fmt.Sprintf("%s battery low", name),
		DeviceClass:    DEVICE_CLASS_BATTERY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(hubDevice.Id, BatteryLowSensorId(shade.UID)),
	})

	// Reachable
	sensors = append(sensors, GenericSensor{
		Device:         hubDevice,
		Id:             ReachableSensorId(shade.UID),
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           fmt.Sprintf("%s reachable", name),
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(hubDevice.Id, ReachableSensorId(shade.UID)),
	})

	return sensors
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Bridge connection state
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
