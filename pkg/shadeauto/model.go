package shadeauto

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ShadeDescriptor is a shade as enumerated by GetAllPeripheral.
type ShadeDescriptor struct {
	UID          string
	Name         string
	RoomID       int64
	ModuleType   int64
	ModuleDetail string
}

// ShadeStatus is one shade's entry from the bulk status response.
// Position and RawBattery are nil when the hub omitted the field.
type ShadeStatus struct {
	UID        string
	Name       string
	Position   *int
	RawBattery *float64
}

// registrationResponse is the subset of the registration/handshake reply
// the bridge cares about. Field case varies between firmwares.
type registrationResponse struct {
	ThingName      string `json:"ThingName"`
	ThingNameLower string `json:"thingName"`
}

func (r registrationResponse) thingName() string {
	if r.ThingName != "" {
		return r.ThingName
	}
	return r.ThingNameLower
}

// collectPeripherals walks arbitrarily nested JSON and collects every object
// carrying a PeripheralUID key. The hub firmware nests shade entries at
// varying depths depending on version, so the envelope is treated as opaque.
func collectPeripherals(node any) []map[string]any {
	var out []map[string]any
	switch v := node.(type) {
	case map[string]any:
		if _, ok := v["PeripheralUID"]; ok {
			out = append(out, v)
		}
		for _, child := range v {
			out = append(out, collectPeripherals(child)...)
		}
	case []any:
		for _, child := range v {
			out = append(out, collectPeripherals(child)...)
		}
	}
	return out
}

func peripheralToDescriptor(p map[string]any) ShadeDescriptor {
	desc := ShadeDescriptor{
		UID:          jsonString(p["PeripheralUID"]),
		RoomID:       jsonInt(p["RoomID"]),
		ModuleType:   jsonInt(p["ModuleType"]),
		ModuleDetail: jsonString(p["ModuleDetail"]),
	}
	desc.Name = jsonString(p["Name"])
	if desc.Name == "" {
		desc.Name = jsonString(p["DisplayName"])
	}
	if desc.Name == "" {
		desc.Name = fmt.Sprintf("Shade %s", desc.UID)
	}
	return desc
}

func peripheralToStatus(p map[string]any) ShadeStatus {
	status := ShadeStatus{
		UID:  jsonString(p["PeripheralUID"]),
		Name: jsonString(p["Name"]),
	}
	if pos, ok := jsonIntValue(p["BottomRailPosition"]); ok {
		status.Position = &pos
	}
	if raw, ok := jsonFloatValue(p["BatteryVoltage"]); ok {
		status.RawBattery = &raw
	}
	return status
}

// jsonString renders a UID-ish value as a string. The hub sends numeric UIDs
// but older firmwares have been seen sending them quoted.
func jsonString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatInt(int64(t), 10)
	default:
		return ""
	}
}

func jsonInt(v any) int64 {
	i, _ := jsonIntValue(v)
	return int64(i)
}

func jsonIntValue(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func jsonFloatValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
