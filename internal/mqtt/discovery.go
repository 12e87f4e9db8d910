//go:build !no_mqtt

package mqtt

import (
	"fmt"

	"occupancy-node/internal/identity"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/binary_sensor/occupancy_a1b2c3d4e5f6/occupancy/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// haDiscovery is a binary_sensor discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Device            haDevice `json:"device"`
}

// deviceIdentifier returns the unique identifier for HA device registry.
func deviceIdentifier(id identity.Identity) string {
	return "occupancy_" + id.SensorID
}

// buildDiscovery generates the occupancy binary_sensor announcement.
func buildDiscovery(id identity.Identity, prefix string) discoveryMsg {
	nodeID := deviceIdentifier(id)
	stateTopic := prefix + "/" + id.SensorID

	payload := haDiscovery{
		Name:              "Occupancy " + id.SensorID,
		UniqueID:          nodeID + "_occupancy",
		StateTopic:        stateTopic,
		AvailabilityTopic: stateTopic + "/availability",
		ValueTemplate:     "{{ 'ON' if value_json.occupancy else 'OFF' }}",
		DeviceClass:       "occupancy",
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device: haDevice{
			Identifiers:  []string{nodeID},
			Manufacturer: "occupancy-node",
			Model:        "PIR occupancy sensor",
			Name:         "Occupancy sensor " + id.SensorID,
			SWVersion:    id.FirmwareVersion,
		},
	}
	topic := fmt.Sprintf("homeassistant/binary_sensor/%s/occupancy/config", nodeID)
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}
