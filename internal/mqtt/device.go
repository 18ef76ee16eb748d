package mqtt

import "github.com/brainrot/tg-llm-rewrite/internal/buildinfo"

// DeviceInfo holds the Home Assistant device registry fields shared
// across all discovery payloads, so HA groups every entity under one
// device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// EntityConfig is the JSON payload for an HA MQTT discovery message.
// Sensors set StateTopic; buttons set CommandTopic.
type EntityConfig struct {
	Name              string     `json:"name"`
	HasEntityName     bool       `json:"has_entity_name"`
	ObjectID          string     `json:"object_id"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic,omitempty"`
	CommandTopic      string     `json:"command_topic,omitempty"`
	PayloadPress      string     `json:"payload_press,omitempty"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
}

// NewDeviceInfo builds the device block. The instance ID is the stable
// identifier; the device name is what HA shows.
func NewDeviceInfo(instanceID, deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "brainrot",
		Model:        "Telegram rewrite userbot",
		SWVersion:    buildinfo.Version,
	}
}
