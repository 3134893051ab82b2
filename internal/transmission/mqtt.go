package transmission

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jvanveen/groendus-hass/internal/mqtt"
	"github.com/jvanveen/groendus-hass/internal/sensors"
)

// MQTTTransmitter publishes charging snapshots to Home Assistant via MQTT
// discovery. Three entities hang off one device: the Energy Dashboard total,
// the last session energy and the last session cost.
type MQTTTransmitter struct {
	client           *mqtt.Client
	deviceID         string
	chargepointID    string
	discoveryPrefix  string
	version          string
	logger           *logrus.Logger
	publishedSensors map[string]bool // Tracks published discovery configs
}

// HADiscoveryConfig represents Home Assistant MQTT discovery configuration
type HADiscoveryConfig struct {
	Name                   string   `json:"name"`
	UniqueID               string   `json:"unique_id"`
	StateTopic             string   `json:"state_topic"`
	ValueTemplate          string   `json:"value_template,omitempty"`
	DeviceClass            string   `json:"device_class,omitempty"`
	UnitOfMeasurement      string   `json:"unit_of_measurement,omitempty"`
	StateClass             string   `json:"state_class,omitempty"`
	JSONAttributesTopic    string   `json:"json_attributes_topic,omitempty"`
	JSONAttributesTemplate string   `json:"json_attributes_template,omitempty"`
	Device                 HADevice `json:"device"`
	AvailabilityTopic      string   `json:"availability_topic"`
	Icon                   string   `json:"icon,omitempty"`
}

// HADevice represents the device information for Home Assistant
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// SensorConfig defines the discovery configuration for one sensor entity
type SensorConfig struct {
	Name               string
	EntityID           string
	DeviceClass        string
	Unit               string
	StateClass         string
	Icon               string
	ValueTemplate      string
	AttributesTemplate string
}

// NewMQTTTransmitter creates a new MQTT transmitter
func NewMQTTTransmitter(client *mqtt.Client, deviceID, chargepointID, discoveryPrefix, version string, logger *logrus.Logger) *MQTTTransmitter {
	return &MQTTTransmitter{
		client:           client,
		deviceID:         deviceID,
		chargepointID:    chargepointID,
		discoveryPrefix:  discoveryPrefix,
		version:          version,
		logger:           logger,
		publishedSensors: make(map[string]bool),
	}
}

// SensorConfigs returns the three entities this device exposes. The value
// and attribute templates render against the JSON snapshot on the state
// topic.
func SensorConfigs() []SensorConfig {
	return []SensorConfig{
		{
			Name:          "Charging energy total",
			EntityID:      "total_energy",
			DeviceClass:   "energy",
			Unit:          "kWh",
			StateClass:    "total_increasing",
			ValueTemplate: "{{ value_json.total_energy_kwh | default(0) }}",
			AttributesTemplate: "{{ {'chargepoint_id': value_json.chargepoint_id," +
				" 'seen_transactions': value_json.seen_transactions," +
				" 'total_regression': value_json.total_regression | default(false)} | tojson }}",
		},
		{
			Name:          "Last session energy",
			EntityID:      "last_session_energy",
			DeviceClass:   "energy",
			Unit:          "kWh",
			ValueTemplate: "{{ value_json.last_session_energy_kwh | default('unknown') }}",
			AttributesTemplate: "{{ {'start': value_json.last_session_start," +
				" 'end': value_json.last_session_end," +
				" 'transaction_id': value_json.last_session_id," +
				" 'charge_card_id': value_json.charge_card_id," +
				" 'status': value_json.last_session_state} | tojson }}",
		},
		{
			Name:          "Last session cost",
			EntityID:      "last_session_cost",
			DeviceClass:   "monetary",
			Unit:          "€",
			ValueTemplate: "{{ value_json.last_session_cost | default('unknown') }}",
			AttributesTemplate: "{{ {'start': value_json.last_session_start," +
				" 'end': value_json.last_session_end," +
				" 'transaction_id': value_json.last_session_id} | tojson }}",
		},
	}
}

// BuildDiscoveryConfig assembles the retained discovery payload for one
// sensor of one device.
func BuildDiscoveryConfig(sensor SensorConfig, device HADevice, deviceID, baseTopic string) HADiscoveryConfig {
	config := HADiscoveryConfig{
		Name:              sensor.Name,
		UniqueID:          fmt.Sprintf("%s_%s", deviceID, sensor.EntityID),
		StateTopic:        fmt.Sprintf("%s/state", baseTopic),
		ValueTemplate:     sensor.ValueTemplate,
		AvailabilityTopic: fmt.Sprintf("%s/availability", baseTopic),
		Device:            device,
	}

	if sensor.DeviceClass != "" {
		config.DeviceClass = sensor.DeviceClass
	}
	if sensor.Unit != "" {
		config.UnitOfMeasurement = sensor.Unit
	}
	if sensor.StateClass != "" {
		config.StateClass = sensor.StateClass
	}
	if sensor.Icon != "" {
		config.Icon = sensor.Icon
	}
	if sensor.AttributesTemplate != "" {
		config.JSONAttributesTopic = config.StateTopic
		config.JSONAttributesTemplate = sensor.AttributesTemplate
	}

	return config
}

// deviceInfo describes the chargepoint as one Home Assistant device.
func (t *MQTTTransmitter) deviceInfo() HADevice {
	return HADevice{
		Identifiers:  []string{fmt.Sprintf("groendus_%s", t.deviceID)},
		Name:         fmt.Sprintf("Groendus (%s)", t.chargepointID),
		Model:        "Chargepoint",
		Manufacturer: "Athlon / Groendus",
		SWVersion:    t.version,
	}
}

// publishDiscoveryForSensor publishes the discovery config for a single sensor.
func (t *MQTTTransmitter) publishDiscoveryForSensor(sensor SensorConfig, device HADevice, baseTopic string) error {
	uniqueID := fmt.Sprintf("%s_%s", t.deviceID, sensor.EntityID)

	// Skip if already published
	if t.publishedSensors[uniqueID] {
		return nil
	}

	config := BuildDiscoveryConfig(sensor, device, t.deviceID, baseTopic)

	topic := fmt.Sprintf("%s/sensor/groendus_%s/%s/config",
		t.discoveryPrefix, t.deviceID, sensor.EntityID)

	payload, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal discovery config: %w", err)
	}
	if err := t.client.Publish(topic, payload, true); err != nil {
		return fmt.Errorf("failed to publish %s discovery config: %w", sensor.Name, err)
	}

	t.logger.WithFields(logrus.Fields{
		"sensor_name": sensor.Name,
		"entity_id":   sensor.EntityID,
		"topic":       topic,
	}).Info("Published sensor discovery config")

	t.publishedSensors[uniqueID] = true
	return nil
}

// publishDiscoveryConfigs ensures all sensors have their discovery configs published.
func (t *MQTTTransmitter) publishDiscoveryConfigs() error {
	device := t.deviceInfo()
	baseTopic := t.client.GetBaseTopic()

	for _, sensor := range SensorConfigs() {
		if err := t.publishDiscoveryForSensor(sensor, device, baseTopic); err != nil {
			t.logger.WithError(err).WithField("sensor", sensor.Name).Error("Failed to publish discovery config")
			// Continue to the next sensor
		}
	}
	return nil
}

// Transmit sends a charging snapshot to MQTT
func (t *MQTTTransmitter) Transmit(snap *sensors.Snapshot) error {
	if !t.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	// Publish discovery configs if it hasn't been done
	if err := t.publishDiscoveryConfigs(); err != nil {
		// Log error but don't block transmission
		t.logger.WithError(err).Error("Failed to publish Home Assistant discovery configs")
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to build state payload: %w", err)
	}

	if err := t.client.Publish(t.client.GetStateTopic(), payload, true); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	if err := t.PublishAvailability(true); err != nil {
		return fmt.Errorf("failed to publish availability: %w", err)
	}

	t.logger.WithFields(logrus.Fields{
		"topic":            t.client.GetStateTopic(),
		"total_energy_kwh": snap.TotalEnergyKWh,
	}).Debug("Snapshot transmitted")

	return nil
}

// PublishAvailability publishes the availability status. The poll loop marks
// the device offline after a failed cycle so the entities go unavailable
// instead of going stale.
func (t *MQTTTransmitter) PublishAvailability(online bool) error {
	payload := "online"
	if !online {
		payload = "offline"
	}

	if err := t.client.Publish(t.client.GetAvailabilityTopic(), []byte(payload), true); err != nil {
		return fmt.Errorf("failed to publish availability: %w", err)
	}
	return nil
}

// IsConnected checks if the MQTT client is connected
func (t *MQTTTransmitter) IsConnected() bool {
	return t.client.IsConnected()
}
