package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all configuration options for the groendus-hass agent
type Config struct {
	// Groendus account
	Email    string `json:"email"`    // Portal login email
	Password string `json:"password"` // Portal login password

	// Chargepoint selection
	ChargepointID string `json:"chargepoint_id"` // Chargepoint to track (auto-selected when the account has exactly one)

	// MQTT Configuration
	MQTTUrl         string `json:"mqtt_url"`         // MQTT URL (supports both WebSocket and standard MQTT)
	DiscoveryPrefix string `json:"discovery_prefix"` // Home Assistant discovery prefix

	// Device Configuration
	DeviceID string `json:"device_id"` // Unique device identifier

	// Polling
	PollInterval        time.Duration `json:"poll_interval"`         // Interval between transaction polls
	MQTTInterval        time.Duration `json:"mqtt_interval"`         // Minimum interval between MQTT publishes
	ForceUpdateInterval time.Duration `json:"force_update_interval"` // Republish even unchanged data at this interval (0 = disabled)
	MaxPages            int           `json:"max_pages"`             // Transaction pages fetched per poll at most

	// State persistence
	StatePath string `json:"state_path"` // JSON state file for the energy accumulator and tokens

	// Application Configuration
	Verbose bool `json:"verbose"` // Enable verbose logging
}

// GetDefaultConfig returns a configuration with sensible defaults
func GetDefaultConfig() *Config {
	return &Config{
		DiscoveryPrefix: "homeassistant",
		DeviceID:        "", // Will be auto-generated
		Verbose:         false,
		PollInterval:    DefaultPollInterval,
		MQTTInterval:    MQTTTransmitInterval,
		MaxPages:        DefaultMaxPages,
		StatePath:       "groendus-hass-state.json",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Email == "" {
		return fmt.Errorf("email is required")
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	if c.DeviceID == "" {
		return fmt.Errorf("device ID is required")
	}

	// MQTT validation - support both WebSocket and standard MQTT protocols
	if c.MQTTUrl != "" {
		if !strings.HasPrefix(c.MQTTUrl, "ws://") &&
			!strings.HasPrefix(c.MQTTUrl, "wss://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtt://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtts://") {
			return fmt.Errorf("MQTT URL must use supported protocol (ws://, wss://, mqtt://, or mqtts://)")
		}
	}

	// Clamp nonsense values back to defaults
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MQTTInterval <= 0 {
		c.MQTTInterval = MQTTTransmitInterval
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}

	return nil
}

// HasMQTT returns true if MQTT is configured
func (c *Config) HasMQTT() bool {
	return c.MQTTUrl != ""
}
