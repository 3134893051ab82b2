package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.Email = "jan@example.nl"
	cfg.Password = "secret"
	cfg.DeviceID = "nl_gnd_001"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("defaults plus credentials pass", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("missing credentials fail", func(t *testing.T) {
		cfg := validConfig()
		cfg.Email = ""
		assert.Error(t, cfg.Validate())

		cfg = validConfig()
		cfg.Password = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing device id fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.DeviceID = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("mqtt url schemes", func(t *testing.T) {
		for _, url := range []string{"ws://host:9001", "wss://host/mqtt", "mqtt://host:1883", "mqtts://host:8883"} {
			cfg := validConfig()
			cfg.MQTTUrl = url
			assert.NoError(t, cfg.Validate(), url)
		}

		cfg := validConfig()
		cfg.MQTTUrl = "http://host:1883"
		assert.Error(t, cfg.Validate())
	})

	t.Run("mqtt url is optional", func(t *testing.T) {
		cfg := validConfig()
		cfg.MQTTUrl = ""
		assert.NoError(t, cfg.Validate())
		assert.False(t, cfg.HasMQTT())
	})

	t.Run("nonsense intervals clamp back to defaults", func(t *testing.T) {
		cfg := validConfig()
		cfg.PollInterval = -time.Minute
		cfg.MQTTInterval = 0
		cfg.MaxPages = -1

		require.NoError(t, cfg.Validate())
		assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
		assert.Equal(t, MQTTTransmitInterval, cfg.MQTTInterval)
		assert.Equal(t, DefaultMaxPages, cfg.MaxPages)
	})
}
