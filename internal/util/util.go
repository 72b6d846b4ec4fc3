package util

import (
	"github.com/berfenger/shadeauto2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Hubs:     "-.-.-.-",
		MQTT: config.MQTTConfig{
			Host: "localhost",
			Port: 1883,
		},
		PollConfig: config.PollConfig{
			IdleIntervalSeconds:      30,
			BurstIntervalSeconds:     2,
			BurstCycles:              5,
			DiscoveryIntervalSeconds: 300,
		},
		BatteryConfig: config.BatteryConfig{
			LowThreshold: 20,
		},
		CommandConfig: config.CommandConfig{
			VerifyEnabled:      true,
			VerifyDelaySeconds: 20,
		},
		Port: 8080,
	}
}
