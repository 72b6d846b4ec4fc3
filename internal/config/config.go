package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Hubs     string     `mapstructure:"hubs"`
	MQTT     MQTTConfig `mapstructure:"mqtt"`

	PollConfig    PollConfig    `mapstructure:"poll"`
	BatteryConfig BatteryConfig `mapstructure:"battery"`
	CommandConfig CommandConfig `mapstructure:"command"`
	Port          uint          `mapstructure:"port"`
	HttpLog       bool          `mapstructure:"http_log"`
}

// HubConfig identifies one shade hub on the local network.
type HubConfig struct {
	Host string
	Port uint
}

type PollConfig struct {
	IdleIntervalSeconds      uint32 `mapstructure:"idle_interval_seconds"`
	BurstIntervalSeconds     uint32 `mapstructure:"burst_interval_seconds"`
	BurstCycles              uint32 `mapstructure:"burst_cycles"`
	DiscoveryIntervalSeconds uint32 `mapstructure:"discovery_interval_seconds"`
}

type BatteryConfig struct {
	LowThreshold int `mapstructure:"low_threshold"`
}

type CommandConfig struct {
	VerifyEnabled      bool   `mapstructure:"verify_enabled"`
	VerifyDelaySeconds uint32 `mapstructure:"verify_delay_seconds"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

// HubList parses the hubs config value, a comma separated list of
// host[:port] entries. The default hub port is used when omitted.
func (c Config) HubList(defaultPort uint) ([]HubConfig, error) {
	return ParseHubs(c.Hubs, defaultPort)
}

func ParseHubs(value string, defaultPort uint) ([]HubConfig, error) {
	var hubs []HubConfig
	seen := map[string]bool{}
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		host, port := entry, defaultPort
		if i := strings.LastIndex(entry, ":"); i >= 0 {
			host = entry[:i]
			p, err := strconv.ParseUint(entry[i+1:], 10, 16)
			if err != nil || p == 0 {
				return nil, fmt.Errorf("invalid hub entry %q", entry)
			}
			port = uint(p)
		}
		if host == "" {
			return nil, fmt.Errorf("invalid hub entry %q", entry)
		}
		if seen[host] {
			return nil, fmt.Errorf("duplicate hub host %q", host)
		}
		seen[host] = true
		hubs = append(hubs, HubConfig{Host: host, Port: port})
	}
	return hubs, nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
