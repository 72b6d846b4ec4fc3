package mqtt

import (
	"testing"

	"github.com/berfenger/shadeauto2mqtt/internal/config"
	"github.com/berfenger/shadeauto2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestCoverCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/cover/my_shade/set"
	r := coverCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "my_shade", "shade extract")
}

func TestCoverCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/cover/my_shade/state"
	r := coverCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestCoverPositionCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/cover/my_shade/position/set"
	r := coverPositionCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "my_shade", "shade extract")
}

func TestCoverPositionCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/cover/my_shade/position"
	r := coverPositionCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestHADiscoveryTopics(t *testing.T) {

	assert := assert.New(t)

	cover := domain.GenericCover{Device: domain.Device{Id: "hub_1"}, Id: "shade_1"}
	sensor := domain.GenericSensor{Device: domain.Device{Id: "hub_1"}, Id: "battery_shade_1", SensorType: "sensor"}

	c := &MQTTClient{cfg: config.MQTTConfig{HADiscoveryTopic: "hass"}}
	assert.Equal("hass/cover/hub_1/shade_1/config", c.HADiscoveryCoverTopic(cover), "configured topic")
	assert.Equal("hass/sensor/hub_1/battery_shade_1/config", c.HADiscoverySensorTopic(sensor), "configured topic")

	noTopic := &MQTTClient{cfg: config.MQTTConfig{}}
	assert.Equal("homeassistant/cover/hub_1/shade_1/config", noTopic.HADiscoveryCoverTopic(cover), "default topic")
	assert.Equal("homeassistant/sensor/hub_1/battery_shade_1/config", noTopic.HADiscoverySensorTopic(sensor), "default topic")
}

func TestCoverCommandDoesNotMatchPositionSet(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/cover/my_shade/position/set"
	r := coverCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}
