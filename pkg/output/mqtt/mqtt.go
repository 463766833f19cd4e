package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/ericogr/max31855-to-mqtt/pkg/config"
	"github.com/ericogr/max31855-to-mqtt/pkg/output"
	"github.com/ericogr/max31855-to-mqtt/pkg/sensor"
)

const (
	// defaults
	DefaultServer      = "tcp://localhost:1883"
	DefaultClientID    = "max31855-client"
	perChannelTopicFmt = "max31855/channel/%d"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	deviceClassTemperature = "temperature"
	stateClassMeasurement  = "measurement"
	valueTemplateTemp      = "{{ value_json.temperature }}"
)

// publisher is the part of mqtt.Client this output uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTOutput struct {
	client     publisher
	stateTopic string
}

// NewMQTT connects to the broker and, when a discovery topic is configured,
// announces one Home Assistant temperature sensor per channel.
func NewMQTT(cfg config.MQTTConfig, cs []int, unit sensor.Unit) (output.Output, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newMQTT(client, cfg, cs, unit), nil
}

func newMQTT(client publisher, cfg config.MQTTConfig, cs []int, unit sensor.Unit) *MQTTOutput {
	m := &MQTTOutput{client: client, stateTopic: cfg.StateTopic}
	if cfg.DiscoveryTopic == "" {
		return m
	}
	// per-channel discovery when discoveryTopic contains a formatter
	if strings.Contains(cfg.DiscoveryTopic, "%d") {
		for ch, pin := range cs {
			dTopic := fmt.Sprintf(cfg.DiscoveryTopic, ch)
			payload := baseDiscoveryPayload(discoveryName(cfg, ch, pin), formatStateTopic(cfg.StateTopic, ch), discoveryUniqueID(cfg, ch), unit)
			if err := publishJSON(client, dTopic, true, payload); err != nil {
				log.WithError(err).WithField("topic", dTopic).Error("mqtt discovery publish")
			}
		}
	} else {
		payload := baseDiscoveryPayload(discoveryName(cfg, -1, 0), formatStateTopic(cfg.StateTopic, 0), discoveryUniqueID(cfg, -1), unit)
		if err := publishJSON(client, cfg.DiscoveryTopic, true, payload); err != nil {
			log.WithError(err).WithField("topic", cfg.DiscoveryTopic).Error("mqtt discovery publish")
		}
	}
	return m
}

func (m *MQTTOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		topic := formatStateTopic(m.stateTopic, r.Channel)
		if err := publishJSON(m.client, topic, false, statePayload(r)); err != nil {
			return err
		}
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// statePayload is the JSON document published per reading. A faulted
// reading has no temperature key so Home Assistant shows it as unknown.
func statePayload(r sensor.Reading) map[string]interface{} {
	payload := map[string]interface{}{
		"tick":               r.Tick,
		"cs":                 r.CS,
		"unit":               r.Unit.String(),
		"reference_junction": r.RefJunction,
		"timestamp":          r.Timestamp,
	}
	if r.OK() {
		payload["temperature"] = r.Value
	} else {
		payload["fault"] = r.Fault.String()
		if r.Quarantined {
			payload["quarantined"] = true
		}
	}
	return payload
}

// helper: format a state topic for a channel using an optional formatter
func formatStateTopic(base string, ch int) string {
	if base != "" {
		if strings.Contains(base, "%d") {
			return fmt.Sprintf(base, ch)
		}
		return base
	}
	return fmt.Sprintf(perChannelTopicFmt, ch)
}

// helper: build a human-friendly discovery name; ch < 0 names the device
func discoveryName(cfg config.MQTTConfig, ch, cs int) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("MAX31855 %s", cfg.ClientID)
	}
	if ch >= 0 {
		name = fmt.Sprintf("%s ch%d (cs %d)", name, ch, cs)
	}
	return name
}

// helper: build a unique id for discovery; ch < 0 names the device
func discoveryUniqueID(cfg config.MQTTConfig, ch int) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid != "" && ch >= 0 {
		uid = fmt.Sprintf("%s_%d", uid, ch)
	}
	return uid
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(name, stateTopic, uniqueID string, unit sensor.Unit) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   unit.Symbol(),
		keyDeviceClass:         deviceClassTemperature,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplateTemp,
		keyJSONAttributesTopic: stateTopic,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client publisher, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
