package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/gwillem/stompy/pkg/gait"
	"github.com/gwillem/stompy/pkg/robot"
)

// DefaultTopic prefixes the MQTT topics when none is configured.
const DefaultTopic = "stompy"

const publishTimeout = time.Second

// publisher is the part of mqtt.Client used here.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes the state to "<topic>/state" and foot changes, retained, to
// "<topic>/legs/<name>/foot".
type MQTT struct {
	client publisher
	topic  string
}

var connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
	log.Info("connected to MQTT broker")
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	log.WithError(err).Warn("MQTT connection lost")
}

// DialMQTT connects to broker. The client reconnects on its own afterwards.
func DialMQTT(broker, topic string) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("stompy-" + uuid.NewString()[:8])
	opts.OnConnect = connectHandler
	opts.OnConnectionLost = connectLostHandler
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, token.Error())
	}
	return NewMQTT(client, topic), nil
}

// NewMQTT publishes through an already connected client.
func NewMQTT(client publisher, topic string) *MQTT {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTT{client: client, topic: topic}
}

func (m *MQTT) publish(topic string, retained bool, v any) (mqtt.Token, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return m.client.Publish(m.topic+"/"+topic, 0, retained, data), nil
}

// Send publishes the state and waits for the client to accept it.
func (m *MQTT) Send(msg Message) error {
	token, err := m.publish("state", false, msg)
	if err != nil {
		return err
	}
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish state: timed out")
	}
	return token.Error()
}

// Foot publishes a foot state change without waiting, so it is safe to call
// from a leg update loop.
func (m *MQTT) Foot(e gait.FootEvent) {
	token, err := m.publish("legs/"+robot.LegName(e.Leg)+"/foot", true, FromFootEvent(e))
	if err != nil {
		log.WithError(err).Warn("publish foot")
		return
	}
	go func() {
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			log.WithError(token.Error()).WithField("leg", e.Leg).Warn("publish foot")
		}
	}()
}

// Attach publishes every foot state change of body until the returned
// function is called.
func (m *MQTT) Attach(body *gait.Body) func() {
	var cancels []func()
	for _, f := range body.Feet() {
		cancels = append(cancels, f.Subscribe(func(e gait.FootEvent) {
			if e.Kind == gait.FootState {
				m.Foot(e)
			}
		}))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
