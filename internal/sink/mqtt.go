/*
battery-tester - Discharge tests batteries and reports their capacity
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package sink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/battery-tester/internal/discharge"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type MQTTOptions struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	Timeout  time.Duration
	Log      logrus.FieldLogger
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes events as JSON to <topic>/<slot>/<event type>.
type MQTT struct {
	client  publisher
	close   func()
	topic   string
	runID   string
	timeout time.Duration
}

type mqttMessage struct {
	Type    string                 `json:"type"`
	Time    time.Time              `json:"time"`
	RunID   string                 `json:"runId"`
	Details map[string]interface{} `json:"details"`
}

// NewMQTT connects to the broker. The client reconnects by itself if the
// connection is lost later on.
func NewMQTT(opts MQTTOptions, runID string) (*MQTT, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	o.SetUsername(opts.Username)
	o.SetPassword(opts.Password)
	o.SetAutoReconnect(true)
	o.SetConnectRetryInterval(5 * time.Second)
	o.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	})
	o.SetOnConnectHandler(func(client mqtt.Client) {
		log.Infof("Connected to MQTT broker at %s", opts.Broker)
	})

	client := mqtt.NewClient(o)
	token := client.Connect()
	if !token.WaitTimeout(opts.Timeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connecting to MQTT broker %s", opts.Broker)
	}
	return &MQTT{
		client:  client,
		close:   func() { client.Disconnect(250) },
		topic:   opts.Topic,
		runID:   runID,
		timeout: opts.Timeout,
	}, nil
}

func (m *MQTT) Publish(e discharge.Event) error {
	eventType, details, err := describe(e)
	if err != nil {
		return err
	}
	body, err := json.Marshal(mqttMessage{
		Type:    eventType,
		Time:    e.EventTime(),
		RunID:   m.runID,
		Details: details,
	})
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%d/%s", m.topic, int(e.EventSlot()), eventType)
	token := m.client.Publish(topic, 1, false, body)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	return errors.Wrapf(token.Error(), "publishing to %s", topic)
}

func (m *MQTT) Close() {
	if m.close != nil {
		m.close()
	}
}
