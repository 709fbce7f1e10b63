// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ConnectMQTT dials broker and blocks until the client is connected.
func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return client, nil
}

// MQTTSink mirrors frames to a topic so the console and display tools can follow a session.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

func NewMQTTSink(client mqtt.Client, topic string) *MQTTSink {
	return &MQTTSink{client: client, topic: topic}
}

// Send publishes f as JSON with QoS 0, not retained.
func (s *MQTTSink) Send(_ context.Context, f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("frame marshal: %w", err)
	}
	if token := s.client.Publish(s.topic, 0, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt publish %s: %w", s.topic, token.Error())
	}
	return nil
}

// SubscribeFrames decodes every frame published on topic and hands it to fn.
// Undecodable payloads are passed to onErr.
func SubscribeFrames(client mqtt.Client, topic string, fn func(Frame), onErr func(error)) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var f Frame
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("frame unmarshal: %w", err))
			}
			return
		}
		fn(f)
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, token.Error())
	}
	return nil
}
