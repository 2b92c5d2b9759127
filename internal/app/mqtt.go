// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/posture_monitor/internal/alert"
	"github.com/relabs-tech/posture_monitor/internal/config"
	"github.com/relabs-tech/posture_monitor/internal/posture"
	"github.com/relabs-tech/posture_monitor/internal/sensor"
)

const publishTimeout = 2 * time.Second

// ReadingMessage is the payload on the reading topic.
type ReadingMessage struct {
	sensor.Reading
	posture.Assessment
}

// StatusMessage is the retained payload on the status topic.
type StatusMessage struct {
	Connected bool   `json:"connected"`
	At        string `json:"at"`
}

// MQTTPublisher mirrors readings and link status to the broker.
type MQTTPublisher struct {
	client       alert.Publisher
	topicReading string
	topicStatus  string
	now          func() time.Time
}

func NewMQTTPublisher(client alert.Publisher, topicReading, topicStatus string) *MQTTPublisher {
	return &MQTTPublisher{
		client:       client,
		topicReading: topicReading,
		topicStatus:  topicStatus,
		now:          time.Now,
	}
}

func (m *MQTTPublisher) PublishReading(r sensor.Reading, a posture.Assessment) {
	m.publish(m.topicReading, 0, false, ReadingMessage{Reading: r, Assessment: a})
}

func (m *MQTTPublisher) PublishStatus(connected bool) {
	m.publish(m.topicStatus, 1, true, StatusMessage{
		Connected: connected,
		At:        sensor.FormatTimestamp(m.now()),
	})
}

func (m *MQTTPublisher) publish(topic string, qos byte, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("mqtt: marshal for %s: %v", topic, err)
		return
	}
	token := m.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		log.Printf("mqtt: publish to %s timed out", topic)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("mqtt: publish to %s: %v", topic, err)
	}
}

// connectMQTT dials the configured broker. The client id gets a random
// suffix so several instances can share a broker.
func connectMQTT(cfg *config.Config, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID + "-" + uuid.NewString()[:8]).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to MQTT broker %s: timed out", cfg.MQTTBroker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.MQTTBroker, err)
	}
	log.Printf("connected to MQTT broker at %s", cfg.MQTTBroker)
	return client, nil
}
