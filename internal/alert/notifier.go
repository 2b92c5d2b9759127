// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the subset of mqtt.Client used for sending.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTNotifier publishes alerts as JSON on a topic.
type MQTTNotifier struct {
	client Publisher
	topic  string
}

func NewMQTTNotifier(client Publisher, topic string) *MQTTNotifier {
	return &MQTTNotifier{client: client, topic: topic}
}

type alertMessage struct {
	ID              string `json:"id"`
	Start           string `json:"start"`
	At              string `json:"at"`
	DurationSeconds int64  `json:"durationSeconds"`
	Title           string `json:"title"`
	Message         string `json:"message"`
}

func (n *MQTTNotifier) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(alertMessage{
		ID:              a.ID,
		Start:           a.Start.UTC().Format(time.RFC3339),
		At:              a.At.UTC().Format(time.RFC3339),
		DurationSeconds: int64(a.Duration.Round(time.Second) / time.Second),
		Title:           "Bad posture",
		Message:         "Keep your head and neck in a neutral position.",
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	token := n.client.Publish(n.topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish alert %s: %w", a.ID, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish alert %s: %w", a.ID, err)
	}
	return nil
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a Alert) error

func (f NotifierFunc) Notify(ctx context.Context, a Alert) error { return f(ctx, a) }
