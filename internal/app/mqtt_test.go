// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/posture_monitor/internal/posture"
)

type fakeToken struct {
	mqtt.Token
	err error
}

func (f *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (f *fakeToken) Error() error                   { return f.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeBroker struct {
	msgs []published
	err  error
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b.msgs = append(b.msgs, published{topic, qos, retained, payload.([]byte)})
	return &fakeToken{err: b.err}
}

func TestMQTTPublisher(t *testing.T) {
	broker := &fakeBroker{}
	pub := NewMQTTPublisher(broker, "posture/reading", "posture/status")
	pub.now = func() time.Time { return time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC) }

	r := validReading(time.Date(2026, 5, 10, 8, 59, 59, 0, time.UTC), 1)
	pub.PublishReading(r, posture.Assess(r))
	pub.PublishStatus(false)

	require.Len(t, broker.msgs, 2)

	reading := broker.msgs[0]
	assert.Equal(t, "posture/reading", reading.topic)
	assert.False(t, reading.retained)
	var rm map[string]any
	require.NoError(t, json.Unmarshal(reading.payload, &rm))
	assert.Equal(t, 10.0, rm["pitch"])
	assert.Equal(t, false, rm["posturaCorrecta"])
	assert.Equal(t, 11.0, rm["desviacion"])
	assert.Equal(t, "2026-05-10T08:59:59.000Z", rm["timestamp"])

	status := broker.msgs[1]
	assert.Equal(t, "posture/status", status.topic)
	assert.True(t, status.retained)
	assert.JSONEq(t, `{"connected":false,"at":"2026-05-10T09:00:00.000Z"}`, string(status.payload))

	// broker errors are logged, never returned
	broker.err = errors.New("not connected")
	pub.PublishStatus(true)
	assert.Len(t, broker.msgs, 3)
}

func TestConsoleFormatting(t *testing.T) {
	r := validReading(time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC), 1)
	payload, err := json.Marshal(ReadingMessage{Reading: r, Assessment: posture.Assess(r)})
	require.NoError(t, err)

	line, err := formatReading(payload)
	require.NoError(t, err)
	assert.Contains(t, line, "BAD")
	assert.Contains(t, line, "PITCH= 10.00")
	assert.Contains(t, line, "DEV=11.00")

	line, err = formatStatus([]byte(`{"connected":true,"at":"2026-05-10T09:00:00.000Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "[LINK]  sensor connected at 2026-05-10T09:00:00.000Z", line)

	line, err = formatAlert([]byte(`{"id":"x","start":"2026-05-10T09:00:00Z","durationSeconds":9,"message":"sit up"}`))
	require.NoError(t, err)
	assert.Equal(t, "[ALRT]  bad posture for 9s since 2026-05-10T09:00:00Z: sit up", line)

	_, err = formatReading([]byte("{"))
	assert.Error(t, err)
}
