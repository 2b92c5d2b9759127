// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posture_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsApply(t *testing.T) {
	path := writeConfig(t, `
# minimal
DB_PATH=/tmp/posture.db
MQTT_BROKER=tcp://localhost:1883
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/posture.db", cfg.DBPath)
	assert.Equal(t, 1500*time.Millisecond, cfg.PollIntervalDuration())
	assert.Equal(t, 3*time.Second, cfg.PollTimeoutDuration())
	assert.Equal(t, 5*time.Second, cfg.ConfigRefreshDuration())
	assert.Equal(t, 20, cfg.BatchThreshold)
	assert.Equal(t, 8*time.Second, cfg.AlertBadDuration())
	assert.Equal(t, time.Minute, cfg.AlertCooldown())
	assert.Equal(t, 8080, cfg.WebServerPort)
	assert.Equal(t, time.Local, cfg.StatsLocation())
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
DB_PATH=posture.db
MQTT_BROKER=tcp://broker:1883
SENSOR_IP=192.168.4.1
POLL_INTERVAL_MS=1000
BATCH_THRESHOLD=50
TOPIC_ALERT=desk/alert
ALERT_COOLDOWN_SECONDS=0
VIBRATION_GPIO_PIN=GPIO17
STATS_TIMEZONE=America/Santiago
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.4.1", cfg.SensorIP)
	assert.Equal(t, time.Second, cfg.PollIntervalDuration())
	assert.Equal(t, 50, cfg.BatchThreshold)
	assert.Equal(t, "desk/alert", cfg.TopicAlert)
	assert.Zero(t, cfg.AlertCooldown())
	assert.Equal(t, "GPIO17", cfg.VibrationGPIOPin)
	assert.Equal(t, "America/Santiago", cfg.StatsLocation().String())
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"missing db":     "MQTT_BROKER=tcp://x:1883\n",
		"missing broker": "DB_PATH=a.db\n",
		"unknown key":    "DB_PATH=a.db\nMQTT_BROKER=tcp://x:1883\nIMU_LEFT_SPI_DEVICE=/dev/spidev0.0\n",
		"bad number":     "DB_PATH=a.db\nMQTT_BROKER=tcp://x:1883\nBATCH_THRESHOLD=many\n",
		"zero interval":  "DB_PATH=a.db\nMQTT_BROKER=tcp://x:1883\nPOLL_INTERVAL_MS=0\n",
		"bad port":       "DB_PATH=a.db\nMQTT_BROKER=tcp://x:1883\nWEB_SERVER_PORT=70000\n",
		"bad zone":       "DB_PATH=a.db\nMQTT_BROKER=tcp://x:1883\nSTATS_TIMEZONE=Mars/Olympus\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
