// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all process configuration values.
type Config struct {
	// Storage
	DBPath string

	// Sensor
	SensorIP       string // initial address; the stored sensor_ip wins once set
	PollInterval   int    // milliseconds
	PollTimeout    int    // milliseconds
	ConfigRefresh  int    // milliseconds
	BatchThreshold int
	StatsTimezone  string
	statsLocation  *time.Location

	// MQTT
	MQTTBroker          string
	MQTTClientIDMonitor string
	MQTTClientIDConsole string

	// Topics
	TopicReading string
	TopicStatus  string
	TopicAlert   string

	// Web Server
	WebServerPort int

	// Alerts
	AlertBadSeconds      int
	AlertCooldownSeconds int
	VibrationGPIOPin     string // empty disables the motor
	VibrationPulseMs     int

	// Simulator
	SimPort int
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns a Config with every optional value filled in.
func Defaults() *Config {
	return &Config{
		PollInterval:         1500,
		PollTimeout:          3000,
		ConfigRefresh:        5000,
		BatchThreshold:       20,
		MQTTClientIDMonitor:  "posture-monitor",
		MQTTClientIDConsole:  "posture-console",
		TopicReading:         "posture/reading",
		TopicStatus:          "posture/status",
		TopicAlert:           "posture/alert",
		WebServerPort:        8080,
		AlertBadSeconds:      8,
		AlertCooldownSeconds: 60,
		VibrationPulseMs:     400,
		SimPort:              8090,
		statsLocation:        time.Local,
	}
}

// Load reads a KEY=VALUE configuration file on top of Defaults.
func Load(configPath string) (*Config, error) {
	values, err := godotenv.Read(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Defaults()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := cfg.setValue(key, values[key]); err != nil {
			return nil, fmt.Errorf("config %s: %w", configPath, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) setValue(key, value string) error {
	switch key {
	case "DB_PATH":
		c.DBPath = value

	// Sensor
	case "SENSOR_IP":
		c.SensorIP = value
	case "POLL_INTERVAL_MS":
		return setPositive(&c.PollInterval, key, value)
	case "POLL_TIMEOUT_MS":
		return setPositive(&c.PollTimeout, key, value)
	case "CONFIG_REFRESH_MS":
		return setPositive(&c.ConfigRefresh, key, value)
	case "BATCH_THRESHOLD":
		return setPositive(&c.BatchThreshold, key, value)
	case "STATS_TIMEZONE":
		loc, err := time.LoadLocation(value)
		if err != nil {
			return fmt.Errorf("invalid STATS_TIMEZONE %q: %w", value, err)
		}
		c.StatsTimezone = value
		c.statsLocation = loc

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_MONITOR":
		c.MQTTClientIDMonitor = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_READING":
		c.TopicReading = value
	case "TOPIC_STATUS":
		c.TopicStatus = value
	case "TOPIC_ALERT":
		c.TopicAlert = value

	// Web Server
	case "WEB_SERVER_PORT":
		return setPort(&c.WebServerPort, key, value)

	// Alerts
	case "ALERT_BAD_SECONDS":
		return setPositive(&c.AlertBadSeconds, key, value)
	case "ALERT_COOLDOWN_SECONDS":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid ALERT_COOLDOWN_SECONDS %q", value)
		}
		c.AlertCooldownSeconds = n
	case "VIBRATION_GPIO_PIN":
		c.VibrationGPIOPin = value
	case "VIBRATION_PULSE_MS":
		return setPositive(&c.VibrationPulseMs, key, value)

	// Simulator
	case "SIM_PORT":
		return setPort(&c.SimPort, key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func setPositive(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n <= 0 {
		return fmt.Errorf("%s must be positive, got %d", key, n)
	}
	*dst = n
	return nil
}

func setPort(dst *int, key, value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be 1-65535, got %d", key, port)
	}
	*dst = port
	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	return nil
}

func (c *Config) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

func (c *Config) PollTimeoutDuration() time.Duration {
	return time.Duration(c.PollTimeout) * time.Millisecond
}

func (c *Config) ConfigRefreshDuration() time.Duration {
	return time.Duration(c.ConfigRefresh) * time.Millisecond
}

func (c *Config) AlertBadDuration() time.Duration {
	return time.Duration(c.AlertBadSeconds) * time.Second
}

func (c *Config) AlertCooldown() time.Duration {
	return time.Duration(c.AlertCooldownSeconds) * time.Second
}

func (c *Config) VibrationPulse() time.Duration {
	return time.Duration(c.VibrationPulseMs) * time.Millisecond
}

// StatsLocation is the zone calendar days are evaluated in.
func (c *Config) StatsLocation() *time.Location {
	if c.statsLocation == nil {
		return time.Local
	}
	return c.statsLocation
}

// InitGlobal loads the configuration once. Later calls return the first
// result and ignore configPath.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
