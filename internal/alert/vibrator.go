// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package alert

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIOVibrator drives a vibration motor wired to a GPIO pin.
type GPIOVibrator struct {
	mu    sync.Mutex
	pin   gpio.PinOut
	sleep func(time.Duration)
}

// OpenGPIOVibrator initializes periph and looks up the pin by name,
// for example "GPIO17".
func OpenGPIOVibrator(name string) (*GPIOVibrator, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return NewGPIOVibrator(p)
}

// NewGPIOVibrator wraps an already resolved pin and drives it low.
func NewGPIOVibrator(pin gpio.PinOut) (*GPIOVibrator, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio %s: %w", pin, err)
	}
	return &GPIOVibrator{pin: pin, sleep: time.Sleep}, nil
}

// Pulse drives the pin high for d. Overlapping pulses are serialized.
func (v *GPIOVibrator) Pulse(d time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("vibrator on: %w", err)
	}
	v.sleep(d)
	if err := v.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("vibrator off: %w", err)
	}
	return nil
}
