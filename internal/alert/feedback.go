// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package alert

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Channel is one way of telling the user to sit up.
type Channel string

const (
	ChannelVibration    Channel = "vibration"
	ChannelNotification Channel = "notification"
	ChannelSound        Channel = "sound"
)

// Feedback is the set of enabled channels, stored under the feedback_type
// key as a JSON array such as ["vibration","sound"].
type Feedback struct {
	Vibration    bool
	Notification bool
	Sound        bool
}

// DefaultFeedback is used until the user picks something else.
var DefaultFeedback = Feedback{Vibration: true}

// ParseFeedback decodes the stored JSON array. An empty value yields
// DefaultFeedback.
func ParseFeedback(raw string) (Feedback, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultFeedback, nil
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return Feedback{}, fmt.Errorf("feedback_type: %w", err)
	}

	var f Feedback
	for _, n := range names {
		switch Channel(n) {
		case ChannelVibration:
			f.Vibration = true
		case ChannelNotification:
			f.Notification = true
		case ChannelSound:
			f.Sound = true
		default:
			return Feedback{}, fmt.Errorf("feedback_type: unknown channel %q", n)
		}
	}
	return f, nil
}

// Channels lists the enabled channels in a stable order.
func (f Feedback) Channels() []Channel {
	chs := []Channel{}
	if f.Vibration {
		chs = append(chs, ChannelVibration)
	}
	if f.Notification {
		chs = append(chs, ChannelNotification)
	}
	if f.Sound {
		chs = append(chs, ChannelSound)
	}
	return chs
}

// String renders f in its stored form.
func (f Feedback) String() string {
	b, _ := json.Marshal(f.Channels())
	return string(b)
}
