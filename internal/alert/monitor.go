// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package alert

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/posture_monitor/internal/sensor"
)

const (
	DefaultBadDuration = 8 * time.Second
	DefaultCooldown    = 60 * time.Second

	notifyTimeout = 5 * time.Second
)

// Alert is raised once bad posture has lasted long enough.
type Alert struct {
	ID       string        `json:"id"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Notifier delivers an alert somewhere the user will see it.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Vibrator drives a haptic motor for d.
type Vibrator interface {
	Pulse(d time.Duration) error
}

// Options configures a Monitor. A zero BadDuration or Pulse falls back to
// the default; Cooldown is taken as given.
type Options struct {
	BadDuration time.Duration
	Cooldown    time.Duration
	Pulse       time.Duration

	Vibrator  Vibrator
	Notifiers []Notifier

	// OnHUD is called whenever the overlay is shown or hidden.
	OnHUD func(visible bool)
}

// Monitor watches poll updates and raises bad-posture alerts.
//
// Calibrating, disconnected and good-posture updates reset the bad span
// and hide the overlay. A bad update shows the overlay; once the span
// reaches BadDuration an alert is sent, at most once per Cooldown.
type Monitor struct {
	opts Options
	now  func() time.Time

	mu         sync.Mutex
	feedback   Feedback
	badSince   time.Time
	lastAlert  time.Time
	hudVisible bool
	alerts     int

	dispatch sync.WaitGroup
}

func NewMonitor(opts Options) *Monitor {
	if opts.BadDuration <= 0 {
		opts.BadDuration = DefaultBadDuration
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Pulse <= 0 {
		opts.Pulse = 400 * time.Millisecond
	}
	return &Monitor{
		opts:     opts,
		now:      time.Now,
		feedback: DefaultFeedback,
	}
}

func (m *Monitor) SetFeedback(f Feedback) {
	m.mu.Lock()
	m.feedback = f
	m.mu.Unlock()
}

func (m *Monitor) Feedback() Feedback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feedback
}

// HUDVisible reports whether the overlay is currently shown.
func (m *Monitor) HUDVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hudVisible
}

// BadFor is how long the current bad span has lasted, or 0.
func (m *Monitor) BadFor() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.badSince.IsZero() {
		return 0
	}
	return m.now().Sub(m.badSince)
}

// Alerts is the number of alerts raised so far.
func (m *Monitor) Alerts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts
}

// Observe feeds one poll result. It returns the alert raised by this
// update, if any. Delivery happens in the background.
func (m *Monitor) Observe(u sensor.Update) *Alert {
	m.mu.Lock()

	if !u.Connected || u.Reading == nil || u.Reading.Calibrating || !u.Reading.Bad() {
		m.badSince = time.Time{}
		hudChanged := m.setHUD(false)
		m.mu.Unlock()
		m.notifyHUD(hudChanged, false)
		return nil
	}

	now := m.now()
	if m.badSince.IsZero() {
		m.badSince = now
	}
	hudChanged := m.setHUD(true)

	var raised *Alert
	span := now.Sub(m.badSince)
	if span >= m.opts.BadDuration && (m.lastAlert.IsZero() || now.Sub(m.lastAlert) >= m.opts.Cooldown) {
		m.lastAlert = now
		m.alerts++
		raised = &Alert{
			ID:       uuid.NewString(),
			Start:    m.badSince,
			Duration: span,
			At:       now,
		}
	}
	feedback := m.feedback
	m.mu.Unlock()

	m.notifyHUD(hudChanged, true)
	if raised != nil {
		log.Printf("alert: bad posture for %s (%s)", raised.Duration.Round(time.Second), raised.ID)
		m.deliver(*raised, feedback)
	}
	return raised
}

// Wait blocks until every alert raised so far has been delivered.
func (m *Monitor) Wait() {
	m.dispatch.Wait()
}

func (m *Monitor) setHUD(visible bool) bool {
	if m.hudVisible == visible {
		return false
	}
	m.hudVisible = visible
	return true
}

func (m *Monitor) notifyHUD(changed, visible bool) {
	if changed && m.opts.OnHUD != nil {
		m.opts.OnHUD(visible)
	}
}

func (m *Monitor) deliver(a Alert, f Feedback) {
	if f.Sound {
		log.Printf("alert: sound cue for %s", a.ID)
	}

	if f.Vibration && m.opts.Vibrator != nil {
		m.dispatch.Add(1)
		go func() {
			defer m.dispatch.Done()
			if err := m.opts.Vibrator.Pulse(m.opts.Pulse); err != nil {
				log.Printf("alert: vibration failed: %v", err)
			}
		}()
	}

	if f.Notification {
		for _, n := range m.opts.Notifiers {
			m.dispatch.Add(1)
			go func(n Notifier) {
				defer m.dispatch.Done()
				ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
				defer cancel()
				if err := n.Notify(ctx, a); err != nil {
					log.Printf("alert: notifier failed: %v", err)
				}
			}(n)
		}
	}
}
