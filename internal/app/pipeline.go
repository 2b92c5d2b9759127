// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/posture_monitor/internal/alert"
	"github.com/relabs-tech/posture_monitor/internal/auth"
	"github.com/relabs-tech/posture_monitor/internal/batch"
	"github.com/relabs-tech/posture_monitor/internal/posture"
	"github.com/relabs-tech/posture_monitor/internal/sensor"
	"github.com/relabs-tech/posture_monitor/internal/stats"
	"github.com/relabs-tech/posture_monitor/internal/storage"
)

// Source produces poll updates. *sensor.Poller is the real one.
type Source interface {
	Run(ctx context.Context) error
	Updates() <-chan sensor.Update
	SetAddress(addr string)
	Address() string
	Latest() (sensor.Reading, bool)
}

// Calibrator triggers a remote recalibration. *sensor.Client is the real one.
type Calibrator interface {
	Calibrate(ctx context.Context, addr string) error
}

// Publisher mirrors live state to an outside channel such as MQTT.
type Publisher interface {
	PublishReading(r sensor.Reading, a posture.Assessment)
	PublishStatus(connected bool)
}

// Broadcaster pushes a JSON message to every websocket client.
type Broadcaster interface {
	Broadcast(v any)
}

// PipelineConfig wires the pipeline. Publisher, Broadcaster and Monitor
// are optional.
type PipelineConfig struct {
	Source      Source
	Calibrator  Calibrator
	Store       storage.Repository
	Batch       *batch.Controller
	Session     *auth.Session
	Monitor     *alert.Monitor
	Publisher   Publisher
	Broadcaster Broadcaster

	ConfigRefresh time.Duration
	InitialAddr   string
	Location      *time.Location
}

// LiveState is the latest view of the sensor.
type LiveState struct {
	Type       string              `json:"type"`
	Reading    *sensor.Reading     `json:"reading"`
	Connected  bool                `json:"connected"`
	Ready      bool                `json:"ready"`
	Outcome    string              `json:"outcome"`
	Assessment *posture.Assessment `json:"assessment,omitempty"`
}

// Pipeline runs poll updates through the classifier into the batch
// buffer, the alert monitor and the live outputs.
//
// Updates are consumed on a single goroutine, in arrival order, which
// also owns the classifier and the configuration-refresh timer.
type Pipeline struct {
	cfg        PipelineConfig
	classifier posture.Classifier

	mu   sync.RWMutex
	live LiveState
	seen bool
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.ConfigRefresh <= 0 {
		cfg.ConfigRefresh = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Session == nil {
		cfg.Session = &auth.Session{}
	}
	return &Pipeline{cfg: cfg, live: LiveState{Type: "reading", Outcome: posture.NotReady.String()}}
}

// Run starts the source and processes its updates until ctx is cancelled.
// The pending batch is flushed before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.cfg.InitialAddr != "" && p.cfg.Source.Address() == "" {
		p.cfg.Source.SetAddress(p.cfg.InitialAddr)
	}
	p.RefreshConfig(ctx)

	srcErr := make(chan error, 1)
	go func() { srcErr <- p.cfg.Source.Run(ctx) }()

	refresh := time.NewTicker(p.cfg.ConfigRefresh)
	defer refresh.Stop()

	// Updates still queued after cancellation are drained and stored.
	work := context.WithoutCancel(ctx)
	updates := p.cfg.Source.Updates()
	for updates != nil {
		select {
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			p.handle(work, u)
		case <-refresh.C:
			p.RefreshConfig(ctx)
		}
	}

	if err := p.cfg.Batch.Flush(work, batch.ReasonShutdown); err != nil {
		log.Printf("pipeline: final flush: %v", err)
	}
	if p.cfg.Monitor != nil {
		p.cfg.Monitor.Wait()
	}

	if err := <-srcErr; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sensor source: %w", err)
	}
	return nil
}

func (p *Pipeline) handle(ctx context.Context, u sensor.Update) {
	outcome := p.classifier.Classify(u.Reading)
	ready := outcome == posture.Valid && p.classifier.Ready()

	if u.Reading != nil {
		// Flush failures are logged by the controller and dropped.
		p.cfg.Batch.Offer(ctx, *u.Reading, ready, u.Connected)
	}
	if p.cfg.Monitor != nil {
		p.cfg.Monitor.Observe(u)
	}

	p.mu.Lock()
	statusChanged := !p.seen || p.live.Connected != u.Connected
	p.seen = true
	p.live.Connected = u.Connected
	p.live.Ready = p.classifier.Ready()
	p.live.Outcome = outcome.String()
	if u.Reading != nil {
		r := *u.Reading
		p.live.Reading = &r
		if outcome == posture.Valid {
			a := posture.Assess(r)
			p.live.Assessment = &a
		} else {
			p.live.Assessment = nil
		}
	}
	live := p.live
	p.mu.Unlock()

	if p.cfg.Publisher != nil {
		if statusChanged {
			p.cfg.Publisher.PublishStatus(u.Connected)
		}
		if u.Reading != nil && live.Assessment != nil {
			p.cfg.Publisher.PublishReading(*u.Reading, *live.Assessment)
		}
	}
	if p.cfg.Broadcaster != nil {
		p.cfg.Broadcaster.Broadcast(live)
	}
}

// RefreshConfig re-reads the sensor address and feedback selection
// from the store.
func (p *Pipeline) RefreshConfig(ctx context.Context) {
	store := p.cfg.Store

	addr, err := store.GetConfig(ctx, storage.KeySensorIP)
	switch {
	case err == nil:
		if addr != p.cfg.Source.Address() {
			p.cfg.Source.SetAddress(addr)
		}
	case !errors.Is(err, storage.ErrNotFound):
		log.Printf("pipeline: read %s: %v", storage.KeySensorIP, err)
	}

	if p.cfg.Monitor == nil {
		return
	}
	raw, err := store.GetConfig(ctx, storage.KeyFeedbackType)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("pipeline: read %s: %v", storage.KeyFeedbackType, err)
		return
	}
	fb, err := alert.ParseFeedback(raw)
	if err != nil {
		log.Printf("pipeline: %v", err)
		return
	}
	p.cfg.Monitor.SetFeedback(fb)
}

// Live returns the latest state and whether any poll has completed.
func (p *Pipeline) Live() (LiveState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.live, p.live.Reading != nil
}

// Latest is the last reading the sensor returned.
func (p *Pipeline) Latest() (sensor.Reading, bool) {
	return p.cfg.Source.Latest()
}

// Calibrate asks the sensor at the current address to recalibrate.
func (p *Pipeline) Calibrate(ctx context.Context) error {
	if p.cfg.Calibrator == nil {
		return errors.New("calibration not available")
	}
	addr := p.cfg.Source.Address()
	if err := p.cfg.Calibrator.Calibrate(ctx, addr); err != nil {
		return fmt.Errorf("calibrate %s: %w", addr, err)
	}
	log.Printf("pipeline: calibration requested at %s", addr)
	return nil
}

// AppState applies a lifecycle transition reported by the hosting app.
func (p *Pipeline) AppState(ctx context.Context, s batch.AppState) error {
	return p.cfg.Batch.OnAppState(ctx, s)
}

// Flush writes the pending batch now.
func (p *Pipeline) Flush(ctx context.Context) error {
	return p.cfg.Batch.Flush(ctx, batch.ReasonManual)
}

// RegisterNow stores the latest reading immediately for the session
// user. It reports false when there was nothing to store.
func (p *Pipeline) RegisterNow(ctx context.Context) (bool, error) {
	r, ok := p.cfg.Source.Latest()
	if !ok || r.Calibrating {
		return false, nil
	}
	if err := p.cfg.Store.InsertOne(ctx, p.cfg.Session.UserID(), r); err != nil {
		return false, err
	}
	return true, nil
}

// Stats computes the statistics snapshot for the session user.
func (p *Pipeline) Stats(ctx context.Context, now time.Time) (stats.Snapshot, error) {
	records, err := p.cfg.Store.QueryRange(ctx, p.cfg.Session.UserID(), storage.All())
	if err != nil {
		return stats.Snapshot{}, fmt.Errorf("load records: %w", err)
	}
	return stats.Compute(records, now, p.cfg.Location), nil
}

func (p *Pipeline) BatchStats() batch.Stats {
	return p.cfg.Batch.Stats()
}
