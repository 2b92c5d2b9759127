// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/posture_monitor/internal/alert"
	"github.com/relabs-tech/posture_monitor/internal/auth"
	"github.com/relabs-tech/posture_monitor/internal/batch"
	"github.com/relabs-tech/posture_monitor/internal/config"
	"github.com/relabs-tech/posture_monitor/internal/sensor"
	"github.com/relabs-tech/posture_monitor/internal/storage"
)

// RunMonitor runs the posture monitor service until SIGINT or SIGTERM.
func RunMonitor(cfg *config.Config) error {
	store, err := storage.NewSQLiteRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("store: close: %v", err)
		}
	}()
	log.Printf("store: opened %s", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SensorIP != "" {
		if err := seedConfig(ctx, store, storage.KeySensorIP, cfg.SensorIP); err != nil {
			return err
		}
	}

	var broker alert.Publisher
	client, err := connectMQTT(cfg, cfg.MQTTClientIDMonitor)
	if err != nil {
		log.Printf("mqtt: running without broker: %v", err)
	} else {
		defer client.Disconnect(250)
		broker = client
	}
	publisher, notifiers := mqttOutputs(cfg, broker)

	hub := NewHub()
	session := &auth.Session{}

	opts := alert.Options{
		BadDuration: cfg.AlertBadDuration(),
		Cooldown:    cfg.AlertCooldown(),
		Pulse:       cfg.VibrationPulse(),
		Notifiers:   append(notifiers, hub),
		OnHUD:       hub.SetHUD,
	}
	if cfg.VibrationGPIOPin != "" {
		v, err := alert.OpenGPIOVibrator(cfg.VibrationGPIOPin)
		if err != nil {
			log.Printf("alert: vibration disabled: %v", err)
		} else {
			opts.Vibrator = v
			log.Printf("alert: vibration motor on %s", cfg.VibrationGPIOPin)
		}
	}
	monitor := alert.NewMonitor(opts)

	sensorClient := sensor.NewClient(cfg.PollTimeoutDuration())
	pipeline := NewPipeline(PipelineConfig{
		Source:        sensor.NewPoller(sensorClient, cfg.PollIntervalDuration(), cfg.PollTimeoutDuration()),
		Calibrator:    sensorClient,
		Store:         store,
		Batch:         batch.NewController(store, session, cfg.BatchThreshold),
		Session:       session,
		Monitor:       monitor,
		Publisher:     publisher,
		Broadcaster:   hub,
		ConfigRefresh: cfg.ConfigRefreshDuration(),
		InitialAddr:   cfg.SensorIP,
		Location:      cfg.StatsLocation(),
	})

	srv := NewServer(ServerConfig{
		Pipeline: pipeline,
		Store:    store,
		Auth:     auth.NewService(store),
		Session:  session,
		Hub:      hub,
		Monitor:  monitor,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go hub.Run(ctx)

	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- pipeline.Run(ctx) }()

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Println("monitor: shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("web server: %w", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("web server shutdown: %v", err)
	}

	// Process exit counts as going to the background: the pipeline
	// flushes what is pending before the store is closed.
	if err := <-pipelineDone; err != nil && runErr == nil {
		runErr = err
	}
	st := pipeline.BatchStats()
	log.Printf("monitor: %d flushes, %d rows written, %d rows dropped", st.Flushes, st.RowsWritten, st.FailedRows)
	return runErr
}

// mqttOutputs builds the MQTT reading publisher and alert notifier.
// Both are left out when there is no broker.
func mqttOutputs(cfg *config.Config, broker alert.Publisher) (Publisher, []alert.Notifier) {
	if broker == nil {
		return nil, nil
	}
	return NewMQTTPublisher(broker, cfg.TopicReading, cfg.TopicStatus),
		[]alert.Notifier{alert.NewMQTTNotifier(broker, cfg.TopicAlert)}
}

// seedConfig stores value under key unless the key is already set.
func seedConfig(ctx context.Context, store storage.Repository, key, value string) error {
	_, err := store.GetConfig(ctx, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := store.SetConfig(ctx, key, value); err != nil {
		return fmt.Errorf("seed %s: %w", key, err)
	}
	return nil
}
