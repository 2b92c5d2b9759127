// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/posture_monitor/internal/config"
)

func RunConsoleMQTT(cfg *config.Config) error {
	client, err := connectMQTT(cfg, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{cfg.TopicReading, printHandler(os.Stdout, formatReading)},
		{cfg.TopicStatus, printHandler(os.Stdout, formatStatus)},
		{cfg.TopicAlert, printHandler(os.Stdout, formatAlert)},
	}
	for _, s := range subs {
		token := client.Subscribe(s.topic, 0, s.handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", s.topic)
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func printHandler(w io.Writer, format func([]byte) (string, error)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		line, err := format(msg.Payload())
		if err != nil {
			log.Printf("console: %s unmarshal error: %v", msg.Topic(), err)
			return
		}
		fmt.Fprintln(w, line)
	}
}

func formatReading(payload []byte) (string, error) {
	var m ReadingMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", err
	}
	state := "OK "
	if !m.Correct {
		state = "BAD"
	}
	return fmt.Sprintf(
		"[POSE]  %s  PITCH=%6.2f  ROLL=%6.2f  REF=(%6.2f,%6.2f)  DEV=%5.2f  at %s",
		state, m.Pitch, m.Roll, m.RefPitch, m.RefRoll, m.Deviation, m.Timestamp,
	), nil
}

func formatStatus(payload []byte) (string, error) {
	var m StatusMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", err
	}
	link := "disconnected"
	if m.Connected {
		link = "connected"
	}
	return fmt.Sprintf("[LINK]  sensor %s at %s", link, m.At), nil
}

func formatAlert(payload []byte) (string, error) {
	var m struct {
		ID              string `json:"id"`
		Start           string `json:"start"`
		DurationSeconds int64  `json:"durationSeconds"`
		Message         string `json:"message"`
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", err
	}
	return fmt.Sprintf("[ALRT]  bad posture for %ds since %s: %s", m.DurationSeconds, m.Start, m.Message), nil
}
