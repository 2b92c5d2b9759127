// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"

	"github.com/relabs-tech/posture_monitor/internal/app"
	"github.com/relabs-tech/posture_monitor/internal/config"
)

func main() {
	log.Println("starting posture monitor (sensor → store, web, MQTT)")

	// Load configuration
	if err := config.InitGlobal("posture_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunMonitor(config.Get()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
