package main

import (
	"log"

	"github.com/relabs-tech/rehab_telemetry/internal/app"
	"github.com/relabs-tech/rehab_telemetry/internal/config"
)

func main() {
	log.Println("starting rehab-telemetry console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(config.DefaultPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
