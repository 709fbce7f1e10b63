package app

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/rehab_telemetry/internal/config"
	"github.com/relabs-tech/rehab_telemetry/internal/telemetry"
)

// RunConsoleMQTT prints frames mirrored by a running server.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is not set")
	}

	client, err := telemetry.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	err = telemetry.SubscribeFrames(client, cfg.TopicTelemetry,
		func(f telemetry.Frame) {
			fmt.Printf("[%s] %s\n", f.Time().Format("15:04:05.000"), FormatFrame(f))
		},
		func(err error) {
			log.Printf("console: %v", err)
		})
	if err != nil {
		return err
	}
	log.Printf("console: subscribed to %s", cfg.TopicTelemetry)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
