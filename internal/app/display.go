package app

import (
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/rehab_telemetry/internal/config"
	"github.com/relabs-tech/rehab_telemetry/internal/sensors"
	"github.com/relabs-tech/rehab_telemetry/internal/telemetry"
)

// ssd1306DefaultAddr is the address the ssd1306 driver always talks to.
const ssd1306DefaultAddr = 0x3C

// addrBus redirects the driver's fixed address to the configured one.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b *addrBus) Tx(addr uint16, w, r []byte) error {
	if addr == ssd1306DefaultAddr {
		addr = b.addr
	}
	return b.Bus.Tx(addr, w, r)
}

// latestFrame holds the most recent mirrored frame.
type latestFrame struct {
	mu    sync.RWMutex
	frame telemetry.Frame
	have  bool
}

func (l *latestFrame) set(f telemetry.Frame) {
	l.mu.Lock()
	l.frame, l.have = f, true
	l.mu.Unlock()
}

func (l *latestFrame) get() (telemetry.Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame, l.have
}

// RunDisplay shows flexion, torque and EMG of the mirrored session on an SSD1306 OLED.
func RunDisplay() error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is not set")
	}

	bus, err := sensors.OpenI2CBus(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open display bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(&addrBus{Bus: bus, addr: cfg.DisplayI2CAddr}, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Printf("display: initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := dev.Draw(dev.Bounds(), renderLines("Knee Rehab", "Waiting for", "session..."), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	client, err := telemetry.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	latest := &latestFrame{}
	err = telemetry.SubscribeFrames(client, cfg.TopicTelemetry, latest.set, func(err error) {
		log.Printf("display: %v", err)
	})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for {
		select {
		case <-sigCh:
			log.Println("display: shutting down")
			return nil
		case <-ticker.C:
			f, have := latest.get()
			if err := dev.Draw(dev.Bounds(), renderLines(displayLines(f, have)...), image.Point{}); err != nil {
				log.Printf("display: error updating: %v", err)
			}
		}
	}
}

// displayLines lays out a frame on four 13 px rows.
func displayLines(f telemetry.Frame, have bool) []string {
	if !have {
		return []string{"Knee Rehab", "Waiting..."}
	}
	return []string{
		fmt.Sprintf("FLX %5.1f M%5.1f", f.FlexionAngle, f.MaxFlexion),
		fmt.Sprintf("EXT %5.1f", f.ExtensionAngle),
		fmt.Sprintf("TQ %5.2f M%5.2f", f.Torque, f.MaxTorque),
		fmt.Sprintf("EMG %5.1f%%", f.MuscleRelative),
	}
}

func renderLines(lines ...string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if i >= 4 {
			break
		}
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawString(line)
	}
	return img
}
