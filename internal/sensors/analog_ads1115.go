// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
)

var ads1115Channels = [4]ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

// ADS1115Channel reads the EMG envelope through an external ADS1115 on I2C.
type ADS1115Channel struct {
	bus i2c.BusCloser
	pin ads1x15.PinADC
	ref physic.ElectricPotential
}

// OpenADS1115Channel opens the converter at addr and single-ended input channel.
// refVolts is the sensor's full-scale output.
func OpenADS1115Channel(busName string, addr uint16, channel int, refVolts float64) (*ADS1115Channel, error) {
	if channel < 0 || channel >= len(ads1115Channels) {
		return nil, fmt.Errorf("%w: ADS1115 channel %d", ErrNoAnalogChannel, channel)
	}
	bus, err := OpenI2CBus(busName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAnalogChannel, err)
	}

	adc, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: addr})
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("%w: ADS1115 at %#x: %w", ErrNoAnalogChannel, addr, err)
	}

	ref := physic.ElectricPotential(refVolts * float64(physic.Volt))
	pin, err := adc.PinForChannel(ads1115Channels[channel], ref, 250*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("%w: ADS1115 channel %d: %w", ErrNoAnalogChannel, channel, err)
	}
	return &ADS1115Channel{bus: bus, pin: pin, ref: ref}, nil
}

func (c *ADS1115Channel) ReadNormalized() (float64, error) {
	s, err := c.pin.Read()
	if err != nil {
		return 0, fmt.Errorf("ADS1115 read: %w", err)
	}
	return float64(s.V) / float64(c.ref), nil
}

func (c *ADS1115Channel) Close() error {
	_ = c.pin.Halt()
	return c.bus.Close()
}
