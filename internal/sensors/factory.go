// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"time"

	"github.com/relabs-tech/rehab_telemetry/internal/config"
	"github.com/relabs-tech/rehab_telemetry/internal/imu"
	"github.com/relabs-tech/rehab_telemetry/internal/logger"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
)

// IMUSettings extracts the sensor configuration from cfg.
func IMUSettings(cfg *config.Config) imu.Settings {
	return imu.Settings{
		SampleRateDiv: cfg.IMUSampleRateDiv,
		DLPF:          cfg.IMUDLPFConfig,
		GyroRange:     cfg.IMUGyroRange,
		AccelRange:    cfg.IMUAccelRange,
	}
}

// IMUBackends returns the candidate backends in probing order for cfg.IMUBackend.
// "auto" prefers the vendor driver and falls back to raw register access.
// The mock backend is never probed implicitly.
func IMUBackends(cfg *config.Config, log logger.Logger) ([]IMUBackend, error) {
	vendor := &MPU9250Backend{Log: log}
	vendor.Ports[orientation.Thigh] = SPIPort{Device: cfg.IMUThighSPIDevice, CSPin: cfg.IMUThighCSPin}
	vendor.Ports[orientation.Shin] = SPIPort{Device: cfg.IMUShinSPIDevice, CSPin: cfg.IMUShinCSPin}

	raw := &I2CBackend{BusName: cfg.IMUI2CBus, Log: log, Settle: 10 * time.Millisecond}
	raw.Addrs[orientation.Thigh] = cfg.IMUThighAddr
	raw.Addrs[orientation.Shin] = cfg.IMUShinAddr

	switch cfg.IMUBackend {
	case "", "auto":
		return []IMUBackend{vendor, raw}, nil
	case "mpu9250":
		return []IMUBackend{vendor}, nil
	case "i2c":
		return []IMUBackend{raw}, nil
	case "mock":
		return []IMUBackend{&MockBackend{}}, nil
	default:
		return nil, fmt.Errorf("unknown IMU backend %q", cfg.IMUBackend)
	}
}

// OpenAnalogChannel opens the EMG input selected by cfg.MuscleADCBackend.
func OpenAnalogChannel(cfg *config.Config) (AnalogChannel, error) {
	var (
		ch  AnalogChannel
		err error
	)
	switch cfg.MuscleADCBackend {
	case "", "iio":
		var c *IIOChannel
		if c, err = OpenIIOChannel(cfg.MuscleIIODevice, cfg.MyowareADCPin); err == nil {
			ch = c
		}
	case "ads1115":
		var c *ADS1115Channel
		if c, err = OpenADS1115Channel(cfg.MuscleADS1115I2CBus, cfg.MuscleADS1115Addr, cfg.MuscleADS1115Channel, cfg.MyowareADCRefVoltage); err == nil {
			ch = c
		}
	case "serial":
		var c *SerialChannel
		if c, err = OpenSerialChannel(cfg.MuscleSerialPort, cfg.MuscleSerialBaud); err == nil {
			ch = c
		}
	case "mock":
		ch = &MockEMGChannel{Start: time.Now()}
	default:
		err = fmt.Errorf("%w: unknown backend %q", ErrNoAnalogChannel, cfg.MuscleADCBackend)
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}
