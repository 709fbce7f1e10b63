// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"

	"github.com/relabs-tech/rehab_telemetry/internal/imu"
	"github.com/relabs-tech/rehab_telemetry/internal/logger"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
)

// SPIPort locates an MPU9250 on an SPI bus.
type SPIPort struct {
	Device string // e.g. /dev/spidev6.0
	CSPin  string // GPIO name of the chip select
}

// MPU9250Backend drives MPU9250 IMUs over SPI with the periph vendor driver.
type MPU9250Backend struct {
	Ports [orientation.SegmentCount]SPIPort
	Log   logger.Logger
}

func (b *MPU9250Backend) Name() string { return "mpu9250" }

func (b *MPU9250Backend) Close() error { return nil }

// Open initializes the MPU9250 wired to seg.
func (b *MPU9250Backend) Open(seg orientation.Segment) (IMUDevice, error) {
	if !seg.Valid() {
		return nil, fmt.Errorf("%w: %d", orientation.ErrUnknownSegment, int(seg))
	}
	port := b.Ports[seg]
	if port.Device == "" {
		return nil, fmt.Errorf("%s IMU: no SPI device configured", seg)
	}
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("%s IMU: %w", seg, err)
	}

	cs := gpioreg.ByName(port.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("%s IMU: CS pin %q not found", seg, port.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(port.Device, cs)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: SPI transport (%s): %w", seg, port.Device, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: device creation: %w", seg, err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: initialization: %w", seg, err)
	}

	log := b.Log
	if log == nil {
		log = logger.Nop()
	}
	return &mpu9250Device{name: seg.String(), imu: dev, log: log}, nil
}

// mpu9250Driver is the part of *mpu9250.MPU9250 the backend uses.
type mpu9250Driver interface {
	Calibrate() error
	SetAccelRange(value byte) error
	SetGyroRange(value byte) error
	GetAccelerationX() (int16, error)
	GetAccelerationY() (int16, error)
	GetAccelerationZ() (int16, error)
	GetRotationX() (int16, error)
	GetRotationY() (int16, error)
	GetRotationZ() (int16, error)
}

type mpu9250Device struct {
	name     string
	imu      mpu9250Driver
	settings imu.Settings
	log      logger.Logger
}

// Configure runs the vendor bias calibration, then applies the ranges.
// The vendor driver exposes neither the DLPF nor the sample rate divider, so
// both stay at what Calibrate leaves behind.
func (d *mpu9250Device) Configure(s imu.Settings) error {
	ctx := context.Background()

	// Calibrate rewrites GYRO_CONFIG and ACCEL_CONFIG to their ±250°/s and ±2g
	// defaults, so the ranges must be written after it or ReadRaw scales wrong.
	// Bias calibration assumes the leg is still; a failure only costs accuracy.
	if err := d.imu.Calibrate(); err != nil {
		d.log.Warn(ctx, "imu: calibration failed", logger.String("segment", d.name), logger.Error(err))
	}

	if err := d.imu.SetAccelRange(s.AccelRange); err != nil {
		return fmt.Errorf("%s IMU: set accel range: %w", d.name, err)
	}
	d.log.Info(ctx, "imu: accelerometer range set",
		logger.String("segment", d.name), logger.Int("range_g", imu.AccelRangeG(s.AccelRange)))

	if err := d.imu.SetGyroRange(s.GyroRange); err != nil {
		return fmt.Errorf("%s IMU: set gyro range: %w", d.name, err)
	}
	d.log.Info(ctx, "imu: gyroscope range set",
		logger.String("segment", d.name), logger.Int("range_dps", imu.GyroRangeDPS(s.GyroRange)))

	d.settings = s
	return nil
}

// ReadRaw reads accelerometer and gyroscope counts and scales them.
func (d *mpu9250Device) ReadRaw() (imu.Sample, error) {
	ax, err := d.imu.GetAccelerationX()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU accel X: %w", d.name, err)
	}
	ay, err := d.imu.GetAccelerationY()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU accel Y: %w", d.name, err)
	}
	az, err := d.imu.GetAccelerationZ()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU accel Z: %w", d.name, err)
	}

	gx, err := d.imu.GetRotationX()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU gyro X: %w", d.name, err)
	}
	gy, err := d.imu.GetRotationY()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU gyro Y: %w", d.name, err)
	}
	gz, err := d.imu.GetRotationZ()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU gyro Z: %w", d.name, err)
	}

	c := imu.Counts{Ax: ax, Ay: ay, Az: az, Gx: gx, Gy: gy, Gz: gz}
	return c.Scale(d.settings), nil
}

func (d *mpu9250Device) Close() error { return nil }
