// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/rehab_telemetry/internal/imu"
	"github.com/relabs-tech/rehab_telemetry/internal/logger"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

// I2CBackend talks to MPU6050-compatible IMUs with plain register
// access on a shared I2C bus.
type I2CBackend struct {
	BusName string
	Addrs   [orientation.SegmentCount]uint16
	Log     logger.Logger

	// OpenBus defaults to i2creg.Open after periph host init.
	OpenBus func(name string) (i2c.BusCloser, error)
	// Settle is how long the chip needs after configuration writes.
	Settle time.Duration

	mu  sync.Mutex
	bus i2c.BusCloser
}

func (b *I2CBackend) Name() string { return "i2c" }

func (b *I2CBackend) openBus() (i2c.Bus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus != nil {
		return b.bus, nil
	}
	open := b.OpenBus
	if open == nil {
		open = OpenI2CBus
	}
	bus, err := open(b.BusName)
	if err != nil {
		return nil, err
	}
	b.bus = bus
	return bus, nil
}

// OpenI2CBus initialises the periph host drivers and opens the named bus.
// An empty name selects the first bus found.
func OpenI2CBus(name string) (i2c.BusCloser, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open I2C bus %q: %w", name, err)
	}
	return bus, nil
}

// Open probes WHO_AM_I at the segment's address.
func (b *I2CBackend) Open(seg orientation.Segment) (IMUDevice, error) {
	if !seg.Valid() {
		return nil, fmt.Errorf("%w: %d", orientation.ErrUnknownSegment, int(seg))
	}
	bus, err := b.openBus()
	if err != nil {
		return nil, err
	}
	log := b.Log
	if log == nil {
		log = logger.Nop()
	}

	d, id, err := OpenMPU6050(bus, seg.String(), b.Addrs[seg])
	if err != nil {
		return nil, err
	}
	d.settle = b.Settle
	log.Info(context.Background(), "imu: device found",
		logger.String("segment", seg.String()),
		logger.String("addr", fmt.Sprintf("0x%02X", b.Addrs[seg])),
		logger.String("who_am_i", fmt.Sprintf("0x%02X", id)))
	return d, nil
}

// OpenMPU6050 probes WHO_AM_I at addr and returns the device with the id it reported.
// name labels errors and logs, e.g. "thigh".
func OpenMPU6050(bus i2c.Bus, name string, addr uint16) (*MPU6050, byte, error) {
	d := &MPU6050{
		name: name,
		dev:  &i2c.Dev{Bus: bus, Addr: addr},
	}
	id, err := d.ReadRegister(regWhoAmI)
	if err != nil {
		return nil, 0, fmt.Errorf("%s IMU: no response at 0x%02X: %w", name, addr, err)
	}
	return d, id, nil
}

// Close releases the shared bus.
func (b *I2CBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus == nil {
		return nil
	}
	err := b.bus.Close()
	b.bus = nil
	return err
}

// MPU6050 is one IMU on the raw I2C backend.
type MPU6050 struct {
	name     string
	dev      *i2c.Dev
	settings imu.Settings
	settle   time.Duration
}

// Configure wakes the chip and writes rate, DLPF and range registers.
func (d *MPU6050) Configure(s imu.Settings) error {
	writes := []struct {
		reg, val byte
	}{
		{regPwrMgmt1, 0x00},
		{regSmplrtDiv, s.SampleRateDiv},
		{regConfig, s.DLPF & 0x07},
		{regGyroConfig, (s.GyroRange << 3) & 0x18},
		{regAccelConfig, (s.AccelRange << 3) & 0x18},
	}
	for _, w := range writes {
		if err := d.WriteRegister(w.reg, w.val); err != nil {
			return fmt.Errorf("%s IMU: write 0x%02X: %w", d.name, w.reg, err)
		}
	}
	if d.settle > 0 {
		time.Sleep(d.settle)
	}
	d.settings = s
	return nil
}

// ReadRaw burst-reads accel, temperature and gyro (14 bytes from ACCEL_XOUT_H).
func (d *MPU6050) ReadRaw() (imu.Sample, error) {
	var buf [14]byte
	if err := d.dev.Tx([]byte{regAccelXOutH}, buf[:]); err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU read: %w", d.name, err)
	}
	word := func(i int) int16 { return int16(binary.BigEndian.Uint16(buf[i : i+2])) }
	c := imu.Counts{
		Ax: word(0), Ay: word(2), Az: word(4),
		// bytes 6-7 are the temperature
		Gx: word(8), Gy: word(10), Gz: word(12),
	}
	return c.Scale(d.settings), nil
}

// ReadRegister reads a single register.
func (d *MPU6050) ReadRegister(reg byte) (byte, error) {
	var b [1]byte
	if err := d.dev.Tx([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteRegister writes a single register.
func (d *MPU6050) WriteRegister(reg, val byte) error {
	return d.dev.Tx([]byte{reg, val}, nil)
}

// DumpRegisters reads every register of the metadata map.
func (d *MPU6050) DumpRegisters() (map[string]byte, error) {
	out := make(map[string]byte)
	for _, r := range MPU6050RegisterMap() {
		v, err := d.ReadRegister(r.Address)
		if err != nil {
			return nil, fmt.Errorf("%s IMU: read %s: %w", d.name, r.Name, err)
		}
		out[r.Name] = v
	}
	return out, nil
}

func (d *MPU6050) Close() error { return nil }

// RegisterDumper is implemented by devices that expose their register file.
type RegisterDumper interface {
	DumpRegisters() (map[string]byte, error)
}
