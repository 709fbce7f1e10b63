// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"periph.io/x/conn/v3/i2c"

	"github.com/relabs-tech/rehab_telemetry/internal/imu"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
	"github.com/relabs-tech/rehab_telemetry/internal/sensors"
)

// SensorAddr labels one IMU on the bus, e.g. shin=0x69.
type SensorAddr struct {
	Label string
	Addr  uint16
}

// DefaultSensors are the thigh and shin at their usual addresses.
func DefaultSensors() []SensorAddr {
	return []SensorAddr{{Label: "thigh", Addr: 0x68}, {Label: "shin", Addr: 0x69}}
}

// ParseSensorAddr parses label=0x68 (hex with 0x prefix, otherwise decimal).
func ParseSensorAddr(s string) (SensorAddr, error) {
	label, addr, ok := strings.Cut(s, "=")
	if !ok {
		return SensorAddr{}, fmt.Errorf("invalid sensor mapping %q, use label=0x68 format", s)
	}
	label = strings.ToLower(strings.TrimSpace(label))
	addr = strings.ToLower(strings.TrimSpace(addr))

	base := 10
	if rest, found := strings.CutPrefix(addr, "0x"); found {
		addr, base = rest, 16
	}
	v, err := strconv.ParseUint(addr, base, 7)
	if err != nil || label == "" {
		return SensorAddr{}, fmt.Errorf("invalid sensor mapping %q, use label=0x68 format", s)
	}
	return SensorAddr{Label: label, Addr: uint16(v)}, nil
}

// IMUCheckOptions configures RunIMUCheck.
type IMUCheckOptions struct {
	Bus      string
	Interval time.Duration
	Sensors  []SensorAddr
	Settings imu.Settings
	// Count stops after that many snapshots; 0 runs until ctx is done.
	Count int
	// OpenBus defaults to sensors.OpenI2CBus.
	OpenBus func(name string) (i2c.BusCloser, error)
}

type checkedIMU struct {
	label string
	dev   *sensors.MPU6050
	est   *orientation.Estimator
}

// RunIMUCheck reads MPU6050s directly on the I2C bus and prints a JSON
// snapshot per interval. A sensor that fails to read reports its error.
func RunIMUCheck(ctx context.Context, opts IMUCheckOptions, out io.Writer) error {
	if len(opts.Sensors) == 0 {
		opts.Sensors = DefaultSensors()
	}
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	open := opts.OpenBus
	if open == nil {
		open = sensors.OpenI2CBus
	}

	bus, err := open(opts.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()

	imus := make([]checkedIMU, 0, len(opts.Sensors))
	for _, s := range opts.Sensors {
		dev, id, err := sensors.OpenMPU6050(bus, s.Label, s.Addr)
		if err != nil {
			return err
		}
		if err := dev.Configure(opts.Settings); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: MPU6050 at 0x%02X (WHO_AM_I=0x%02X)\n", s.Label, s.Addr, id)
		imus = append(imus, checkedIMU{label: s.Label, dev: dev, est: orientation.NewEstimator(orientation.DefaultFilterParams())})
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var last time.Time
	for n := 0; opts.Count == 0 || n < opts.Count; n++ {
		now := time.Now()
		var dt float64
		if !last.IsZero() {
			dt = now.Sub(last).Seconds()
		}
		last = now

		snapshot := make(map[string]orientation.SegmentOrientation, len(imus))
		for _, c := range imus {
			s, err := c.dev.ReadRaw()
			if err != nil {
				snapshot[c.label] = c.est.Failed(err)
				continue
			}
			snapshot[c.label] = c.est.Update(s, dt)
		}
		b, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "[%s] %s\n", now.Format("2006-01-02 15:04:05"), b)

		if opts.Count != 0 && n+1 >= opts.Count {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
