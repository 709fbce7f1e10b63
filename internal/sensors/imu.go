// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/relabs-tech/rehab_telemetry/internal/imu"
	"github.com/relabs-tech/rehab_telemetry/internal/logger"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
	"periph.io/x/host/v3"
)

// ErrNoBackend is returned when no IMU backend could serve every segment.
var ErrNoBackend = errors.New("no usable IMU backend")

// IMUDevice is one physical IMU attached to a body segment.
type IMUDevice interface {
	// Configure applies ranges and filtering. Failure here is fatal at setup.
	Configure(s imu.Settings) error
	// ReadRaw returns accel in g and gyro in °/s.
	ReadRaw() (imu.Sample, error)
	Close() error
}

// IMUBackend opens devices of one kind, e.g. a vendor driver or raw bus access.
type IMUBackend interface {
	Name() string
	Open(seg orientation.Segment) (IMUDevice, error)
	// Close releases resources shared by the backend's devices.
	Close() error
}

// IMUSet is the outcome of backend selection: one configured device per segment.
type IMUSet struct {
	Backend IMUBackend
	Devices [orientation.SegmentCount]IMUDevice
}

// Close releases every device and the backend.
func (s *IMUSet) Close() error {
	var errs []error
	for _, d := range s.Devices {
		if d != nil {
			errs = append(errs, d.Close())
		}
	}
	if s.Backend != nil {
		errs = append(errs, s.Backend.Close())
	}
	return errors.Join(errs...)
}

// SelectIMUBackend tries backends in order and keeps the first one that can
// open and configure a device for every segment. The choice is made once.
func SelectIMUBackend(ctx context.Context, log logger.Logger, settings imu.Settings, backends ...IMUBackend) (*IMUSet, error) {
	var failures []error
	for _, b := range backends {
		set, err := openAll(b, settings)
		if err != nil {
			log.Warn(ctx, "imu: backend unavailable", logger.String("backend", b.Name()), logger.Error(err))
			failures = append(failures, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		log.Info(ctx, "imu: backend selected", logger.String("backend", b.Name()))
		return set, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoBackend, errors.Join(failures...))
}

func openAll(b IMUBackend, settings imu.Settings) (*IMUSet, error) {
	set := &IMUSet{Backend: b}
	for _, seg := range orientation.Segments() {
		dev, err := b.Open(seg)
		if err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("%s IMU: open: %w", seg, err)
		}
		set.Devices[seg] = dev
		if err := dev.Configure(settings); err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("%s IMU: configure: %w", seg, err)
		}
	}
	return set, nil
}

var (
	hostOnce sync.Once
	hostErr  error
)

// initHost loads periph host drivers once per process.
func initHost() error {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostErr = fmt.Errorf("periph host init: %w", err)
		}
	})
	return hostErr
}
