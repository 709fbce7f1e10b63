// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/rehab_telemetry/internal/imu"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
)

// MockBackend produces a slow knee bend: the thigh sways a little while
// the shin swings through roughly 0-90 degrees of roll.
type MockBackend struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

func (b *MockBackend) Name() string { return "mock" }

func (b *MockBackend) Close() error { return nil }

func (b *MockBackend) Open(seg orientation.Segment) (IMUDevice, error) {
	now := b.Now
	if now == nil {
		now = time.Now
	}
	m := &mockIMU{now: now, start: now()}
	switch seg {
	case orientation.Thigh:
		m.base, m.amp, m.freq = 5, 5, 0.3
	case orientation.Shin:
		m.base, m.amp, m.freq = 50, 40, 0.5
	}
	return m, nil
}

type mockIMU struct {
	now   func() time.Time
	start time.Time

	base, amp, freq float64 // roll = base + amp*sin(2π f t), degrees
}

func (m *mockIMU) Configure(imu.Settings) error { return nil }

func (m *mockIMU) ReadRaw() (imu.Sample, error) {
	t := m.now().Sub(m.start).Seconds()
	w := 2 * math.Pi * m.freq
	roll := m.base + m.amp*math.Sin(w*t)
	rollRate := m.amp * w * math.Cos(w*t)

	r := roll * math.Pi / 180
	return imu.Sample{
		Accel: imu.Vec3{X: 0, Y: math.Sin(r), Z: math.Cos(r)},
		Gyro:  imu.Vec3{X: rollRate, Y: 0, Z: 0},
	}, nil
}

func (m *mockIMU) Close() error { return nil }
