// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNoAnalogChannel is returned when the configured EMG input cannot be opened.
var ErrNoAnalogChannel = errors.New("analog channel unavailable")

// AnalogChannel is a single ADC input scaled to [0, 1] of its reference.
type AnalogChannel interface {
	ReadNormalized() (float64, error)
	Close() error
}

// pocketBeaglePins maps header names to the AM335x ADC inputs.
var pocketBeaglePins = map[string]int{
	"P1_19": 0,
	"P1_21": 1,
	"P1_23": 2,
	"P1_25": 3,
	"P1_27": 4,
	"P2_35": 5,
	"P1_5":  5,
	"P1_3":  6,
}

// ResolveADCPin accepts a header name such as "P2_35" or a channel name
// such as "AIN5" and returns the ADC channel number.
func ResolveADCPin(pin string) (int, error) {
	p := strings.ToUpper(strings.TrimSpace(pin))
	if ch, ok := pocketBeaglePins[p]; ok {
		return ch, nil
	}
	if rest, ok := strings.CutPrefix(p, "AIN"); ok {
		ch, err := strconv.Atoi(rest)
		if err == nil && ch >= 0 && ch <= 7 {
			return ch, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown ADC pin %q", ErrNoAnalogChannel, pin)
}

// iioMaxRaw is the full-scale count of the 12-bit AM335x ADC.
const iioMaxRaw = 4095.0

// IIOChannel reads an ADC input through the Linux industrial I/O sysfs interface.
type IIOChannel struct {
	path string
}

// OpenIIOChannel resolves pin to in_voltageN_raw under deviceDir and checks it is readable.
func OpenIIOChannel(deviceDir, pin string) (*IIOChannel, error) {
	ch, err := ResolveADCPin(pin)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(deviceDir, fmt.Sprintf("in_voltage%d_raw", ch))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoAnalogChannel, path, err)
	}
	return &IIOChannel{path: path}, nil
}

func (c *IIOChannel) ReadNormalized() (float64, error) {
	b, err := os.ReadFile(c.path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", c.path, err)
	}
	raw, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", c.path, err)
	}
	return float64(raw) / iioMaxRaw, nil
}

func (c *IIOChannel) Close() error { return nil }

// ConstantChannel always reports the same level. Used for demos without a sensor.
type ConstantChannel struct {
	Level float64
}

func (c ConstantChannel) ReadNormalized() (float64, error) { return c.Level, nil }

func (c ConstantChannel) Close() error { return nil }

// MockEMGChannel pulses between a resting and a contracted level every few seconds.
type MockEMGChannel struct {
	Start time.Time
	Now   func() time.Time
}

func (c *MockEMGChannel) ReadNormalized() (float64, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	t := now().Sub(c.Start).Seconds()
	return 0.25 + 0.2*math.Max(0, math.Sin(2*math.Pi*t/4)), nil
}

func (c *MockEMGChannel) Close() error { return nil }
