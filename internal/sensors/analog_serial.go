// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

// TypeEMG is the sentence type streamed by the EMG bridge firmware:
//
//	$MWEMG,<level>*hh
//
// where level is the normalized envelope in [0, 1].
const TypeEMG = "EMG"

// EMG is a parsed $--EMG sentence.
type EMG struct {
	nmea.BaseSentence
	Level float64
}

var registerEMG sync.Once

func registerEMGParser() {
	registerEMG.Do(func() {
		_ = nmea.RegisterParser(TypeEMG, func(s nmea.BaseSentence) (nmea.Sentence, error) {
			p := nmea.NewParser(s)
			return EMG{BaseSentence: s, Level: p.Float64(0, "level")}, p.Err()
		})
	})
}

// ErrNoSample is returned before the bridge has delivered its first valid sentence.
var ErrNoSample = errors.New("no EMG sample received yet")

// SerialChannel keeps the latest level streamed by a microcontroller bridge.
type SerialChannel struct {
	port io.ReadCloser

	mu      sync.Mutex
	level   float64
	have    bool
	readErr error
	done    chan struct{}

	// idleEOF marks a port opened with a read timeout, where a zero-byte read
	// (io.EOF) only means the bridge was quiet.
	idleEOF bool
	stopped atomic.Bool
}

const (
	// serialReadTimeoutMS bounds each read so the reader notices Close.
	serialReadTimeoutMS = 100
	serialCloseWait     = 500 * time.Millisecond
	maxSentenceLen      = 128
)

// OpenSerialChannel opens the bridge's serial port.
func OpenSerialChannel(portName string, baud int) (*SerialChannel, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:        portName,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		// VMIN=0 with VTIME: reads return after the timeout even when the bridge is silent
		MinimumReadSize:       0,
		InterCharacterTimeout: serialReadTimeoutMS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: serial %s: %w", ErrNoAnalogChannel, portName, err)
	}
	return newSerialChannel(port, true), nil
}

// NewSerialChannel starts reading EMG sentences from r. io.EOF from r ends the stream.
func NewSerialChannel(r io.ReadCloser) *SerialChannel {
	return newSerialChannel(r, false)
}

func newSerialChannel(r io.ReadCloser, idleEOF bool) *SerialChannel {
	registerEMGParser()
	c := &SerialChannel{port: r, done: make(chan struct{}), idleEOF: idleEOF}
	go c.readLoop()
	return c
}

func (c *SerialChannel) readLoop() {
	defer close(c.done)
	var (
		buf  [64]byte
		line []byte
	)
	for !c.stopped.Load() {
		n, err := c.port.Read(buf[:])
		for _, b := range buf[:n] {
			if b != '\n' {
				if len(line) < maxSentenceLen {
					line = append(line, b)
				}
				continue
			}
			if s := strings.TrimSpace(string(line)); strings.HasPrefix(s, "$") {
				c.handle(s)
			}
			line = line[:0]
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF) && c.idleEOF:
			// read timeout with no data
		default:
			if !c.stopped.Load() {
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
			}
			return
		}
	}
}

func (c *SerialChannel) handle(line string) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		// partial sentences after reconnects are expected
		return
	}
	emg, ok := sentence.(EMG)
	if !ok {
		return
	}
	c.mu.Lock()
	c.level = emg.Level
	c.have = true
	c.mu.Unlock()
}

// ReadNormalized returns the most recent level. Once the stream has ended
// the read error is reported instead of a stale value.
func (c *SerialChannel) ReadNormalized() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return 0, fmt.Errorf("EMG bridge: %w", c.readErr)
	}
	if !c.have {
		return 0, ErrNoSample
	}
	return c.level, nil
}

// Close stops the reader. It does not wait longer than serialCloseWait for a
// read that the port's Close could not interrupt.
func (c *SerialChannel) Close() error {
	c.stopped.Store(true)
	err := c.port.Close()
	select {
	case <-c.done:
	case <-time.After(serialCloseWait):
	}
	return err
}
