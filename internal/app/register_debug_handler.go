// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/relabs-tech/rehab_telemetry/internal/logger"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
	"github.com/relabs-tech/rehab_telemetry/internal/sensors"
)

// RegisterResponse is the register dump of one segment IMU.
type RegisterResponse struct {
	Segment     string                 `json:"segment"`
	Timestamp   string                 `json:"timestamp"`
	Registers   map[string]string      `json:"registers"` // name -> hex value
	RegisterMap []sensors.RegisterInfo `json:"register_map"`
}

// handleRegisters dumps the configuration registers of ?segment=.
// Only the raw I2C backend exposes them.
func (h *Handler) handleRegisters(w http.ResponseWriter, r *http.Request) {
	seg, err := orientation.ParseSegment(r.URL.Query().Get("segment"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.devices == nil {
		writeError(w, http.StatusServiceUnavailable, "no IMU devices")
		return
	}
	dumper, ok := h.devices.Device(seg).(sensors.RegisterDumper)
	if !ok {
		writeError(w, http.StatusNotImplemented, "IMU backend does not expose registers")
		return
	}

	values, err := dumper.DumpRegisters()
	if err != nil {
		h.log.Warn(r.Context(), "register_debug: dump failed", logger.String("segment", seg.String()), logger.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp := RegisterResponse{
		Segment:     seg.String(),
		Timestamp:   time.Now().Format(time.RFC3339),
		Registers:   make(map[string]string, len(values)),
		RegisterMap: sensors.MPU6050RegisterMap(),
	}
	for name, v := range values {
		resp.Registers[name] = fmt.Sprintf("0x%02X", v)
	}
	writeJSON(w, http.StatusOK, resp)
}
