// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/rehab_telemetry/internal/config"
	"github.com/relabs-tech/rehab_telemetry/internal/logger"
	"github.com/relabs-tech/rehab_telemetry/internal/metrics"
	"github.com/relabs-tech/rehab_telemetry/internal/muscle"
	"github.com/relabs-tech/rehab_telemetry/internal/orientation"
	"github.com/relabs-tech/rehab_telemetry/internal/sensors"
	"github.com/relabs-tech/rehab_telemetry/internal/telemetry"
)

// DeviceLookup exposes the IMU attached to a segment, for the register dump.
type DeviceLookup interface {
	Device(seg orientation.Segment) sensors.IMUDevice
}

// Handler serves the telemetry stream and the control endpoints.
type Handler struct {
	svc     *telemetry.Service
	devices DeviceLookup
	metrics *metrics.Manager
	log     logger.Logger
}

func NewHandler(svc *telemetry.Service, devices DeviceLookup, mm *metrics.Manager, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{svc: svc, devices: devices, metrics: mm, log: log}
}

// Routes returns the HTTP surface wrapped in permissive CORS.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.handleWS)
	mux.HandleFunc("POST /reset", h.handleReset)
	mux.HandleFunc("POST /imu/calibrate", h.handleIMUCalibrate)
	mux.HandleFunc("POST /muscle/calibrate", h.handleMuscleCalibrate)
	mux.HandleFunc("GET /imu/{segment}", h.handleSegment)
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /api/imu/registers", h.handleRegisters)
	mux.Handle("GET /metrics", h.metrics.Handler())
	return cors(mux)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		hdr.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.svc.ResetSession(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleIMUCalibrate captures both segments, or only ?segment= when given.
func (h *Handler) handleIMUCalibrate(w http.ResponseWriter, r *http.Request) {
	var segs []orientation.Segment
	if name := r.URL.Query().Get("segment"); name != "" {
		seg, err := orientation.ParseSegment(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		segs = append(segs, seg)
	}

	captured, err := h.svc.CalibrateIMU(r.Context(), segs...)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	names := make([]string, 0, len(captured))
	for _, seg := range captured {
		names = append(names, seg.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "segments": names})
}

func (h *Handler) handleMuscleCalibrate(w http.ResponseWriter, r *http.Request) {
	ref, err := h.svc.CalibrateMuscle(r.Context(), r.URL.Query().Get("mode"))
	switch {
	case errors.Is(err, muscle.ErrInvalidMode):
		writeError(w, http.StatusBadRequest, muscle.ErrInvalidMode.Error())
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSON(w, http.StatusOK, ref)
	}
}

func (h *Handler) handleSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := orientation.ParseSegment(r.PathValue("segment"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	o, err := h.svc.SegmentReading(r.Context(), seg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// RunServer builds the pipeline from the global configuration and serves
// HTTP until SIGINT or SIGTERM.
func RunServer() error {
	cfg := config.Get()
	if err := logger.Init(cfg.LogLevel); err != nil {
		return err
	}
	lg := logger.Named("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mm := metrics.NewManager()
	p, err := BuildPipeline(ctx, cfg, logger.Get(), mm)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Printf("web: close pipeline: %v", err)
		}
	}()

	h := NewHandler(p.Service, p.Manager, mm, logger.Named("web"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info(ctx, "web server listening", logger.String("addr", srv.Addr), logger.String("imu_backend", p.Manager.Backend()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		lg.Info(context.Background(), "web server shutting down")
	}

	// hijacked websocket connections are not tracked by Shutdown
	p.Service.StopSession()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
