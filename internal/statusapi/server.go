// Package statusapi serves the monitor and scan state over loopback HTTP
// for scripts and home automation.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"firewatch/internal/beacon"
	"firewatch/internal/monitor"
)

// Monitor provides the polled state
type Monitor interface {
	Snapshot() monitor.Snapshot
}

// Scanner provides the scan state and commands
type Scanner interface {
	Snapshot() beacon.Snapshot
	StartScan(ctx context.Context) error
	StopScan(ctx context.Context) error
}

type errorBody struct {
	Error string `json:"error"`
}

// Server is the status HTTP server
type Server struct {
	mon    Monitor
	scan   Scanner
	logger *slog.Logger
	srv    *http.Server
}

// New creates a server listening on addr once Serve is called
func New(addr string, mon Monitor, scan Scanner, logger *slog.Logger) *Server {
	s := &Server{mon: mon, scan: scan, logger: logger}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler with request logging and panic recovery
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.status).Methods(http.MethodGet)
	api.HandleFunc("/beacons", s.beacons).Methods(http.MethodGet)
	api.HandleFunc("/beacons/{id}", s.beaconByID).Methods(http.MethodGet)
	api.HandleFunc("/scan/start", s.startScan).Methods(http.MethodPost)
	api.HandleFunc("/scan/stop", s.stopScan).Methods(http.MethodPost)

	logged := handlers.LoggingHandler(slogWriter{s.logger}, r)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.logger}))(logged)
}

// Serve listens until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("status api listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mon.Snapshot())
}

func (s *Server) beacons(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scan.Snapshot())
}

func (s *Server) beaconByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, d := range s.scan.Snapshot().Devices {
		if d.ID == id {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, errorBody{Error: "beacon not found"})
}

func (s *Server) startScan(w http.ResponseWriter, r *http.Request) {
	if err := s.scan.StartScan(r.Context()); err != nil {
		s.writeScanError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.scan.Snapshot())
}

func (s *Server) stopScan(w http.ResponseWriter, r *http.Request) {
	if err := s.scan.StopScan(r.Context()); err != nil {
		s.writeScanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scan.Snapshot())
}

func (s *Server) writeScanError(w http.ResponseWriter, err error) {
	var pe *beacon.PreconditionError
	var ce *beacon.CommandError
	switch {
	case errors.As(err, &pe), errors.Is(err, beacon.ErrScanInProgress):
		writeJSON(w, http.StatusConflict, errorBody{Error: beacon.Notice(err)})
	case errors.As(err, &ce):
		s.logger.Warn("scan command failed", "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: beacon.Notice(err)})
	case errors.Is(err, beacon.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	default:
		s.logger.Error("scan request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
