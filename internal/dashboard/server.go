// Package dashboard serves the latest run and the delivery history over HTTP.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"bpi-collector/internal/report"
	"bpi-collector/internal/storage"
)

// Options locate the files the dashboard reads.
type Options struct {
	DataDir      string
	HistoryFile  string
	TotalSamples int
	Location     *time.Location
}

// Server is a read-only HTTP view over the run files.
type Server struct {
	opts    Options
	history *storage.DeliveryHistory
	logger  zerolog.Logger
}

// New constructs a dashboard Server.
func New(opts Options, logger zerolog.Logger) *Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	logger = logger.With().Str("component", "dashboard").Logger()
	return &Server{
		opts:    opts,
		history: storage.NewDeliveryHistory(opts.HistoryFile, logger),
		logger:  logger,
	}
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /latest/data", s.handleLatestData)
	mux.HandleFunc("GET /latest/graph", s.handleLatestGraph)
	mux.HandleFunc("GET /progress", s.handleProgress)
	mux.HandleFunc("GET /email_status", s.handleEmailStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("dashboard listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info().Msg("dashboard stopped")
		return nil
	}
}

func (s *Server) handleLatestData(w http.ResponseWriter, r *http.Request) {
	run, ok, err := storage.LatestRun(s.opts.DataDir)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, storage.Series{})
		return
	}

	series, err := storage.ReadSeriesFile(run.Data)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleLatestGraph(w http.ResponseWriter, r *http.Request) {
	run, ok, err := storage.LatestRun(s.opts.DataDir)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	if _, err := os.Stat(run.Graph); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, run.Graph)
}

// Progress reports how far the latest run has got.
type Progress struct {
	InProgress       bool `json:"in_progress"`
	SamplesCollected int  `json:"samples_collected"`
	TotalSamples     int  `json:"total_samples"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	run, ok, err := storage.LatestRun(s.opts.DataDir)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, Progress{})
		return
	}

	collected := 0
	series, err := storage.ReadSeriesFile(run.Data)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", run.Data).Msg("latest run unreadable")
	} else {
		collected = len(series)
	}
	writeJSON(w, http.StatusOK, Progress{
		InProgress:       collected < s.opts.TotalSamples,
		SamplesCollected: collected,
		TotalSamples:     s.opts.TotalSamples,
	})
}

type emailStatus struct {
	Latest  any                      `json:"latest"`
	History []storage.DeliveryRecord `json:"history"`
}

type emptyStatus struct {
	Timestamp *string `json:"timestamp"`
	Success   bool    `json:"success"`
	Subject   *string `json:"subject"`
}

func (s *Server) handleEmailStatus(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.Load()
	if err != nil {
		s.logger.Error().Err(err).Msg("error reading delivery history")
		records = nil
	}
	if len(records) == 0 {
		writeJSON(w, http.StatusOK, emailStatus{Latest: emptyStatus{}, History: []storage.DeliveryRecord{}})
		return
	}

	for i := range records {
		if records[i].FormattedTime == "" {
			records[i].FormattedTime = s.formatTime(records[i].Timestamp)
		}
	}
	writeJSON(w, http.StatusOK, emailStatus{Latest: records[0], History: records})
}

func (s *Server) formatTime(value string) string {
	if value == "" {
		return ""
	}
	ts, err := storage.ParseTimestamp(value)
	if err != nil {
		return value
	}
	return report.FormatTimestamp(ts, s.opts.Location)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("dashboard request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
