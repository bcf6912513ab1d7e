// Package www serves a small HTTP API for watching and switching the
// listener from outside the terminal.
package www

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"node.town/scribe/db"
	"node.town/scribe/session"
	"node.town/scribe/transcript"
)

const (
	defaultArchiveLimit = 50
	maxArchiveLimit     = 1000
	shutdownTimeout     = 5 * time.Second
)

type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Toggle(ctx context.Context) error
	Info() session.Info
	Sink() *transcript.Sink
}

type Archive interface {
	Recent(ctx context.Context, limit int) ([]db.Record, error)
}

type Server struct {
	Controller Controller
	// Archive is optional; without it /archive answers 503.
	Archive Archive
	// Probe opens a throwaway connection to the configured server.
	Probe  func(ctx context.Context) error
	Logger *log.Logger
}

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  s.Logger.StandardLog(),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Post("/start", s.handleCommand(s.Controller.Start))
	r.Post("/stop", s.handleCommand(s.Controller.Stop))
	r.Post("/toggle", s.handleCommand(s.Controller.Toggle))
	r.Get("/transcript", s.handleTranscript)
	r.Post("/probe", s.handleProbe)
	r.Get("/archive", s.handleArchive)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		var routes []string
		chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			routes = append(routes, method+" "+route)
			return nil
		})
		writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
	})

	return r
}

// Serve runs the API on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http", "url", "http://"+addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Controller.Info())
}

func (s *Server) handleCommand(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(r.Context())
		switch {
		case errors.Is(err, session.ErrSessionActive):
			writeError(w, http.StatusConflict, err)
			return
		case err != nil:
			s.Logger.Error("command failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusAccepted, s.Controller.Info())
	}
}

type transcriptResponse struct {
	Fragments []transcript.Fragment `json:"fragments"`
	Text      string                `json:"text"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sink := s.Controller.Sink()
	fragments := sink.Fragments()
	resp := transcriptResponse{Fragments: fragments}
	for _, f := range fragments {
		resp.Text += f.Text
	}
	writeJSON(w, http.StatusOK, resp)
}

type probeResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if s.Probe == nil {
		writeError(w, http.StatusNotImplemented, errors.New("probe not configured"))
		return
	}
	if err := s.Probe(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, probeResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, probeResponse{OK: true})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("archive disabled"))
		return
	}

	limit := defaultArchiveLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = min(n, maxArchiveLimit)
	}

	records, err := s.Archive.Recent(r.Context(), limit)
	if err != nil {
		s.Logger.Error("archive query failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to load archive"))
		return
	}
	if records == nil {
		records = []db.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"fragments": records})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
