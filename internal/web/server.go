package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/driftlab/driftlab/internal/analysis"
	"github.com/driftlab/driftlab/internal/domain"
	"github.com/driftlab/driftlab/internal/ports"
	"github.com/driftlab/driftlab/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Runner launches a simulation run with the configured parameters. The run
// itself executes on the runner's own lifecycle; ctx only covers the
// synchronous launch step. Returns domain.ErrAlreadyRunning while a run is
// active.
type Runner interface {
	StartRun(ctx context.Context) (string, error)
}

// Server exposes the run archive and the live record stream. It implements
// http.Handler.
type Server struct {
	store  ports.RunStore
	runner Runner
	hub    *Hub
	logger log.Logger
	router *mux.Router
}

// NewServer wires the routes. runner may be nil for an archive-only server;
// hub may be nil when live streaming is not wanted.
func NewServer(store ports.RunStore, runner Runner, hub *Hub, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	s := &Server{
		store:  store,
		runner: runner,
		hub:    hub,
		logger: logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/runs", s.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/api/runs", s.handleStartRun).Methods(http.MethodPost)
	r.HandleFunc("/api/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}/records", s.handleRecords).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}/analysis", s.handleAnalysis).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.Runs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []domain.RunMeta{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Run(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	process := domain.NoProcess
	if raw := r.URL.Query().Get("process"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest,
				map[string]string{"error": "process must be a non-negative integer"})
			return
		}
		process = domain.ProcessID(n)
	}

	recs, err := s.store.Records(r.Context(), mux.Vars(r)["id"], process)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	run, err := s.store.Run(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	procs, err := s.store.Processes(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	recs, err := s.store.Records(ctx, id, domain.NoProcess)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis.Analyze(run, procs, recs))
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			map[string]string{"error": "no runner configured"})
		return
	}
	id, err := s.runner.StartRun(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("run launched over http", log.String("run_id", id))
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			map[string]string{"error": "live stream not enabled"})
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", log.Err(err))
		return
	}
	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, clientSendBuffer)}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump()
}

// writeError maps domain sentinels to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidConfig):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", log.Err(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // headers already sent
}
