package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/oxygene76/gravlens/internal/types"
	"github.com/oxygene76/gravlens/pkg/analysis"
	"github.com/oxygene76/gravlens/pkg/simulation"
)

const (
	writeWait = 5 * time.Second
	pongWait  = 60 * time.Second
)

// Options tune what the server sends
type Options struct {
	// IncludeRays adds ray paths to frames pushed over the websocket
	IncludeRays bool
}

// Server exposes the latest frames of a driver over HTTP and websocket
type Server struct {
	driver   *simulation.Driver
	history  *analysis.History
	logger   zerolog.Logger
	opts     Options
	router   *mux.Router
	handler  http.Handler
	upgrader websocket.Upgrader
	started  time.Time
}

// NewServer wires the routes. history may be nil, in which case the stats
// endpoint only reports the latest frame.
func NewServer(driver *simulation.Driver, history *analysis.History, logger zerolog.Logger, opts Options) *Server {
	s := &Server{
		driver:  driver,
		history: history,
		logger:  logger.With().Str("component", "stream").Logger(),
		opts:    opts,
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/frame", s.handleFrame).Methods("GET")
	api.HandleFunc("/bodies", s.handleBodies).Methods("GET")
	api.HandleFunc("/bodies/{name}/mass", s.handleMass).Methods("POST")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebsocket)

	// outside the router so preflight requests never reach method matching
	s.handler = handlers.RecoveryHandler()(
		handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(s.router),
	)
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is done and then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("stream server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("stream server stopped")
	return nil
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame := s.driver.Latest()
	if frame == nil {
		writeError(w, http.StatusServiceUnavailable, "no frame published yet")
		return
	}
	includeRays := r.URL.Query().Get("rays") != "false"
	writeJSON(w, http.StatusOK, frame.Record(includeRays))
}

func (s *Server) handleBodies(w http.ResponseWriter, r *http.Request) {
	reg := s.driver.Registry()
	layout := reg.Layout()
	masses := reg.Masses()

	var positions map[int][3]float64
	if frame := s.driver.Latest(); frame != nil {
		positions = make(map[int][3]float64, len(frame.Bodies))
		for _, b := range frame.Bodies {
			positions[b.ID] = [3]float64{b.Position.X, b.Position.Y, b.Position.Z}
		}
	}

	out := make([]types.BodyRecord, layout.Len())
	for id := range out {
		n := layout.Node(id)
		out[id] = types.BodyRecord{
			ID:       id,
			Name:     n.Name,
			Mass:     masses[id],
			Radius:   n.Radius,
			Position: positions[id],
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMass(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req types.MassUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	var (
		mass float64
		err  error
	)
	if req.Mass != nil {
		mass, err = s.driver.SetMassByName(r.Context(), name, *req.Mass)
	} else {
		mass, err = s.driver.AdjustMassByName(r.Context(), name, req.Delta)
	}
	switch {
	case errorsmod.IsOf(err, types.ErrUnknownBody):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errorsmod.IsOf(err, types.ErrInvalidBody):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Str("body", name).Msg("mass edit failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name": name,
		"mass": mass,
		"mode": s.driver.MassEditMode(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"latest": analysis.Summarize(s.driver.Latest()),
	}
	if s.history != nil {
		resp["trend"] = s.history.Trend()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.started).String(),
		"time":   s.driver.Time(),
	}
	if frame := s.driver.Latest(); frame != nil {
		resp["seq"] = frame.Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	frames, unsubscribe := s.driver.Subscribe()
	defer unsubscribe()

	log := s.logger.With().Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("frame subscriber connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the read side only handles control frames and notices the close
	go func() {
		defer cancel()
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(f *simulation.Frame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(f.Record(s.opts.IncludeRays))
	}

	if f := s.driver.Latest(); f != nil {
		if err := send(f); err != nil {
			return
		}
	}

	ping := time.NewTicker(pongWait / 2)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("frame subscriber disconnected")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := send(f); err != nil {
				log.Debug().Err(err).Msg("frame write failed")
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
