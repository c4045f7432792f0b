// Package server exposes the compiler over HTTP and WebSocket so that
// operators and the simulator can compile scripts remotely.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antibyte/flail/pkg/auth"
	"github.com/antibyte/flail/pkg/configuration"
	"github.com/antibyte/flail/pkg/emit"
	"github.com/antibyte/flail/pkg/flail"
	"github.com/antibyte/flail/pkg/logger"
	"github.com/antibyte/flail/pkg/store"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the compile server. It keeps no compiler state between requests.
type Server struct {
	store    *store.Store
	upgrader websocket.Upgrader
	clients  *clientManager
	started  time.Time
}

// CompileResponse describes a successful compilation.
type CompileResponse struct {
	BuildID  string   `json:"buildId,omitempty"`
	Bytes    []int    `json:"bytes"`
	Hex      string   `json:"hex"`
	Pairs    int      `json:"pairs"`
	Size     int      `json:"size"`
	Mode     string   `json:"mode,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Reused   bool     `json:"reused,omitempty"`
}

// ErrorResponse describes a failed request or compilation.
type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
	Line     int    `json:"line,omitempty"`
	Command  string `json:"command,omitempty"`
}

// BuildSummary is an entry of GET /api/builds.
type BuildSummary struct {
	ID        string    `json:"id"`
	Hash      string    `json:"hash"`
	Pairs     int       `json:"pairs"`
	Size      int       `json:"size"`
	Operator  string    `json:"operator,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func getMaxScriptBytes() int64 {
	return int64(configuration.GetInt("Server", "max_script_kb", 64) * 1024)
}

// compileSettings are the compiler settings of the server. Builds are only
// reused when they were made with the same settings.
type compileSettings struct {
	mode           flail.Mode
	maxLineLength  int
	maxParameter   int
	maxProgramSize int
}

// currentSettings reads the [Compiler] and [Server] sections.
func currentSettings() compileSettings {
	cs := compileSettings{
		mode:           flail.ModeIntensity,
		maxLineLength:  configuration.GetInt("Compiler", "max_line_length", flail.DefaultMaxLineLength),
		maxParameter:   configuration.GetInt("Server", "max_parameter", 65535),
		maxProgramSize: configuration.GetInt("Server", "max_program_kb", 1024) * 1024,
	}
	if mode, ok := flail.ParseMode(configuration.GetString("Compiler", "default_mode", "intensity")); ok {
		cs.mode = mode
	}
	return cs
}

func (cs compileSettings) options() []flail.Option {
	return []flail.Option{
		flail.WithInitialMode(cs.mode),
		flail.WithMaxLineLength(cs.maxLineLength),
		flail.WithMaxParameter(cs.maxParameter),
		flail.WithMaxProgramSize(cs.maxProgramSize),
	}
}

// key identifies the settings in the build store.
func (cs compileSettings) key() string {
	return fmt.Sprintf("mode=%s;line=%d;param=%d;size=%d",
		cs.mode, cs.maxLineLength, cs.maxParameter, cs.maxProgramSize)
}

// New creates a server backed by the given build store.
func New(st *store.Store) *Server {
	return &Server{
		store:   st,
		clients: newClientManager(getMaxClients(), getRateLimit()),
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients authenticate with a token, there are no cookies to protect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns the HTTP handler of the server.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", s.clients.limit(auth.HandleLogin(s.store)))
	mux.HandleFunc("POST /api/compile", s.clients.limit(auth.RequireOperator(s.handleCompile)))
	mux.HandleFunc("GET /api/builds", auth.RequireOperator(s.handleListBuilds))
	mux.HandleFunc("GET /api/builds/{id}", auth.RequireOperator(s.handleGetBuild))
	mux.HandleFunc("GET /ws", s.clients.limit(auth.RequireOperator(s.handleWebSocket)))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if configuration.GetBool("Server", "metrics_enabled", true) {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

// Compile compiles a script and records it in the build store. A script
// already stored is answered from the store.
func (s *Server) Compile(ctx context.Context, src []byte, operator string) (*CompileResponse, error) {
	settings := currentSettings()
	hash := store.ScriptHash(src)
	if rec, err := s.store.FindByHash(ctx, hash, settings.key()); err == nil {
		if prog, err := flail.ProgramFromBytes(rec.Program); err == nil {
			logger.ServerDebug("Reusing build %s for script %s", rec.ID, hash[:12])
			resp := newCompileResponse(prog, rec.Warnings)
			resp.BuildID = rec.ID
			resp.Mode = rec.Mode
			resp.Reused = true
			counterCompiles.WithLabelValues(resultReused).Inc()
			return resp, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.ServerWarn("Build lookup failed: %v", err)
	}

	start := time.Now()
	prog, err := flail.Compile(strings.NewReader(string(src)), settings.options()...)
	histogramCompileDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		counterCompiles.WithLabelValues(resultFailed).Inc()
		if category := errorResponse(err).Category; category != "" {
			counterCompileErrors.WithLabelValues(category).Inc()
		}
		return nil, err
	}
	counterCompiles.WithLabelValues(resultCompiled).Inc()
	histogramProgramSize.Observe(float64(prog.Size()))

	warnings := make([]string, len(prog.Warnings))
	for i, w := range prog.Warnings {
		warnings[i] = w.String()
	}
	resp := newCompileResponse(prog, warnings)
	resp.Mode = prog.Mode.String()

	id, err := s.store.SaveBuild(ctx, store.BuildRecord{
		ScriptHash: hash,
		Script:     string(src),
		Program:    prog.Bytes(),
		Pairs:      len(prog.Pairs()),
		Mode:       resp.Mode,
		Settings:   settings.key(),
		Warnings:   warnings,
		Operator:   operator,
	})
	if err != nil {
		// The program is still valid, only the history entry is missing.
		logger.ServerError("Failed to record build: %v", err)
		return resp, nil
	}
	resp.BuildID = id

	if keep := configuration.GetInt("Database", "history_limit", 500); keep > 0 {
		if _, err := s.store.PruneBuilds(ctx, keep); err != nil {
			logger.ServerWarn("Pruning build history failed: %v", err)
		}
	}
	return resp, nil
}

func newCompileResponse(prog *flail.Program, warnings []string) *CompileResponse {
	code := prog.Bytes()
	ints := make([]int, len(code))
	for i, b := range code {
		ints[i] = int(b)
	}
	var hex strings.Builder
	emit.HexText(&hex, prog)

	return &CompileResponse{
		Bytes:    ints,
		Hex:      hex.String(),
		Pairs:    len(prog.Pairs()),
		Size:     prog.Size(),
		Warnings: warnings,
	}
}

// errorResponse converts an error into its JSON form. Compile errors keep
// their category and location.
func errorResponse(err error) ErrorResponse {
	var ce *flail.CompileError
	if errors.As(err, &ce) {
		return ErrorResponse{
			Error:    ce.Error(),
			Category: ce.Category,
			Line:     ce.Line,
			Command:  ce.Command,
		}
	}
	return ErrorResponse{Error: err.Error()}
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	limit := getMaxScriptBytes()
	src, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge,
				ErrorResponse{Error: fmt.Sprintf("script exceeds %d bytes", limit)})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "could not read script"})
		return
	}

	operator := auth.OperatorFromContext(r.Context())
	resp, err := s.Compile(r.Context(), src, operator)
	if err != nil {
		logger.ServerInfo("Compilation for %s failed: %v", operator, err)
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse(err))
		return
	}
	logger.ServerInfo("Compiled build %s for %s (%d bytes)", resp.BuildID, operator, resp.Size)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	builds, err := s.store.ListBuilds(r.Context(), limit)
	if err != nil {
		logger.ServerError("Listing builds failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "could not list builds"})
		return
	}

	out := make([]BuildSummary, 0, len(builds))
	for _, b := range builds {
		out = append(out, BuildSummary{
			ID:        b.ID,
			Hash:      b.ScriptHash,
			Pairs:     b.Pairs,
			Size:      len(b.Program),
			Operator:  b.Operator,
			CreatedAt: b.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetBuild(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "build not found"})
		return
	}
	if err != nil {
		logger.ServerError("Loading build failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "could not load build"})
		return
	}
	prog, err := flail.ProgramFromBytes(rec.Program)
	if err != nil {
		logger.ServerError("Stored build %s is corrupt: %v", rec.ID, err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "stored build is corrupt"})
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "hex":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		emit.HexText(w, prog)
	case "c":
		var src strings.Builder
		if err := emit.Boilerplate(&src, prog); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse(err))
			return
		}
		w.Header().Set("Content-Type", "text/x-csrc; charset=utf-8")
		io.WriteString(w, src.String())
	case "", "json":
		resp := newCompileResponse(prog, rec.Warnings)
		resp.BuildID = rec.ID
		resp.Mode = rec.Mode
		writeJSON(w, http.StatusOK, resp)
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown format %q", format)})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"simulators": s.clients.count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ServerWarn("Writing response failed: %v", err)
	}
}
