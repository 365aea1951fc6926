package web

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runixer/janiproxy/internal/assembler"
	"github.com/runixer/janiproxy/internal/config"
	"github.com/runixer/janiproxy/internal/janitor"
	"github.com/runixer/janiproxy/internal/pipeline"
	"github.com/runixer/janiproxy/internal/preset"
	"github.com/runixer/janiproxy/internal/regex"
	"github.com/runixer/janiproxy/internal/storage"
	"github.com/runixer/janiproxy/internal/upstream"
)

const (
	maxRequestBytes = 10 * 1024 * 1024
	// Enough to hold the final SSE chunks, which carry usage.
	maxTailBytes     = 64 * 1024
	defaultLogsLimit = 50
	maxLogsLimit     = 500
)

// getClientIP extracts the real client IP from the request.
// It checks X-Forwarded-For and X-Real-IP headers (set by reverse proxies like traefik),
// falling back to RemoteAddr if no proxy headers are present.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For may contain multiple IPs: "client, proxy1, proxy2"
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

type Server struct {
	cfg             *config.Config
	presetRepo      storage.PresetRepository
	regexRepo       storage.RegexRepository
	logRepo         storage.ProxyLogRepository
	maintenanceRepo storage.MaintenanceRepository
	pipeline        *pipeline.Pipeline
	client          upstream.Client
	filePreset      *preset.Preset
	logger          *slog.Logger
	wg              sync.WaitGroup
}

// NewServer wires the proxy. store may be nil, in which case presets come
// from preset.file or the built-in default and nothing is logged.
func NewServer(logger *slog.Logger, cfg *config.Config, store storage.Storage, p *pipeline.Pipeline, client upstream.Client) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		pipeline: p,
		client:   client,
		logger:   logger.With("component", "web_server"),
	}
	if store != nil {
		s.presetRepo = store
		s.regexRepo = store
		s.logRepo = store
		s.maintenanceRepo = store
	}

	if cfg.Preset.File != "" {
		pr, err := loadPresetFile(cfg.Preset.File)
		if err != nil {
			return nil, err
		}
		s.filePreset = pr
		s.logger.Info("Loaded preset file", "path", cfg.Preset.File, "preset", pr.Name, "blocks", len(pr.PromptBlocks))
	}

	return s, nil
}

func loadPresetFile(path string) (*preset.Preset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open preset file: %w", err)
	}
	defer f.Close()
	return preset.Load(f)
}

// Handler builds the routed and wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	completions := instrumentHandler("chat_completions", s.chatCompletionsHandler)
	mux.HandleFunc("/v1/chat/completions", completions)
	mux.HandleFunc("/chat/completions", completions)

	if s.cfg.Server.DebugMode {
		mux.HandleFunc("/debug/preview", instrumentHandler("debug_preview", s.previewHandler))
		mux.HandleFunc("/debug/logs", instrumentHandler("debug_logs", s.logsHandler))
		s.logger.Info("Debug endpoints enabled at /debug/")
	}

	mux.HandleFunc("/healthz", instrumentHandler("healthz", s.healthzHandler))
	mux.Handle("/metrics", promhttp.Handler())

	// Chain: Logging -> CORS -> Auth -> Mux
	handler := s.basicAuthMiddleware(mux)
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	return handler
}

func (s *Server) Start(ctx context.Context) error {
	// Check and generate password if needed
	if s.cfg.Server.Auth.Enabled && s.cfg.Server.Auth.Password == "" {
		secret := make([]byte, 6) // 12 hex chars
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("failed to generate random password: %w", err)
		}
		s.cfg.Server.Auth.Password = hex.EncodeToString(secret)
		fmt.Printf("\n⚠️  Debug endpoints password not set, generated: %s\n\n", s.cfg.Server.Auth.Password)
		s.logger.Info("Debug endpoints password auto-generated (see console output)")
	}

	server := &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("web server shutdown failed", "error", err)
		}
	}()

	// Update metrics immediately on startup, then periodically
	s.updateMetrics()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()

	s.logger.Info("Starting web server", "port", s.cfg.Server.ListenPort)
	err := server.ListenAndServe()
	if err != http.ErrServerClosed {
		return err
	}
	s.wg.Wait() // Wait for background goroutines to finish
	return nil
}

func (s *Server) updateMetrics() {
	if s.maintenanceRepo != nil {
		s.updateStorageMetrics()
	}
	if s.logRepo != nil && s.cfg.ProxyLog.Enabled {
		if _, err := s.logRepo.CleanupProxyLogs(s.cfg.ProxyLog.Keep); err != nil {
			s.logger.Error("failed to cleanup proxy_logs", "error", err)
		}
	}
}

// updateStorageMetrics updates database size metrics.
func (s *Server) updateStorageMetrics() {
	dbSize, err := s.maintenanceRepo.GetDBSize()
	if err != nil {
		s.logger.Debug("failed to get DB size", "error", err)
	} else {
		storage.SetStorageSize(dbSize)
	}

	tableSizes, err := s.maintenanceRepo.GetTableSizes()
	if err != nil {
		s.logger.Debug("failed to get table sizes", "error", err)
		return
	}
	for _, ts := range tableSizes {
		storage.SetTableStats(ts)
	}
}

// activePreset returns the preset named by preset.active from the store,
// else the preset file, else the built-in default.
func (s *Server) activePreset() *preset.Preset {
	if name := s.cfg.Preset.Active; name != "" && s.presetRepo != nil {
		pr, err := s.presetRepo.GetPreset(name)
		switch {
		case err == nil:
			return pr
		case errors.Is(err, storage.ErrNotFound):
			s.logger.Warn("Active preset not found in store, falling back", "preset", name)
		default:
			s.logger.Error("Failed to load active preset, falling back", "preset", name, "error", err)
		}
	}
	if s.filePreset != nil {
		return s.filePreset
	}
	return preset.Default()
}

// standaloneScripts returns the stored regex scripts. A store failure is
// logged and proxying continues without rewrites.
func (s *Server) standaloneScripts() []regex.Script {
	if s.regexRepo == nil {
		return nil
	}
	scripts, err := s.regexRepo.GetRegexScripts()
	if err != nil {
		s.logger.Error("Failed to load regex scripts", "error", err)
		return nil
	}
	return scripts
}

// prepare decodes the inbound body and runs the pipeline against the active
// preset. The model override is applied to the result.
func (s *Server) prepare(raw []byte) (pipeline.Result, *preset.Preset, error) {
	req, err := janitor.Decode(raw)
	if err != nil {
		return pipeline.Result{}, nil, err
	}
	pr := s.activePreset()
	res := s.pipeline.Run(req, pr, s.standaloneScripts())
	if s.cfg.Upstream.Model != "" {
		res.Body.Model = s.cfg.Upstream.Model
	}
	return res, pr, nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, err
		}
		return nil, http.StatusBadRequest, err
	}
	return body, http.StatusOK, nil
}

func (s *Server) chatCompletionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	start := time.Now()
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)
	logger := s.logger.With("request_id", requestID)

	raw, status, err := readBody(w, r)
	if err != nil {
		logger.Warn("Failed to read request body", "error", err)
		writeError(w, status, "failed to read request body")
		return
	}

	res, pr, err := s.prepare(raw)
	if err != nil {
		logger.Warn("Rejected malformed request", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry := storage.ProxyLog{
		ID:          requestID,
		Preset:      pr.Name,
		Model:       res.Body.Model,
		Character:   res.Parsed.Char,
		Stream:      res.Body.Stream,
		InboundBody: string(raw),
		Diagnostics: diagnosticsJSON(res.Diagnostics),
	}
	if out, err := json.Marshal(res.Body); err == nil {
		entry.OutboundBody = string(out)
	}
	defer func() {
		entry.DurationMs = int(time.Since(start).Milliseconds())
		s.recordProxyLog(logger, entry)
	}()

	logger.Info("Proxying chat completion",
		"preset", pr.Name,
		"model", res.Body.Model,
		"char", res.Parsed.Char,
		"messages", len(res.Body.Messages),
		"stream", res.Body.Stream,
		"regex_failures", len(res.Diagnostics),
	)

	resp, err := s.client.Send(r.Context(), res.Body, r.Header.Get("Authorization"))
	if err != nil {
		entry.StatusCode = http.StatusBadGateway
		entry.ErrorMessage = err.Error()
		if r.Context().Err() != nil {
			logger.Info("Client went away before upstream answered", "error", err)
			recordProxied(res.Body.Stream, "canceled")
			return
		}
		logger.Error("Upstream request failed", "error", err)
		recordProxied(res.Body.Stream, "upstream_error")
		writeError(w, http.StatusBadGateway, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	entry.StatusCode = resp.StatusCode
	tail, err := s.relay(w, resp)
	if err != nil {
		entry.ErrorMessage = err.Error()
		logger.Warn("Relaying upstream response interrupted", "error", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		entry.ErrorMessage = strings.TrimSpace(string(tail))
		recordProxied(res.Body.Stream, "upstream_status")
		return
	}
	if usage, ok := upstream.ParseUsage(tail); ok {
		upstream.RecordUsage(res.Body.Model, usage)
	}
	recordProxied(res.Body.Stream, "ok")
}

// relay copies the upstream status, content headers and body to w. Event
// streams are flushed chunk by chunk. It returns the last bytes relayed.
func (s *Server) relay(w http.ResponseWriter, resp *http.Response) ([]byte, error) {
	for _, h := range []string{"Content-Type", "Cache-Control"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	streaming := strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
	if streaming {
		w.Header().Set("X-Accel-Buffering", "no")
	}
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	var tail bytes.Buffer
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return tail.Bytes(), err
			}
			relayedBytes.Add(float64(n))
			if streaming && canFlush {
				flusher.Flush()
			}
			tail.Write(buf[:n])
			if tail.Len() > maxTailBytes {
				tail.Next(tail.Len() - maxTailBytes/2)
			}
		}
		if readErr == io.EOF {
			return tail.Bytes(), nil
		}
		if readErr != nil {
			return tail.Bytes(), readErr
		}
	}
}

func (s *Server) recordProxyLog(logger *slog.Logger, entry storage.ProxyLog) {
	if s.logRepo == nil || !s.cfg.ProxyLog.Enabled {
		return
	}
	if err := s.logRepo.AddProxyLog(entry); err != nil {
		logger.Error("Failed to save proxy log", "error", err)
	}
}

func diagnosticsJSON(diags []regex.Diagnostic) string {
	if len(diags) == 0 {
		return ""
	}
	lines := make([]string, 0, len(diags))
	for _, d := range diags {
		lines = append(lines, d.String())
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return ""
	}
	return string(data)
}

// previewResponse is returned by /debug/preview.
type previewResponse struct {
	Preset      string         `json:"preset"`
	Blocks      []previewBlock `json:"blocks"`
	Body        any            `json:"body"`
	Diagnostics []string       `json:"diagnostics"`
	Parsed      map[string]any `json:"parsed"`
}

type previewBlock struct {
	Identifier string `json:"identifier"`
	Enabled    bool   `json:"enabled"`
	Marker     bool   `json:"marker"`
	Position   string `json:"position"`
	Depth      int    `json:"depth,omitempty"`
}

// previewHandler runs the pipeline and returns the body that would be sent
// upstream, without sending it.
func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	raw, status, err := readBody(w, r)
	if err != nil {
		writeError(w, status, "failed to read request body")
		return
	}
	res, pr, err := s.prepare(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := previewResponse{
		Preset:      pr.Name,
		Body:        res.Body,
		Diagnostics: []string{},
		Parsed: map[string]any{
			"user":        res.Parsed.User,
			"char":        res.Parsed.Char,
			"personality": res.Parsed.Personality,
			"scenario":    res.Parsed.Scenario,
			"persona":     res.Parsed.Persona,
			"history":     len(res.Parsed.ChatHistory),
		},
	}
	for _, b := range assembler.ActiveBlocks(pr) {
		pb := previewBlock{
			Identifier: b.Identifier,
			Enabled:    b.Enabled,
			Marker:     b.Marker,
			Position:   b.InjectionPosition.String(),
		}
		if b.InjectionPosition == preset.PositionInChat {
			pb.Depth = b.InjectionDepth
		}
		out.Blocks = append(out.Blocks, pb)
	}
	for _, d := range res.Diagnostics {
		out.Diagnostics = append(out.Diagnostics, d.String())
	}
	writeJSON(w, http.StatusOK, out)
}

// logsHandler returns recent proxy logs, newest first.
func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.logRepo == nil {
		writeError(w, http.StatusServiceUnavailable, "proxy log storage is not configured")
		return
	}

	limit := defaultLogsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogsLimit)
	}

	logs, err := s.logRepo.GetProxyLogs(limit)
	if err != nil {
		s.logger.Error("Failed to get proxy logs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get proxy logs")
		return
	}
	if logs == nil {
		logs = []storage.ProxyLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		// Log healthz and metrics at debug level, other requests at info level
		if path == "/healthz" || path == "/metrics" || r.Method == http.MethodOptions {
			s.logger.Debug("Received HTTP request",
				"method", r.Method,
				"path", path,
				"client_ip", getClientIP(r),
			)
		} else {
			s.logger.Info("Received HTTP request",
				"method", r.Method,
				"path", path,
				"client_ip", getClientIP(r),
				"user_agent", r.UserAgent(),
			)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflight requests and sets CORS headers for
// origins listed in server.allowed_origins ("*" allows any).
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With")
			h.Set("Access-Control-Expose-Headers", "X-Request-ID")
			h.Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.cfg.Server.AllowedOrigins, "*") ||
		slices.Contains(s.cfg.Server.AllowedOrigins, origin)
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only protect /debug/ routes
		if strings.HasPrefix(r.URL.Path, "/debug/") {
			if !s.cfg.Server.Auth.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok || user != s.cfg.Server.Auth.Username || pass != s.cfg.Server.Auth.Password {
				w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// errorBody mirrors the OpenAI error envelope so chat clients can show it.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	var body errorBody
	body.Error.Message = message
	body.Error.Code = status
	body.Error.Type = "proxy_error"
	if status < http.StatusInternalServerError {
		body.Error.Type = "invalid_request_error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
