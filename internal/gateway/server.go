// Package gateway exposes the engine over HTTP: a JSON control API, a
// websocket event stream, and an MCP endpoint for agent tooling.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ogb4n/Jarvis/internal/audio"
	"github.com/ogb4n/Jarvis/internal/conversation"
	"github.com/ogb4n/Jarvis/internal/history"
	"github.com/ogb4n/Jarvis/internal/logging"
	"github.com/ogb4n/Jarvis/internal/stt"
	"github.com/ogb4n/Jarvis/internal/tts"
	"github.com/ogb4n/Jarvis/internal/voice"
)

const maxBodyBytes = 10 << 20

// Server wires the detector, session manager and optional collaborators
// behind HTTP handlers.
type Server struct {
	detector    *voice.Detector
	manager     *conversation.Manager
	transcriber stt.Transcriber
	speaker     tts.Speaker
	store       *history.Store // may be nil
	hub         *Hub
	sampleRate  int

	http *http.Server
}

// Options configures the gateway server. Store may be nil when persistence
// is disabled.
type Options struct {
	Addr        string
	Detector    *voice.Detector
	Manager     *conversation.Manager
	Transcriber stt.Transcriber
	Speaker     tts.Speaker
	Store       *history.Store
	Hub         *Hub
	SampleRate  int
}

func NewServer(opts Options) *Server {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	s := &Server{
		detector:    opts.Detector,
		manager:     opts.Manager,
		transcriber: opts.Transcriber,
		speaker:     opts.Speaker,
		store:       opts.Store,
		hub:         opts.Hub,
		sampleRate:  opts.SampleRate,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/conversation/start", s.handleStart)
	mux.HandleFunc("/api/conversation/stop", s.handleStop)
	mux.HandleFunc("/api/conversation/status", s.handleStatus)
	mux.HandleFunc("/api/conversation/history", s.handleHistory)
	mux.HandleFunc("/api/conversation/config", s.handleConfig)
	mux.HandleFunc("/api/conversation/simulate-wake", s.handleSimulateWake)
	mux.HandleFunc("/api/conversation/send-command", s.handleSendCommand)
	mux.HandleFunc("/api/history/commands", s.handleCommandHistory)
	mux.HandleFunc("/api/audio/speak", s.handleSpeak)
	mux.HandleFunc("/api/audio/transcribe", s.handleTranscribe)
	if s.hub != nil {
		mux.Handle("/api/events", s.hub)
	}
	mux.HandleFunc("/mcp/ws", s.handleMCP)

	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	logging.Infow("gateway: listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and closes the event hub.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": s.detector.Running(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.detector.Start(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.detector.Stop()
	s.manager.Stop()
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	det := s.detector.Status()
	conv := s.manager.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"detector":     det,
		"conversation": conv,
		"dropped":      s.detector.Drops(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	messages, found := s.manager.History(sessionID)
	if !found {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if messages == nil {
		messages = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

// handleCommandHistory reads persisted exchanges from ClickHouse. Returns
// 503 when persistence is not configured.
func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history persistence not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.store.Recent(r.Context(), r.URL.Query().Get("satellite_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.detector.Config())
	case http.MethodPost, http.MethodPut:
		var update voice.ConfigUpdate
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.detector.UpdateConfig(update); err != nil {
			if voice.IsValidation(err) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.detector.Config())
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or POST required")
	}
}

func (s *Server) handleSimulateWake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var body struct {
		Transcript string `json:"transcript"`
	}
	json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body)
	if err := s.detector.SimulateWake(body.Transcript); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "wake_simulated"})
}

func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil || body.Text == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}
	if err := s.manager.SendCommand(body.Text); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "command_processed"})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var body struct {
		Text     string `json:"text"`
		Blocking bool   `json:"blocking"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil || body.Text == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}
	ok := s.speaker.Speak(r.Context(), body.Text, body.Blocking)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": ok})
}

// handleTranscribe accepts raw PCM16 little-endian mono audio in the request
// body and returns the transcription.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(payload) < 2 {
		writeError(w, http.StatusBadRequest, "audio body required")
		return
	}
	language := r.URL.Query().Get("language")
	if language == "" {
		language = s.detector.Config().Language
	}
	samples := audio.PCM16ToFloat32(payload)
	result, err := s.transcriber.Transcribe(r.Context(), samples, s.sampleRate, language)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"text":       result.Text,
		"language":   result.Language,
		"confidence": result.Confidence,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warnw("gateway: response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}
