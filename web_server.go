package main

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

//go:embed web/index.html
var webAssets embed.FS

// WebServer exposes the local dashboard and its JSON API. It binds to
// loopback only; the dashboard is a local control surface, not a remote one.
type WebServer struct {
	app      *App
	bus      *EventBus
	config   *ConfigService
	history  *HistoryService
	dict     *DictionaryService
	snippets *SnippetService
	models   *ModelService
	hotkeys  *HotkeyService

	srv    *http.Server
	subSeq atomic.Int64
}

// NewWebServer wires the dashboard server. history, models and hotkeys may
// be nil; the corresponding endpoints degrade gracefully.
func NewWebServer(app *App, bus *EventBus, config *ConfigService,
	history *HistoryService, dict *DictionaryService, snippets *SnippetService,
	models *ModelService, hotkeys *HotkeyService) *WebServer {
	return &WebServer{
		app:      app,
		bus:      bus,
		config:   config,
		history:  history,
		dict:     dict,
		snippets: snippets,
		models:   models,
		hotkeys:  hotkeys,
	}
}

// Start listens on 127.0.0.1:port and serves until Shutdown. Blocks; run it
// on its own goroutine.
func (ws *WebServer) Start(port int) error {
	if port <= 0 {
		port = webDefaultPort
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", addr, err)
	}
	ws.srv = &http.Server{
		Handler:           ws.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Infow("web: dashboard listening", "addr", ln.Addr().String())

	if err := ws.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.srv == nil {
		return nil
	}
	return ws.srv.Shutdown(ctx)
}

func (ws *WebServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", ws.handleIndex)
	mux.HandleFunc("GET /api/status", ws.handleStatus)
	mux.HandleFunc("POST /api/toggle", ws.handleToggle)
	mux.HandleFunc("GET /api/history", ws.handleHistoryList)
	mux.HandleFunc("DELETE /api/history", ws.handleHistoryClear)
	mux.HandleFunc("DELETE /api/history/{id}", ws.handleHistoryDelete)
	mux.HandleFunc("GET /api/config", ws.handleConfigGet)
	mux.HandleFunc("PUT /api/config", ws.handleConfigPut)
	mux.HandleFunc("GET /api/dictionary", ws.handleDictionaryGet)
	mux.HandleFunc("POST /api/dictionary", ws.handleDictionaryAdd)
	mux.HandleFunc("DELETE /api/dictionary/{word}", ws.handleDictionaryDelete)
	mux.HandleFunc("GET /api/snippets", ws.handleSnippetsGet)
	mux.HandleFunc("POST /api/snippets", ws.handleSnippetAdd)
	mux.HandleFunc("DELETE /api/snippets/{trigger}", ws.handleSnippetDelete)
	mux.HandleFunc("GET /api/events", ws.handleEvents)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnw("web: response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (ws *WebServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := webAssets.ReadFile("web/index.html")
	if err != nil {
		http.Error(w, "dashboard asset missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data) //nolint:errcheck
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"state":   ws.app.State(),
		"version": version,
	}
	if ws.hotkeys != nil {
		status["hotkey"] = FormatHotkey(ws.hotkeys.Combo())
	}
	if ws.models != nil {
		status["models"] = ws.models.Statuses()
	}
	writeJSON(w, http.StatusOK, status)
}

func (ws *WebServer) handleToggle(w http.ResponseWriter, r *http.Request) {
	ws.app.Toggle()
	writeJSON(w, http.StatusOK, map[string]string{"state": ws.app.State()})
}

// ── history ──────────────────────────────────────────────────────────────────

func (ws *WebServer) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if ws.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	q := r.URL.Query().Get("q")

	var (
		entries []HistoryEntry
		err     error
	)
	if q != "" {
		entries, err = ws.history.Search(q, limit)
	} else {
		entries, err = ws.history.Recent(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (ws *WebServer) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if ws.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history disabled")
		return
	}
	if err := ws.history.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ws *WebServer) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	if ws.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history disabled")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := ws.history.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── config ───────────────────────────────────────────────────────────────────

func (ws *WebServer) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ws.config.Get())
}

func (ws *WebServer) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	// Decode over the current config so omitted fields keep their values.
	cfg := ws.config.Get()
	oldCombo := cfg.Hotkey.Dictation
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config: "+err.Error())
		return
	}
	if err := ws.config.Update(cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ws.hotkeys != nil && cfg.Hotkey.Dictation != oldCombo {
		if err := ws.hotkeys.Reregister(cfg.Hotkey.Dictation); err != nil {
			logger.Warnw("web: hotkey change failed, old binding kept",
				"combo", cfg.Hotkey.Dictation, "err", err)
			writeError(w, http.StatusConflict, "hotkey change failed: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, ws.config.Get())
}

// ── dictionary ───────────────────────────────────────────────────────────────

func (ws *WebServer) handleDictionaryGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":     ws.dict.Entries(),
		"corrections": ws.dict.Corrections(),
	})
}

func (ws *WebServer) handleDictionaryAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Word     string `json:"word"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Word == "" {
		writeError(w, http.StatusBadRequest, "word required")
		return
	}
	if err := ws.dict.AddWord(req.Word, "manual", req.Category); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"word": req.Word})
}

func (ws *WebServer) handleDictionaryDelete(w http.ResponseWriter, r *http.Request) {
	removed, err := ws.dict.RemoveWord(r.PathValue("word"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "word not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── snippets ─────────────────────────────────────────────────────────────────

func (ws *WebServer) handleSnippetsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ws.snippets.Snippets())
}

func (ws *WebServer) handleSnippetAdd(w http.ResponseWriter, r *http.Request) {
	var req Snippet
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid snippet")
		return
	}
	if err := ws.snippets.Add(req.Trigger, req.Expansion); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (ws *WebServer) handleSnippetDelete(w http.ResponseWriter, r *http.Request) {
	removed, err := ws.snippets.Remove(r.PathValue("trigger"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "snippet not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── events ───────────────────────────────────────────────────────────────────

// handleEvents streams bus events as Server-Sent Events so the dashboard can
// show live recording state and audio levels without polling.
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := fmt.Sprintf("sse-%d", ws.subSeq.Add(1))
	events := ws.bus.Subscribe(id, 128)
	defer ws.bus.Unsubscribe(id)

	// Heartbeats keep intermediary buffers from timing the stream out.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	fmt.Fprintf(w, ": connected\n\n") //nolint:errcheck
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": keepalive\n\n") //nolint:errcheck
			flusher.Flush()
		case evt, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, payload) //nolint:errcheck
			flusher.Flush()
		}
	}
}
