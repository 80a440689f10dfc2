package main

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func itoa64(n int64) string { return strconv.FormatInt(n, 10) }

func newTestWebServer(t *testing.T) (*WebServer, *testApp, *httptest.Server) {
	t.Helper()
	ta := newTestApp(t)

	history, err := newHistoryServiceAtPath(filepath.Join(t.TempDir(), "history.db"), 30)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { history.Close() })
	dict := newDictionaryServiceWithPath(filepath.Join(t.TempDir(), "dictionary.json"))

	ws := NewWebServer(ta.app, ta.bus, ta.app.config, history, dict, ta.app.snippets, nil, nil)
	srv := httptest.NewServer(ws.handler())
	t.Cleanup(srv.Close)
	return ws, ta, srv
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestWebStatus(t *testing.T) {
	_, _, srv := newTestWebServer(t)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]interface{}
	decodeBody(t, resp, &body)
	if body["state"] != stateIdle {
		t.Errorf("state = %v", body["state"])
	}
	if body["version"] != version {
		t.Errorf("version = %v", body["version"])
	}
}

func TestWebHistoryEndpoints(t *testing.T) {
	ws, _, srv := newTestWebServer(t)

	id, err := ws.history.Add("hello from the api", "", 2*time.Second, "Terminal", "en")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ws.history.Add("unrelated entry", "", time.Second, "", "en"); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	var entries []HistoryEntry
	decodeBody(t, resp, &entries)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	resp, err = http.Get(srv.URL + "/api/history?q=api")
	if err != nil {
		t.Fatal(err)
	}
	decodeBody(t, resp, &entries)
	if len(entries) != 1 || entries[0].RawText != "hello from the api" {
		t.Fatalf("search results = %+v", entries)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/history/"+itoa64(id), "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	remaining, _ := ws.history.Recent(0)
	if len(remaining) != 1 {
		t.Errorf("entries after delete = %d", len(remaining))
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/history", "")
	resp.Body.Close()
	remaining, _ = ws.history.Recent(0)
	if len(remaining) != 0 {
		t.Errorf("entries after clear = %d", len(remaining))
	}
}

func TestWebConfigRoundTrip(t *testing.T) {
	_, ta, srv := newTestWebServer(t)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/config",
		`{"stt": {"backend": "whisper", "model": "small", "language": "de"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	cfg := ta.app.config.Get()
	if cfg.STT.Model != "small" || cfg.STT.Language != "de" {
		t.Errorf("stt config not applied: %+v", cfg.STT)
	}
	// Omitted sections keep their values.
	if cfg.Web.Port != webDefaultPort {
		t.Errorf("web port changed unexpectedly: %d", cfg.Web.Port)
	}
}

func TestWebDictionaryEndpoints(t *testing.T) {
	ws, _, srv := newTestWebServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/dictionary", `{"word": "kubernetes"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d", resp.StatusCode)
	}
	if len(ws.dict.Entries()) != 1 {
		t.Fatalf("entries = %d", len(ws.dict.Entries()))
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/dictionary", `{}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty word status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/dictionary/kubernetes", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/dictionary/missing", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing word status = %d", resp.StatusCode)
	}
}

func TestWebSnippetEndpoints(t *testing.T) {
	_, ta, srv := newTestWebServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/snippets",
		`{"trigger": "my address", "expansion": "1 Main St"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d", resp.StatusCode)
	}
	if got := ta.app.snippets.Expand("ship to my address"); got != "ship to 1 Main St" {
		t.Errorf("expand = %q", got)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/snippets", `{"trigger": "  "}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank trigger status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/snippets/my%20address", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
}

func TestWebEventStream(t *testing.T) {
	_, ta, srv := newTestWebServer(t)

	resp, err := http.Get(srv.URL + "/api/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("handshake line = %q, err = %v", line, err)
	}

	// Subscriber registration is synchronous in handleEvents, but the
	// handler goroutine may not have reached Subscribe yet; give it a beat.
	time.Sleep(50 * time.Millisecond)
	ta.bus.Emit(evtRecordingStarted, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream read: %v", err)
		}
		if strings.TrimSpace(line) == "event: "+evtRecordingStarted {
			return
		}
	}
	t.Fatal("recording.started never arrived on the stream")
}

func TestWebIndexServed(t *testing.T) {
	_, _, srv := newTestWebServer(t)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
}
