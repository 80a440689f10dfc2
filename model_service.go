package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// httpClient is shared across all downloads and forces HTTP/1.1.
// HuggingFace CDN sometimes sends HTTP/2 GOAWAY frames mid-transfer which
// crash Go's internal h2 read-loop goroutine; disabling H2 avoids this.
var httpClient = &http.Client{
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		TLSNextProto:    make(map[string]func(string, *tls.Conn) http.RoundTripper), // disable HTTP/2
	},
}

// modelEntry describes a downloadable model resource.
type modelEntry struct {
	Name      string // e.g. "base"
	FileName  string // e.g. "ggml-base.bin"
	SizeLabel string // human-readable size for the dashboard
	URL       string
}

// whisperRegistry lists supported whisper.cpp models in display order.
// Multilingual variants — the transcription language is configurable.
var whisperRegistry = []modelEntry{
	{
		Name:      "tiny",
		FileName:  "ggml-tiny.bin",
		SizeLabel: "75 MB",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin",
	},
	{
		Name:      "base",
		FileName:  "ggml-base.bin",
		SizeLabel: "142 MB",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin",
	},
	{
		Name:      "small",
		FileName:  "ggml-small.bin",
		SizeLabel: "466 MB",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin",
	},
	{
		Name:      "medium",
		FileName:  "ggml-medium.bin",
		SizeLabel: "1.5 GB",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.bin",
	},
	{
		Name:      "large-v3-turbo",
		FileName:  "ggml-large-v3-turbo.bin",
		SizeLabel: "1.6 GB",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3-turbo.bin",
	},
	{
		Name:      "large-v3",
		FileName:  "ggml-large-v3.bin",
		SizeLabel: "3.1 GB",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3.bin",
	},
}

var sileroModel = modelEntry{
	Name:      "silero-vad",
	FileName:  "silero_vad.onnx",
	SizeLabel: "2 MB",
	URL:       "https://raw.githubusercontent.com/snakers4/silero-vad/master/src/silero_vad/data/silero_vad.onnx",
}

// Model download status values reported to the dashboard.
const (
	modelStatusDownloaded    = "downloaded"
	modelStatusNotDownloaded = "not_downloaded"
	modelStatusDownloading   = "downloading"
)

// ModelService fetches and caches model files under the XDG dirs: whisper
// ggml models in the data dir, the VAD model in the cache dir.
type ModelService struct {
	bus       *EventBus
	modelsDir string
	vadDir    string

	mu         sync.Mutex
	inProgress map[string]bool
}

// NewModelService creates a ModelService pointing at the standard dirs.
func NewModelService(bus *EventBus) *ModelService {
	return &ModelService{
		bus:        bus,
		modelsDir:  filepath.Join(dataDir(), "models"),
		vadDir:     cacheDir(),
		inProgress: make(map[string]bool),
	}
}

// ModelPath returns the expected file path for a whisper model name.
func (ms *ModelService) ModelPath(name string) string {
	return filepath.Join(ms.modelsDir, "ggml-"+name+".bin")
}

// VADModelPath returns the silero model location.
func (ms *ModelService) VADModelPath() string {
	return filepath.Join(ms.vadDir, sileroModel.FileName)
}

// Statuses reports each known model's download state.
func (ms *ModelService) Statuses() map[string]string {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	result := make(map[string]string, len(whisperRegistry)+1)
	entries := append([]modelEntry{}, whisperRegistry...)
	entries = append(entries, sileroModel)
	for _, m := range entries {
		switch {
		case ms.inProgress[m.Name]:
			result[m.Name] = modelStatusDownloading
		case ms.exists(m):
			result[m.Name] = modelStatusDownloaded
		default:
			result[m.Name] = modelStatusNotDownloaded
		}
	}
	return result
}

func (ms *ModelService) exists(entry modelEntry) bool {
	_, err := os.Stat(ms.destPath(entry))
	return err == nil
}

func (ms *ModelService) destPath(entry modelEntry) string {
	if entry.Name == sileroModel.Name {
		return filepath.Join(ms.vadDir, entry.FileName)
	}
	return filepath.Join(ms.modelsDir, entry.FileName)
}

// EnsureWhisperModel downloads the named whisper model if it is not cached.
// Synchronous; returns once the file is in place.
func (ms *ModelService) EnsureWhisperModel(name string) error {
	for i := range whisperRegistry {
		if whisperRegistry[i].Name == name {
			return ms.ensure(whisperRegistry[i])
		}
	}
	return fmt.Errorf("%w: unknown model %q", ErrModelNotFound, name)
}

// EnsureVADModel downloads the silero model if it is not cached.
func (ms *ModelService) EnsureVADModel() error {
	return ms.ensure(sileroModel)
}

// Prefetch fetches the configured whisper model and the VAD model
// concurrently. First-run convenience; individual services still ensure
// their model on load.
func (ms *ModelService) Prefetch(whisperModel string) error {
	var g errgroup.Group
	g.Go(func() error { return ms.EnsureWhisperModel(whisperModel) })
	g.Go(func() error { return ms.EnsureVADModel() })
	return g.Wait()
}

func (ms *ModelService) ensure(entry modelEntry) error {
	if ms.exists(entry) {
		return nil
	}

	ms.mu.Lock()
	if ms.inProgress[entry.Name] {
		ms.mu.Unlock()
		return fmt.Errorf("model: %q download already in progress", entry.Name)
	}
	ms.inProgress[entry.Name] = true
	ms.mu.Unlock()
	defer func() {
		ms.mu.Lock()
		delete(ms.inProgress, entry.Name)
		ms.mu.Unlock()
	}()

	if err := ms.download(entry); err != nil {
		ms.bus.Emit(evtModelError, map[string]interface{}{
			"name": entry.Name, "error": err.Error(),
		})
		return err
	}
	ms.bus.Emit(evtModelDone, map[string]interface{}{"name": entry.Name})
	return nil
}

// download streams the model to a temp file and renames it into place, so
// an interrupted download never leaves a half-written model behind.
func (ms *ModelService) download(entry modelEntry) error {
	dest := ms.destPath(entry)
	logger.Infow("model: downloading", "name", entry.Name, "size", entry.SizeLabel, "url", entry.URL)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("model: mkdir: %w", err)
	}

	tmpPath := dest + ".download"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("model: create temp file: %w", err)
	}
	defer os.Remove(tmpPath) //nolint:errcheck — no-op after successful rename

	resp, err := httpClient.Get(entry.URL) //nolint:noctx — intentional long-running download
	if err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("model: fetch %s: %w", entry.URL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		f.Close() //nolint:errcheck
		return fmt.Errorf("model: fetch %s: server returned %d", entry.URL, resp.StatusCode)
	}

	total := resp.ContentLength // may be -1 if unknown
	var downloaded int64
	lastPct := -1

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close() //nolint:errcheck
				return fmt.Errorf("model: write: %w", werr)
			}
			downloaded += int64(n)
			if total > 0 {
				pct := int(downloaded * 100 / total)
				if pct != lastPct {
					lastPct = pct
					ms.bus.Emit(evtModelProgress, map[string]interface{}{
						"name": entry.Name, "pct": pct,
					})
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close() //nolint:errcheck
			return fmt.Errorf("model: read body: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("model: close: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("model: rename into place: %w", err)
	}
	logger.Infow("model: downloaded", "name", entry.Name, "bytes", downloaded)
	return nil
}
