package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DictionaryEntry is one custom vocabulary word.
type DictionaryEntry struct {
	Word      string    `json:"word"`
	Source    string    `json:"source"` // "manual" | "auto-learned"
	Frequency int       `json:"frequency"`
	AddedAt   time.Time `json:"added_at"`
	Category  string    `json:"category"`
}

// CorrectionPair is a learned misrecognition fix.
type CorrectionPair struct {
	Heard     string    `json:"heard"`
	Corrected string    `json:"corrected"`
	Count     int       `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
}

type dictionaryFile struct {
	Entries     []DictionaryEntry `json:"entries"`
	Corrections []CorrectionPair  `json:"corrections"`
}

// DictionaryService manages the custom vocabulary used to prime the
// transcriber, persisted as JSON. The file is also edited through the
// dashboard, so an fsnotify watcher reloads it on external writes.
type DictionaryService struct {
	mu          sync.RWMutex
	path        string
	entries     []DictionaryEntry
	corrections []CorrectionPair

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewDictionaryService creates a service at the default XDG location.
func NewDictionaryService() *DictionaryService {
	return newDictionaryServiceWithPath(filepath.Join(configDir(), "dictionary.json"))
}

func newDictionaryServiceWithPath(path string) *DictionaryService {
	return &DictionaryService{path: path, done: make(chan struct{})}
}

// Load reads the dictionary file. A missing file is an empty dictionary.
func (d *DictionaryService) Load() error {
	data, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		logger.Infow("dictionary: no file found", "path", d.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("dictionary: read: %w", err)
	}

	var file dictionaryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("dictionary: parse %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.entries = file.Entries
	d.corrections = file.Corrections
	d.mu.Unlock()
	logger.Infow("dictionary: loaded",
		"entries", len(file.Entries), "corrections", len(file.Corrections))
	return nil
}

func (d *DictionaryService) save() error {
	d.mu.RLock()
	file := dictionaryFile{Entries: d.entries, Corrections: d.corrections}
	d.mu.RUnlock()

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("dictionary: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("dictionary: mkdir: %w", err)
	}
	if err := os.WriteFile(d.path, data, 0o644); err != nil {
		return fmt.Errorf("dictionary: write: %w", err)
	}
	return nil
}

// AddWord adds a vocabulary word; duplicates bump the frequency counter.
func (d *DictionaryService) AddWord(word, source, category string) error {
	if source == "" {
		source = "manual"
	}
	if category == "" {
		category = "general"
	}

	d.mu.Lock()
	found := false
	for i := range d.entries {
		if strings.EqualFold(d.entries[i].Word, word) {
			d.entries[i].Frequency++
			found = true
			break
		}
	}
	if !found {
		d.entries = append(d.entries, DictionaryEntry{
			Word:     word,
			Source:   source,
			AddedAt:  time.Now(),
			Category: category,
		})
	}
	d.mu.Unlock()
	return d.save()
}

// RemoveWord deletes a word. Returns false if it was not present.
func (d *DictionaryService) RemoveWord(word string) (bool, error) {
	d.mu.Lock()
	idx := -1
	for i := range d.entries {
		if strings.EqualFold(d.entries[i].Word, word) {
			idx = i
			break
		}
	}
	if idx >= 0 {
		d.entries = append(d.entries[:idx], d.entries[idx+1:]...)
	}
	d.mu.Unlock()
	if idx < 0 {
		return false, nil
	}
	return true, d.save()
}

// AddCorrection records a heard→corrected pair; a repeat observation bumps
// its count toward the promotion threshold.
func (d *DictionaryService) AddCorrection(heard, corrected string) error {
	d.mu.Lock()
	found := false
	for i := range d.corrections {
		if strings.EqualFold(d.corrections[i].Heard, heard) && d.corrections[i].Corrected == corrected {
			d.corrections[i].Count++
			d.corrections[i].LastSeen = time.Now()
			found = true
			break
		}
	}
	if !found {
		d.corrections = append(d.corrections, CorrectionPair{
			Heard:     heard,
			Corrected: corrected,
			Count:     1,
			LastSeen:  time.Now(),
		})
	}
	d.mu.Unlock()
	return d.save()
}

// BuildInitialPrompt assembles the transcriber priming sentence from manual
// entries, auto-learned words seen often enough, and promoted corrections.
// Returns "" when there is nothing to prime with.
func (d *DictionaryService) BuildInitialPrompt(promotionThreshold int) string {
	if promotionThreshold <= 0 {
		promotionThreshold = correctionPromotionThreshold
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var words []string
	seen := make(map[string]bool)
	add := func(w string) {
		key := strings.ToLower(w)
		if !seen[key] {
			seen[key] = true
			words = append(words, w)
		}
	}

	for _, e := range d.entries {
		if e.Source == "manual" || e.Frequency >= promotionThreshold {
			add(e.Word)
		}
	}
	for _, c := range d.corrections {
		if c.Count >= promotionThreshold {
			add(c.Corrected)
		}
	}

	if len(words) == 0 {
		return ""
	}
	return "Context words: " + strings.Join(words, ", ") + "."
}

// PromotedCorrections returns heard→corrected pairs at or above the
// promotion threshold, for the refinement prompt.
func (d *DictionaryService) PromotedCorrections(promotionThreshold int) map[string]string {
	if promotionThreshold <= 0 {
		promotionThreshold = correctionPromotionThreshold
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string)
	for _, c := range d.corrections {
		if c.Count >= promotionThreshold {
			out[c.Heard] = c.Corrected
		}
	}
	return out
}

// Entries returns a copy of the vocabulary entries.
func (d *DictionaryService) Entries() []DictionaryEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DictionaryEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Corrections returns a copy of the correction pairs.
func (d *DictionaryService) Corrections() []CorrectionPair {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]CorrectionPair, len(d.corrections))
	copy(out, d.corrections)
	return out
}

// Watch reloads the dictionary when its file changes on disk (dashboard or
// manual edits). No-op if the containing directory does not exist yet.
func (d *DictionaryService) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("dictionary: watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files by rename,
	// which drops a direct file watch.
	if err := w.Add(filepath.Dir(d.path)); err != nil {
		w.Close() //nolint:errcheck
		return fmt.Errorf("dictionary: watch %s: %w", filepath.Dir(d.path), err)
	}
	d.watcher = w

	go func() {
		for {
			select {
			case <-d.done:
				return
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if evt.Name != d.path {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logger.Debugw("dictionary: file changed, reloading")
				if err := d.Load(); err != nil {
					logger.Warnw("dictionary: reload failed", "err", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warnw("dictionary: watch error", "err", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher.
func (d *DictionaryService) Close() error {
	close(d.done)
	if d.watcher != nil {
		return d.watcher.Close()
	}
	return nil
}
