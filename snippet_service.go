package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Snippet is a voice trigger phrase and its expansion.
type Snippet struct {
	Trigger   string `yaml:"trigger" json:"trigger"`
	Expansion string `yaml:"expansion" json:"expansion"`
}

type snippetFile struct {
	Snippets []Snippet `yaml:"snippets"`
}

// SnippetService expands user-defined trigger phrases inside transcribed
// text. Triggers match case-insensitively anywhere in the text.
type SnippetService struct {
	mu       sync.RWMutex
	path     string
	snippets []Snippet
}

// NewSnippetService creates a service at the default XDG location.
func NewSnippetService() *SnippetService {
	return newSnippetServiceWithPath(filepath.Join(configDir(), "snippets.yaml"))
}

func newSnippetServiceWithPath(path string) *SnippetService {
	return &SnippetService{path: path}
}

// Load reads the snippets file. A missing file means no snippets.
func (s *SnippetService) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		logger.Infow("snippets: no file found", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("snippets: read: %w", err)
	}

	var file snippetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("snippets: parse %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.snippets = file.Snippets
	s.mu.Unlock()
	logger.Infow("snippets: loaded", "count", len(file.Snippets))
	return nil
}

func (s *SnippetService) save() error {
	s.mu.RLock()
	file := snippetFile{Snippets: s.snippets}
	s.mu.RUnlock()

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("snippets: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("snippets: mkdir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("snippets: write: %w", err)
	}
	return nil
}

// Expand replaces every case-insensitive occurrence of each trigger phrase
// with its expansion. Expansions are not re-scanned for the same trigger,
// so a trigger appearing inside its own expansion cannot loop.
func (s *SnippetService) Expand(text string) string {
	s.mu.RLock()
	snippets := s.snippets
	s.mu.RUnlock()

	result := text
	for _, sn := range snippets {
		if sn.Trigger == "" {
			continue
		}
		lowerTrigger := strings.ToLower(sn.Trigger)
		lowerResult := strings.ToLower(result)
		idx := strings.Index(lowerResult, lowerTrigger)
		for idx != -1 {
			result = result[:idx] + sn.Expansion + result[idx+len(sn.Trigger):]
			lowerResult = strings.ToLower(result)
			next := strings.Index(lowerResult[idx+len(sn.Expansion):], lowerTrigger)
			if next == -1 {
				break
			}
			idx = idx + len(sn.Expansion) + next
		}
	}
	return result
}

// Add appends a snippet and persists.
func (s *SnippetService) Add(trigger, expansion string) error {
	if strings.TrimSpace(trigger) == "" {
		return fmt.Errorf("snippets: empty trigger")
	}
	s.mu.Lock()
	s.snippets = append(s.snippets, Snippet{Trigger: trigger, Expansion: expansion})
	s.mu.Unlock()
	return s.save()
}

// Remove deletes a snippet by trigger. Returns false if not found.
func (s *SnippetService) Remove(trigger string) (bool, error) {
	s.mu.Lock()
	idx := -1
	for i := range s.snippets {
		if strings.EqualFold(s.snippets[i].Trigger, trigger) {
			idx = i
			break
		}
	}
	if idx >= 0 {
		s.snippets = append(s.snippets[:idx], s.snippets[idx+1:]...)
	}
	s.mu.Unlock()
	if idx < 0 {
		return false, nil
	}
	return true, s.save()
}

// Snippets returns a copy of the snippet list.
func (s *SnippetService) Snippets() []Snippet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snippet, len(s.snippets))
	copy(out, s.snippets)
	return out
}
