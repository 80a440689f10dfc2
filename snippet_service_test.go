package main

import (
	"path/filepath"
	"testing"
)

func newTestSnippets(t *testing.T, snippets ...Snippet) *SnippetService {
	t.Helper()
	s := newSnippetServiceWithPath(filepath.Join(t.TempDir(), "snippets.yaml"))
	for _, sn := range snippets {
		if err := s.Add(sn.Trigger, sn.Expansion); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestSnippetExpansion(t *testing.T) {
	s := newTestSnippets(t,
		Snippet{Trigger: "my email", Expansion: "dev@example.com"},
		Snippet{Trigger: "sign off", Expansion: "Best regards,\nAlex"},
	)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no trigger", "nothing to expand here", "nothing to expand here"},
		{"single trigger", "send it to my email please", "send it to dev@example.com please"},
		{"case-insensitive", "send it to My Email please", "send it to dev@example.com please"},
		{"trigger at end", "add the sign off", "add the Best regards,\nAlex"},
		{"repeated trigger", "my email and my email", "dev@example.com and dev@example.com"},
		{"empty input", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Expand(tt.in); got != tt.want {
				t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSnippetSelfReferencingExpansionTerminates(t *testing.T) {
	s := newTestSnippets(t, Snippet{Trigger: "addr", Expansion: "addr line one"})
	got := s.Expand("my addr here")
	if got != "my addr line one here" {
		t.Errorf("got %q", got)
	}
}

func TestSnippetAddRemovePersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snippets.yaml")
	s := newSnippetServiceWithPath(path)
	if err := s.Add("brb", "be right back"); err != nil {
		t.Fatal(err)
	}

	s2 := newSnippetServiceWithPath(path)
	if err := s2.Load(); err != nil {
		t.Fatal(err)
	}
	if len(s2.Snippets()) != 1 {
		t.Fatalf("snippets after reload = %d", len(s2.Snippets()))
	}

	removed, err := s2.Remove("BRB")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Error("case-insensitive remove failed")
	}
	if got := s2.Expand("brb soon"); got != "brb soon" {
		t.Errorf("removed snippet still expands: %q", got)
	}
}

func TestSnippetEmptyTriggerRejected(t *testing.T) {
	s := newTestSnippets(t)
	if err := s.Add("  ", "x"); err == nil {
		t.Fatal("expected error for blank trigger")
	}
}

func TestSnippetMissingFileLoads(t *testing.T) {
	s := newSnippetServiceWithPath(filepath.Join(t.TempDir(), "none.yaml"))
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if got := s.Expand("unchanged"); got != "unchanged" {
		t.Errorf("got %q", got)
	}
}
