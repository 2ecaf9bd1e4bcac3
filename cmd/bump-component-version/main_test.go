package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testManifest = `{
  "rolloutPct": 10,
  "components": [
    {"name": "rise-image", "version": "2023.01.01.00.00", "url": "https://example.test/image"},
    {"name": "rise-video", "version": "2023.01.01.00.00"}
  ]
}`

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte(testManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

type manifestView struct {
	RolloutPct float64 `json:"rolloutPct"`
	Components []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		URL     string `json:"url"`
	} `json:"components"`
}

func readManifest(t *testing.T, path string) manifestView {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var view manifestView
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	return view
}

func TestRunBumpsNamedComponent(t *testing.T) {
	path := writeManifest(t)
	var stderr bytes.Buffer
	if code := run([]string{path, "rise-image", "2024.05.01.10.00"}, &stderr); code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	view := readManifest(t, path)
	if view.Components[0].Version != "2024.05.01.10.00" {
		t.Fatalf("expected bumped version, got %q", view.Components[0].Version)
	}
	if view.Components[0].URL != "https://example.test/image" {
		t.Fatalf("expected other fields to survive, got %q", view.Components[0].URL)
	}
	if view.Components[1].Version != "2023.01.01.00.00" {
		t.Fatalf("expected other component untouched, got %q", view.Components[1].Version)
	}
	if view.RolloutPct != 10 {
		t.Fatalf("expected rollout untouched, got %v", view.RolloutPct)
	}
}

func TestRunSetsRolloutPct(t *testing.T) {
	path := writeManifest(t)
	if code := run([]string{path, "rise-video", "2024.05.01.10.00", "0"}, &bytes.Buffer{}); code != 0 {
		t.Fatalf("expected success, got %d", code)
	}
	if view := readManifest(t, path); view.RolloutPct != 0 {
		t.Fatalf("expected rollout 0, got %v", view.RolloutPct)
	}
	if code := run([]string{path, "rise-video", "2024.05.01.10.00", "55"}, &bytes.Buffer{}); code != 0 {
		t.Fatalf("expected success, got %d", code)
	}
	if view := readManifest(t, path); view.RolloutPct != 55 {
		t.Fatalf("expected rollout 55, got %v", view.RolloutPct)
	}
}

func TestRunRejectsBadArguments(t *testing.T) {
	path := writeManifest(t)
	cases := [][]string{
		{},
		{"manifest.yaml", "rise-image", "2024.05.01"},
		{path, "", "2024.05.01"},
		{path, "rise-image", "1.0.0"},
		{path, "rise-image", "2024.05.01", "lots"},
	}
	for _, args := range cases {
		var stderr bytes.Buffer
		if code := run(args, &stderr); code == 0 {
			t.Fatalf("expected failure for %v", args)
		}
		if !strings.HasPrefix(stderr.String(), "usage: ") {
			t.Fatalf("expected usage for %v, got %q", args, stderr.String())
		}
	}
	if view := readManifest(t, path); view.Components[0].Version != "2023.01.01.00.00" {
		t.Fatalf("expected manifest untouched, got %q", view.Components[0].Version)
	}
}

func TestRunRejectsInvalidManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte(`{"components": "none"}`), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	var stderr bytes.Buffer
	if code := run([]string{path, "rise-image", "2024.05.01"}, &stderr); code == 0 {
		t.Fatalf("expected failure for invalid manifest")
	}
	if !strings.Contains(stderr.String(), "invalid manifest") {
		t.Fatalf("expected schema error, got %q", stderr.String())
	}
}
