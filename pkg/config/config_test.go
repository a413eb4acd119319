package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected default provider ollama, got %s", cfg.LLM.Provider)
	}
	if cfg.Agent.MaxSteps != 12 || cfg.Agent.DisplayLimit != 500 || cfg.Agent.PreviewItems != 5 {
		t.Errorf("unexpected agent defaults %+v", cfg.Agent)
	}
	if cfg.Engine.Tolerance != 1e-5 || cfg.Engine.TiePolicy != "all" || cfg.Engine.EmptyUnit != "dimensionless" {
		t.Errorf("unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.Agent.ExemplarMinHistory != 2 {
		t.Errorf("expected exemplar min history 2, got %d", cfg.Agent.ExemplarMinHistory)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("KOPL_LLM_PROVIDER", "openai")
	t.Setenv("KOPL_LLM_BASE_URL", "http://vllm:8000/v1")
	t.Setenv("KOPL_AGENT_MAX_STEPS", "20")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected provider openai from env, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.BaseURL != "http://vllm:8000/v1" {
		t.Errorf("expected base url from env, got %s", cfg.LLM.BaseURL)
	}
	if cfg.Agent.MaxSteps != 20 {
		t.Errorf("expected max steps 20, got %d", cfg.Agent.MaxSteps)
	}
}

func TestLoadWithProfile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yaml")
	writeFile(t, base, "llm:\n  provider: ollama\n  model: llama3.1\nlog:\n  level: info\n")
	writeFile(t, filepath.Join(dir, "config.dev.yaml"), "llm:\n  provider: mock\nlog:\n  level: debug\n")

	tests := []struct {
		profile   string
		provider  string
		level     string
		wantModel string
	}{
		{"", "ollama", "info", "llama3.1"},
		{"dev", "mock", "debug", "llama3.1"},
		{"prod", "ollama", "info", "llama3.1"},
	}
	for _, tc := range tests {
		cfg, err := LoadWithProfile(base, tc.profile)
		if err != nil {
			t.Fatalf("profile %q: %v", tc.profile, err)
		}
		if cfg.LLM.Provider != tc.provider || cfg.Log.Level != tc.level || cfg.LLM.Model != tc.wantModel {
			t.Errorf("profile %q: got %s/%s/%s", tc.profile, cfg.LLM.Provider, cfg.Log.Level, cfg.LLM.Model)
		}
	}
}

func TestLoadWithCLIOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	writeFile(t, path, `{"llm": {"provider": "ollama", "model": "model-a"}, "telemetry": {"exporter": "stdout"}}`)
	t.Setenv("KOPL_LLM_PROVIDER", "openai")

	cfg, err := LoadWithCLI([]string{
		"ask", "--config", path,
		"--set", "llm.provider=mock",
		"--set=agent.decision=exemplar",
		"--set", "agent.exemplar_threshold=0.9",
		"--set", "telemetry.otlp_insecure=false",
		"--hints",
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.LLM.Provider != "mock" {
		t.Fatalf("expected cli override provider, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "model-a" || cfg.Telemetry.Exporter != "stdout" {
		t.Fatalf("file values lost: %+v %+v", cfg.LLM, cfg.Telemetry)
	}
	if cfg.Agent.Decision != "exemplar" || cfg.Agent.ExemplarThreshold != 0.9 {
		t.Fatalf("unexpected agent config %+v", cfg.Agent)
	}
	if cfg.Telemetry.OTLPInsecure {
		t.Fatalf("expected otlp_insecure=false")
	}
}

func TestLoadWithCLIProfile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yaml")
	writeFile(t, base, "llm:\n  provider: ollama\n")
	writeFile(t, filepath.Join(dir, "config.dev.yaml"), "llm:\n  provider: mock\n")

	for _, args := range [][]string{
		{"--config", base, "--profile", "dev"},
		{"--config", base, "--env", "dev"},
		{"--config=" + base, "--profile=dev"},
	} {
		cfg, err := LoadWithCLI(args)
		if err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		if cfg.LLM.Provider != "mock" {
			t.Errorf("%v: provider %s, want mock", args, cfg.LLM.Provider)
		}
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	for _, args := range [][]string{{"--config"}, {"--set"}, {"--set", "invalid"}, {"--set", "=x"}} {
		if _, _, err := parseCLIOverrides(args); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	for _, set := range []string{"llm.provider=claude", "engine.tie_policy=random", "agent.max_steps=0", "telemetry.exporter=jaeger"} {
		if _, err := LoadWithCLI([]string{"--set", set}); err == nil {
			t.Fatalf("expected validation error for %s", set)
		}
	}
}

func TestProfileConfigPath(t *testing.T) {
	dir := t.TempDir()
	devPath := filepath.Join(dir, "config.dev.yaml")
	writeFile(t, devPath, "log:\n  level: debug\n")
	base := filepath.Join(dir, "config.yaml")

	tests := []struct {
		base, profile, want string
	}{
		{base, "dev", devPath},
		{base, "prod", ""},
		{base, "", ""},
		{"", "dev", ""},
	}
	for _, tc := range tests {
		if got := profileConfigPath(tc.base, tc.profile); got != tc.want {
			t.Errorf("profileConfigPath(%q, %q) = %q, want %q", tc.base, tc.profile, got, tc.want)
		}
	}
	if got := WatchPaths(base, "dev"); len(got) != 2 || got[1] != devPath {
		t.Errorf("unexpected watch paths %v", got)
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	w, err := NewWatcher([]string{path}, func() (*Config, error) { return Load(path) }, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.Config().Log.Level != "info" {
		t.Fatalf("unexpected initial level %s", w.Config().Log.Level)
	}
	changed := make(chan string, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg.Log.Level:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	writeFile(t, path, "log:\n  level: debug\n")
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case level := <-changed:
		if level != "debug" {
			t.Fatalf("expected debug after reload, got %s", level)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not reload")
	}
}
