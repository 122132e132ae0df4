package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfigMergeAndOverrides(t *testing.T) {
	tempDir := t.TempDir()
	defaultPath := filepath.Join(tempDir, "default.yaml")
	globalPath := filepath.Join(tempDir, "global.yaml")
	projectDir := filepath.Join(tempDir, "project")
	projectPath := filepath.Join(projectDir, ".glot.yaml")

	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("mkdir project: %v", err)
	}

	writeFile(t, defaultPath, "defaults:\n  language: French\n  backend: groq\nlogging:\n  level: info\n")
	writeFile(t, globalPath, "defaults:\n  language: German\nlogging:\n  level: warn\n")
	writeFile(t, projectPath, "defaults:\n  language: Japanese\n")

	t.Setenv("GLOT_DEFAULT_CONFIG", defaultPath)
	t.Setenv("GLOT_GLOBAL_CONFIG", globalPath)
	t.Setenv("GLOT_PROJECT_CONFIG_NAME", ".glot.yaml")

	paths, err := LoadConfig(projectDir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if paths.Project != projectPath || CurrentPaths() != paths {
		t.Fatalf("unexpected paths: %+v", paths)
	}

	if value, ok := GetConfig("defaults.language"); !ok || value != "Japanese" {
		t.Fatalf("expected language Japanese, got %q", value)
	}

	if value, ok := GetConfig("defaults.backend"); !ok || value != "groq" {
		t.Fatalf("expected backend groq, got %q", value)
	}

	if value, ok := GetConfig("logging.level"); !ok || value != "warn" {
		t.Fatalf("expected logging.level warn, got %q", value)
	}

	if value := GetString("server.host", ""); value != "127.0.0.1" {
		t.Fatalf("expected built-in default host, got %q", value)
	}

	t.Setenv("GLOT_DEFAULTS_LANGUAGE", "Korean")
	if value, ok := GetConfig("defaults.language"); !ok || value != "Korean" {
		t.Fatalf("expected env override Korean, got %q", value)
	}

	t.Setenv("GLOT_LANGUAGE", "Italian")
	if value, ok := GetConfig("defaults.language"); !ok || value != "Italian" {
		t.Fatalf("expected legacy override Italian, got %q", value)
	}
}

func TestTypedGetters(t *testing.T) {
	tempDir := t.TempDir()
	globalPath := filepath.Join(tempDir, "config.yaml")
	writeFile(t, globalPath, "server:\n  port: 9090\ntracing:\n  enabled: true\n  sample_rate: 0.25\ndefaults:\n  timeout: 15\n  model: \"\"\n")
	t.Setenv("GLOT_DEFAULT_CONFIG", filepath.Join(tempDir, "missing.yaml"))
	t.Setenv("GLOT_GLOBAL_CONFIG", globalPath)

	if _, err := LoadConfig(tempDir); err != nil {
		t.Fatalf("load config: %v", err)
	}

	if port, err := GetInt("server.port", 0); err != nil || port != 9090 {
		t.Fatalf("expected port 9090, got %d (%v)", port, err)
	}
	if enabled, err := GetBool("tracing.enabled", false); err != nil || !enabled {
		t.Fatalf("expected tracing enabled, got %v (%v)", enabled, err)
	}
	if rate, err := GetFloat("tracing.sample_rate", 1); err != nil || rate != 0.25 {
		t.Fatalf("expected sample rate 0.25, got %v (%v)", rate, err)
	}
	if timeout, err := GetDuration("defaults.timeout", 0); err != nil || timeout != 15*time.Second {
		t.Fatalf("expected 15s timeout, got %v (%v)", timeout, err)
	}
	if model := GetString("defaults.model", "fallback"); model != "fallback" {
		t.Fatalf("expected blank model to fall back, got %q", model)
	}

	t.Setenv("GLOT_SERVER_PORT", "not-a-port")
	if _, err := GetInt("server.port", 0); err == nil {
		t.Fatal("expected parse error for invalid port")
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30":    30 * time.Second,
		"1m30s": 90 * time.Second,
		" 2s ":  2 * time.Second,
	}
	for input, want := range cases {
		got, err := ParseDuration(input)
		if err != nil || got != want {
			t.Fatalf("ParseDuration(%q) = %v, %v; want %v", input, got, err, want)
		}
	}
	for _, input := range []string{"soon", "-5", "-1s"} {
		if _, err := ParseDuration(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestSetConfigWritesGlobal(t *testing.T) {
	tempDir := t.TempDir()
	globalPath := filepath.Join(tempDir, "config.yaml")

	t.Setenv("GLOT_CONFIG_DIR", tempDir)
	t.Setenv("GLOT_GLOBAL_CONFIG", globalPath)

	if err := SetConfig("defaults.backend", "anthropic"); err != nil {
		t.Fatalf("set config: %v", err)
	}

	v := viper.New()
	v.SetConfigFile(globalPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("read global config: %v", err)
	}

	if value := v.GetString("defaults.backend"); value != "anthropic" {
		t.Fatalf("expected defaults.backend anthropic, got %q", value)
	}
}

func TestSetConfigRestrictsSecrets(t *testing.T) {
	tempDir := t.TempDir()
	globalPath := filepath.Join(tempDir, "config.yaml")
	t.Setenv("GLOT_GLOBAL_CONFIG", globalPath)

	if err := SetConfig("backends.groq.api_key", "gsk_abcdefghijkl"); err != nil {
		t.Fatalf("set config: %v", err)
	}
	info, err := os.Stat(globalPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}
}

func TestListConfigMasksSecrets(t *testing.T) {
	tempDir := t.TempDir()
	globalPath := filepath.Join(tempDir, "config.yaml")
	writeFile(t, globalPath, "backends:\n  groq:\n    api_key: gsk_abcdefghijkl\n    model: llama-3.3-70b-versatile\nserver:\n  token: s3cr3t\n")
	t.Setenv("GLOT_DEFAULT_CONFIG", filepath.Join(tempDir, "missing.yaml"))
	t.Setenv("GLOT_GLOBAL_CONFIG", globalPath)

	if _, err := LoadConfig(tempDir); err != nil {
		t.Fatalf("load config: %v", err)
	}
	settings, err := ListConfig()
	if err != nil {
		t.Fatalf("list config: %v", err)
	}

	if got := settings["backends.groq.api_key"]; got != "****ijkl" {
		t.Fatalf("expected masked api key, got %q", got)
	}
	if got := settings["server.token"]; got != "****" {
		t.Fatalf("expected masked token, got %q", got)
	}
	if got := settings["backends.groq.model"]; got != "llama-3.3-70b-versatile" {
		t.Fatalf("expected model unmasked, got %q", got)
	}
	for _, value := range settings {
		if strings.Contains(value, "gsk_abcdefghijkl") || strings.Contains(value, "s3cr3t") {
			t.Fatalf("secret leaked in listing: %v", settings)
		}
	}

	keys := SortedKeys(settings)
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
}

func TestLoadEnvFilesKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "GLOT_TEST_FROM_FILE=file\nGLOT_TEST_PRESET=file\n")
	writeFile(t, filepath.Join(dir, ".env.local"), "GLOT_TEST_LOCAL=local\n")
	t.Setenv("GLOT_TEST_PRESET", "shell")
	t.Setenv("GLOT_TEST_FROM_FILE", "")
	os.Unsetenv("GLOT_TEST_FROM_FILE")
	t.Setenv("GLOT_TEST_LOCAL", "")
	os.Unsetenv("GLOT_TEST_LOCAL")

	loaded, err := LoadEnvFiles(dir)
	if err != nil {
		t.Fatalf("load env files: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected two files loaded, got %v", loaded)
	}
	if got := os.Getenv("GLOT_TEST_PRESET"); got != "shell" {
		t.Fatalf("existing variable overridden: %q", got)
	}
	if got := os.Getenv("GLOT_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("expected value from .env, got %q", got)
	}
	if got := os.Getenv("GLOT_TEST_LOCAL"); got != "local" {
		t.Fatalf("expected value from .env.local, got %q", got)
	}
}

func TestLoadEnvFilesMissingDir(t *testing.T) {
	loaded, err := LoadEnvFiles(filepath.Join(t.TempDir(), "absent"))
	if err != nil || len(loaded) != 0 {
		t.Fatalf("expected no files and no error, got %v, %v", loaded, err)
	}
}

func TestIsSecretKey(t *testing.T) {
	for key, want := range map[string]bool{
		"backends.groq.api_key": true,
		"server.token":          true,
		"server.bearer_token":   true,
		"server.port":           false,
		"defaults.model":        false,
	} {
		if got := IsSecretKey(key); got != want {
			t.Fatalf("IsSecretKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
