package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("TRIPSYNC_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("TRIPSYNC_HOME", "/custom/tripsync")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/tripsync" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/tripsync")
		}
		if defaults["log_dir"] != "/custom/tripsync/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/tripsync/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("TRIPSYNC_CONFIG_PATH", "")
		t.Setenv("TRIPSYNC_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "tripsync.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "tripsync")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}

		wantLog := filepath.Join(wantBase, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}
	})
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "TRIPSYNC_PASSPHRASE=from-file\nTRIPSYNC_HOME=/from/file\n"
	if err := os.WriteFile(envFile, []byte(content), 0600); err != nil {
		t.Fatalf("writing .env: %v", err)
	}

	t.Setenv("TRIPSYNC_HOME", "/from/env")
	t.Setenv("TRIPSYNC_PASSPHRASE", "")
	os.Unsetenv("TRIPSYNC_PASSPHRASE")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envFile); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}

	if got, ok := Passphrase(); !ok || got != "from-file" {
		t.Errorf("Passphrase() = %q, %v; want from-file", got, ok)
	}
	if got := os.Getenv("TRIPSYNC_HOME"); got != "/from/env" {
		t.Errorf("TRIPSYNC_HOME = %q, want existing value to win", got)
	}
}
