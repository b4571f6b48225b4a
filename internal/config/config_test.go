package config

import (
	"os"
	"path/filepath"
	"testing"
)

func isolateHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, name := range []string{
		"CYTOMIG_HOST", "CYTOMIG_UPLOAD_HOST",
		"CYTOMIG_PUBLIC_KEY", "CYTOMIG_PUBLIC_KEY_FILE",
		"CYTOMIG_PRIVATE_KEY", "CYTOMIG_PRIVATE_KEY_FILE",
		"CYTOMIG_WORKING_PATH", "CYTOMIG_JOURNAL_PATH", "CYTOMIG_LOG_LEVEL",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	// t.Chdir needs Go 1.24; restore the working directory by hand.
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(home); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("chdir back: %v", err)
		}
	})
	return home
}

func TestDefaults(t *testing.T) {
	home := isolateHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.WorkingPath != "." {
		t.Errorf("working path = %q, want .", cfg.WorkingPath)
	}
	want := filepath.Join(home, ".local", "share", "cytomig", "journal.db")
	if cfg.JournalPath != want {
		t.Errorf("journal path = %q, want %q", cfg.JournalPath, want)
	}
}

func TestEnvOverrides(t *testing.T) {
	isolateHome(t)
	t.Setenv("CYTOMIG_HOST", "https://target.example.org")
	t.Setenv("CYTOMIG_PUBLIC_KEY", "pub")
	t.Setenv("CYTOMIG_PRIVATE_KEY", "priv")
	t.Setenv("CYTOMIG_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Host != "https://target.example.org" {
		t.Errorf("host = %q", cfg.Host)
	}
	if cfg.PublicKey != "pub" || cfg.PrivateKey != "priv" {
		t.Errorf("keys = %q/%q", cfg.PublicKey, cfg.PrivateKey)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestKeyFileVariant(t *testing.T) {
	home := isolateHome(t)

	keyPath := filepath.Join(home, "private.key")
	if err := os.WriteFile(keyPath, []byte("secret-key"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv("CYTOMIG_PRIVATE_KEY_FILE", keyPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PrivateKey != "secret-key" {
		t.Errorf("private key = %q, want file contents", cfg.PrivateKey)
	}
}

func TestYAMLConfig(t *testing.T) {
	home := isolateHome(t)

	configDir := filepath.Join(home, ".config", "cytomig")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yaml := "host: https://yaml.example.org\nupload_host: https://upload.example.org\nlog_level: warn\n"
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Host != "https://yaml.example.org" {
		t.Errorf("host = %q", cfg.Host)
	}
	if cfg.UploadHost != "https://upload.example.org" {
		t.Errorf("upload host = %q", cfg.UploadHost)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}

func TestEnvBeatsYAML(t *testing.T) {
	home := isolateHome(t)

	configDir := filepath.Join(home, ".config", "cytomig")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("host: https://yaml.example.org\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("CYTOMIG_HOST", "https://env.example.org")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Host != "https://env.example.org" {
		t.Errorf("host = %q, env should win", cfg.Host)
	}
}

func TestValidateRequiresCredentials(t *testing.T) {
	isolateHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation failure without host and keys")
	}
}
