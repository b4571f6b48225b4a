package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds connection settings for the instances involved in a
// migration. Feature flags live on the CLI; only settings worth keeping
// out of shell history (hosts, keys, paths) belong here.
type Config struct {
	Host       string `yaml:"host"`
	UploadHost string `yaml:"upload_host"`
	PublicKey  string `yaml:"public_key"`
	PrivateKey string `yaml:"private_key"`

	WorkingPath string `yaml:"working_path"`
	JournalPath string `yaml:"journal_path"`
	LogLevel    string `yaml:"log_level"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables (CYTOMIG_*, with _FILE variants for keys)
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/cytomig/config.yaml (YAML)
// Command-line flags override the result in the CLI layer.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// Load ~/.config/cytomig/config.yaml if it exists
	if err := loadYAMLConfig(cfg); err != nil {
		// YAML config is optional, so we don't fail if it doesn't exist
	}

	// Override with environment variables
	if host := os.Getenv("CYTOMIG_HOST"); host != "" {
		cfg.Host = host
	}
	if uploadHost := os.Getenv("CYTOMIG_UPLOAD_HOST"); uploadHost != "" {
		cfg.UploadHost = uploadHost
	}
	if publicKey := getEnvOrFile("CYTOMIG_PUBLIC_KEY", "CYTOMIG_PUBLIC_KEY_FILE"); publicKey != "" {
		cfg.PublicKey = publicKey
	}
	if privateKey := getEnvOrFile("CYTOMIG_PRIVATE_KEY", "CYTOMIG_PRIVATE_KEY_FILE"); privateKey != "" {
		cfg.PrivateKey = privateKey
	}
	if workingPath := os.Getenv("CYTOMIG_WORKING_PATH"); workingPath != "" {
		cfg.WorkingPath = workingPath
	}
	if journalPath := os.Getenv("CYTOMIG_JOURNAL_PATH"); journalPath != "" {
		cfg.JournalPath = journalPath
	}
	if logLevel := os.Getenv("CYTOMIG_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Set defaults if not configured
	if cfg.WorkingPath == "" {
		cfg.WorkingPath = "."
	}
	if cfg.JournalPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.JournalPath = filepath.Join(homeDir, ".local", "share", "cytomig", "journal.db")
	}

	return cfg, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("no host configured (set CYTOMIG_HOST or use --host)")
	}
	if c.PublicKey == "" || c.PrivateKey == "" {
		return fmt.Errorf("missing API keys (set CYTOMIG_PUBLIC_KEY and CYTOMIG_PRIVATE_KEY)")
	}
	return nil
}

// loadYAMLConfig loads configuration from ~/.config/cytomig/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "cytomig", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return string(data)
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, just check cwd
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Clean paths for reliable comparison
	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		// Stop if we've reached home directory
		if dir == homeDir {
			break
		}

		// Get parent directory
		parent := filepath.Dir(dir)

		// Stop if we've reached the filesystem root
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
