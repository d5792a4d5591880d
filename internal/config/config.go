// internal/config/config.go
//
// This package handles configuration and the .retouch directory structure.
// Every project that uses retouch gets a .retouch/ folder created next to
// the résumé it revises.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// RetouchDir is the name of the directory we create in each project.
	RetouchDir = ".retouch"

	defaultResumeFile  = "resume.md"
	defaultModel       = "gpt-4o-mini"
	defaultAPIKeyEnv   = "OPENAI_API_KEY"
	defaultDraftExpiry = 72 * time.Hour
)

const defaultProjectConfigYAML = `# retouch project configuration
version: 1

# The résumé file to revise, relative to the project root.
resume: resume.md

llm:
  # Chat model used for analysis and generation.
  model: gpt-4o-mini
  # Environment variable holding the API key. Never put the key itself here.
  api_key_env: OPENAI_API_KEY
  # Optional OpenAI-compatible base URL override.
  # base_url: https://api.openai.com/v1

drafts:
  # How long an unsaved editor draft is kept before it expires.
  expiry: 72h
`

// LLMConfig selects the generation backend.
type LLMConfig struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url,omitempty"`
}

// DraftConfig tunes the local draft autosave layer.
type DraftConfig struct {
	Expiry string `yaml:"expiry,omitempty"`
}

// ProjectConfig models .retouch/config.yaml.
type ProjectConfig struct {
	Version int         `yaml:"version"`
	Resume  string      `yaml:"resume"`
	LLM     LLMConfig   `yaml:"llm"`
	Drafts  DraftConfig `yaml:"drafts"`
}

// Config holds the runtime configuration for retouch.
type Config struct {
	// ProjectDir is the directory where the user ran `retouch` from.
	ProjectDir string

	// RetouchProjectDir is ProjectDir/.retouch.
	RetouchProjectDir string

	Project ProjectConfig
}

// InitRetouchDir creates the .retouch directory structure in the given
// project directory and seeds a commented config.yaml on first run.
//
// Structure created:
// .retouch/
// ├── logs/    <- engine log and revision history
// └── drafts/  <- local editor draft snapshots
func InitRetouchDir(projectDir string) error {
	retouchDir := filepath.Join(projectDir, RetouchDir)
	dirs := []string{
		filepath.Join(retouchDir, "logs"),
		filepath.Join(retouchDir, "drafts"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	configPath := filepath.Join(retouchDir, "config.yaml")
	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(configPath, []byte(defaultProjectConfigYAML), 0o644); err != nil {
			return fmt.Errorf("config: seed %s: %w", configPath, err)
		}
	}
	return nil
}

// Load builds the runtime configuration for a project directory.
func Load(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:        projectDir,
		RetouchProjectDir: filepath.Join(projectDir, RetouchDir),
		Project:           defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.RetouchProjectDir, "logs")
}

// DraftsDir returns the path to the draft snapshot directory.
func (c *Config) DraftsDir() string {
	return filepath.Join(c.RetouchProjectDir, "drafts")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.RetouchProjectDir, "config.yaml")
}

// ResumeFile returns the configured résumé file name, relative to the
// project root.
func (c *Config) ResumeFile() string {
	if strings.TrimSpace(c.Project.Resume) == "" {
		return defaultResumeFile
	}
	return c.Project.Resume
}

// Model returns the configured chat model.
func (c *Config) Model() string {
	if strings.TrimSpace(c.Project.LLM.Model) == "" {
		return defaultModel
	}
	return c.Project.LLM.Model
}

// APIKey reads the generation API key from the configured environment
// variable.
func (c *Config) APIKey() (string, error) {
	env := c.Project.LLM.APIKeyEnv
	if strings.TrimSpace(env) == "" {
		env = defaultAPIKeyEnv
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("config: %s environment variable is not set", env)
	}
	return key, nil
}

// BaseURL returns the optional OpenAI-compatible base URL override.
func (c *Config) BaseURL() string {
	return c.Project.LLM.BaseURL
}

// DraftExpiry returns how long editor drafts are kept.
func (c *Config) DraftExpiry() time.Duration {
	raw := strings.TrimSpace(c.Project.Drafts.Expiry)
	if raw == "" {
		return defaultDraftExpiry
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return defaultDraftExpiry
	}
	return d
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Resume:  defaultResumeFile,
		LLM: LLMConfig{
			Model:     defaultModel,
			APIKeyEnv: defaultAPIKeyEnv,
		},
	}
}

func (p *ProjectConfig) applyDefaults() {
	if p.Version == 0 {
		p.Version = 1
	}
	if strings.TrimSpace(p.Resume) == "" {
		p.Resume = defaultResumeFile
	}
	if strings.TrimSpace(p.LLM.Model) == "" {
		p.LLM.Model = defaultModel
	}
	if strings.TrimSpace(p.LLM.APIKeyEnv) == "" {
		p.LLM.APIKeyEnv = defaultAPIKeyEnv
	}
}

func (p ProjectConfig) validate() error {
	if p.Version != 1 {
		return fmt.Errorf("unsupported config version %d", p.Version)
	}
	if filepath.IsAbs(p.Resume) {
		return fmt.Errorf("resume path must be relative to the project root")
	}
	if raw := strings.TrimSpace(p.Drafts.Expiry); raw != "" {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid draft expiry %q: %w", raw, err)
		}
	}
	return nil
}
