// Package config handles loading and saving flowgraph configuration.
//
// Configuration follows the XDG Base Directory specification:
//   - Config:  ~/.config/flowgraph/config.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/vanderheijden86/flowgraph/pkg/encode"
)

// DefaultLibraryURL is the 3D force-graph renderer loaded by the HTML host.
const DefaultLibraryURL = "https://unpkg.com/3d-force-graph@1"

// EncodingConfig holds visual encoding constants.
type EncodingConfig struct {
	HighlightIDs    []string `yaml:"highlight_ids,omitempty"`
	HighlightRadius float64  `yaml:"highlight_radius" validate:"gt=0"`
	DefaultRadius   float64  `yaml:"default_radius" validate:"gt=0"`
	WidthScale      float64  `yaml:"width_scale" validate:"gt=0"`
	Particles       int      `yaml:"particles" validate:"gte=0,lte=50"`
	ParticleSpeed   float64  `yaml:"particle_speed" validate:"gt=0,lte=1"`
	AlertColor      string   `yaml:"alert_color" validate:"required"`
	Palette         []string `yaml:"palette,omitempty" validate:"omitempty,dive,required"`
}

// HostConfig controls the HTML graph host.
type HostConfig struct {
	Title            string `yaml:"title,omitempty"`
	LibraryURL       string `yaml:"library_url" validate:"required,url"`
	ReleaseOnDragEnd bool   `yaml:"release_on_drag_end,omitempty"` // default keeps dragged nodes pinned
	Background       string `yaml:"background,omitempty"`
}

// FetchConfig controls URL ingestion.
type FetchConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// WatchConfig controls reload-on-change.
type WatchConfig struct {
	Debounce     time.Duration `yaml:"debounce" validate:"gte=0"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	ForcePoll    bool          `yaml:"force_poll,omitempty"`
}

// ServerConfig controls the live HTTP host.
type ServerConfig struct {
	Addr          string `yaml:"addr" validate:"required"`
	MaxUploadSize int64  `yaml:"max_upload_bytes" validate:"gt=0"`
}

// Config is the top-level configuration for flowgraph.
type Config struct {
	Encoding EncodingConfig `yaml:"encoding"`
	Host     HostConfig     `yaml:"host"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Watch    WatchConfig    `yaml:"watch"`
	Server   ServerConfig   `yaml:"server"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	enc := encode.DefaultConfig()
	return Config{
		Encoding: EncodingConfig{
			HighlightRadius: enc.HighlightRadius,
			DefaultRadius:   enc.DefaultRadius,
			WidthScale:      enc.WidthScale,
			Particles:       enc.Particles,
			ParticleSpeed:   enc.ParticleSpeed,
			AlertColor:      enc.AlertColor,
		},
		Host: HostConfig{
			Title:      "Network Flows",
			LibraryURL: DefaultLibraryURL,
		},
		Fetch: FetchConfig{Timeout: 30 * time.Second},
		Watch: WatchConfig{
			Debounce:     200 * time.Millisecond,
			PollInterval: 2 * time.Second,
		},
		Server: ServerConfig{
			Addr:          "127.0.0.1:8080",
			MaxUploadSize: 64 << 20,
		},
	}
}

// EncoderConfig converts the encoding section for the encoder.
func (c Config) EncoderConfig() encode.Config {
	return encode.Config{
		HighlightIDs:    append([]string(nil), c.Encoding.HighlightIDs...),
		HighlightRadius: c.Encoding.HighlightRadius,
		DefaultRadius:   c.Encoding.DefaultRadius,
		WidthScale:      c.Encoding.WidthScale,
		Particles:       c.Encoding.Particles,
		ParticleSpeed:   c.Encoding.ParticleSpeed,
		AlertColor:      c.Encoding.AlertColor,
		Palette:         c.Encoding.Palette,
	}
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ConfigDir returns the XDG config directory for flowgraph.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "flowgraph")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "flowgraph")
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads the config file from the XDG config directory.
// Returns DefaultConfig if the file doesn't exist.
func Load() (Config, error) {
	path := ConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from a specific path.
// Returns DefaultConfig if the file doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	for i, id := range cfg.Encoding.HighlightIDs {
		cfg.Encoding.HighlightIDs[i] = strings.TrimSpace(id)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveTo writes the config to a specific path.
func SaveTo(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// ParseHighlightList splits a comma-separated id list, dropping blanks.
func ParseHighlightList(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}
