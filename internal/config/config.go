package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sensorable/annotool"
)

// Config holds the settings shared by the command line utilities
type Config struct {
	Workers    int              `json:"workers"`
	Validation ValidationConfig `json:"validation"`
	Images     ImageConfig      `json:"images"`
}

// ValidationConfig holds the validator tolerances
type ValidationConfig struct {
	DuplicateTolerance float64 `json:"duplicate_tolerance"`
	BoundsTolerance    float64 `json:"bounds_tolerance"`
}

// ImageConfig holds configuration for image resizing and output
type ImageConfig struct {
	Encoding         string `json:"encoding"`
	JPEGQuality      int    `json:"jpeg_quality"`
	DownsampleFilter string `json:"downsample_filter"`
	UpsampleFilter   string `json:"upsample_filter"`
	KeepAspect       bool   `json:"keep_aspect"`
}

// Default returns a configuration with default values
func Default() *Config {
	v := annotool.DefaultValidateOptions()
	return &Config{
		Workers: 0,
		Validation: ValidationConfig{
			DuplicateTolerance: v.DuplicateTolerance,
			BoundsTolerance:    v.BoundsTolerance,
		},
		Images: ImageConfig{
			Encoding:         "jpg",
			JPEGQuality:      90,
			DownsampleFilter: "box",
			UpsampleFilter:   "linear",
			KeepAspect:       true,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Settings missing from the file keep their
// default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load loads the configuration from filename, or from GetConfigPath if filename is empty. A missing
// file at the default path yields the default configuration. The result is validated.
func Load(filename string) (*Config, error) {
	explicit := filename != ""
	if !explicit {
		filename = GetConfigPath()
	}

	config, err := LoadFromFile(filename)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		config = Default()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return config, nil
}

// SaveToFile writes the configuration as indented JSON to filename, creating its directory. The
// file is replaced atomically.
func (c *Config) SaveToFile(filename string) (err error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative")
	}

	if c.Validation.DuplicateTolerance < 0 || c.Validation.DuplicateTolerance > 1 {
		return fmt.Errorf("validation.duplicate_tolerance must be between 0 and 1")
	}

	if c.Validation.BoundsTolerance < 0 {
		return fmt.Errorf("validation.bounds_tolerance cannot be negative")
	}

	switch c.Images.Encoding {
	case "jpg", "png", "webp":
	default:
		return fmt.Errorf("images.encoding must be one of jpg, png, webp")
	}

	if c.Images.JPEGQuality < 1 || c.Images.JPEGQuality > 100 {
		return fmt.Errorf("images.jpeg_quality must be between 1 and 100")
	}

	if _, err := annotool.ParseResampleFilter(c.Images.DownsampleFilter); err != nil {
		return fmt.Errorf("images.downsample_filter: %w", err)
	}

	if _, err := annotool.ParseResampleFilter(c.Images.UpsampleFilter); err != nil {
		return fmt.Errorf("images.upsample_filter: %w", err)
	}

	return nil
}

// ValidateOptions returns the validator tolerances
func (c *Config) ValidateOptions() annotool.ValidateOptions {
	return annotool.ValidateOptions{
		DuplicateTolerance: c.Validation.DuplicateTolerance,
		BoundsTolerance:    c.Validation.BoundsTolerance,
	}
}

// ResizeOptions returns the image resize options for the target size. The configuration must be
// valid.
func (c *Config) ResizeOptions(width, height int) annotool.ResizeOptions {
	down, _ := annotool.ParseResampleFilter(c.Images.DownsampleFilter)
	up, _ := annotool.ParseResampleFilter(c.Images.UpsampleFilter)
	return annotool.ResizeOptions{
		Width:       width,
		Height:      height,
		KeepAspect:  c.Images.KeepAspect,
		Downsample:  down,
		Upsample:    up,
		Encoding:    c.Images.Encoding,
		JPEGQuality: c.Images.JPEGQuality,
		Workers:     c.Workers,
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./annotool.json"
	}
	return filepath.Join(home, ".config", "annotool", "config.json")
}
