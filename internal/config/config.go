package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds bundling parameters shared by the refbundler commands.
type Config struct {
	// ReferencesDir is the top-level archive folder that receives referenced project trees.
	ReferencesDir string `yaml:"references_dir"`
	// BackupSuffix is appended to a manifest's archive name to store its unmodified copy.
	BackupSuffix string `yaml:"backup_suffix"`
	// ManifestExtension identifies project manifest files, including the leading dot.
	ManifestExtension string `yaml:"manifest_extension"`
	// ExcludedDirs lists build-output directory names skipped while staging referenced projects.
	ExcludedDirs []string `yaml:"excluded_dirs"`
	// LogLevel is the minimum level for console output (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultConfigFilename is the default filename for bundler settings.
	DefaultConfigFilename = "refbundler-settings.yaml"

	// DefaultReferencesDir is the archive folder referenced projects are folded into.
	DefaultReferencesDir = "references"

	// DefaultBackupSuffix marks unmodified manifest copies kept for audit and recovery.
	DefaultBackupSuffix = ".bak"

	// DefaultManifestExtension identifies dotnet project manifests.
	DefaultManifestExtension = ".csproj"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

// DefaultExcludedDirs returns the build-output directory names skipped by default.
func DefaultExcludedDirs() []string {
	return []string{"obj", "bin"}
}

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errBadManifestExtension is returned when the manifest extension misses the leading dot.
	errBadManifestExtension = errors.New("manifest extension must start with a dot")
	// errBadReferencesDir is returned when the references folder is not a plain name.
	errBadReferencesDir = errors.New("references folder must be a plain directory name")
)

// Default returns a configuration populated with default values.
func Default() *Config {
	cfg := new(Config)
	// Validate never fails on an empty config, it only fills the defaults in.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates essential fields.
// A missing file yields the defaults rather than an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided configuration and fills in defaults for empty fields.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ReferencesDir == "" {
		cfg.ReferencesDir = DefaultReferencesDir
	}

	if strings.ContainsAny(cfg.ReferencesDir, `/\`) {
		return fmt.Errorf("%w: %q", errBadReferencesDir, cfg.ReferencesDir)
	}

	if cfg.BackupSuffix == "" {
		cfg.BackupSuffix = DefaultBackupSuffix
	}

	if cfg.ManifestExtension == "" {
		cfg.ManifestExtension = DefaultManifestExtension
	}

	if !strings.HasPrefix(cfg.ManifestExtension, ".") {
		return fmt.Errorf("%w: %q", errBadManifestExtension, cfg.ManifestExtension)
	}

	if len(cfg.ExcludedDirs) == 0 {
		cfg.ExcludedDirs = DefaultExcludedDirs()
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return nil
}
