package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the release source coordinates and the local output layout.
type Config struct {
	// Owner is the GitHub account that owns the firmware repository.
	Owner string `yaml:"owner"`
	// Repo is the firmware repository name.
	Repo string `yaml:"repo"`
	// APIURL overrides the GitHub REST API base URL (GitHub Enterprise, tests).
	APIURL string `yaml:"api_url,omitempty"`
	// TokenEnv names the environment variable holding the API token.
	TokenEnv string `yaml:"token_env"`
	// Product is the prefix of every firmware filename.
	Product string `yaml:"product"`
	// AssetPattern is the glob that selects the firmware asset of a release.
	AssetPattern string `yaml:"asset_pattern"`
	// AssetDir is where firmware binaries are written.
	AssetDir string `yaml:"asset_dir"`
	// ManifestFile is the path of the JSON manifest.
	ManifestFile string `yaml:"manifest_file"`
	// Timeout bounds every HTTP request, including the body transfer.
	Timeout time.Duration `yaml:"timeout"`
	// Concurrency is the number of releases processed at once.
	Concurrency int `yaml:"concurrency"`
	// PerPage is the page size of the release listing.
	PerPage int `yaml:"per_page"`
	// MaxPages caps the number of listing pages; 0 follows every page.
	MaxPages int `yaml:"max_pages"`
	// FailFast aborts the whole run on the first failed release.
	FailFast bool `yaml:"fail_fast"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level,omitempty"`
}

const (
	// DefaultConfigFilename is the default settings file.
	DefaultConfigFilename = "firmware-sync.yaml"

	// DefaultOwner and DefaultRepo point at the synth engine firmware.
	DefaultOwner = "subalpine-circuits"
	DefaultRepo  = "SynthEngine"

	// DefaultTokenEnv is the environment variable read for the API token.
	DefaultTokenEnv = "SUBALPINE_GITHUB_TOKEN"

	// DefaultProduct prefixes firmware filenames.
	DefaultProduct = "SA-01"

	// DefaultAssetPattern selects the firmware binary among release assets.
	DefaultAssetPattern = "*.bin"

	// DefaultAssetDir is the front-end asset folder for firmware.
	DefaultAssetDir = "src/assets/firmware"

	// DefaultManifestFilename is the manifest name inside DefaultAssetDir.
	DefaultManifestFilename = "manifest.json"

	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultConcurrency is the number of releases processed in parallel.
	DefaultConcurrency = 4

	// DefaultPerPage matches the GitHub API default page size.
	DefaultPerPage = 30

	// DefaultMaxPages keeps the listing to the first page of releases.
	DefaultMaxPages = 1

	// DefaultFilePermissions is used for the settings file.
	DefaultFilePermissions = 0o600

	// maxPerPage is the GitHub API page size limit.
	maxPerPage = 100
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errRepositoryRequired is returned when owner or repo is missing.
	errRepositoryRequired = errors.New("owner and repo must be provided")
	// errTokenRequired is returned when the token variable is empty.
	errTokenRequired = errors.New("api token is not set")
	// errNegativeValue is returned for negative numeric settings.
	errNegativeValue = errors.New("value must not be negative")
)

// Default returns settings for the synth engine firmware repository.
func Default() *Config {
	return &Config{
		Owner:        DefaultOwner,
		Repo:         DefaultRepo,
		TokenEnv:     DefaultTokenEnv,
		Product:      DefaultProduct,
		AssetPattern: DefaultAssetPattern,
		AssetDir:     DefaultAssetDir,
		ManifestFile: filepath.Join(DefaultAssetDir, DefaultManifestFilename),
		Timeout:      DefaultTimeout,
		Concurrency:  DefaultConcurrency,
		PerPage:      DefaultPerPage,
		MaxPages:     DefaultMaxPages,
	}
}

// Load reads settings from path on top of Default and validates them.
// A missing file is not an error: the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes settings to path after validating them.
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

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and fills in defaults for empty ones.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	cfg.Owner = strings.TrimSpace(cfg.Owner)
	cfg.Repo = strings.TrimSpace(cfg.Repo)

	if cfg.Owner == "" || cfg.Repo == "" {
		return errRepositoryRequired
	}

	if cfg.APIURL != "" {
		if _, err := url.ParseRequestURI(cfg.APIURL); err != nil {
			return fmt.Errorf("invalid api url: %w", err)
		}
	}

	if cfg.AssetPattern == "" {
		cfg.AssetPattern = DefaultAssetPattern
	}

	if _, err := path.Match(cfg.AssetPattern, ""); err != nil {
		return fmt.Errorf("invalid asset pattern %q: %w", cfg.AssetPattern, err)
	}

	if cfg.Concurrency < 0 || cfg.PerPage < 0 || cfg.MaxPages < 0 || cfg.Timeout < 0 {
		return errNegativeValue
	}

	fillDefaults(cfg)

	return nil
}

// Token returns the API token from the configured environment variable.
func (c *Config) Token() (string, error) {
	token := strings.TrimSpace(os.Getenv(c.TokenEnv))
	if token == "" {
		return "", fmt.Errorf("%s: %w", c.TokenEnv, errTokenRequired)
	}

	return token, nil
}

func fillDefaults(cfg *Config) {
	if cfg.TokenEnv == "" {
		cfg.TokenEnv = DefaultTokenEnv
	}

	if cfg.Product == "" {
		cfg.Product = DefaultProduct
	}

	if cfg.AssetDir == "" {
		cfg.AssetDir = DefaultAssetDir
	}

	if cfg.ManifestFile == "" {
		cfg.ManifestFile = filepath.Join(cfg.AssetDir, DefaultManifestFilename)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	if cfg.PerPage == 0 {
		cfg.PerPage = DefaultPerPage
	}

	if cfg.PerPage > maxPerPage {
		cfg.PerPage = maxPerPage
	}
}
