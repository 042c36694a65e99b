// File: internal/config/config.go
// Brief: dragons.toml loading with DRAGONS_ environment overrides.

// Package config reads the optional dragons.toml of a workspace through
// Viper, applies DRAGONS_* environment overrides and typed defaults, and
// hands the commands a validated Config.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/fingerprint"
)

// FileName is looked up in the workspace root.
const FileName = "dragons.toml"

// EnvPrefix prefixes every environment override, e.g. DRAGONS_PUBLISH_DELAY.
const EnvPrefix = "DRAGONS"

type Toolchain struct {
	// Templates maps `<context>.<mode>`, `<context>` or `default` to a
	// command template.
	Templates map[string]string `mapstructure:"templates"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	Env       []string          `mapstructure:"env"`
}

type Verify struct {
	TargetDir   string   `mapstructure:"target_dir"`
	ScratchDir  string   `mapstructure:"scratch_dir"`
	DriftAllow  []string `mapstructure:"drift_allow"`
	Fingerprint string   `mapstructure:"fingerprint"`
	Keep        bool     `mapstructure:"keep"`
}

type Independence struct {
	Jobs         int  `mapstructure:"jobs"`
	SharedTarget bool `mapstructure:"shared_target"`
	MaxFeatures  int  `mapstructure:"max_features"`
}

type Publish struct {
	Delay          time.Duration `mapstructure:"delay"`
	BurstThreshold int           `mapstructure:"burst_threshold"`
	Journal        bool          `mapstructure:"journal"`
}

type Registry struct {
	API     string        `mapstructure:"api"`
	Name    string        `mapstructure:"name"`
	Retries int           `mapstructure:"retries"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Credentials struct {
	File   string `mapstructure:"file"`
	Helper string `mapstructure:"helper"`
}

// Config is the merged configuration.
type Config struct {
	Toolchain    Toolchain    `mapstructure:"toolchain"`
	Verify       Verify       `mapstructure:"verify"`
	Independence Independence `mapstructure:"independence"`
	Publish      Publish      `mapstructure:"publish"`
	Registry     Registry     `mapstructure:"registry"`
	Credentials  Credentials  `mapstructure:"credentials"`

	// Path is the file the configuration was read from, if any.
	Path string `mapstructure:"-"`
}

var defaults = map[string]any{
	"toolchain.timeout":          "30m",
	"toolchain.env":              []string{},
	"verify.target_dir":          "",
	"verify.scratch_dir":         "",
	"verify.drift_allow":         fingerprint.DefaultAllow,
	"verify.fingerprint":         string(fingerprint.SHA256),
	"verify.keep":                false,
	"independence.jobs":          runtime.NumCPU(),
	"independence.shared_target": false,
	"independence.max_features":  12,
	"publish.delay":              "21s",
	"publish.burst_threshold":    30,
	"publish.journal":            true,
	"registry.api":               "https://crates.io",
	"registry.name":              "",
	"registry.retries":           3,
	"registry.timeout":           "5m",
	"credentials.file":           "",
	"credentials.helper":         "",
}

// Load reads explicit, or dragons.toml in root when explicit is empty, and
// applies environment overrides. A missing dragons.toml is not an error;
// a missing explicit file is.
func Load(root, explicit string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetConfigType("toml")

	path := strings.TrimSpace(explicit)
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	strict := path != ""
	if path == "" && root != "" {
		path = filepath.Join(root, FileName)
	}
	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, &errdefs.ConfigError{Msg: "read " + path, Err: err}
			}
			cfg.Path = path
		} else if strict {
			return nil, &errdefs.ConfigError{Msg: "config file " + path, Err: err}
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &errdefs.ConfigError{Msg: "decode configuration", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no command can work with.
func (c *Config) Validate() error {
	if _, err := fingerprint.ParseAlgorithm(c.Verify.Fingerprint); err != nil {
		return err
	}
	if c.Independence.Jobs < 0 {
		return errdefs.Configf("independence.jobs must not be negative, got %d", c.Independence.Jobs)
	}
	if c.Independence.MaxFeatures < 0 {
		return errdefs.Configf("independence.max_features must not be negative, got %d", c.Independence.MaxFeatures)
	}
	if c.Publish.Delay < 0 {
		return errdefs.Configf("publish.delay must not be negative, got %s", c.Publish.Delay)
	}
	if c.Registry.Retries < 0 {
		return errdefs.Configf("registry.retries must not be negative, got %d", c.Registry.Retries)
	}
	return nil
}

// Resolve makes relative paths absolute against root.
func (c *Config) Resolve(root string) error {
	for _, p := range []*string{&c.Verify.TargetDir, &c.Verify.ScratchDir, &c.Credentials.File} {
		if *p == "" || filepath.IsAbs(*p) || strings.HasPrefix(*p, "~") {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(root, *p))
		if err != nil {
			return errors.Wrapf(err, "resolve %s", *p)
		}
		*p = abs
	}
	return nil
}
