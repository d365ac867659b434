// Package config loads skillsmith settings from flags, SKILLSMITH_*
// environment variables and an optional config.yaml.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/skillsmith/skillsmith/pkg/artifact"
	"github.com/skillsmith/skillsmith/pkg/timeout"
)

// EnvPrefix is the prefix of every environment variable read.
const EnvPrefix = "SKILLSMITH"

// DefaultStateDir holds session states, staging, backups and logs.
const DefaultStateDir = ".skillsmith"

// Config is the resolved configuration of one invocation.
type Config struct {
	ProjectRoot    string   `mapstructure:"project_root"`
	StateDir       string   `mapstructure:"state_dir"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	ConfirmTimeout int      `mapstructure:"confirm_timeout"`
	Targets        []string `mapstructure:"targets"`
	Template       string   `mapstructure:"template"`
	TemplateDir    string   `mapstructure:"template_dir"`
	Editor         string   `mapstructure:"editor"`
	Author         string   `mapstructure:"author"`
	LogLevel       string   `mapstructure:"log_level"`
	LogFormat      string   `mapstructure:"log_format"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	seconds := int(timeout.DefaultTimeout.Seconds())
	v.SetDefault("project_root", ".")
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("timeout_seconds", seconds)
	v.SetDefault("confirm_timeout", seconds)
	v.SetDefault("targets", []string{})
	v.SetDefault("template", artifact.DefaultTemplate)
	v.SetDefault("template_dir", "")
	v.SetDefault("editor", "")
	v.SetDefault("author", "")
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "fmt")
}

// Init prepares v: defaults, environment variables and the config file
// found in searchPaths. A missing config file is not an error. With no
// search paths ./.skillsmith and $HOME/.skillsmith are used.
func Init(v *viper.Viper, searchPaths ...string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{filepath.Join(".", DefaultStateDir), filepath.Join("$HOME", DefaultStateDir)}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "failed to read config file")
	}
	return nil
}

// Load decodes v into a Config and resolves its paths. The project root is
// made absolute; a relative state or template directory is taken relative
// to the project root.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}

	root, err := filepath.Abs(c.ProjectRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid project root %q", c.ProjectRoot)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "project root %s", root)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("project root %s is not a directory", root)
	}
	c.ProjectRoot = root

	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	c.StateDir = c.underRoot(c.StateDir)
	if c.TemplateDir != "" {
		c.TemplateDir = c.underRoot(c.TemplateDir)
	}

	if c.TimeoutSeconds <= 0 {
		return nil, errors.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	if c.ConfirmTimeout <= 0 {
		return nil, errors.Errorf("confirm_timeout must be positive, got %d", c.ConfirmTimeout)
	}
	if len(c.Targets) > 0 {
		if err := artifact.ValidateTargets(c.Targets); err != nil {
			return nil, err
		}
	}
	if c.Template == "" {
		c.Template = artifact.DefaultTemplate
	}

	return &c, nil
}

func (c *Config) underRoot(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.ProjectRoot, p)
}

// TempDir holds wizard states and staging directories.
func (c *Config) TempDir() string {
	return filepath.Join(c.StateDir, "temp")
}

// BackupDir holds backup archives.
func (c *Config) BackupDir() string {
	return filepath.Join(c.StateDir, "backups")
}

// LogDir holds the audit logs.
func (c *Config) LogDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// Timeout is the deadline of interactive prompts.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConfirmDeadline is the deadline of delete, update and restore confirmations.
func (c *Config) ConfirmDeadline() time.Duration {
	return time.Duration(c.ConfirmTimeout) * time.Second
}

// ResolveTargets returns the configured targets or, when none are
// configured, the registry targets whose directory exists in the project.
func (c *Config) ResolveTargets(layout *artifact.Layout) ([]string, error) {
	if len(c.Targets) > 0 {
		return c.Targets, nil
	}
	detected := layout.DetectTargets()
	if len(detected) == 0 {
		dirs := make([]string, len(artifact.KnownTargets))
		for i, t := range artifact.KnownTargets {
			dirs[i] = "." + t
		}
		return nil, errors.Errorf("no target directories found in %s; create one of %s or pass --targets", layout.Root(), strings.Join(dirs, ", "))
	}
	return detected, nil
}
