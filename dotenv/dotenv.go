// Package dotenv loads layered env files into the process environment.
//
// Files are applied from most specific to least specific:
// .env.{environment}.local, .env.{environment}, .env.local, .env. A variable
// keeps the first value it is given, so values from more specific files
// shadow later ones and variables already present in the process environment
// are never overwritten. The environment name comes from APP_ENV and
// defaults to "development".
package dotenv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	// EnvironmentVar names the variable that selects the environment.
	EnvironmentVar = "APP_ENV"
	// DefaultEnvironment is used when EnvironmentVar is unset or blank.
	DefaultEnvironment = "development"
)

// Option adjusts how Load resolves and applies env files.
type Option func(*config)

type config struct {
	dir         string
	environment string
	files       []string
	lookup      func(string) (string, bool)
	setenv      func(key, value string) error
}

func defaultConfig() *config {
	return &config{
		lookup: os.LookupEnv,
		setenv: os.Setenv,
	}
}

func applyOptions(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// WithDir resolves env file names relative to dir instead of the working
// directory.
func WithDir(dir string) Option {
	return func(c *config) { c.dir = dir }
}

// WithEnvironment forces the environment name instead of reading APP_ENV.
func WithEnvironment(env string) Option {
	return func(c *config) { c.environment = env }
}

// WithFiles replaces the layered file list with an explicit one. Relative
// paths are still resolved against the configured directory.
func WithFiles(files ...string) Option {
	return func(c *config) { c.files = files }
}

// WithLookup overrides how Load checks for already-set variables and reads
// APP_ENV. Tests usually pair this with WithSetenv so reads and writes hit
// the same place.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(c *config) {
		if fn != nil {
			c.lookup = fn
		}
	}
}

// WithSetenv overrides how Load writes variables.
func WithSetenv(fn func(key, value string) error) Option {
	return func(c *config) {
		if fn != nil {
			c.setenv = fn
		}
	}
}

// Load reads the layered env files and applies every variable that is not
// already set. Missing files are skipped; unreadable or malformed files
// abort the load.
func Load(opts ...Option) error {
	cfg := applyOptions(opts)
	for _, file := range cfg.fileList() {
		if err := cfg.applyFile(file); err != nil {
			return err
		}
	}
	return nil
}

func (c *config) fileList() []string {
	files := c.files
	if len(files) == 0 {
		env := c.environmentName()
		files = []string{
			".env." + env + ".local",
			".env." + env,
			".env.local",
			".env",
		}
	}
	if c.dir == "" {
		return files
	}
	resolved := make([]string, len(files))
	for i, file := range files {
		if filepath.IsAbs(file) {
			resolved[i] = file
			continue
		}
		resolved[i] = filepath.Join(c.dir, file)
	}
	return resolved
}

func (c *config) environmentName() string {
	if c.environment != "" {
		return c.environment
	}
	if env, ok := c.lookup(EnvironmentVar); ok && env != "" {
		return env
	}
	return DefaultEnvironment
}

// applyFile parses one env file and sets the variables it defines that are
// not already present.
func (c *config) applyFile(path string) error {
	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("dotenv: read %s: %w", path, err)
	}
	for key, value := range vars {
		if _, present := c.lookup(key); present {
			continue
		}
		if err := c.setenv(key, value); err != nil {
			return fmt.Errorf("dotenv: set %s: %w", key, err)
		}
	}
	return nil
}
