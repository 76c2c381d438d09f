// Package config loads engine settings. Format is chosen by extension:
// .yaml/.yml files are YAML, anything else is read as a TinyMUSH-style
// "key value" file with include support.
package config

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/crystal-mush/mushcode/pkg/eval"
)

// Config holds the engine settings. The three limits are read by every
// top-level command; the rest is consulted at startup.
type Config struct {
	Limits eval.Limits `yaml:",inline"`

	ErrorPrefix   string `yaml:"error_prefix"`
	SpaceCompress bool   `yaml:"space_compress"`

	QueueWorkers      int `yaml:"queue_workers"`
	QueueMaxPerObject int `yaml:"queue_max_per_object"`
	LockCacheSize     int `yaml:"lock_cache_size"`

	Database      string `yaml:"database"`       // bbolt file
	World         string `yaml:"world"`          // YAML seed, imported into an empty database
	MetricsAddr   string `yaml:"metrics_addr"`   // empty disables the endpoint
	ConsolePlayer int    `yaml:"console_player"` // object the console acts as
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Limits:            eval.DefaultLimits(),
		ErrorPrefix:       "#-1",
		QueueWorkers:      8,
		QueueMaxPerObject: 1000,
		LockCacheSize:     4096,
		Database:          "game.bolt",
		MetricsAddr:       ":9090",
		ConsolePlayer:     1,
	}
}

// Options returns the evaluator options the config describes.
func (c *Config) Options(version string) eval.Options {
	return eval.Options{ErrorPrefix: c.ErrorPrefix, SpaceCompress: c.SpaceCompress, Version: version}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	for name, v := range map[string]int{
		"function_recursion_limit":  c.Limits.Recursion,
		"function_invocation_limit": c.Limits.Invocation,
		"command_nest_limit":        c.Limits.CommandNest,
		"queue_workers":             c.QueueWorkers,
		"queue_max_per_object":      c.QueueMaxPerObject,
		"lock_cache_size":           c.LockCacheSize,
	} {
		if v <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", name, v)
		}
	}
	return nil
}

// Load reads a config file over the defaults.
func Load(path string) (*Config, error) {
	var (
		c   *Config
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		c, err = loadYAML(path)
	default:
		c, err = loadLegacy(path)
	}
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing YAML %s: %w", path, err)
	}
	c.resolve(filepath.Dir(path))
	return c, nil
}

// resolve makes file paths relative to the config file's directory.
func (c *Config) resolve(dir string) {
	for _, p := range []*string{&c.Database, &c.World} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

func loadLegacy(path string) (*Config, error) {
	c := Default()
	if err := c.loadLegacyFile(path, 0); err != nil {
		return nil, err
	}
	c.resolve(filepath.Dir(path))
	return c, nil
}

func (c *Config) loadLegacyFile(path string, depth int) error {
	if depth > 10 {
		return fmt.Errorf("config: include depth exceeded at %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	baseDir := filepath.Dir(path)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == '@' {
			continue
		}
		key, val := splitKeyVal(line)
		switch strings.ToLower(key) {
		case "include":
			inc := val
			if !filepath.IsAbs(inc) {
				inc = filepath.Join(baseDir, inc)
			}
			if err := c.loadLegacyFile(inc, depth+1); err != nil {
				log.Printf("CONFIG: warning: include %s: %v", val, err)
			}
		case "function_recursion_limit":
			c.Limits.Recursion = atoi(val, c.Limits.Recursion)
		case "function_invocation_limit":
			c.Limits.Invocation = atoi(val, c.Limits.Invocation)
		case "command_nest_limit", "nested_command_limit":
			c.Limits.CommandNest = atoi(val, c.Limits.CommandNest)
		case "error_prefix":
			c.ErrorPrefix = val
		case "space_compress":
			c.SpaceCompress = parseBool(val)
		case "queue_workers":
			c.QueueWorkers = atoi(val, c.QueueWorkers)
		case "queue_max_per_object", "queue_max":
			c.QueueMaxPerObject = atoi(val, c.QueueMaxPerObject)
		case "lock_cache_size":
			c.LockCacheSize = atoi(val, c.LockCacheSize)
		case "database":
			c.Database = val
		case "world":
			c.World = val
		case "metrics_addr":
			c.MetricsAddr = val
		case "console_player":
			c.ConsolePlayer = atoi(strings.TrimPrefix(val, "#"), c.ConsolePlayer)
		default:
			log.Printf("CONFIG: %s:%d: ignoring directive %q", filepath.Base(path), lineNo, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	return nil
}

func splitKeyVal(line string) (string, string) {
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' || line[i] == '\t' {
			return line[:i], strings.TrimSpace(line[i+1:])
		}
	}
	return line, ""
}

func atoi(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "true" || s == "1" || s == "on"
}
