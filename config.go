package kadcrawl

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Config is the flat, dotted-key settings map every engine reads its
// configuration from (spec §6's settings table), loaded from a YAML file
// the same way the teacher's Config is, but generalized from a handful of
// typed fields to an open key space so web.auto_start/web.port can be
// added, read, and persisted without a struct change.
type Config struct {
	Settings map[string]string
}

// defaultSettings mirrors spec §6 exactly; dht.node_id and
// dht.bootstrap_nodes are left unset here and resolved at startup (a
// random id, and the three public routers respectively), since a literal
// zero value would be indistinguishable from "the operator chose this".
var defaultSettings = map[string]string{
	"database.path":                 "~/.config/kadcrawl/data.db",
	"dht.port":                      "6881",
	"dht.max_nodes":                 "1000",
	"dht.ping_interval":             "300s",
	"bittorrent.max_connections":    "50",
	"bittorrent.connection_timeout": "10s",
	"bittorrent.download_timeout":   "30s",
	"tracker.announce_interval":     "1800s",
	"log.level":                     "debug",
	"crawler.random_discovery":      "true",
	"web.auto_start":                "false",
	"web.port":                      "8088",
}

// LoadConfig reads filename as YAML into a flat string map layered over
// defaultSettings, mirroring the teacher's LoadConfig(filename) -> "missing
// file means defaults, not an error" behavior.
func LoadConfig(filename string) (*Config, error) {
	cfg := &Config{Settings: cloneDefaults()}

	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	for k, v := range flattenYAML("", raw) {
		cfg.Settings[k] = v
	}
	return cfg, nil
}

func cloneDefaults() map[string]string {
	m := make(map[string]string, len(defaultSettings))
	for k, v := range defaultSettings {
		m[k] = v
	}
	return m
}

// flattenYAML turns a nested YAML document (database: {path: ...}) into
// the crawler's dotted-key form (database.path), since operators write
// settings files with normal YAML nesting rather than literal dotted
// keys.
func flattenYAML(prefix string, node map[string]interface{}) map[string]string {
	out := make(map[string]string)
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]interface{}:
			for fk, fv := range flattenYAML(key, t) {
				out[fk] = fv
			}
		default:
			out[key] = toSettingString(t)
		}
	}
	return out
}

func toSettingString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Get returns a raw string setting, falling back to defaultVal if unset.
func (c *Config) Get(key, defaultVal string) string {
	if v, ok := c.Settings[key]; ok {
		return v
	}
	return defaultVal
}

// GetDuration parses a setting as a Go duration string (e.g. "300s").
func (c *Config) GetDuration(key string, defaultVal time.Duration) time.Duration {
	v, ok := c.Settings[key]
	if !ok {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// GetInt parses a setting as an integer.
func (c *Config) GetInt(key string, defaultVal int) int {
	v, ok := c.Settings[key]
	if !ok {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// GetBool parses a setting as a boolean.
func (c *Config) GetBool(key string, defaultVal bool) bool {
	v, ok := c.Settings[key]
	if !ok {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// GetStringList parses a comma-separated setting, such as
// dht.bootstrap_nodes.
func (c *Config) GetStringList(key string, defaultVal []string) []string {
	v, ok := c.Settings[key]
	if !ok || v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DatabasePath returns the expanded, home-relative database path, the
// same homedir.Expand treatment the teacher gives cfg.Database.
func (c *Config) DatabasePath() (string, error) {
	return homedir.Expand(c.Get("database.path", defaultSettings["database.path"]))
}

// Set updates a runtime-mutable setting in memory; callers (the API) are
// responsible for persisting web.auto_start/web.port to storage.
func (c *Config) Set(key, value string) {
	c.Settings[key] = value
}
