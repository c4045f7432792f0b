// Package configuration reads the INI style settings file shared by the
// compiler CLI and the compile server.
package configuration

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LocalConfigPath holds optional machine specific overrides.
const LocalConfigPath = "settings.local.cfg"

// Config holds settings grouped by section.
type Config struct {
	settings map[string]map[string]string
	filePath string
	mu       sync.RWMutex
}

var (
	globalConfig *Config
	once         sync.Once
)

// sectionOrder fixes the order sections are written in.
var sectionOrder = []string{"Compiler", "Output", "Database", "Server", "Network", "JWT", "TLS", "Debug"}

// Initialize loads the global configuration. A missing file is created with
// the defaults. Overrides from settings.local.cfg are applied when present.
func Initialize(configPath string) error {
	var err error
	once.Do(func() {
		var cfg *Config
		cfg, err = Load(configPath)
		if err != nil {
			return
		}
		if _, statErr := os.Stat(LocalConfigPath); statErr == nil {
			// A broken local override must not keep the tool from starting.
			_ = cfg.merge(LocalConfigPath)
		}
		globalConfig = cfg
	})
	return err
}

// Load reads a configuration file, writing the defaults to it first if it
// does not exist.
func Load(filePath string) (*Config, error) {
	cfg := &Config{
		settings: make(map[string]map[string]string),
		filePath: filePath,
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		cfg.settings = Defaults()
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	if err := cfg.merge(filePath); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads settings from r. Later keys override earlier ones.
func Parse(r io.Reader) (map[string]map[string]string, error) {
	settings := make(map[string]map[string]string)
	scanner := bufio.NewScanner(r)
	section := ""

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			if settings[section] == nil {
				settings[section] = make(map[string]string)
			}
			continue
		}

		if key, value, ok := strings.Cut(line, "="); ok && section != "" {
			settings[section][strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return settings, nil
}

// merge overlays the settings of a file onto the config.
func (c *Config) merge(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	parsed, err := Parse(file)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", filePath, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for section, values := range parsed {
		if c.settings[section] == nil {
			c.settings[section] = make(map[string]string)
		}
		for key, value := range values {
			c.settings[section][key] = value
		}
	}
	return nil
}

// Defaults returns the default settings.
func Defaults() map[string]map[string]string {
	return map[string]map[string]string{
		"Compiler": {
			"max_line_length": "255",
			"default_mode":    "intensity",
			"max_parameter":   "0",
			"max_program_kb":  "16384",
		},
		"Output": {
			"dir":              ".",
			"boilerplate_file": "boilerplate.c",
			"hex_file":         "byteArray.txt",
			"print_dump":       "true",
		},
		"Database": {
			"enabled":       "false",
			"path":          "flail.db",
			"history_limit": "500",
		},
		"Server": {
			"http_port":           "8080",
			"max_script_kb":       "64",
			"max_parameter":       "65535",
			"max_program_kb":      "1024",
			"read_header_timeout": "10s",
			"metrics_enabled":     "true",
		},
		"Network": {
			"pong_timeout":        "60s",
			"write_wait_timeout":  "10s",
			"max_message_size_kb": "64",
			"max_channel_buffer":  "64",
			"max_clients":         "100",
			"rate_limit_per_min":  "200",
		},
		"JWT": {
			"secret_key":             "fallback_secret_change_in_production",
			"token_expiration_hours": "12",
		},
		"TLS": {
			"enable_tls":         "false",
			"enable_letsencrypt": "false",
			"domain":             "",
			"letsencrypt_email":  "",
			"cert_cache_dir":     "./certs",
			"cert_file":          "./certs/server.crt",
			"key_file":           "./certs/server.key",
			"https_port":         "8443",
		},
		"Debug": {
			"enable_debug_logging": "true",
			"log_level":            "INFO",
			"log_file":             "flail.log",
			"max_log_size_mb":      "10",
			"log_rotation_count":   "3",
			"log_compiler":         "false",
			"log_emit":             "false",
			"log_database":         "true",
			"log_server":           "true",
			"log_websocket":        "false",
			"log_auth":             "true",
			"log_security":         "true",
			"log_config":           "true",
			"log_general":          "true",
		},
	}
}

// WriteTo writes the configuration in INI format, sections in fixed order and
// keys sorted.
func (c *Config) WriteTo(w io.Writer) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var b strings.Builder
	b.WriteString("; flail configuration file\n")
	b.WriteString("; Generated automatically - modify with care\n\n")

	for _, section := range orderedSections(c.settings) {
		fmt.Fprintf(&b, "[%s]\n", section)
		values := c.settings[section]
		keys := make([]string, 0, len(values))
		for key := range values {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, "%s = %s\n", key, values[key])
		}
		b.WriteString("\n")
	}

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// orderedSections lists known sections first, then any others sorted.
func orderedSections(settings map[string]map[string]string) []string {
	known := make(map[string]bool, len(sectionOrder))
	out := make([]string, 0, len(settings))
	for _, section := range sectionOrder {
		known[section] = true
		if _, ok := settings[section]; ok {
			out = append(out, section)
		}
	}
	var extra []string
	for section := range settings {
		if !known[section] {
			extra = append(extra, section)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func (c *Config) saveToFile() error {
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}
	file, err := os.Create(c.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = c.WriteTo(file)
	return err
}

// Get returns a value of this config.
func (c *Config) Get(section, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if values, ok := c.settings[section]; ok {
		value, ok := values[key]
		return value, ok
	}
	return "", false
}

// GetString returns a value of the global configuration.
func GetString(section, key, defaultValue string) string {
	if globalConfig == nil {
		return defaultValue
	}
	if value, ok := globalConfig.Get(section, key); ok {
		return value
	}
	return defaultValue
}

// GetInt returns an integer value, or the default if it is missing or invalid.
func GetInt(section, key string, defaultValue int) int {
	if value, err := strconv.Atoi(GetString(section, key, "")); err == nil {
		return value
	}
	return defaultValue
}

// GetFloat returns a float value, or the default if it is missing or invalid.
func GetFloat(section, key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(GetString(section, key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

// GetBool returns a boolean value, or the default if it is missing or invalid.
func GetBool(section, key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(GetString(section, key, "")); err == nil {
		return value
	}
	return defaultValue
}

// GetDuration returns a duration such as "30s", or the default.
func GetDuration(section, key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(GetString(section, key, "")); err == nil {
		return value
	}
	return defaultValue
}

// GetSection returns a copy of all values of a section.
func GetSection(section string) map[string]string {
	result := make(map[string]string)
	if globalConfig == nil {
		return result
	}
	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()
	for key, value := range globalConfig.settings[section] {
		result[key] = value
	}
	return result
}

// SetString changes a value of the global configuration in memory.
func SetString(section, key, value string) {
	if globalConfig == nil {
		return
	}
	globalConfig.mu.Lock()
	defer globalConfig.mu.Unlock()
	if globalConfig.settings[section] == nil {
		globalConfig.settings[section] = make(map[string]string)
	}
	globalConfig.settings[section][key] = value
}

// Save writes the global configuration back to its file.
func Save() error {
	if globalConfig == nil {
		return fmt.Errorf("configuration not initialized")
	}
	return globalConfig.saveToFile()
}
