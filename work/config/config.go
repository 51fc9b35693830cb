package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Config holds all application configuration values for the VOD gateway.
// It covers the HTTP listener, the remote media hosts reachable over SSH,
// streaming timeouts, probing, and conversion defaults.
type Config struct {
	BaseURL            string        `json:"baseURL"`            // Base URL the gateway is reachable at (used for links and logs)
	ListenPort         int           `json:"listenPort"`         // TCP port for the HTTP listener
	ContentRoot        string        `json:"contentRoot"`        // Absolute directory on the media hosts that all video paths live under
	AuthSecret         string        `json:"authSecret"`         // HMAC secret used to verify bearer tokens
	BitrateCeilingKbps int64         `json:"bitrateCeilingKbps"` // Maximum bitrate a file may carry and still be served without conversion
	RunTimeout         time.Duration `json:"runTimeout"`         // Timeout for short-lived remote commands (stat, ffprobe, mv)
	StreamIdleTimeout  time.Duration `json:"streamIdleTimeout"`  // Abort a transfer when no bytes move for this long
	StreamMinTimeout   time.Duration `json:"streamMinTimeout"`   // Floor for the total per-transfer timeout budget
	StreamMinRateKBs   int64         `json:"streamMinRateKBs"`   // Assumed minimum transfer rate used to scale the total timeout with window size
	ProbeCacheEnabled  bool          `json:"probeCacheEnabled"`  // Whether probed metadata is cached
	ProbeCacheDuration time.Duration `json:"probeCacheDuration"` // TTL for cached probe metadata
	WorkerThreads      int           `json:"workerThreads"`      // Size of the background conversion worker pool
	CopyBufferKB       int           `json:"copyBufferKB"`       // Size of the per-transfer copy buffer in KB
	SmallWindowBytes   int64         `json:"smallWindowBytes"`   // Byte windows at or below this size use a single-stage remote read
	DatabasePath       string        `json:"databasePath"`       // SQLite file recording conversion job history
	Debug              bool          `json:"debug"`              // Enable debug logging
	ObfuscatePaths     bool          `json:"obfuscatePaths"`     // Obfuscate remote file paths in logs
	DefaultHost        string        `json:"defaultHost"`        // Host id used when a namespace has no explicit mapping
	Hosts              []HostConfig  `json:"hosts"`              // Remote media hosts
	NamespaceHosts     map[string]string `json:"namespaceHosts"` // namespace -> host id routing table
	Conversion         ConversionConfig  `json:"conversion"`     // Defaults applied to conversion jobs
}

// HostConfig describes one remote media host the gateway executes
// commands on. Either Password or KeyFile must be set.
type HostConfig struct {
	ID             string `json:"id"`             // Symbolic host identifier referenced by the routing table
	Address        string `json:"address"`        // Hostname or IP of the SSH endpoint
	Port           int    `json:"port"`           // SSH port, defaults to 22
	Username       string `json:"username"`       // SSH login user
	Password       string `json:"password"`       // SSH password (ignored when KeyFile is set)
	KeyFile        string `json:"keyFile"`        // Path to a PEM private key for public-key auth
	MaxSessions    int    `json:"maxSessions"`    // Cap on concurrent exec sessions over the pooled connection
	MaxConversions int    `json:"maxConversions"` // Cap on concurrent ffmpeg transcodes on this host
	LaunchRate     int    `json:"launchRate"`     // Remote command launches allowed per second
}

// ConversionConfig holds defaults for transcode and thumbnail jobs when
// a request leaves them unspecified.
type ConversionConfig struct {
	TargetSuffix  string `json:"targetSuffix"`  // Suffix inserted before the extension of derived files
	BitrateKbps   int64  `json:"bitrateKbps"`   // Default target video bitrate
	Resolution    string `json:"resolution"`    // Default target resolution, WIDTHxHEIGHT
	Quality       string `json:"quality"`       // Default ffmpeg preset
	ThumbnailSize string `json:"thumbnailSize"` // Fixed thumbnail dimensions, WIDTHxHEIGHT
}

// ConfigFile mirrors Config with duration fields as strings (e.g. "30s")
// for JSON marshaling.
type ConfigFile struct {
	BaseURL            string            `json:"baseURL"`
	ListenPort         int               `json:"listenPort"`
	ContentRoot        string            `json:"contentRoot"`
	AuthSecret         string            `json:"authSecret"`
	BitrateCeilingKbps int64             `json:"bitrateCeilingKbps"`
	RunTimeout         string            `json:"runTimeout"`
	StreamIdleTimeout  string            `json:"streamIdleTimeout"`
	StreamMinTimeout   string            `json:"streamMinTimeout"`
	StreamMinRateKBs   int64             `json:"streamMinRateKBs"`
	ProbeCacheEnabled  bool              `json:"probeCacheEnabled"`
	ProbeCacheDuration string            `json:"probeCacheDuration"`
	WorkerThreads      int               `json:"workerThreads"`
	CopyBufferKB       int               `json:"copyBufferKB"`
	SmallWindowBytes   int64             `json:"smallWindowBytes"`
	DatabasePath       string            `json:"databasePath"`
	Debug              bool              `json:"debug"`
	ObfuscatePaths     bool              `json:"obfuscatePaths"`
	DefaultHost        string            `json:"defaultHost"`
	Hosts              []HostConfig      `json:"hosts"`
	NamespaceHosts     map[string]string `json:"namespaceHosts"`
	Conversion         ConversionConfig  `json:"conversion"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Guards concurrent access to configCache
)

// DefaultPath is where LoadConfig looks for the JSON config file.
const DefaultPath = "/settings/vodgate.json"

// LoadConfig loads the configuration from file or returns the cached
// instance. Uses double-checked locking so concurrent callers never
// trigger redundant reloads; falls back to defaults when the file is
// missing or invalid, then validates the result.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	if configCache != nil {
		return configCache
	}

	config, err := loadFromFile(DefaultPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", DefaultPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Hosts: %d configured", len(config.Hosts))
		for i := range config.Hosts {
			h := &config.Hosts[i]
			log.Printf("    Host %d (%s): %s:%d (max sessions: %d, max conversions: %d)",
				i+1, h.ID, h.Address, h.Port, h.MaxSessions, h.MaxConversions)
		}
		log.Printf("  Content root: %s", config.ContentRoot)
		log.Printf("  Bitrate ceiling: %d kbps", config.BitrateCeilingKbps)
		log.Printf("  Obfuscate paths: %v", config.ObfuscatePaths)
	}

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration
// strings into time.Duration values.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:            cf.BaseURL,
		ListenPort:         cf.ListenPort,
		ContentRoot:        cf.ContentRoot,
		AuthSecret:         cf.AuthSecret,
		BitrateCeilingKbps: cf.BitrateCeilingKbps,
		StreamMinRateKBs:   cf.StreamMinRateKBs,
		ProbeCacheEnabled:  cf.ProbeCacheEnabled,
		WorkerThreads:      cf.WorkerThreads,
		CopyBufferKB:       cf.CopyBufferKB,
		SmallWindowBytes:   cf.SmallWindowBytes,
		DatabasePath:       cf.DatabasePath,
		Debug:              cf.Debug,
		ObfuscatePaths:     cf.ObfuscatePaths,
		DefaultHost:        cf.DefaultHost,
		Hosts:              cf.Hosts,
		NamespaceHosts:     cf.NamespaceHosts,
		Conversion:         cf.Conversion,
	}

	var err error
	if config.RunTimeout, err = time.ParseDuration(cf.RunTimeout); err != nil {
		return nil, fmt.Errorf("invalid runTimeout: %w", err)
	}
	if config.StreamIdleTimeout, err = time.ParseDuration(cf.StreamIdleTimeout); err != nil {
		return nil, fmt.Errorf("invalid streamIdleTimeout: %w", err)
	}
	if config.StreamMinTimeout, err = time.ParseDuration(cf.StreamMinTimeout); err != nil {
		return nil, fmt.Errorf("invalid streamMinTimeout: %w", err)
	}
	if config.ProbeCacheDuration, err = time.ParseDuration(cf.ProbeCacheDuration); err != nil {
		return nil, fmt.Errorf("invalid probeCacheDuration: %w", err)
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration with sensible
// defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:            "http://localhost:8080",
		ListenPort:         8080,
		ContentRoot:        "/content",
		BitrateCeilingKbps: 2500,
		RunTimeout:         20 * time.Second,
		StreamIdleTimeout:  30 * time.Second,
		StreamMinTimeout:   2 * time.Minute,
		StreamMinRateKBs:   256,
		ProbeCacheEnabled:  true,
		ProbeCacheDuration: 30 * time.Minute,
		WorkerThreads:      4,
		CopyBufferKB:       64,
		SmallWindowBytes:   1 << 20,
		DatabasePath:       "/settings/vodgate.db",
		Debug:              false,
		ObfuscatePaths:     false,
		Hosts:              []HostConfig{},
		NamespaceHosts:     map[string]string{},
		Conversion: ConversionConfig{
			TargetSuffix:  "_web",
			BitrateKbps:   2000,
			Resolution:    "1280x720",
			Quality:       "fast",
			ThumbnailSize: "320x180",
		},
	}
}

// validateAndSetDefaults ensures all config values are valid, filling
// in defaults for missing or out-of-range ones.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.ListenPort <= 0 || config.ListenPort > 65535 {
		config.ListenPort = 8080
	}
	if config.ContentRoot == "" {
		config.ContentRoot = "/content"
	}
	config.ContentRoot = strings.TrimSuffix(config.ContentRoot, "/")
	if config.BitrateCeilingKbps <= 0 {
		config.BitrateCeilingKbps = 2500
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = 20 * time.Second
	}
	if config.StreamIdleTimeout <= 0 {
		config.StreamIdleTimeout = 30 * time.Second
	}
	if config.StreamMinTimeout <= 0 {
		config.StreamMinTimeout = 2 * time.Minute
	}
	if config.StreamMinRateKBs <= 0 {
		config.StreamMinRateKBs = 256
	}
	if config.ProbeCacheDuration <= 0 {
		config.ProbeCacheDuration = 30 * time.Minute
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 4
	}
	if config.CopyBufferKB <= 0 {
		config.CopyBufferKB = 64
	}
	if config.SmallWindowBytes <= 0 {
		config.SmallWindowBytes = 1 << 20
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "/settings/vodgate.db"
	}
	if config.NamespaceHosts == nil {
		config.NamespaceHosts = map[string]string{}
	}
	if config.DefaultHost == "" && len(config.Hosts) > 0 {
		config.DefaultHost = config.Hosts[0].ID
	}

	for i := range config.Hosts {
		h := &config.Hosts[i]
		if h.ID == "" {
			h.ID = fmt.Sprintf("host_%d", i+1)
		}
		if h.Port <= 0 {
			h.Port = 22
		}
		if h.MaxSessions <= 0 {
			h.MaxSessions = 8
		}
		if h.MaxConversions <= 0 {
			h.MaxConversions = 2
		}
		if h.LaunchRate <= 0 {
			h.LaunchRate = 10
		}
	}

	if config.Conversion.TargetSuffix == "" {
		config.Conversion.TargetSuffix = "_web"
	}
	if config.Conversion.BitrateKbps <= 0 {
		config.Conversion.BitrateKbps = 2000
	}
	if config.Conversion.Resolution == "" {
		config.Conversion.Resolution = "1280x720"
	}
	if config.Conversion.Quality == "" {
		config.Conversion.Quality = "fast"
	}
	if config.Conversion.ThumbnailSize == "" {
		config.Conversion.ThumbnailSize = "320x180"
	}
}

// GetHost returns a pointer to the HostConfig matching the given id.
// Returns nil if no match is found.
func (c *Config) GetHost(id string) *HostConfig {
	for i := range c.Hosts {
		if c.Hosts[i].ID == id {
			return &c.Hosts[i]
		}
	}
	return nil
}

// HostForNamespace resolves the host id serving a given identity
// namespace, falling back to the default host.
func (c *Config) HostForNamespace(namespace string) string {
	if id, ok := c.NamespaceHosts[namespace]; ok && id != "" {
		return id
	}
	return c.DefaultHost
}

// CreateExampleConfig writes an example config file to disk.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		BaseURL:            "http://localhost:8080",
		ListenPort:         8080,
		ContentRoot:        "/content/vod",
		AuthSecret:         "change-me",
		BitrateCeilingKbps: 2500,
		RunTimeout:         "20s",
		StreamIdleTimeout:  "30s",
		StreamMinTimeout:   "2m",
		StreamMinRateKBs:   256,
		ProbeCacheEnabled:  true,
		ProbeCacheDuration: "30m",
		WorkerThreads:      4,
		CopyBufferKB:       64,
		SmallWindowBytes:   1048576,
		DatabasePath:       "/settings/vodgate.db",
		Debug:              false,
		ObfuscatePaths:     true,
		DefaultHost:        "media1",
		Hosts: []HostConfig{
			{
				ID:             "media1",
				Address:        "media1.example.com",
				Port:           22,
				Username:       "vodgate",
				KeyFile:        "/settings/id_ed25519",
				MaxSessions:    8,
				MaxConversions: 2,
				LaunchRate:     10,
			},
		},
		NamespaceHosts: map[string]string{
			"alice": "media1",
		},
		Conversion: ConversionConfig{
			TargetSuffix:  "_web",
			BitrateKbps:   2000,
			Resolution:    "1280x720",
			Quality:       "fast",
			ThumbnailSize: "320x180",
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the cached config, forcing a reload on the
// next LoadConfig call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}
