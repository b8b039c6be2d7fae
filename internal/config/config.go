package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global  GlobalConfig   `yaml:"global"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Drive   DriveConfig    `yaml:"drive"`
	Volumes []VolumeConfig `yaml:"volumes"`
	Lock    LockConfig     `yaml:"lock"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// MetricsConfig represents the prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DriveConfig represents the virtual drive all volumes are mounted under
type DriveConfig struct {
	Name         string `yaml:"name"`
	Letter       string `yaml:"letter"`
	MountPoint   string `yaml:"mount_point"`
	VolumeName   string `yaml:"volume_name"`
	Threads      int    `yaml:"threads"`
	NetworkDrive bool   `yaml:"network_drive"`
}

// VolumeConfig represents one remote SFTP endpoint
type VolumeConfig struct {
	// Name is the directory the volume appears under on the drive
	Name string `yaml:"name"`

	Host                  string        `yaml:"host"`
	Port                  int           `yaml:"port"`
	Username              string        `yaml:"username"`
	Password              string        `yaml:"password"`
	PrivateKey            string        `yaml:"private_key"`
	Passphrase            string        `yaml:"passphrase"`
	KnownHosts            string        `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`

	RootPath            string `yaml:"root_path"`
	Label               string `yaml:"label"`
	UseOfflineAttribute bool   `yaml:"use_offline_attribute"`
	DebugMode           bool   `yaml:"debug_mode"`

	AttributeCacheTimeout time.Duration `yaml:"attribute_cache_timeout"`
	DirectoryCacheTimeout time.Duration `yaml:"directory_cache_timeout"`
}

// LockConfig represents the remote write-lock service
type LockConfig struct {
	Enabled            bool                 `yaml:"enabled"`
	Scheme             string               `yaml:"scheme"`
	Port               int                  `yaml:"port"`
	RequestTimeout     time.Duration        `yaml:"request_timeout"`
	InsecureSkipVerify bool                 `yaml:"insecure_skip_verify"`
	Concurrency        int                  `yaml:"concurrency"`
	Retry              RetryConfig          `yaml:"retry"`
	CircuitBreaker     CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       bool          `yaml:"jitter"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	Probes           uint32        `yaml:"probes"`
	CoolDown         time.Duration `yaml:"cool_down"`
}

// Volume defaults, applied to entries that leave them unset.
const (
	DefaultPort                  = 22
	DefaultConnectTimeout        = 15 * time.Second
	DefaultAttributeCacheTimeout = 5 * time.Second
	DefaultDirectoryCacheTimeout = 60 * time.Second
)

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "json",
			LogFile:   "",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "sshfs",
		},
		Drive: DriveConfig{
			Name:       "sshfs",
			VolumeName: "WinSshFS spool",
			Threads:    32,
		},
		Lock: LockConfig{
			Enabled:        false,
			Scheme:         "https",
			Port:           8443,
			RequestTimeout: 10 * time.Second,
			Concurrency:    8,
			Retry: RetryConfig{
				MaxAttempts:  5,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     10 * time.Second,
				Multiplier:   2.0,
				Jitter:       true,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				Probes:           1,
				CoolDown:         30 * time.Second,
			},
		},
	}
}

// NewVolume returns a volume entry with the defaults filled in.
func NewVolume(name, host, username string) VolumeConfig {
	v := VolumeConfig{Name: name, Host: host, Username: username}
	v.applyDefaults()
	return v
}

func (v *VolumeConfig) applyDefaults() {
	if v.Port == 0 {
		v.Port = DefaultPort
	}
	if v.ConnectTimeout == 0 {
		v.ConnectTimeout = DefaultConnectTimeout
	}
	if v.AttributeCacheTimeout == 0 {
		v.AttributeCacheTimeout = DefaultAttributeCacheTimeout
	}
	if v.DirectoryCacheTimeout == 0 {
		v.DirectoryCacheTimeout = DefaultDirectoryCacheTimeout
	}
	if v.Name == "" {
		v.Name = v.Host
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	for i := range c.Volumes {
		c.Volumes[i].applyDefaults()
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("SSHFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("SSHFS_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("SSHFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("SSHFS_METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SSHFS_METRICS_PORT: %w", err)
		}
		c.Metrics.Port = port
	}

	// Drive settings
	if val := os.Getenv("SSHFS_DRIVE_LETTER"); val != "" {
		c.Drive.Letter = val
	}
	if val := os.Getenv("SSHFS_MOUNT_POINT"); val != "" {
		c.Drive.MountPoint = val
	}

	// Lock service
	if val := os.Getenv("SSHFS_LOCK_ENABLED"); val != "" {
		c.Lock.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("SSHFS_LOCK_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SSHFS_LOCK_PORT: %w", err)
		}
		c.Lock.Port = port
	}

	// Cache timeouts apply to every volume
	if val := os.Getenv("SSHFS_ATTR_CACHE_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid SSHFS_ATTR_CACHE_TIMEOUT: %w", err)
		}
		for i := range c.Volumes {
			c.Volumes[i].AttributeCacheTimeout = d
		}
	}
	if val := os.Getenv("SSHFS_DIR_CACHE_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid SSHFS_DIR_CACHE_TIMEOUT: %w", err)
		}
		for i := range c.Volumes {
			c.Volumes[i].DirectoryCacheTimeout = d
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Volumes may carry passwords.
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Drive.Letter == "" && c.Drive.MountPoint == "" {
		return fmt.Errorf("drive needs a letter or a mount_point")
	}
	if l := strings.TrimSuffix(c.Drive.Letter, ":"); c.Drive.Letter != "" {
		if len(l) != 1 || !isLetter(l[0]) {
			return fmt.Errorf("invalid drive letter: %s", c.Drive.Letter)
		}
	}
	if c.Drive.Threads <= 0 {
		return fmt.Errorf("drive threads must be greater than 0")
	}

	seen := make(map[string]bool, len(c.Volumes))
	for i, v := range c.Volumes {
		if v.Host == "" {
			return fmt.Errorf("volume %d: host is required", i)
		}
		if v.Username == "" {
			return fmt.Errorf("volume %s: username is required", v.Host)
		}
		if v.Name == "" || strings.ContainsAny(v.Name, `/\`) {
			return fmt.Errorf("volume %s: invalid name %q", v.Host, v.Name)
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate volume name: %s", v.Name)
		}
		seen[v.Name] = true
		if v.AttributeCacheTimeout < 0 || v.DirectoryCacheTimeout < 0 {
			return fmt.Errorf("volume %s: cache timeouts cannot be negative", v.Name)
		}
	}

	if c.Lock.Port < 1 || c.Lock.Port > 65535 {
		return fmt.Errorf("invalid lock port: %d", c.Lock.Port)
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}

	return nil
}

func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
