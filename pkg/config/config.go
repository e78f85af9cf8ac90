package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the enrollment port
	DefaultPort = 1515

	// DefaultPoolSize bounds the number of accepted connections waiting
	// for the dispatcher
	DefaultPoolSize = 512

	// DefaultCiphers is the TLS cipher list offered to agents
	DefaultCiphers = "HIGH:!ADH:!EXP:!MD5:!RC4:!3DES:!CAMELLIA:@STRENGTH"
)

// Duration wraps time.Duration so YAML accepts "30s" syntax
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std converts back to a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the daemon configuration
type Config struct {
	// Network
	Port             int      `yaml:"port"`
	BindAddr         string   `yaml:"bind_addr"`
	IPv6             bool     `yaml:"ipv6"`
	RemoteEnrollment bool     `yaml:"remote_enrollment"`
	RecvTimeout      Duration `yaml:"recv_timeout"`
	PoolSize         int      `yaml:"pool_size"`

	// TLS
	Ciphers    string `yaml:"ciphers"`
	ServerCert string `yaml:"server_cert"`
	ServerKey  string `yaml:"server_key"`
	AgentCA    string `yaml:"agent_ca"`
	VerifyHost bool   `yaml:"verify_host"`
	AutoMethod bool   `yaml:"auto_method"` // accept TLS 1.0+ instead of 1.2 only

	// Enrollment policy
	UseSourceIP  bool   `yaml:"use_source_ip"`
	UsePassword  bool   `yaml:"use_password"`
	PasswordFile string `yaml:"password_file"`
	ForceInsert  bool   `yaml:"force_insert"`
	ClearRemoved bool   `yaml:"clear_removed"` // drop revoked entries when loading

	// Cluster
	WorkerNode    bool   `yaml:"worker_node"`
	SingleNode    bool   `yaml:"single_node"`
	ClusterSocket string `yaml:"cluster_socket"`

	// Storage
	DataDir       string `yaml:"data_dir"`
	KeysFile      string `yaml:"keys_file"`
	TimestampFile string `yaml:"timestamp_file"`
	AgentDBSocket string `yaml:"agentdb_socket"` // empty: embedded database

	// Logging
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// Metrics
	MetricsAddr string `yaml:"metrics_addr"` // empty: disabled
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	return &Config{
		Port:             DefaultPort,
		RemoteEnrollment: true,
		RecvTimeout:      Duration(time.Minute),
		PoolSize:         DefaultPoolSize,
		Ciphers:          DefaultCiphers,
		UseSourceIP:      true,
		UsePassword:      false,
		SingleNode:       true,
		DataDir:          "/var/lib/warden",
		LogLevel:         "info",
	}
}

// Load reads a YAML configuration file over the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for fatal startup errors
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("invalid pool size: %d", c.PoolSize)
	}
	if c.RemoteEnrollment {
		if c.ServerCert == "" || c.ServerKey == "" {
			return fmt.Errorf("server certificate and key are required for remote enrollment")
		}
	}
	if c.WorkerNode && c.ClusterSocket == "" {
		return fmt.Errorf("worker node requires a cluster socket")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	return nil
}

// KeysPath resolves the key file location
func (c *Config) KeysPath() string {
	if c.KeysFile != "" {
		return c.KeysFile
	}
	return filepath.Join(c.DataDir, "client.keys")
}

// TimestampPath resolves the timestamp file location
func (c *Config) TimestampPath() string {
	if c.TimestampFile != "" {
		return c.TimestampFile
	}
	return filepath.Join(c.DataDir, "agents.timestamp")
}

// PasswordPath resolves the enrollment password file location
func (c *Config) PasswordPath() string {
	if c.PasswordFile != "" {
		return c.PasswordFile
	}
	return filepath.Join(c.DataDir, "authd.pass")
}
