package config

import "time"

// CurrentConfigVersion is the schema version for the config file.
const CurrentConfigVersion = 1

// Config represents the complete .sbctool.yaml configuration file.
type Config struct {
	Version int `yaml:"version" mapstructure:"version"`

	// PollInterval is the snapshot refresh cadence.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// CommandTimeout bounds every remote command. No command runs without one.
	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout"`

	// ConnectTimeout bounds dialing plus handshake for one strategy.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// LogBuffer is how many log lines the dashboard keeps.
	LogBuffer int `yaml:"log_buffer" mapstructure:"log_buffer"`

	// ShutdownGrace is how long teardown may take before handles are abandoned.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" mapstructure:"shutdown_grace"`

	Reconnect ReconnectConfig `yaml:"reconnect" mapstructure:"reconnect"`
	SSH       SSHConfig       `yaml:"ssh" mapstructure:"ssh"`
	ADB       ADBConfig       `yaml:"adb" mapstructure:"adb"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// ReconnectConfig is the capped exponential backoff policy.
type ReconnectConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
}

// SSHConfig controls alias resolution and host key checking.
type SSHConfig struct {
	// ConfigFile is consulted before ~/.ssh/config and /etc/ssh/ssh_config.
	ConfigFile string `yaml:"config_file" mapstructure:"config_file"`

	StrictHostKeyChecking bool `yaml:"strict_host_key_checking" mapstructure:"strict_host_key_checking"`
}

// ADBConfig controls the three ADB backends.
type ADBConfig struct {
	// ServerAddress is the local adb server smart socket.
	ServerAddress string `yaml:"server_address" mapstructure:"server_address"`

	// KeyPath is the RSA private key used for device auth.
	KeyPath string `yaml:"key_path" mapstructure:"key_path"`

	// DefaultPort is used for TCP serials given without a port.
	DefaultPort int `yaml:"default_port" mapstructure:"default_port"`

	// USB enables direct USB enumeration before falling back to the server.
	USB bool `yaml:"usb" mapstructure:"usb"`
}

// LogConfig controls sbctool's own diagnostics, not the remote log panel.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

// DefaultConfig returns a config with every default filled in.
func DefaultConfig() *Config {
	return &Config{
		Version:        CurrentConfigVersion,
		PollInterval:   2 * time.Second,
		CommandTimeout: 5 * time.Second,
		ConnectTimeout: 10 * time.Second,
		LogBuffer:      500,
		ShutdownGrace:  2 * time.Second,
		Reconnect: ReconnectConfig{
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   8 * time.Second,
			MaxRetries: 5,
		},
		SSH: SSHConfig{
			StrictHostKeyChecking: true,
		},
		ADB: ADBConfig{
			ServerAddress: "127.0.0.1:5037",
			KeyPath:       "~/.android/adbkey",
			DefaultPort:   5555,
			USB:           true,
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}
