package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Tagbox Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Media     MediaConfig     `yaml:"media"`
	Player    PlayerConfig    `yaml:"player"`
	Sounds    SoundsConfig    `yaml:"sounds"`
	Mixer     MixerConfig     `yaml:"mixer"`
	Hardware  HardwareConfig  `yaml:"hardware"`
	Playback  PlaybackConfig  `yaml:"playback"`
}

// DeviceConfig identifies this box on the network.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// MQTT is optional: a standalone box runs without a broker.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DefaultMaxUploadSize caps a track upload when api.max_upload_size is
// unset (200 MB).
const DefaultMaxUploadSize int64 = 200 << 20

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host          string           `yaml:"host"`
	Port          int              `yaml:"port"`
	Timeouts      APITimeoutConfig `yaml:"timeouts"`
	CORS          CORSConfig       `yaml:"cors"`
	MaxUploadSize int64            `yaml:"max_upload_size"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Sizes are in megabytes, ages in days.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// MediaConfig describes the audio library on disk.
type MediaConfig struct {
	// Dir holds the playable tracks. Created on startup if missing.
	Dir string `yaml:"dir"`

	// Watch enables the filesystem watcher that broadcasts library changes
	// made outside the API (scp, USB copy).
	Watch bool `yaml:"watch"`

	// LegacyMappingFile is a JSON object of tag ID to filename imported once
	// when the mapping table is empty. Empty disables the import.
	LegacyMappingFile string `yaml:"legacy_mapping_file"`
}

// PlayerConfig configures the external audio player.
// The track path is appended after Args.
type PlayerConfig struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
}

// SoundsConfig configures the short feedback sounds.
type SoundsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Dir     string   `yaml:"dir"`
	Binary  string   `yaml:"binary"`
	Args    []string `yaml:"args"`
}

// MixerConfig configures the ALSA mixer used for volume control.
type MixerConfig struct {
	Binary        string `yaml:"binary"`
	Control       string `yaml:"control"`
	InitialVolume int    `yaml:"initial_volume"`
}

// HardwareConfig groups the physical peripherals.
type HardwareConfig struct {
	Reader ReaderConfig `yaml:"reader"`
	LED    LEDConfig    `yaml:"led"`
}

// ReaderConfig selects and configures the tag reader driver.
type ReaderConfig struct {
	// Type is "mfrc522" (SPI) or "line" (newline-delimited IDs from a
	// character device or FIFO).
	Type string `yaml:"type"`

	// SPIPort is the periph SPI port name; empty selects the first port.
	SPIPort  string `yaml:"spi_port"`
	ResetPin string `yaml:"reset_pin"`
	IRQPin   string `yaml:"irq_pin"`

	// Device is the path read by the line driver.
	Device string `yaml:"device"`

	// PollTimeout bounds a single non-blocking probe.
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// LEDConfig configures the indicator light.
type LEDConfig struct {
	Enabled bool   `yaml:"enabled"`
	Pin     string `yaml:"pin"`
}

// PlaybackConfig holds the coordination loop timings.
type PlaybackConfig struct {
	StartupDelay        time.Duration `yaml:"startup_delay"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	Cooldown            time.Duration `yaml:"cooldown"`
	TerminateTimeout    time.Duration `yaml:"terminate_timeout"`
	JoinTimeout         time.Duration `yaml:"join_timeout"`
	RegistrationTimeout time.Duration `yaml:"registration_timeout"`
}

// Load reads the YAML file at path over the built-in defaults, applies
// TAGBOX_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults for a Raspberry Pi
// with an MFRC522 reader and an LED on GPIO17.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:   "tagbox-001",
			Name: "Tagbox",
		},
		Database: DatabaseConfig{
			Path:        "./data/tagbox.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tagbox-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 5000,
			Timeouts: APITimeoutConfig{
				Read:  120,
				Write: 120,
				Idle:  60,
			},
			MaxUploadSize: DefaultMaxUploadSize,
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./data/tagbox.log",
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
		Media: MediaConfig{
			Dir:               "media",
			Watch:             true,
			LegacyMappingFile: "tag_mappings.json",
		},
		Player: PlayerConfig{
			Binary: "mpg123",
			Args:   []string{"-q"},
		},
		Sounds: SoundsConfig{
			Enabled: true,
			Dir:     "sfx",
			Binary:  "aplay",
			Args:    []string{"-q"},
		},
		Mixer: MixerConfig{
			Binary:        "amixer",
			Control:       "PCM",
			InitialVolume: 50,
		},
		Hardware: HardwareConfig{
			Reader: ReaderConfig{
				Type:        "mfrc522",
				ResetPin:    "GPIO25",
				IRQPin:      "GPIO24",
				PollTimeout: 50 * time.Millisecond,
			},
			LED: LEDConfig{
				Enabled: true,
				Pin:     "GPIO17",
			},
		},
		Playback: PlaybackConfig{
			StartupDelay:        5 * time.Second,
			PollInterval:        100 * time.Millisecond,
			Cooldown:            time.Second,
			TerminateTimeout:    time.Second,
			JoinTimeout:         2 * time.Second,
			RegistrationTimeout: 30 * time.Second,
		},
	}
}

// envOverrides maps environment variables onto config fields. Secrets
// (MQTT password, InfluxDB token) are meant to arrive this way rather than
// sit in the file.
var envOverrides = map[string]func(*Config, string){
	"TAGBOX_DEVICE_ID":        func(c *Config, v string) { c.Device.ID = v },
	"TAGBOX_DATABASE_PATH":    func(c *Config, v string) { c.Database.Path = v },
	"TAGBOX_MQTT_ENABLED":     func(c *Config, v string) { setBool(&c.MQTT.Enabled, v) },
	"TAGBOX_MQTT_HOST":        func(c *Config, v string) { c.MQTT.Broker.Host = v },
	"TAGBOX_MQTT_USERNAME":    func(c *Config, v string) { c.MQTT.Auth.Username = v },
	"TAGBOX_MQTT_PASSWORD":    func(c *Config, v string) { c.MQTT.Auth.Password = v },
	"TAGBOX_API_HOST":         func(c *Config, v string) { c.API.Host = v },
	"TAGBOX_API_PORT":         func(c *Config, v string) { setInt(&c.API.Port, v) },
	"TAGBOX_INFLUXDB_ENABLED": func(c *Config, v string) { setBool(&c.InfluxDB.Enabled, v) },
	"TAGBOX_INFLUXDB_TOKEN":   func(c *Config, v string) { c.InfluxDB.Token = v },
	"TAGBOX_MEDIA_DIR":        func(c *Config, v string) { c.Media.Dir = v },
	"TAGBOX_READER_TYPE":      func(c *Config, v string) { c.Hardware.Reader.Type = v },
	"TAGBOX_READER_DEVICE":    func(c *Config, v string) { c.Hardware.Reader.Device = v },
	"TAGBOX_LOG_LEVEL":        func(c *Config, v string) { c.Logging.Level = v },
}

// applyEnvOverrides applies every set, non-empty override. Unparseable
// booleans and integers are ignored.
func applyEnvOverrides(cfg *Config) {
	for name, apply := range envOverrides {
		if v := os.Getenv(name); v != "" {
			apply(cfg, v)
		}
	}
}

func setBool(dst *bool, v string) {
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate reports every problem at once, joined with "; ".
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	// A registration request holds its response open for the whole read.
	if c.API.Timeouts.Write > 0 && c.GetWriteTimeout() <= c.Playback.RegistrationTimeout {
		errs = append(errs, "api.timeouts.write must exceed playback.registration_timeout")
	}

	if c.Media.Dir == "" {
		errs = append(errs, "media.dir is required")
	}
	if c.Player.Binary == "" {
		errs = append(errs, "player.binary is required")
	}
	if c.Mixer.InitialVolume < 0 || c.Mixer.InitialVolume > 100 {
		errs = append(errs, "mixer.initial_volume must be between 0 and 100")
	}

	switch c.Hardware.Reader.Type {
	case "mfrc522":
	case "line":
		if c.Hardware.Reader.Device == "" {
			errs = append(errs, "hardware.reader.device is required for the line reader")
		}
	default:
		errs = append(errs, fmt.Sprintf("hardware.reader.type %q is not supported (mfrc522, line)", c.Hardware.Reader.Type))
	}

	if c.Hardware.LED.Enabled && c.Hardware.LED.Pin == "" {
		errs = append(errs, "hardware.led.pin is required when the LED is enabled")
	}

	p := c.Playback
	if p.PollInterval <= 0 {
		errs = append(errs, "playback.poll_interval must be positive")
	}
	if p.StartupDelay < 0 || p.Cooldown < 0 {
		errs = append(errs, "playback delays must not be negative")
	}
	if p.TerminateTimeout <= 0 || p.JoinTimeout <= 0 {
		errs = append(errs, "playback.terminate_timeout and playback.join_timeout must be positive")
	}
	if p.RegistrationTimeout <= 0 {
		errs = append(errs, "playback.registration_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
