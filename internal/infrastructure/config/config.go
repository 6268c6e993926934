package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport modes.
const (
	TransportProPar    = "propar"
	TransportSimulated = "simulated"
)

// Config is the root configuration structure for the mfcd daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site         SiteConfig          `yaml:"site"`
	Database     DatabaseConfig      `yaml:"database"`
	MQTT         MQTTConfig          `yaml:"mqtt"`
	API          APIConfig           `yaml:"api"`
	WebSocket    WebSocketConfig     `yaml:"websocket"`
	InfluxDB     InfluxDBConfig      `yaml:"influxdb"`
	Logging      LoggingConfig       `yaml:"logging"`
	Transport    TransportConfig     `yaml:"transport"`
	Safety       SafetyConfig        `yaml:"safety"`
	Telemetry    TelemetryConfig     `yaml:"telemetry"`
	Devices      DevicesConfig       `yaml:"devices"`
	Calibrations []CalibrationConfig `yaml:"calibrations"`
}

// SiteConfig identifies the bench.
type SiteConfig struct {
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
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TransportConfig selects how instruments are reached.
type TransportConfig struct {
	// Mode is "propar" for real hardware or "simulated" for the in-memory
	// instrument model.
	Mode string `yaml:"mode"`

	// Port is the default serial port for devices that do not name one.
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// Simulator tuning, used only in simulated mode.
	Simulator SimulatorConfig `yaml:"simulator"`
}

// SimulatorConfig tunes the simulated instruments.
type SimulatorConfig struct {
	ResponseTime time.Duration `yaml:"response_time"`
	NoiseLevel   float64       `yaml:"noise_level"`
	Capacity     float64       `yaml:"capacity"`
}

// SafetyConfig contains purge and monitoring thresholds.
type SafetyConfig struct {
	PurgeDevice        string        `yaml:"purge_device"`
	PurgeFlow          float64       `yaml:"purge_flow"`
	PurgeDuration      time.Duration `yaml:"purge_duration"`
	ZeroThreshold      float64       `yaml:"zero_threshold"`
	DeviationThreshold float64       `yaml:"deviation_threshold"`
	PurgeOnShutdown    bool          `yaml:"purge_on_shutdown"`
}

// TelemetryConfig controls the flow sampler.
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// DevicesConfig lists the devices to register at start-up. When both lists
// are empty the standard lab set is registered on transport.port.
type DevicesConfig struct {
	Controllers []DeviceConfig `yaml:"controllers"`
	Meters      []DeviceConfig `yaml:"meters"`
}

// DeviceConfig describes one device on the bus.
type DeviceConfig struct {
	Name    string `yaml:"name"`
	Port    string `yaml:"port"`
	Address int    `yaml:"address"`
	Gas     string `yaml:"gas"`
}

// CalibrationConfig overrides the built-in calibration for one gas.
type CalibrationConfig struct {
	Gas    string    `yaml:"gas"`
	Device []float64 `yaml:"device"`
	Real   []float64 `yaml:"real"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MFCD_SECTION_KEY
// For example: MFCD_DATABASE_PATH, MFCD_TRANSPORT_PORT
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

// Default returns the built-in configuration, with environment overrides
// applied. It is used when no config file is given.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "bench-001",
			Name: "Combustion bench",
		},
		Database: DatabaseConfig{
			Path:        "./data/mfcd.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mfcd",
			},
			QoS:         1,
			TopicPrefix: "mfc",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "mfc",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Transport: TransportConfig{
			Mode:        TransportSimulated,
			Port:        "/dev/ttyUSB0",
			BaudRate:    38400,
			ReadTimeout: 500 * time.Millisecond,
			Simulator: SimulatorConfig{
				ResponseTime: 500 * time.Millisecond,
				Capacity:     5.0,
			},
		},
		Safety: SafetyConfig{
			PurgeDevice:        "Air",
			PurgeFlow:          30.0,
			PurgeDuration:      10 * time.Second,
			ZeroThreshold:      0.01,
			DeviationThreshold: 0.05,
			PurgeOnShutdown:    true,
		},
		Telemetry: TelemetryConfig{
			Enabled:  true,
			Interval: time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MFCD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MFCD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("MFCD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MFCD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MFCD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("MFCD_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("MFCD_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("MFCD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("MFCD_TRANSPORT_MODE"); v != "" {
		cfg.Transport.Mode = v
	}
	if v := os.Getenv("MFCD_TRANSPORT_PORT"); v != "" {
		cfg.Transport.Port = v
	}

	if v := os.Getenv("MFCD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent checks
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	switch c.Transport.Mode {
	case TransportProPar:
		if c.Transport.BaudRate <= 0 {
			errs = append(errs, "transport.baud_rate must be positive")
		}
	case TransportSimulated:
	default:
		errs = append(errs, fmt.Sprintf("transport.mode must be %q or %q", TransportProPar, TransportSimulated))
	}

	if c.Safety.PurgeDevice == "" {
		errs = append(errs, "safety.purge_device is required")
	}
	if c.Safety.PurgeFlow <= 0 {
		errs = append(errs, "safety.purge_flow must be positive")
	}
	if c.Safety.PurgeDuration < 0 {
		errs = append(errs, "safety.purge_duration cannot be negative")
	}
	if c.Safety.ZeroThreshold < 0 || c.Safety.DeviationThreshold < 0 {
		errs = append(errs, "safety thresholds cannot be negative")
	}
	if c.Telemetry.Enabled && c.Telemetry.Interval <= 0 {
		errs = append(errs, "telemetry.interval must be positive when telemetry is enabled")
	}

	errs = append(errs, c.Devices.validate(c.Transport.Port)...)

	for i, cal := range c.Calibrations {
		if cal.Gas == "" {
			errs = append(errs, fmt.Sprintf("calibrations[%d].gas is required", i))
		}
		if len(cal.Device) != len(cal.Real) || len(cal.Device) < 2 {
			errs = append(errs, fmt.Sprintf("calibrations[%d] needs matching device/real lists of at least 2 points", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (d DevicesConfig) validate(defaultPort string) []string {
	var errs []string
	seen := map[string]bool{}
	check := func(kind string, i int, dev DeviceConfig) {
		switch {
		case dev.Name == "":
			errs = append(errs, fmt.Sprintf("devices.%s[%d].name is required", kind, i))
		case seen[kind+"/"+dev.Name]:
			errs = append(errs, fmt.Sprintf("devices.%s: duplicate name %q", kind, dev.Name))
		}
		seen[kind+"/"+dev.Name] = true
		if dev.Address < 0 || dev.Address > 127 {
			errs = append(errs, fmt.Sprintf("devices.%s[%d].address must be between 0 and 127", kind, i))
		}
		if dev.Port == "" && defaultPort == "" {
			errs = append(errs, fmt.Sprintf("devices.%s[%d].port is required when transport.port is empty", kind, i))
		}
	}
	for i, dev := range d.Controllers {
		check("controllers", i, dev)
	}
	for i, dev := range d.Meters {
		check("meters", i, dev)
	}
	return errs
}

// Empty reports whether no devices are configured.
func (d DevicesConfig) Empty() bool {
	return len(d.Controllers) == 0 && len(d.Meters) == 0
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
