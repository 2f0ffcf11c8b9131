package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the ADMS server.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Push      PushConfig      `yaml:"push"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig identifies this server instance.
type ServerConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// APIConfig contains HTTP listener settings. Terminals and operators share
// the same listener; terminals use /iclock/*, operators /api/v1/*.
type APIConfig struct {
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// PushConfig contains the device-facing protocol settings.
type PushConfig struct {
	// CommandTimeout bounds how long an issued command waits for the
	// device's devicecmd reply.
	// Default: 10s
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// ServerBanner is sent in the Server header of cdata responses.
	// Default: "nginx/1.6.0"
	ServerBanner string `yaml:"server_banner"`

	// CDataDirectives selects the option block answered on /iclock/cdata:
	// "basic" (stamps only) or "full" (stamps plus transfer directives).
	CDataDirectives string `yaml:"cdata_directives"`

	// Parameters is the block answered on /iclock/push.
	Parameters PushParameters `yaml:"parameters"`

	// Delay and TransferTimes are only used by the "full" cdata
	// directive set.
	Delay         int    `yaml:"delay"`
	TransferTimes string `yaml:"transfer_times"`
}

// PushParameters are the values the device adopts from /iclock/push.
type PushParameters struct {
	ServerVersion string `yaml:"server_version"`
	ServerName    string `yaml:"server_name"`
	PushVersion   string `yaml:"push_version"`
	ErrorDelay    int    `yaml:"error_delay"`
	RequestDelay  int    `yaml:"request_delay"`
	TransInterval int    `yaml:"trans_interval"`
	TransTables   string `yaml:"trans_tables"`
	TimeZone      int    `yaml:"timezone"`
	RealTime      int    `yaml:"realtime"`
	TimeoutSec    int    `yaml:"timeout_sec"`
}

// MonitorConfig controls the attendance monitor that runs against every
// newly connected device.
type MonitorConfig struct {
	Enabled bool `yaml:"enabled"`

	// SyncClock pushes the server clock to the device on first contact.
	SyncClock bool `yaml:"sync_clock"`

	// OptionKeys are read from the device on first contact. Empty disables
	// the read.
	OptionKeys []string `yaml:"option_keys"`

	// TransactionInterval is the period between transaction table pulls.
	// Zero disables polling.
	// Default: 5m
	TransactionInterval time.Duration `yaml:"transaction_interval"`
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
	TopicPrefix string              `yaml:"topic_prefix"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`

	// HealthInterval is how often the bridge publishes its health
	// message, in seconds.
	HealthInterval int `yaml:"health_interval"`
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

// WebSocketConfig contains settings for the operator event stream.
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains operator API security settings. Terminals are
// never authenticated.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. An empty secret leaves the
// operator API open.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// CData directive sets.
const (
	CDataBasic = "basic"
	CDataFull  = "full"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ADMS_SECTION_KEY
// For example: ADMS_DATABASE_PATH, ADMS_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// Default returns the built-in configuration with environment overrides
// applied. It is used when no configuration file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ID:   "adms-001",
			Name: "ADMS",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8081,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
		},
		Push: PushConfig{
			CommandTimeout:  10 * time.Second,
			ServerBanner:    "nginx/1.6.0",
			CDataDirectives: CDataBasic,
			Delay:           10,
			TransferTimes:   "00:00;14:05",
			Parameters: PushParameters{
				ServerVersion: "3.0.1",
				ServerName:    "ADMS",
				PushVersion:   "3.0.1",
				ErrorDelay:    10,
				RequestDelay:  3,
				TransInterval: 1,
				TransTables:   "User Transaction Facev7 templatev10",
				TimeZone:      -3,
				RealTime:      1,
				TimeoutSec:    10,
			},
		},
		Monitor: MonitorConfig{
			Enabled:             false,
			SyncClock:           true,
			OptionKeys:          []string{"DeviceName", "FirmVer", "IPAddress", "NetMask", "GATEIPAddress"},
			TransactionInterval: 5 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:        "./data/adms.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			TopicPrefix: "adms",
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "adms-server",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			HealthInterval: 30,
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "adms",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "adms",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ADMS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// API
	if v := os.Getenv("ADMS_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ADMS_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Push
	if v := os.Getenv("ADMS_PUSH_COMMAND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Push.CommandTimeout = d
		}
	}
	if v := os.Getenv("ADMS_PUSH_CDATA_DIRECTIVES"); v != "" {
		cfg.Push.CDataDirectives = v
	}

	// Database
	if v := os.Getenv("ADMS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ADMS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ADMS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ADMS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("ADMS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("ADMS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ADMS_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Server.ID == "" {
		errs = append(errs, "server.id is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Push validation
	if c.Push.CommandTimeout <= 0 {
		errs = append(errs, "push.command_timeout must be positive")
	}
	switch c.Push.CDataDirectives {
	case CDataBasic, CDataFull:
	default:
		errs = append(errs, fmt.Sprintf("push.cdata_directives must be %q or %q", CDataBasic, CDataFull))
	}
	if c.API.Timeouts.Write > 0 && c.GetWriteTimeout() <= c.Push.CommandTimeout {
		errs = append(errs, "api.timeouts.write must exceed push.command_timeout")
	}

	if c.Monitor.TransactionInterval < 0 {
		errs = append(errs, "monitor.transaction_interval must not be negative")
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

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// A short secret lets anyone brute-force operator tokens and push
	// users to physical access panels.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Address returns the host:port the HTTP listener binds to.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
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
