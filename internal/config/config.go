package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v7"
	"gopkg.in/yaml.v2"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

// EnvPrefix prefixes every environment override, e.g. SMPP_SERVER_PORT.
const EnvPrefix = "SMPP_"

// ConfigManager manages application configuration
type ConfigManager struct {
	configPath  string
	environment map[string]string
	config      *smpp.Config
}

// fileConfig is the on-disk layout. Durations are strings such as "30s".
type fileConfig struct {
	Server  serverFile         `json:"server" yaml:"server"`
	Client  clientFile         `json:"client" yaml:"client"`
	Logging smpp.LoggingConfig `json:"logging" yaml:"logging"`
	Metrics smpp.MetricsConfig `json:"metrics" yaml:"metrics"`
}

type sessionFile struct {
	ReadTimeout           string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout          string `json:"write_timeout" yaml:"write_timeout"`
	TransactionTimeout    string `json:"transaction_timeout" yaml:"transaction_timeout"`
	EnquireLinkInterval   string `json:"enquire_link_interval" yaml:"enquire_link_interval"`
	WindowSize            int    `json:"window_size" yaml:"window_size"`
	MaxConcurrentRequests int    `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`
}

type serverFile struct {
	sessionFile `yaml:",inline"`

	Host           string  `json:"host" yaml:"host"`
	Port           int     `json:"port" yaml:"port"`
	MaxConnections int     `json:"max_connections" yaml:"max_connections"`
	BindTimeout    string  `json:"bind_timeout" yaml:"bind_timeout"`
	SubmitRate     float64 `json:"submit_rate" yaml:"submit_rate"`
	SubmitBurst    int     `json:"submit_burst" yaml:"submit_burst"`
	TLSEnabled     bool    `json:"tls_enabled" yaml:"tls_enabled"`
	TLSCertFile    string  `json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile     string  `json:"tls_key_file" yaml:"tls_key_file"`
}

type clientFile struct {
	sessionFile `yaml:",inline"`

	Host                 string `json:"host" yaml:"host"`
	Port                 int    `json:"port" yaml:"port"`
	SystemID             string `json:"system_id" yaml:"system_id"`
	Password             string `json:"password" yaml:"password"`
	SystemType           string `json:"system_type" yaml:"system_type"`
	BindType             string `json:"bind_type" yaml:"bind_type"`
	ConnectTimeout       string `json:"connect_timeout" yaml:"connect_timeout"`
	ReconnectInterval    string `json:"reconnect_interval" yaml:"reconnect_interval"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	TLSEnabled           bool   `json:"tls_enabled" yaml:"tls_enabled"`
	TLSSkipVerify        bool   `json:"tls_skip_verify" yaml:"tls_skip_verify"`
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string) *ConfigManager {
	return &ConfigManager{
		configPath: configPath,
	}
}

// WithEnvironment replaces the process environment as the source of
// overrides.
func (cm *ConfigManager) WithEnvironment(environment map[string]string) *ConfigManager {
	cm.environment = environment
	return cm
}

// LoadConfig builds the configuration from defaults, the config file when
// it exists and finally SMPP_ environment variables.
func (cm *ConfigManager) LoadConfig() (*smpp.Config, error) {
	config := DefaultConfig()

	if cm.configPath != "" && cm.fileExists(cm.configPath) {
		data, err := os.ReadFile(cm.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		fc := toFile(config)
		if err := unmarshal(cm.configPath, data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if config, err = fromFile(&fc); err != nil {
			return nil, fmt.Errorf("failed to convert config: %w", err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix, Environment: cm.environment}
	if err := env.Parse(config, opts); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	cm.config = config

	if err := cm.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func unmarshal(path string, data []byte, fc *fileConfig) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, fc)
	}
	return json.Unmarshal(data, fc)
}

func marshal(path string, fc *fileConfig) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(fc)
	}
	return json.MarshalIndent(fc, "", "  ")
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func toSessionFile(c smpp.SessionConfig) sessionFile {
	return sessionFile{
		ReadTimeout:           c.ReadTimeout.String(),
		WriteTimeout:          c.WriteTimeout.String(),
		TransactionTimeout:    c.TransactionTimeout.String(),
		EnquireLinkInterval:   c.EnquireLinkInterval.String(),
		WindowSize:            c.WindowSize,
		MaxConcurrentRequests: c.MaxConcurrentRequests,
	}
}

func (f *sessionFile) convert(c *smpp.SessionConfig) error {
	var err error
	if c.ReadTimeout, err = parseDuration("read_timeout", f.ReadTimeout); err != nil {
		return err
	}
	if c.WriteTimeout, err = parseDuration("write_timeout", f.WriteTimeout); err != nil {
		return err
	}
	if c.TransactionTimeout, err = parseDuration("transaction_timeout", f.TransactionTimeout); err != nil {
		return err
	}
	if c.EnquireLinkInterval, err = parseDuration("enquire_link_interval", f.EnquireLinkInterval); err != nil {
		return err
	}
	c.WindowSize = f.WindowSize
	c.MaxConcurrentRequests = f.MaxConcurrentRequests
	return nil
}

func toFile(c *smpp.Config) fileConfig {
	return fileConfig{
		Server: serverFile{
			sessionFile:    toSessionFile(c.Server.SessionConfig),
			Host:           c.Server.Host,
			Port:           c.Server.Port,
			MaxConnections: c.Server.MaxConnections,
			BindTimeout:    c.Server.BindTimeout.String(),
			SubmitRate:     c.Server.SubmitRate,
			SubmitBurst:    c.Server.SubmitBurst,
			TLSEnabled:     c.Server.TLSEnabled,
			TLSCertFile:    c.Server.TLSCertFile,
			TLSKeyFile:     c.Server.TLSKeyFile,
		},
		Client: clientFile{
			sessionFile:          toSessionFile(c.Client.SessionConfig),
			Host:                 c.Client.Host,
			Port:                 c.Client.Port,
			SystemID:             c.Client.SystemID,
			Password:             c.Client.Password,
			SystemType:           c.Client.SystemType,
			BindType:             c.Client.BindType,
			ConnectTimeout:       c.Client.ConnectTimeout.String(),
			ReconnectInterval:    c.Client.ReconnectInterval.String(),
			MaxReconnectAttempts: c.Client.MaxReconnectAttempts,
			TLSEnabled:           c.Client.TLSEnabled,
			TLSSkipVerify:        c.Client.TLSSkipVerify,
		},
		Logging: c.Logging,
		Metrics: c.Metrics,
	}
}

func fromFile(fc *fileConfig) (*smpp.Config, error) {
	config := &smpp.Config{Logging: fc.Logging, Metrics: fc.Metrics}

	server := &config.Server
	if err := fc.Server.convert(&server.SessionConfig); err != nil {
		return nil, fmt.Errorf("failed to convert server config: %w", err)
	}
	server.Host = fc.Server.Host
	server.Port = fc.Server.Port
	server.MaxConnections = fc.Server.MaxConnections
	server.SubmitRate = fc.Server.SubmitRate
	server.SubmitBurst = fc.Server.SubmitBurst
	server.TLSEnabled = fc.Server.TLSEnabled
	server.TLSCertFile = fc.Server.TLSCertFile
	server.TLSKeyFile = fc.Server.TLSKeyFile
	var err error
	if server.BindTimeout, err = parseDuration("bind_timeout", fc.Server.BindTimeout); err != nil {
		return nil, fmt.Errorf("failed to convert server config: %w", err)
	}

	client := &config.Client
	if err := fc.Client.convert(&client.SessionConfig); err != nil {
		return nil, fmt.Errorf("failed to convert client config: %w", err)
	}
	client.Host = fc.Client.Host
	client.Port = fc.Client.Port
	client.SystemID = fc.Client.SystemID
	client.Password = fc.Client.Password
	client.SystemType = fc.Client.SystemType
	client.BindType = fc.Client.BindType
	client.MaxReconnectAttempts = fc.Client.MaxReconnectAttempts
	client.TLSEnabled = fc.Client.TLSEnabled
	client.TLSSkipVerify = fc.Client.TLSSkipVerify
	if client.ConnectTimeout, err = parseDuration("connect_timeout", fc.Client.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("failed to convert client config: %w", err)
	}
	if client.ReconnectInterval, err = parseDuration("reconnect_interval", fc.Client.ReconnectInterval); err != nil {
		return nil, fmt.Errorf("failed to convert client config: %w", err)
	}

	return config, nil
}

// SaveConfig saves configuration to file, as YAML for .yaml/.yml paths
// and JSON otherwise.
func (cm *ConfigManager) SaveConfig() error {
	if cm.config == nil {
		return fmt.Errorf("no configuration to save")
	}

	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}

	return writeConfig(cm.configPath, cm.config)
}

func writeConfig(path string, config *smpp.Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	fc := toFile(config)
	data, err := marshal(path, &fc)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetServerConfig returns a copy of the server configuration
func (cm *ConfigManager) GetServerConfig() *smpp.ServerConfig {
	if cm.config == nil {
		return nil
	}
	server := cm.config.Server
	return &server
}

// GetClientConfig returns a copy of the client configuration
func (cm *ConfigManager) GetClientConfig() *smpp.ClientConfig {
	if cm.config == nil {
		return nil
	}
	client := cm.config.Client
	return &client
}

// UpdateConfig replaces the whole configuration or one of its sections.
// The current configuration is kept when the result does not validate.
func (cm *ConfigManager) UpdateConfig(config interface{}) error {
	var next smpp.Config
	if cm.config != nil {
		next = *cm.config
	} else {
		next = *DefaultConfig()
	}

	switch c := config.(type) {
	case *smpp.Config:
		next = *c
	case *smpp.ServerConfig:
		next.Server = *c
	case *smpp.ClientConfig:
		next.Client = *c
	case *smpp.LoggingConfig:
		next.Logging = *c
	case *smpp.MetricsConfig:
		next.Metrics = *c
	default:
		return fmt.Errorf("unsupported config type: %T", config)
	}

	candidate := &ConfigManager{configPath: cm.configPath, environment: cm.environment, config: &next}
	if err := candidate.Validate(); err != nil {
		return err
	}
	cm.config = &next
	return nil
}

// Reload reloads configuration from source
func (cm *ConfigManager) Reload() error {
	_, err := cm.LoadConfig()
	return err
}

// Validate validates configuration
func (cm *ConfigManager) Validate() error {
	if cm.config == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := cm.validateServerConfig(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := cm.validateClientConfig(); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}

	if err := cm.validateLoggingConfig(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := cm.validateMetricsConfig(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	return nil
}

func validateSessionConfig(c *smpp.SessionConfig) error {
	if c.ReadTimeout < 0 {
		return fmt.Errorf("read timeout cannot be negative: %v", c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("write timeout cannot be negative: %v", c.WriteTimeout)
	}
	if c.TransactionTimeout < 0 {
		return fmt.Errorf("transaction timeout cannot be negative: %v", c.TransactionTimeout)
	}
	if c.EnquireLinkInterval < 0 {
		return fmt.Errorf("enquire link interval cannot be negative: %v", c.EnquireLinkInterval)
	}
	if c.WindowSize < 0 {
		return fmt.Errorf("window size cannot be negative: %d", c.WindowSize)
	}
	if c.MaxConcurrentRequests < 0 {
		return fmt.Errorf("max concurrent requests cannot be negative: %d", c.MaxConcurrentRequests)
	}
	return nil
}

// validateServerConfig validates server configuration
func (cm *ConfigManager) validateServerConfig() error {
	server := &cm.config.Server

	if server.Port < 0 || server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", server.Port)
	}

	if server.MaxConnections < 0 {
		return fmt.Errorf("max connections cannot be negative: %d", server.MaxConnections)
	}

	if server.SubmitRate < 0 {
		return fmt.Errorf("submit rate cannot be negative: %v", server.SubmitRate)
	}

	if err := validateSessionConfig(&server.SessionConfig); err != nil {
		return err
	}

	if server.TLSEnabled {
		if server.TLSCertFile == "" {
			return fmt.Errorf("TLS cert file required when TLS is enabled")
		}
		if server.TLSKeyFile == "" {
			return fmt.Errorf("TLS key file required when TLS is enabled")
		}
		if !cm.fileExists(server.TLSCertFile) {
			return fmt.Errorf("TLS cert file not found: %s", server.TLSCertFile)
		}
		if !cm.fileExists(server.TLSKeyFile) {
			return fmt.Errorf("TLS key file not found: %s", server.TLSKeyFile)
		}
	}

	return nil
}

// validateClientConfig validates client configuration
func (cm *ConfigManager) validateClientConfig() error {
	client := &cm.config.Client

	if client.Port < 0 || client.Port > 65535 {
		return fmt.Errorf("invalid client port: %d", client.Port)
	}

	if err := smpp.ValidateString(client.SystemID, smpp.ParamSystemID); err != nil {
		return err
	}

	if err := smpp.ValidateString(client.Password, smpp.ParamPassword); err != nil {
		return err
	}

	if _, err := smpp.ParseBindType(client.BindType); err != nil {
		return err
	}

	if client.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout cannot be negative: %v", client.ConnectTimeout)
	}

	if client.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts cannot be negative: %d", client.MaxReconnectAttempts)
	}

	return validateSessionConfig(&client.SessionConfig)
}

// validateLoggingConfig validates logging configuration
func (cm *ConfigManager) validateLoggingConfig() error {
	logging := &cm.config.Logging

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	if !validLevels[logging.Level] {
		return fmt.Errorf("invalid log level: %s", logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[logging.Format] {
		return fmt.Errorf("invalid log format: %s", logging.Format)
	}

	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}

	if !validOutputs[logging.Output] {
		return fmt.Errorf("invalid log output: %s", logging.Output)
	}

	if logging.Output == "file" && logging.File == "" {
		return fmt.Errorf("log file path required when output is file")
	}

	return nil
}

// validateMetricsConfig validates metrics configuration
func (cm *ConfigManager) validateMetricsConfig() error {
	metrics := &cm.config.Metrics

	if metrics.Enabled {
		if metrics.Port < 0 || metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", metrics.Port)
		}
		if metrics.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}

// DefaultConfig returns default configuration
func DefaultConfig() *smpp.Config {
	session := smpp.SessionConfig{
		ReadTimeout:           smpp.DefaultReadTimeout,
		WriteTimeout:          smpp.DefaultWriteTimeout,
		TransactionTimeout:    smpp.DefaultTransactionTimeout,
		EnquireLinkInterval:   smpp.DefaultEnquireLinkInterval,
		WindowSize:            smpp.DefaultWindowSize,
		MaxConcurrentRequests: smpp.DefaultMaxConcurrentRequests,
	}
	return &smpp.Config{
		Server: smpp.ServerConfig{
			SessionConfig:  session,
			Host:           "localhost",
			Port:           2775,
			MaxConnections: 100,
			BindTimeout:    smpp.DefaultBindTimeout,
		},
		Client: smpp.ClientConfig{
			SessionConfig:        session,
			Host:                 "localhost",
			Port:                 2775,
			SystemID:             "test",
			Password:             "test",
			SystemType:           "SMPP",
			BindType:             "transceiver",
			ConnectTimeout:       10 * time.Second,
			ReconnectInterval:    5 * time.Second,
			MaxReconnectAttempts: 5,
		},
		Logging: smpp.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: smpp.MetricsConfig{
			Enabled:   false,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "smpp",
		},
	}
}

// fileExists checks if a file exists
func (cm *ConfigManager) fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *smpp.Config {
	return cm.config
}

// CreateDefaultConfigFile writes the default configuration to path
func CreateDefaultConfigFile(path string) error {
	return writeConfig(path, DefaultConfig())
}
