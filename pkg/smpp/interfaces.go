package smpp

import (
	"context"
	"net"
	"time"
)

// Config is the application configuration loaded by internal/config.
type Config struct {
	Server  ServerConfig  `json:"server" envPrefix:"SERVER_"`
	Client  ClientConfig  `json:"client" envPrefix:"CLIENT_"`
	Logging LoggingConfig `json:"logging" envPrefix:"LOG_"`
	Metrics MetricsConfig `json:"metrics" envPrefix:"METRICS_"`
}

type LoggingConfig struct {
	Level  string `json:"level" env:"LEVEL"`
	Format string `json:"format" env:"FORMAT"`
	Output string `json:"output" env:"OUTPUT"`
	File   string `json:"file" env:"FILE"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled" env:"ENABLED"`
	Port      int    `json:"port" env:"PORT"`
	Path      string `json:"path" env:"PATH"`
	Namespace string `json:"namespace" env:"NAMESPACE"`
	Subsystem string `json:"subsystem" env:"SUBSYSTEM"`
}

// SessionConfig holds the timers and limits shared by every session role.
type SessionConfig struct {
	// ReadTimeout bounds each wait for an inbound PDU. Expiry is not an
	// error; it lets the reader notice shutdown.
	ReadTimeout time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout bounds each PDU write.
	WriteTimeout time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	// TransactionTimeout bounds the wait for a response to a request.
	TransactionTimeout time.Duration `json:"transaction_timeout" env:"TRANSACTION_TIMEOUT"`
	// EnquireLinkInterval is the idle time after which enquire_link is sent.
	// Zero disables the keep-alive.
	EnquireLinkInterval time.Duration `json:"enquire_link_interval" env:"ENQUIRE_LINK_INTERVAL"`
	// WindowSize caps requests awaiting a response.
	WindowSize int `json:"window_size" env:"WINDOW_SIZE"`
	// MaxConcurrentRequests caps inbound requests handed to listeners at once.
	MaxConcurrentRequests int `json:"max_concurrent_requests" env:"MAX_CONCURRENT_REQUESTS"`
}

const (
	DefaultReadTimeout           = 5 * time.Second
	DefaultWriteTimeout          = 10 * time.Second
	DefaultTransactionTimeout    = 60 * time.Second
	DefaultEnquireLinkInterval   = 30 * time.Second
	DefaultWindowSize            = 100
	DefaultMaxConcurrentRequests = 16
	DefaultBindTimeout           = 60 * time.Second
)

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.TransactionTimeout <= 0 {
		c.TransactionTimeout = DefaultTransactionTimeout
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	return c
}

// ServerConfig represents server configuration
type ServerConfig struct {
	SessionConfig

	Host           string        `json:"host" env:"HOST"`
	Port           int           `json:"port" env:"PORT"`
	MaxConnections int           `json:"max_connections" env:"MAX_CONNECTIONS"`
	BindTimeout    time.Duration `json:"bind_timeout" env:"BIND_TIMEOUT"`
	// SubmitRate limits submit_sm, submit_multi and data_sm per session, in
	// messages per second. Zero means unlimited.
	SubmitRate  float64 `json:"submit_rate" env:"SUBMIT_RATE"`
	SubmitBurst int     `json:"submit_burst" env:"SUBMIT_BURST"`
	TLSEnabled  bool    `json:"tls_enabled" env:"TLS_ENABLED"`
	TLSCertFile string  `json:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string  `json:"tls_key_file" env:"TLS_KEY_FILE"`
}

// ClientConfig represents client configuration
type ClientConfig struct {
	SessionConfig

	Host                 string        `json:"host" env:"HOST"`
	Port                 int           `json:"port" env:"PORT"`
	SystemID             string        `json:"system_id" env:"SYSTEM_ID"`
	Password             string        `json:"password" env:"PASSWORD"`
	SystemType           string        `json:"system_type" env:"SYSTEM_TYPE"`
	BindType             string        `json:"bind_type" env:"BIND_TYPE"`
	ConnectTimeout       time.Duration `json:"connect_timeout" env:"CONNECT_TIMEOUT"`
	ReconnectInterval    time.Duration `json:"reconnect_interval" env:"RECONNECT_INTERVAL"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts" env:"MAX_RECONNECT_ATTEMPTS"`
	TLSEnabled           bool          `json:"tls_enabled" env:"TLS_ENABLED"`
	TLSSkipVerify        bool          `json:"tls_skip_verify" env:"TLS_SKIP_VERIFY"`
}

// BindParameter builds the bind request described by the configuration.
func (c *ClientConfig) BindParameter() (BindParameter, error) {
	bt, err := ParseBindType(c.BindType)
	if err != nil {
		return BindParameter{}, err
	}
	return BindParameter{
		BindType:   bt,
		SystemID:   c.SystemID,
		Password:   c.Password,
		SystemType: c.SystemType,
	}, nil
}

// Session is the part of the API shared by client and server sessions.
type Session interface {
	// ID returns the session identifier used in logs and metrics
	ID() string

	// Role returns which side of the connection this session plays
	Role() Role

	// State returns the current session state
	State() SessionState

	// AddStateObserver registers o and returns a function removing it
	AddStateObserver(o StateObserver) func()

	// RemoteAddr returns the peer address
	RemoteAddr() net.Addr

	// EnquireLink sends enquire_link and waits for the response
	EnquireLink(ctx context.Context) error

	// Unbind performs the unbind handshake, leaving the session UNBOUND
	Unbind(ctx context.Context) error

	// Close tears the session down and fails every pending request
	Close() error

	// Done is closed once the session is closed
	Done() <-chan struct{}
}

// Logger interface defines logging operations
type Logger interface {
	// Debug logs a debug message
	Debug(msg string, fields ...interface{})

	// Info logs an info message
	Info(msg string, fields ...interface{})

	// Warn logs a warning message
	Warn(msg string, fields ...interface{})

	// Error logs an error message
	Error(msg string, fields ...interface{})

	// Fatal logs a fatal message and exits
	Fatal(msg string, fields ...interface{})

	// WithFields returns a logger with additional fields
	WithFields(fields map[string]interface{}) Logger
}

// MetricsCollector interface defines metrics collection operations
type MetricsCollector interface {
	// IncCounter increments a counter metric
	IncCounter(name string, labels map[string]string)

	// SetGauge sets a gauge metric
	SetGauge(name string, value float64, labels map[string]string)

	// ObserveHistogram observes a value for a histogram metric
	ObserveHistogram(name string, value float64, labels map[string]string)

	// RecordDuration records a duration metric
	RecordDuration(name string, duration time.Duration, labels map[string]string)
}

// Metric names reported by sessions.
const (
	MetricPDUProcessed     = "pdu_processed_total"
	MetricBind             = "bind_total"
	MetricResponseTimeouts = "response_timeouts_total"
	MetricActiveSessions   = "active_sessions"
	MetricPendingRequests  = "pending_requests"
	MetricResponseLatency  = "response_latency_seconds"
)

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{})              {}
func (NopLogger) Info(string, ...interface{})               {}
func (NopLogger) Warn(string, ...interface{})               {}
func (NopLogger) Error(string, ...interface{})              {}
func (NopLogger) Fatal(string, ...interface{})              {}
func (n NopLogger) WithFields(map[string]interface{}) Logger { return n }

type nopMetrics struct{}

func (nopMetrics) IncCounter(string, map[string]string)                    {}
func (nopMetrics) SetGauge(string, float64, map[string]string)             {}
func (nopMetrics) ObserveHistogram(string, float64, map[string]string)     {}
func (nopMetrics) RecordDuration(string, time.Duration, map[string]string) {}
