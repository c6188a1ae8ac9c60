// Package config provides the configuration schema for the agent firewall
// gateway: transports, upstream, session, rate limiting, static and
// semantic analysis, policy, escalation, audit, and the ambient logging/
// metrics/tracing surface.
package config

// Config is the top-level configuration for the gateway.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream" mapstructure:"upstream"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	L1         L1Config         `yaml:"l1" mapstructure:"l1"`
	L2         L2Config         `yaml:"l2" mapstructure:"l2"`
	Policy     PolicyConfig     `yaml:"policy" mapstructure:"policy"`
	Escalation EscalationConfig `yaml:"escalation" mapstructure:"escalation"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Trace      TraceConfig      `yaml:"trace" mapstructure:"trace"`
	DevMode    bool             `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures which inbound transports are active and where
// they listen.
type ServerConfig struct {
	// Stdio enables the newline-delimited JSON-RPC transport over the
	// process's own stdin/stdout. Defaults to true when no other
	// transport is configured.
	Stdio bool `yaml:"stdio" mapstructure:"stdio"`

	// SSEAddr, when non-empty, starts the SSE + HTTP-POST transport on
	// this address (e.g. "127.0.0.1:8090").
	SSEAddr string `yaml:"sse_addr" mapstructure:"sse_addr" validate:"omitempty,hostname_port"`

	// WebSocketAddr, when non-empty, starts the bidirectional WebSocket
	// transport on this address.
	WebSocketAddr string `yaml:"websocket_addr" mapstructure:"websocket_addr" validate:"omitempty,hostname_port"`

	// OperatorAddr, when non-empty, starts the operator-facing WebSocket
	// endpoint (escalation event push + HITL response) on this address.
	OperatorAddr string `yaml:"operator_addr" mapstructure:"operator_addr" validate:"omitempty,hostname_port"`
}

// UpstreamConfig configures the single MCP server this gateway fronts.
// Exactly one of HTTP or Command must be set.
type UpstreamConfig struct {
	HTTP    string   `yaml:"http" mapstructure:"http" validate:"omitempty,url"`
	Command string   `yaml:"command" mapstructure:"command"`
	Args    []string `yaml:"args" mapstructure:"args"`

	// Timeout bounds a single upstream round trip (e.g. "30s").
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`
}

// SessionConfig configures the per-session ring buffer and idle sweep.
type SessionConfig struct {
	// Capacity is the number of recent envelopes retained per session.
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"omitempty,min=1"`

	// IdleTimeout is how long a session may go unobserved before the
	// sweep evicts it (e.g. "30m").
	IdleTimeout string `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"omitempty"`

	// SweepInterval is how often the idle sweep runs (e.g. "5m").
	SweepInterval string `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"omitempty"`
}

// RateLimitConfig configures the GCRA token-bucket limiter. A per-agent
// bucket is enabled only when AgentRPS > 0, per the resolved Open
// Question in the session's rate-limit design.
type RateLimitConfig struct {
	SessionRPS   float64 `yaml:"session_rps" mapstructure:"session_rps" validate:"omitempty,min=0"`
	SessionBurst int     `yaml:"session_burst" mapstructure:"session_burst" validate:"omitempty,min=0"`

	AgentRPS   float64 `yaml:"agent_rps" mapstructure:"agent_rps" validate:"omitempty,min=0"`
	AgentBurst int      `yaml:"agent_burst" mapstructure:"agent_burst" validate:"omitempty,min=0"`
}

// L1Config configures the static analyzer's literal dictionary.
type L1Config struct {
	// Literals overrides the built-in literal dictionary when non-empty.
	Literals []string `yaml:"literals" mapstructure:"literals"`
}

// L2Config configures the semantic classifier backend.
type L2Config struct {
	// Backend selects the classifier implementation: "mock" or "live".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,oneof=mock live"`

	// Endpoint is the OpenAI-compatible chat-completions URL (live backend only).
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" validate:"required_if=Backend live,omitempty,url"`

	// Model is the model name sent in the chat-completion request.
	Model string `yaml:"model" mapstructure:"model" validate:"required_if=Backend live"`

	// APIKeyEnv names the environment variable holding the backend's API key.
	APIKeyEnv string `yaml:"api_key_env" mapstructure:"api_key_env"`

	// Timeout bounds a single classification call (e.g. "3s").
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`
}

// PolicyConfig configures the optional CEL custom-rule pre-pass in front
// of the fixed L1/L2 decision table.
type PolicyConfig struct {
	Rules []PolicyRuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`
}

// PolicyRuleConfig is one operator-authored CEL rule.
type PolicyRuleConfig struct {
	Name      string `yaml:"name" mapstructure:"name" validate:"required"`
	Priority  int    `yaml:"priority" mapstructure:"priority"`
	Condition string `yaml:"condition" mapstructure:"condition" validate:"required"`
	Verdict   string `yaml:"verdict" mapstructure:"verdict" validate:"required,oneof=allow block escalate"`
	Reason    string `yaml:"reason" mapstructure:"reason"`
}

// EscalationConfig configures the human-in-the-loop hub.
type EscalationConfig struct {
	// Deadline bounds how long a pending escalation waits for an
	// operator response before resolving to block (e.g. "30s").
	Deadline string `yaml:"deadline" mapstructure:"deadline" validate:"omitempty"`

	// OperatorQueueSize bounds each connected operator's event backlog.
	OperatorQueueSize int `yaml:"operator_queue_size" mapstructure:"operator_queue_size" validate:"omitempty,min=1"`
}

// AuditConfig configures the durable audit sink.
type AuditConfig struct {
	// Backend selects the storage implementation: "file" or "sqlite".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,oneof=file sqlite"`

	// Dir is the audit file directory (file backend).
	Dir string `yaml:"dir" mapstructure:"dir"`
	// RetentionDays is the number of days to keep audit files (file backend).
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`
	// MaxFileSizeMB is the size threshold that triggers rotation (file backend).
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`

	// DBPath is the SQLite database file path (sqlite backend).
	DBPath string `yaml:"db_path" mapstructure:"db_path" validate:"required_if=Backend sqlite"`

	// CacheSize bounds the in-memory ring-buffer read cache.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=1"`
	// FlushInterval is how often queued records are drained to storage
	// absent a high-watermark trigger (e.g. "1s").
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`
	// BatchSize (high watermark) triggers an immediate drain once this
	// many records are queued.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`
	// QueueCapacity bounds the Append channel before callers block.
	QueueCapacity int `yaml:"queue_capacity" mapstructure:"queue_capacity" validate:"omitempty,min=1"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=text json"`
}

// MetricsConfig configures the Prometheus metrics listener.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// TraceConfig configures trace export.
type TraceConfig struct {
	Exporter string `yaml:"exporter" mapstructure:"exporter" validate:"omitempty,oneof=stdout none"`
}

// SetDefaults applies sensible defaults before validation.
func (c *Config) SetDefaults() {
	if !c.Server.Stdio && c.Server.SSEAddr == "" && c.Server.WebSocketAddr == "" {
		c.Server.Stdio = true
	}

	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = "30s"
	}

	if c.Session.Capacity == 0 {
		c.Session.Capacity = 50
	}
	if c.Session.IdleTimeout == "" {
		c.Session.IdleTimeout = "30m"
	}
	if c.Session.SweepInterval == "" {
		c.Session.SweepInterval = "5m"
	}

	if c.RateLimit.SessionRPS == 0 {
		c.RateLimit.SessionRPS = 10
	}
	if c.RateLimit.SessionBurst == 0 {
		c.RateLimit.SessionBurst = 20
	}

	if c.L2.Backend == "" {
		c.L2.Backend = "mock"
	}
	if c.L2.Timeout == "" {
		c.L2.Timeout = "3s"
	}

	if c.Escalation.Deadline == "" {
		c.Escalation.Deadline = "30s"
	}
	if c.Escalation.OperatorQueueSize == 0 {
		c.Escalation.OperatorQueueSize = 256
	}

	if c.Audit.Backend == "" {
		c.Audit.Backend = "file"
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = "./audit"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 7
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}
	if c.Audit.CacheSize == 0 {
		c.Audit.CacheSize = 1000
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 200
	}
	if c.Audit.QueueCapacity == 0 {
		c.Audit.QueueCapacity = 4096
	}
	if c.Audit.DBPath == "" {
		c.Audit.DBPath = "./audit/audit.db"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Trace.Exporter == "" {
		c.Trace.Exporter = "none"
	}
}

// SetDevDefaults applies permissive defaults for local development when
// DevMode is set: a mock L2 backend and debug logging, each only where the
// field is still empty. It leaves the escalation deadline unchanged.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.L2.Backend == "" {
		c.L2.Backend = "mock"
	}
	if c.Log.Level == "" {
		c.Log.Level = "debug"
	}
}
