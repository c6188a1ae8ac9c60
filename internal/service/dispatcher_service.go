package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	auditadapter "github.com/IsaacHuo/agent-firewall/internal/adapter/outbound/audit"
	agentfirewallcel "github.com/IsaacHuo/agent-firewall/internal/adapter/outbound/cel"
	l2adapter "github.com/IsaacHuo/agent-firewall/internal/adapter/outbound/l2"
	"github.com/IsaacHuo/agent-firewall/internal/adapter/outbound/memory"
	mcpadapter "github.com/IsaacHuo/agent-firewall/internal/adapter/outbound/mcp"
	"github.com/IsaacHuo/agent-firewall/internal/config"
	"github.com/IsaacHuo/agent-firewall/internal/domain/audit"
	"github.com/IsaacHuo/agent-firewall/internal/domain/dispatch"
	"github.com/IsaacHuo/agent-firewall/internal/domain/escalation"
	"github.com/IsaacHuo/agent-firewall/internal/domain/l1"
	"github.com/IsaacHuo/agent-firewall/internal/domain/l2"
	"github.com/IsaacHuo/agent-firewall/internal/domain/policy"
	"github.com/IsaacHuo/agent-firewall/internal/domain/ratelimit"
	"github.com/IsaacHuo/agent-firewall/internal/domain/session"
	"github.com/IsaacHuo/agent-firewall/internal/telemetry"
)

// Gateway bundles the fully wired dispatch chain plus the long-lived
// components a caller needs to drive it: the session sweeper, the
// escalation hub transports attach to, and the audit store to close on
// shutdown.
type Gateway struct {
	Chain      dispatch.Interceptor
	Sessions   *session.Service
	Hub        *escalation.Hub
	AuditStore audit.Store
	Forwarder  *mcpadapter.Forwarder
	Metrics    *telemetry.Metrics
	Registry   *prometheus.Registry

	sessionStore *memory.SessionStore
}

// BuildGateway wires every domain component behind the eight-stage
// dispatch chain from a validated Config, mirroring the order the
// teacher's proxy service assembles its MessageInterceptor chain: each
// stage is constructed leaf-first (Terminal) and wrapped outward
// (Validation last), so the call site below is Terminal..Validation in
// that order.
func BuildGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	upstreamClient, err := buildUpstreamClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("build upstream client: %w", err)
	}
	forwarder, err := mcpadapter.NewForwarder(ctx, upstreamClient, logger)
	if err != nil {
		return nil, fmt.Errorf("start upstream forwarder: %w", err)
	}

	auditStore, err := buildAuditStore(cfg.Audit, logger)
	if err != nil {
		return nil, fmt.Errorf("build audit store: %w", err)
	}

	engine, err := buildPolicyEngine(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("build policy engine: %w", err)
	}

	classifier, err := buildClassifier(cfg.L2, logger)
	if err != nil {
		return nil, fmt.Errorf("build l2 classifier: %w", err)
	}

	sessionStore := memory.NewSessionStore(cfg.Session.Capacity)
	idleTimeout := parseDurationOr(cfg.Session.IdleTimeout, 30*time.Minute, logger)
	sweepInterval := parseDurationOr(cfg.Session.SweepInterval, 5*time.Minute, logger)
	sessions := session.NewService(sessionStore, session.Config{
		IdleTimeout:  idleTimeout,
		RingCapacity: cfg.Session.Capacity,
	})
	sessionStore.StartSweep(ctx, sweepInterval, idleTimeout)

	limiter := memory.NewRateLimiter()
	limiter.StartCleanup(ctx)

	hub := escalation.NewHub(cfg.Escalation.OperatorQueueSize)
	escalationDeadline := parseDurationOr(cfg.Escalation.Deadline, escalation.DefaultDeadline, logger)

	l2Deadline := parseDurationOr(cfg.L2.Timeout, 3*time.Second, logger)
	analyzer := l1.NewAnalyzer(cfg.L1.Literals)

	var agentLimit *ratelimit.RateLimitConfig
	if cfg.RateLimit.AgentRPS > 0 {
		agentLimit = &ratelimit.RateLimitConfig{
			Rate:   int(cfg.RateLimit.AgentRPS),
			Burst:  cfg.RateLimit.AgentBurst,
			Period: time.Second,
		}
	}
	sessionLimit := ratelimit.RateLimitConfig{
		Rate:   int(cfg.RateLimit.SessionRPS),
		Burst:  cfg.RateLimit.SessionBurst,
		Period: time.Second,
	}

	terminal := dispatch.NewTerminalInterceptor(forwarder, logger)
	auditStage := dispatch.NewAuditInterceptor(auditStore, nil, terminal, logger)
	escalationStage := dispatch.NewEscalationInterceptor(hub, escalationDeadline, auditStage, logger)
	policyStage := dispatch.NewPolicyInterceptor(engine, escalationStage, logger)
	analysisStage := dispatch.NewAnalysisInterceptor(analyzer, classifier, sessions, l2Deadline, policyStage, logger)
	sessionStage := dispatch.NewSessionObserveInterceptor(sessions, analysisStage, logger)
	rateLimitStage := dispatch.NewRateLimitInterceptor(limiter, sessionLimit, agentLimit, sessionStage, logger)
	validationStage := dispatch.NewValidationInterceptor(rateLimitStage)

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)
	metricsStage := dispatch.NewMetricsInterceptor(telemetry.NewRecorder(metrics), validationStage)

	return &Gateway{
		Chain:        metricsStage,
		Sessions:     sessions,
		Hub:          hub,
		AuditStore:   auditStore,
		Forwarder:    forwarder,
		Metrics:      metrics,
		Registry:     registry,
		sessionStore: sessionStore,
	}, nil
}

// Close releases the gateway's long-lived resources: the upstream
// connection, the sweep goroutine, and the audit store.
func (g *Gateway) Close() error {
	var errs []error
	if err := g.Forwarder.Close(); err != nil {
		errs = append(errs, err)
	}
	g.sessionStore.Stop()
	if err := g.AuditStore.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("gateway close: %v", errs)
}

func buildUpstreamClient(cfg *config.Config) (mcpadapter.Client, error) {
	switch {
	case cfg.Upstream.HTTP != "":
		timeout := parseDurationOr(cfg.Upstream.Timeout, 30*time.Second, nil)
		return mcpadapter.NewHTTPClient(cfg.Upstream.HTTP, mcpadapter.WithTimeout(timeout)), nil
	case cfg.Upstream.Command != "":
		return mcpadapter.NewStdioClient(cfg.Upstream.Command, cfg.Upstream.Args...), nil
	default:
		return nil, fmt.Errorf("upstream: one of http or command is required")
	}
}

func buildAuditStore(cfg config.AuditConfig, logger *slog.Logger) (audit.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return auditadapter.NewSQLiteStore(cfg.DBPath)
	default:
		flushInterval := parseDurationOr(cfg.FlushInterval, time.Second, logger)
		return auditadapter.NewFileStore(auditadapter.FileStoreConfig{
			Dir:           cfg.Dir,
			RetentionDays: cfg.RetentionDays,
			MaxFileSizeMB: cfg.MaxFileSizeMB,
			CacheSize:     cfg.CacheSize,
			FlushInterval: flushInterval,
			HighWatermark: cfg.BatchSize,
			QueueCapacity: cfg.QueueCapacity,
		}, logger)
	}
}

func buildClassifier(cfg config.L2Config, logger *slog.Logger) (l2.Classifier, error) {
	if cfg.Backend != "live" {
		return l2.NewMockClassifier(), nil
	}
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return l2adapter.NewHTTPClassifier(cfg.Endpoint, apiKey, cfg.Model, logger), nil
}

func buildPolicyEngine(cfg config.PolicyConfig) (policy.Engine, error) {
	if len(cfg.Rules) == 0 {
		return policy.NewEngine(nil, nil), nil
	}

	evaluator, err := agentfirewallcel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("new cel evaluator: %w", err)
	}

	rules := make([]policy.Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, policy.Rule{
			Name:      r.Name,
			Priority:  r.Priority,
			Condition: r.Condition,
			Verdict:   policy.Verdict(r.Verdict),
			Reason:    r.Reason,
		})
	}
	return policy.NewEngine(rules, evaluator), nil
}

// parseDurationOr parses a Go duration string, falling back to def on an
// empty or malformed value. logger may be nil (used during early boot
// before the upstream timeout has a logger attached).
func parseDurationOr(raw string, def time.Duration, logger *slog.Logger) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		if logger != nil {
			logger.Warn("invalid duration, using default", "value", raw, "default", def, "error", err)
		}
		return def
	}
	return d
}
