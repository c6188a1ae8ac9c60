package cmd

import (
	"log/slog"
	"testing"

	"github.com/IsaacHuo/agent-firewall/internal/config"
)

func TestStartCmd_Registered(t *testing.T) {
	found := false
	for _, c := range rootCmd.Commands() {
		if c.Name() == "start" {
			found = true
			break
		}
	}
	if !found {
		t.Error("start command not registered with rootCmd")
	}
}

func TestStartCmd_DevFlagDefault(t *testing.T) {
	flag := startCmd.Flags().Lookup("dev")
	if flag == nil {
		t.Fatal("dev flag not registered on startCmd")
	}
	if flag.DefValue != "false" {
		t.Errorf("dev default = %q, want %q", flag.DefValue, "false")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"warn":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"info":    "INFO",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for input, want := range cases {
		got := parseLogLevel(input).String()
		if got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestServeTransports_NoneConfiguredReturnsError(t *testing.T) {
	cfg := &config.Config{}
	logger := slog.New(slog.NewTextHandler(testWriter{}, nil))
	if err := serveTransports(nil, cfg, nil, logger); err == nil {
		t.Fatal("expected error when no transport is configured")
	}
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }
