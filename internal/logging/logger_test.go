package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{
			name: "json format",
			config: &Config{Level: LevelInfo, Format: "json", Output: &bytes.Buffer{}},
		},
		{
			name: "text format",
			config: &Config{Level: LevelDebug, Format: "text", Output: &bytes.Buffer{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "json", Output: &buf, Sync: true, NoColor: true}

	logger := NewLogger(config)

	langLogger := logger.WithLang("C")
	langLogger.Info("polling tick")

	output := buf.String()
	if !strings.Contains(output, `"lang":"C"`) {
		t.Errorf("expected lang=C in output, got: %s", output)
	}

	buf.Reset()
	rankLogger := langLogger.WithRank(1)
	rankLogger.Info("ticket completed")

	output = buf.String()
	if !strings.Contains(output, `"lang":"C"`) {
		t.Errorf("expected lang=C in rank logger output, got: %s", output)
	}
	if !strings.Contains(output, `"rank":1`) {
		t.Errorf("expected rank=1 in output, got: %s", output)
	}
}

func TestLoggerWithTicket(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "json", Output: &buf, Sync: true, NoColor: true}

	logger := NewLogger(config)
	ticketLogger := logger.WithTicket(123, "RECV")
	ticketLogger.Debug("draining pre-queue entry")

	output := buf.String()
	if !strings.Contains(output, `"tag":123`) {
		t.Errorf("expected tag=123 in output, got: %s", output)
	}
	if !strings.Contains(output, `"op":"RECV"`) {
		t.Errorf("expected op=RECV in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "json", Output: &buf, Sync: true, NoColor: true}

	logger := NewLogger(config)
	testErr := errors.New("library returned non-success")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation.issue() failed")

	output := buf.String()
	if !strings.Contains(output, "library returned non-success") {
		t.Errorf("expected wrapped error text in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "json", Output: &buf, Sync: true, NoColor: true}

	SetDefault(NewLogger(config))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("expected debug message, got: %s", output)
	}
	if !strings.Contains(output, `"key":"value"`) {
		t.Errorf("expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}
