package shared

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestParseLogLevel(t *testing.T) {
	tc := []struct {
		name  string
		input string
		want  log.Level
	}{
		{name: "empty defaults to info", input: "", want: log.InfoLevel},
		{name: "debug", input: "debug", want: log.DebugLevel},
		{name: "mixed case warn", input: " Warn ", want: log.WarnLevel},
		{name: "warning alias", input: "warning", want: log.WarnLevel},
		{name: "error", input: "error", want: log.ErrorLevel},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if err != nil {
				t.Fatalf("ParseLogLevel(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	t.Run("unknown", func(t *testing.T) {
		if _, err := ParseLogLevel("verbose"); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := WithLogger(NewLogger(&buf), "user", "u-1")
	logger.Info("synced", "rows", 3)

	out := buf.String()
	for _, want := range []string{"synced", "user=u-1", "rows=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Error("expected unique ids")
	}
	if len(a) != 36 {
		t.Errorf("expected uuid string, got %q", a)
	}
}

func TestRateLimitError(t *testing.T) {
	err := error(&RateLimitError{RetryAfter: 3e9})
	if !errors.Is(err, ErrRateLimited) {
		t.Error("RateLimitError should unwrap to ErrRateLimited")
	}
	if d, ok := RetryAfterHint(err); !ok || d.Seconds() != 3 {
		t.Errorf("RetryAfterHint() = %v, %v", d, ok)
	}
	if _, ok := RetryAfterHint(ErrTransientIO); ok {
		t.Error("plain errors carry no hint")
	}
}
