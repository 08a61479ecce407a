package pointwallet

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{in: "debug", want: slog.LevelDebug, ok: true},
		{in: "INFO", want: slog.LevelInfo, ok: true},
		{in: "", want: slog.LevelInfo, ok: true},
		{in: "warning", want: slog.LevelWarn, ok: true},
		{in: "error", want: slog.LevelError, ok: true},
		{in: "loud", want: slog.LevelInfo, ok: false},
	}

	for _, tc := range cases {
		got, ok := parseLogLevel(tc.in)
		if ok != tc.ok {
			t.Fatalf("parseLogLevel(%q) ok=%v want %v", tc.in, ok, tc.ok)
		}
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q) level=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestInitLoggerJSONFormat(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	initLogger(&buf, LoggingConfig{Level: "debug", Format: LogFormatJSON})

	var line map[string]any
	if err := json.Unmarshal(bytes.Split(buf.Bytes(), []byte("\n"))[0], &line); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if line["level"] != "INFO" {
		t.Fatalf("expected upper-cased level, got %v", line["level"])
	}
	if logLevel.Level() != slog.LevelDebug {
		t.Fatalf("expected level var to be debug, got %v", logLevel.Level())
	}
}
