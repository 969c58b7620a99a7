package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for name, want := range cases {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q): expected %s, got %s", name, want, got)
		}
	}
}

// TestComponentField verifies that component loggers tag every entry
func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(&buf, zerolog.DebugLevel), "worker")
	log.Info().Int("plane", 3).Msg("deconvolving plane")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", buf.String(), err)
	}
	if entry["component"] != "worker" {
		t.Errorf("Expected component=worker, got %v", entry["component"])
	}
	if entry["plane"] != float64(3) {
		t.Errorf("Expected plane=3, got %v", entry["plane"])
	}
	if entry["message"] != "deconvolving plane" {
		t.Errorf("Unexpected message %v", entry["message"])
	}
}
