package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestConfigureOutputJSON(t *testing.T) {
	t.Cleanup(func() { Configure("info", "console") })

	var buf bytes.Buffer
	ConfigureOutput(&buf, "debug", "json")

	Log.Debug().Str("file", "products_data.csv").Msg("data saved")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a json log line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "data saved" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["file"] != "products_data.csv" {
		t.Errorf("file = %v", entry["file"])
	}
	if entry["level"] != "debug" {
		t.Errorf("level = %v", entry["level"])
	}
}

func TestSetLevelInvalidFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() { Configure("info", "console") })

	var buf bytes.Buffer
	ConfigureOutput(&buf, "verbose", "json")

	if got := Log.GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("level = %v, want info", got)
	}
	if !bytes.Contains(buf.Bytes(), []byte("invalid log level")) {
		t.Errorf("expected a warning about the invalid level, got %q", buf.String())
	}
}
