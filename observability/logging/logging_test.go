package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerRenamesStandardKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelDebug))
	logger.Warn("pair disabled", "pair", "XTK/YTK")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "pair"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing %q in %v", key, entry)
		}
	}
	if entry["severity"] != "WARN" {
		t.Fatalf("expected WARN severity, got %v", entry["severity"])
	}
}

func TestHandlerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, ParseLevel("error")))
	logger.Info("ignored")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at error level: %s", buf.String())
	}
}

func TestMasking(t *testing.T) {
	if got := MaskBearer("Bearer abc.def"); got != "Bearer "+RedactedValue {
		t.Fatalf("unexpected mask: %s", got)
	}
	if got := MaskField("authorization", "secret"); got.Value.String() != RedactedValue {
		t.Fatalf("expected authorization to be masked")
	}
	if got := MaskField("pair", "XTK/YTK"); got.Value.String() != "XTK/YTK" {
		t.Fatalf("allowlisted field must pass through")
	}
}
