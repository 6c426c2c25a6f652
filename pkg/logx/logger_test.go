package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("warn", &buf)

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept", "k", "v")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("below-level messages leaked: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn message missing: %s", out)
	}
}

func TestStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("debug", &buf)

	logger.Info("poi_triggered", "poi_id", "p1", "distance_m", 12.5)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "poi_triggered" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["poi_id"] != "p1" {
		t.Fatalf("missing poi_id field: %v", entry)
	}
}

func TestStateChangeHelper(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("debug", &buf)

	logger.LogStateChange("playback", "idle", "loading", "enqueue")

	out := buf.String()
	for _, want := range []string{"state_change", "playback", "idle", "loading"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output: %s", want, out)
		}
	}
}
