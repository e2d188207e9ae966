package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := SetupWithOptions("dscd", "test", Options{Output: &buf, Level: slog.LevelDebug})
	defer closer.Close()

	logger.Debug("engine ready", slog.String("account", "dsc1xyz"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"service":  "dscd",
		"env":      "test",
		"message":  "engine ready",
		"severity": "DEBUG",
		"account":  "dsc1xyz",
	} {
		if got, _ := line[key].(string); got != want {
			t.Fatalf("%s: want %q got %q", key, want, got)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing: %v", line)
	}
}

func TestSetupTeesIntoRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dscd.log")
	var buf bytes.Buffer
	logger, closer := SetupWithOptions("dscd", "", Options{Output: &buf, File: path})
	logger.Info("persisted")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "persisted") {
		t.Fatalf("log file missing entry: %s", raw)
	}
}

func TestSensitiveAttributesAreMasked(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := SetupWithOptions("dscd", "", Options{Output: &buf})
	defer closer.Close()

	logger.Info("auth configured",
		slog.String("hmac_secret", "s3cr3t"),
		slog.String("Authorization", "Bearer abc"),
		slog.String("feed", "dsc1feed"),
		slog.String("token", ""))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"hmac_secret":   RedactedValue,
		"Authorization": RedactedValue,
		"feed":          "dsc1feed",
		"token":         "",
	} {
		if got, _ := line[key].(string); got != want {
			t.Fatalf("%s: want %q got %q", key, want, got)
		}
	}
	if strings.Contains(buf.String(), "s3cr3t") {
		t.Fatalf("secret leaked: %s", buf.String())
	}
}

func TestMaskHelpers(t *testing.T) {
	if attr := MaskField("jwtSecret", "s3cr3t"); attr.Value.String() != RedactedValue {
		t.Fatalf("secret should be masked, got %s", attr.Value.String())
	}
	if attr := MaskField("asset", "dsc1abc"); attr.Value.String() != "dsc1abc" {
		t.Fatalf("non-sensitive key should pass through, got %s", attr.Value.String())
	}
	if got := MaskDSN("postgres://dsc:pw@db:5432/dsc?sslmode=disable"); got != "postgres://dsc:"+RedactedValue+"@db:5432/dsc?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
	if got := MaskDSN("./journal.sqlite"); got != "./journal.sqlite" {
		t.Fatalf("file dsn should be unchanged, got %q", got)
	}
	if ParseLevel("WARN") != slog.LevelWarn || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level parsing")
	}
}
