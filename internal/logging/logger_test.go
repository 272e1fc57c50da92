package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestForTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	For(base, "ledger").Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["component"] != "ledger" {
		t.Fatalf("expected component ledger got %v", line["component"])
	}
}

func TestForNilLogger(t *testing.T) {
	if For(nil, "x") == nil {
		t.Fatalf("expected non-nil logger")
	}
}

func TestNewTagsServiceAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, Options{Level: "warn", Service: "walletledger", Env: "test"})

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record should be filtered at warn level: %s", buf.String())
	}

	logger.Warn("kept")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["service"] != "walletledger" || line["env"] != "test" {
		t.Fatalf("missing service attributes: %v", line)
	}
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	newWithWriter(&buf, Options{Level: "loud", Text: true}).Info("hello")
	if !bytes.Contains(buf.Bytes(), []byte("msg=hello")) {
		t.Fatalf("expected text record, got %q", buf.String())
	}
}
