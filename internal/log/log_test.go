package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(LevelWarn)
	defer SetLevel(LevelInfo)

	Info("hidden")
	Debug("hidden too")
	Warn("shown", "template", "t1")
	Error("failed", errors.New("boom"), "count", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected info/debug to be filtered, got: %s", out)
	}
	if !strings.Contains(out, "[WARN] shown template=t1") {
		t.Errorf("missing warn line, got: %s", out)
	}
	if !strings.Contains(out, "[ERROR] failed err=boom count=2") {
		t.Errorf("missing error line, got: %s", out)
	}
}

func TestFormatValueQuotesSpaces(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Info("msg", "name", "walk-in freezer", "odd")
	if !strings.Contains(buf.String(), `name="walk-in freezer"`) {
		t.Errorf("expected quoted value, got: %s", buf.String())
	}
	if strings.Contains(buf.String(), "odd") {
		t.Errorf("dangling key should be dropped, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"loud":    LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
