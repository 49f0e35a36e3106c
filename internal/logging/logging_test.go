package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogfWritesTaggedLine(t *testing.T) {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	defer SetOutput(prev)

	Logf("[INGEST] published %s", "chapter_1")

	line := buf.String()
	if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "[INGEST] published chapter_1\n") {
		t.Fatalf("unexpected log line %q", line)
	}
}

func TestDebugfGated(t *testing.T) {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	defer SetOutput(prev)

	SetDebug(false)
	Debugf("hidden")
	if buf.Len() != 0 {
		t.Fatalf("Debugf wrote output while disabled: %q", buf.String())
	}

	SetDebug(true)
	defer SetDebug(false)
	if !DebugEnabled() {
		t.Fatal("DebugEnabled = false after SetDebug(true)")
	}
	Debugf("shown %d", 1)
	if !strings.Contains(buf.String(), "[DEBUG] shown 1") {
		t.Fatalf("Debugf output missing: %q", buf.String())
	}
}
