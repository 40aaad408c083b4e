package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestLogger_Levels(t *testing.T) {
	color.NoColor = true

	var out, errOut bytes.Buffer
	quiet := Logger{Out: &out, Err: &errOut}
	quiet.Infof("hidden info")
	quiet.Debugf("hidden debug")
	quiet.Warnf("hidden warn")
	quiet.WarnfAlways("signature rejected for %s", "share-1")

	if out.Len() != 0 {
		t.Errorf("Expected no stdout output from quiet logger, got %q", out.String())
	}
	if !strings.Contains(errOut.String(), "signature rejected for share-1") {
		t.Errorf("Expected WarnfAlways output, got %q", errOut.String())
	}

	out.Reset()
	debug := Logger{Debug: true, Out: &out, Err: &errOut}
	debug.Debugf("rotation %d", 4)
	if !strings.Contains(out.String(), "[debug] rotation 4") {
		t.Errorf("Expected debug output, got %q", out.String())
	}
}

func TestLogger_ErrorfAndReturn(t *testing.T) {
	color.NoColor = true

	var errOut bytes.Buffer
	l := Logger{Err: &errOut}
	err := l.ErrorfAndReturn("failed to open share %s", "abc")
	if err == nil || err.Error() != "failed to open share abc" {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(errOut.String(), "[error] failed to open share abc") {
		t.Errorf("Expected error output, got %q", errOut.String())
	}
}
