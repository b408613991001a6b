package main

import (
	"bytes"
	"encoding/json"
	"runtime"
	"strings"
	"testing"
)

func TestVersionOutput(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() {
		versionCmd.SetOut(nil)
		flagVersionJSON = false
	})

	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "signal-ingest ") {
		t.Fatalf("unexpected output %q", buf.String())
	}

	buf.Reset()
	flagVersionJSON = true
	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("version --json: %v", err)
	}
	var b buildInfo
	if err := json.Unmarshal(buf.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Version == "" || b.GoVersion != runtime.Version() {
		t.Fatalf("unexpected build info %+v", b)
	}
}
