package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunVersionText(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "wfbot") || !strings.Contains(got, "version:") {
		t.Errorf("version output = %q", got)
	}
}

func TestRunVersionJSON(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.Contains(out.String(), `"go_version"`) {
		t.Errorf("json output = %q", out.String())
	}
}

func TestRunNoCommandPrintsUsage(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: wfbot") {
		t.Errorf("usage output = %q", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, []string{"bogus"}); err == nil {
		t.Error("unknown command succeeded")
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, []string{"-frobnicate"}); err == nil {
		t.Error("unknown flag succeeded")
	}
}

func TestServeSurvivesCorruptHistorySnapshot(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "history.db"), []byte("not a sqlite file"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("gateway:\n  url: ws://127.0.0.1:1/ws\n  max_attempts: 1\ndata_dir: %s\n", dir)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	err := run(context.Background(), &out, &out, []string{"-config", cfgPath, "serve"})

	// The broken snapshot is logged and skipped; startup proceeds all the
	// way to the gateway dial, which is unreachable here.
	if err == nil || !strings.Contains(err.Error(), "gateway") {
		t.Fatalf("err = %v, want a gateway failure", err)
	}
	if strings.Contains(err.Error(), "restore") {
		t.Errorf("corrupt snapshot aborted startup: %v", err)
	}
	if !strings.Contains(out.String(), "history restore failed") {
		t.Errorf("restore failure not logged: %q", out.String())
	}
}

func TestRunBadOutputFormat(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, []string{"-o", "xml", "version"}); err == nil {
		t.Error("bad output format succeeded")
	}
}
