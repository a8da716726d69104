package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shineum/inkpost/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", ""))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAccountCommands(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "inkpost.db") + "?_foreign_keys=on"
	t.Setenv("DATABASE_DSN", dsn)

	out, err := execute(t, "account", "list")
	if err != nil {
		t.Fatalf("account list: unexpected error: %v", err)
	}
	if !strings.Contains(out, "No accounts found.") {
		t.Errorf("empty list: got %q", out)
	}

	out, err = execute(t, "account", "add", "--email", "Owner@Example.com", "--verified=false")
	if err != nil {
		t.Fatalf("account add: unexpected error: %v", err)
	}
	if !strings.Contains(out, "owner@example.com, verified=false") {
		t.Errorf("account add output: got %q", out)
	}

	if _, err := execute(t, "account", "add", "--email", "owner@example.com", "--verified=false"); err == nil {
		t.Error("duplicate account add: expected error, got nil")
	}
	if _, err := execute(t, "account", "add", "--email", "not an address", "--verified=false"); err == nil {
		t.Error("malformed account add: expected error, got nil")
	}

	if _, err := execute(t, "account", "verify", "--email", "owner@example.com"); err != nil {
		t.Fatalf("account verify: unexpected error: %v", err)
	}
	if _, err := execute(t, "account", "verify", "--email", "nobody@example.com"); err == nil {
		t.Error("verify unknown account: expected error, got nil")
	}

	out, err = execute(t, "account", "list")
	if err != nil {
		t.Fatalf("account list: unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("account list lines: got %d, want 2\n%s", len(lines), out)
	}
	if fields := strings.Fields(lines[1]); len(fields) < 3 || fields[1] != "owner@example.com" || fields[2] != "true" {
		t.Errorf("account row: got %q", lines[1])
	}
}

func TestMigrateCommand(t *testing.T) {
	t.Setenv("DATABASE_DSN", "file:"+filepath.Join(t.TempDir(), "inkpost.db")+"?_foreign_keys=on")

	out, err := execute(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: unexpected error: %v", err)
	}
	if !strings.Contains(out, "up to date") {
		t.Errorf("migrate output: got %q", out)
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := logLevel(in); got != want {
			t.Errorf("logLevel(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestSelectNotifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		provider string
		wantName string
		wantErr  bool
	}{
		{provider: config.NotifierNone, wantName: "none"},
		{provider: "", wantName: "none"},
		{provider: config.NotifierStdout, wantName: "stdout"},
		{provider: "carrier-pigeon", wantErr: true},
	}

	for _, tt := range tests {
		cfg := &config.Config{Notify: config.NotifyConfig{Provider: tt.provider}}
		n, err := selectNotifier(context.Background(), cfg)
		if tt.wantErr {
			if err == nil {
				t.Errorf("selectNotifier(%q): expected error, got nil", tt.provider)
			}
			continue
		}
		if err != nil {
			t.Fatalf("selectNotifier(%q): unexpected error: %v", tt.provider, err)
		}
		if got := n.Name(); got != tt.wantName {
			t.Errorf("selectNotifier(%q) name: got %q, want %q", tt.provider, got, tt.wantName)
		}
	}
}
