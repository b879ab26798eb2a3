package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-wpan/migrations"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		args    []string
		want    options
		wantErr bool
	}{
		{
			name: "defaults",
			want: options{configPath: defaultConfigPath},
		},
		{
			name: "environment path",
			env:  "/etc/wpand/wpand.yaml",
			want: options{configPath: "/etc/wpand/wpand.yaml"},
		},
		{
			name: "flag overrides environment",
			env:  "/etc/wpand/wpand.yaml",
			args: []string{"--config", "/tmp/other.yaml"},
			want: options{configPath: "/tmp/other.yaml"},
		},
		{
			name: "short flags",
			args: []string{"-c", "x.yaml", "-d"},
			want: options{configPath: "x.yaml", debug: true},
		},
		{
			name: "version",
			args: []string{"--version"},
			want: options{configPath: defaultConfigPath, showVersion: true},
		},
		{
			name: "rollback",
			args: []string{"--rollback"},
			want: options{configPath: defaultConfigPath, rollback: true},
		},
		{
			name:    "unknown flag",
			args:    []string{"--channel", "11"},
			wantErr: true,
		},
		{
			name:    "positional argument",
			args:    []string{"wpan0"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WPAND_CONFIG", tt.env)

			got, err := parseFlags(tt.args, io.Discard)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseFlags(%v) should fail", tt.args)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags(%v) error = %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("parseFlags(%v) = %+v, want %+v", tt.args, got, tt.want)
			}
		})
	}
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: "/nonexistent/path/wpand.yaml"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want a config load error", err)
	}
}

// TestRun_ValidationFailure verifies run stops before opening anything when
// the configuration does not validate.
func TestRun_ValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "wpand.yaml")

	configContent := `
wpan:
  netlink:
    family: nl802154
  desired:
    page: 40
    channel: 11

database:
  enabled: false

object_bus:
  enabled: false

api:
  enabled: false

logging:
  level: info
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: configPath})
	if err == nil {
		t.Fatal("run() should fail when the desired page is out of range")
	}
	if !strings.Contains(err.Error(), "wpan.desired.page") {
		t.Errorf("run() error = %v, want the page validation message", err)
	}
}

// TestRun_Rollback reverts the journal schema without starting the daemon.
func TestRun_Rollback(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "wpand.db")
	configPath := filepath.Join(tmpDir, "wpand.yaml")

	configContent := fmt.Sprintf(`
database:
  enabled: true
  path: %s

object_bus:
  enabled: false

api:
  enabled: false

logging:
  level: info
  format: text
  output: stdout
`, dbPath)
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := database.Open(config.DatabaseConfig{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := run(ctx, options{configPath: configPath, rollback: true}); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	db, err = database.Open(config.DatabaseConfig{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	var count int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='wpan_events'",
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error = %v", err)
	}
	if count != 0 {
		t.Error("wpan_events still exists after rollback")
	}

	// A second rollback finds nothing left to revert.
	if err := run(ctx, options{configPath: configPath, rollback: true}); err != nil {
		t.Errorf("second run() error = %v", err)
	}
}
