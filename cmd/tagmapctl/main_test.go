package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"backend-tagmap/internal/auth"
	"backend-tagmap/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func stubConfig(t *testing.T) {
	t.Helper()
	old := loadConfig
	loadConfig = func() config.Config {
		return config.Config{JWTSecret: "cli-secret", PostgresURL: "postgres://default"}
	}
	t.Cleanup(func() { loadConfig = old })
}

func TestTokenCommand(t *testing.T) {
	stubConfig(t)

	out, err := execute(t, "token", "--user", "moderator")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	caller, err := auth.NewVerifier("cli-secret").VerifyCaller(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if caller.UID != "moderator" || !caller.LoggedIn {
		t.Fatalf("unexpected caller: %+v", caller)
	}

	if _, err := execute(t, "token"); err == nil {
		t.Fatalf("expected missing user error")
	}
}

func TestMigrateCommand(t *testing.T) {
	stubConfig(t)
	oldConnect, oldMigrate := connectPostgres, migrateFn
	t.Cleanup(func() { connectPostgres, migrateFn = oldConnect, oldMigrate })

	var gotURL, gotCommand string
	connectPostgres = func(cfg config.Config) (*pgxpool.Pool, error) {
		gotURL = cfg.PostgresURL
		return nil, nil
	}
	migrateFn = func(_ context.Context, _ *pgxpool.Pool, command string) error {
		gotCommand = command
		return nil
	}

	out, err := execute(t, "migrate", "status", "--database-url", "postgres://override")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if gotURL != "postgres://override" || gotCommand != "status" {
		t.Fatalf("unexpected call: url=%q command=%q", gotURL, gotCommand)
	}
	if !strings.Contains(out, "migrate status: done") {
		t.Fatalf("unexpected output: %q", out)
	}

	if _, err := execute(t, "migrate", "sideways"); err == nil {
		t.Fatalf("expected invalid argument error")
	}

	migrateFn = func(context.Context, *pgxpool.Pool, string) error { return errors.New("boom") }
	if _, err := execute(t, "migrate", "up"); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected migrate error, got %v", err)
	}

	connectPostgres = func(config.Config) (*pgxpool.Pool, error) { return nil, errors.New("refused") }
	if _, err := execute(t, "migrate", "up"); err == nil {
		t.Fatalf("expected connect error")
	}
}
