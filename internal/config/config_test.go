package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const baseYAML = `
port: "8080"
logLevel: info
databaseURL: "postgres://localhost/chatwave"
redisAddr: "localhost:6379"
jwtSecret: "secret"
statusTTL: 24h
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.DatabaseURL != "postgres://localhost/chatwave" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHATWAVE_PORT", "9999")
	t.Setenv("CHATWAVE_STATUS_TTL", "12h")
	t.Setenv("CHATWAVE_MAX_UPLOAD_BYTES", "1048576")

	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.StatusTTL != "12h" {
		t.Errorf("statusTTL = %q", cfg.StatusTTL)
	}
	if cfg.MaxUploadBytes != 1048576 {
		t.Errorf("maxUploadBytes = %d", cfg.MaxUploadBytes)
	}
}

func TestLoadValidation(t *testing.T) {
	missingPort := strings.Replace(baseYAML, `port: "8080"`, "", 1)
	if _, err := Load(writeConfig(t, missingPort)); err == nil {
		t.Error("expected a missing-port error")
	}

	missingSecret := strings.Replace(baseYAML, `jwtSecret: "secret"`, "", 1)
	if _, err := Load(writeConfig(t, missingSecret)); err == nil {
		t.Error("expected a missing-jwtSecret error")
	}

	badStrategy := baseYAML + "\nsessionStrategy: cookies\n"
	if _, err := Load(writeConfig(t, badStrategy)); err == nil {
		t.Error("expected an unknown-strategy error")
	}
}

func TestParseTTLs(t *testing.T) {
	d, err := ParseStatusTTL("")
	if err != nil || d != 24*time.Hour {
		t.Errorf("default status TTL = %v err=%v", d, err)
	}
	d, err = ParseSessionTTL("30m")
	if err != nil || d != 30*time.Minute {
		t.Errorf("session TTL = %v err=%v", d, err)
	}
	if _, err := ParseStatusTTL("banana"); err == nil {
		t.Error("expected a parse error")
	}
	if _, err := ParseSessionTTL("-1h"); err == nil {
		t.Error("expected a positivity error")
	}
}
