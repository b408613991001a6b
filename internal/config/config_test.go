package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadInterpolatesEnvAndValidates(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")

	cfgYAML := `
version: 1
security:
  signing_secret: ${SIGNING_KEY}
domain:
  type: http
  base_url: ${DOMAIN_URL}
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SIGNING_KEY", "whsec_test")
	t.Setenv("DOMAIN_URL", "http://domain.internal/api")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("expected load to succeed: %v", err)
	}

	if got := cfg.Security.SigningSecret; got != "whsec_test" {
		t.Fatalf("signing_secret not interpolated, got %q", got)
	}
	if got := cfg.Domain.BaseURL; got != "http://domain.internal/api" {
		t.Fatalf("base_url not interpolated, got %q", got)
	}
}

func TestLoadFailsOnMissingEnv(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")

	cfgYAML := `
version: 1
security:
  signing_secret: ${SIGNAL_INGEST_UNSET_SECRET}
domain:
  type: log
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("expected missing env to fail")
	}
	if !strings.Contains(err.Error(), "SIGNAL_INGEST_UNSET_SECRET") {
		t.Fatalf("error should name the variable: %v", err)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(filepath.Join(tmp, ".env"), []byte("SIGNAL_INGEST_DOTENV_SECRET=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("SIGNAL_INGEST_DOTENV_SECRET") })

	cfgYAML := `
version: 1
security:
  signing_secret: ${SIGNAL_INGEST_DOTENV_SECRET}
domain:
  type: log
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Security.SigningSecret != "from-dotenv" {
		t.Fatalf("expected secret from .env, got %q", cfg.Security.SigningSecret)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("version: 1\ndomain:\n  type: log\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Environment != EnvDevelopment {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if cfg.Server.SignatureHeader != "x-alchemy-signature" {
		t.Errorf("signature_header = %q", cfg.Server.SignatureHeader)
	}
	if cfg.Security.MaxAge.Std() != 5*time.Minute {
		t.Errorf("max_age = %s", cfg.Security.MaxAge.Std())
	}
	if cfg.Security.MaxFutureSkew.Std() != time.Minute {
		t.Errorf("max_future_skew = %s", cfg.Security.MaxFutureSkew.Std())
	}
	if cfg.Ledger.Retention.Std() != 30*24*time.Hour {
		t.Errorf("retention = %s", cfg.Ledger.Retention.Std())
	}
	if cfg.Ledger.Driver != DriverSQLite {
		t.Errorf("driver = %q", cfg.Ledger.Driver)
	}
	if cfg.Chain.ChunkSize != 2000 {
		t.Errorf("chunk_size = %d", cfg.Chain.ChunkSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing version",
			yaml:    "domain:\n  type: log\n",
			wantErr: "version is required",
		},
		{
			name:    "production without secret",
			yaml:    "version: 1\nenvironment: production\ndomain:\n  type: log\n",
			wantErr: "signing_secret is required in production",
		},
		{
			name:    "production with skip flag",
			yaml:    "version: 1\nenvironment: production\nsecurity:\n  signing_secret: s\n  skip_verification: true\ndomain:\n  type: log\n",
			wantErr: "skip_verification is not allowed in production",
		},
		{
			name:    "postgres without dsn",
			yaml:    "version: 1\nledger:\n  driver: postgres\ndomain:\n  type: log\n",
			wantErr: "dsn is required",
		},
		{
			name:    "unknown ledger driver",
			yaml:    "version: 1\nledger:\n  driver: mongo\ndomain:\n  type: log\n",
			wantErr: "unsupported driver",
		},
		{
			name:    "http domain without url",
			yaml:    "version: 1\ndomain:\n  type: http\n",
			wantErr: "base_url is required",
		},
		{
			name:    "bad contract address",
			yaml:    "version: 1\ndomain:\n  type: log\ncontract:\n  address: \"0x123\"\n",
			wantErr: "invalid address",
		},
		{
			name:    "bad duration",
			yaml:    "version: 1\ndomain:\n  type: log\nsecurity:\n  max_age: soon\n",
			wantErr: "parse duration",
		},
		{
			name:    "bad rpc url",
			yaml:    "version: 1\ndomain:\n  type: log\nchain:\n  rpc_url: localhost:8545\n",
			wantErr: "rpc_url must be",
		},
		{
			name: "development skip allowed",
			yaml: "version: 1\nsecurity:\n  skip_verification: true\ndomain:\n  type: log\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSampleParses(t *testing.T) {
	t.Setenv("ALCHEMY_SIGNING_KEY", "k")
	t.Setenv("DOMAIN_API_TOKEN", "t")

	cfg, err := Parse([]byte(Sample))
	if err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}
	if cfg.Ledger.PruneSchedule != "@hourly" {
		t.Fatalf("unexpected prune schedule %q", cfg.Ledger.PruneSchedule)
	}
}
