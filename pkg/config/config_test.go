package config_test

import (
	"testing"

	"bookstore/pkg/config"
)

type testConfig struct {
	OwnerID  string `env:"TEST_BOOKSTORE_OWNER_ID"`
	Endpoint string `env:"TEST_BOOKSTORE_ENDPOINT" envDefault:"localhost:4318"`
}

func TestParseEnv(t *testing.T) {
	t.Setenv("TEST_BOOKSTORE_OWNER_ID", "b1946ac9-2d4e-4b76-9b47-0f6f95a1c8a2")

	var cfg testConfig
	if err := config.ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.OwnerID != "b1946ac9-2d4e-4b76-9b47-0f6f95a1c8a2" {
		t.Fatalf("owner id = %q", cfg.OwnerID)
	}
	if cfg.Endpoint != "localhost:4318" {
		t.Fatalf("endpoint default = %q", cfg.Endpoint)
	}
}

func TestParseEnvRejectsNonPointer(t *testing.T) {
	var cfg testConfig
	if err := config.ParseEnv(cfg); err == nil {
		t.Fatal("expected an error for a non-pointer target")
	}
}
