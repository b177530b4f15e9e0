package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://localhost/clob"
	cfg.Admin.APIKey = "test-admin-key"
	return cfg
}

func TestValidateAcceptsDefaultsPlusRequiredFields(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidateRejectsUnknownNetwork(t *testing.T) {
	cfg := validConfig()
	cfg.Stacks.Network = "regtest"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown network")
	}
}

func TestValidateRejectsMissingAdminKey(t *testing.T) {
	cfg := validConfig()
	cfg.Admin.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing admin api key")
	}
}

func TestValidateRejectsPartialSettlementConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Settlement.ContractAddress = "SP000000000000000000002Q6VF78"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for partially configured settlement")
	}
}

func TestSettlementEnabledRequiresAllThreeFields(t *testing.T) {
	cfg := validConfig()
	if cfg.SettlementEnabled() {
		t.Fatal("expected settlement disabled with no settlement fields set")
	}
	cfg.Settlement.ContractAddress = "SP000000000000000000002Q6VF78"
	cfg.Settlement.ContractName = "ctf-exchange"
	cfg.Settlement.OperatorPrivateKey = "deadbeef"
	if !cfg.SettlementEnabled() {
		t.Fatal("expected settlement enabled once all three fields are set")
	}
}

func TestValidateAccumulatesMultipleErrors(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for zero-value config")
	}
	for _, want := range []string{
		"stacks: unknown network",
		"postgres: dsn must not be empty",
		"admin: api_key must not be empty",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected accumulated error to contain %q, got: %v", want, err)
		}
	}
}
