package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
listen: " :7000 "
auth:
  api_tokens:
    - " token-one "
    - " "
    - "token-two"
oracle:
  feeds:
    - name: " Primary "
      endpoint: "https://feeds.example.com/price"
      in_usd: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":7000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if len(cfg.Auth.APITokens) != 2 {
		t.Fatalf("tokens = %v, want two entries", cfg.Auth.APITokens)
	}
	if cfg.Store.Path != "riskcore.db" {
		t.Fatalf("store path = %q", cfg.Store.Path)
	}
	if cfg.Oracle.MaxAge != 15*time.Minute {
		t.Fatalf("max age = %s", cfg.Oracle.MaxAge)
	}
	if len(cfg.Oracle.Feeds) != 1 || cfg.Oracle.Feeds[0].Name != "primary" {
		t.Fatalf("feeds = %+v", cfg.Oracle.Feeds)
	}
}

func TestLoadConfigRequiresTokens(t *testing.T) {
	path := writeFile(t, "config.yaml", `
listen: ":7000"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing api tokens")
	}
}

func TestLoadConfigRejectsDuplicateFeeds(t *testing.T) {
	path := writeFile(t, "config.yaml", `
auth:
  api_tokens: ["t"]
oracle:
  feeds:
    - name: "primary"
      endpoint: "https://a.example.com"
    - name: "primary"
      endpoint: "https://b.example.com"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate feed names")
	}
}

func TestLoadParams(t *testing.T) {
	path := writeFile(t, "params.toml", `
[oracle]
CautionDivergenceBps = 10300
BadSourceDivergenceBps = 10900

[[assets]]
Address = "0x00000000000000000000000000000000000000c1"
IsCollateralToken = true
CollRatioBps = 8000
CollReqSoftBps = 12000
CollReqHardBps = 11000
LiqBaseIncentiveBps = 10500
LiqCurveBps = 1000
LiqFeeBps = 1000
BaseCFactorBps = 5000
CFactorCurveBps = 5000
`)
	params, err := LoadParams(path)
	if err != nil {
		t.Fatalf("load params: %v", err)
	}
	if params.Oracle.CautionDivergenceBps != 10300 {
		t.Fatalf("caution bps = %d", params.Oracle.CautionDivergenceBps)
	}
	if len(params.Assets) != 1 {
		t.Fatalf("assets = %d", len(params.Assets))
	}
	cfg := params.Assets[0].AssetConfig()
	wantRatio := new(big.Int).Mul(big.NewInt(8), big.NewInt(1e17))
	if cfg.CollRatio.Cmp(wantRatio) != 0 {
		t.Fatalf("coll ratio = %s, want %s", cfg.CollRatio, wantRatio)
	}
	cfg.IsCollateralToken = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("converted config invalid: %v", err)
	}
	tok := params.Assets[0].LedgerToken()
	if !tok.IsCToken() {
		t.Fatal("ledger token should be collateral bearing")
	}
	if tok.Decimals() != 18 {
		t.Fatalf("decimals = %d, want default 18", tok.Decimals())
	}
}

func TestLoadParamsDefaultsThresholds(t *testing.T) {
	path := writeFile(t, "params.toml", ``)
	params, err := LoadParams(path)
	if err != nil {
		t.Fatalf("load params: %v", err)
	}
	if params.Oracle.CautionDivergenceBps != 10500 || params.Oracle.BadSourceDivergenceBps != 11000 {
		t.Fatalf("defaults = %+v", params.Oracle)
	}
}

func TestLoadParamsRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "params.toml", `
[oracle]
CautionThreshold = 10300
`)
	if _, err := LoadParams(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadParamsRejectsBadAddress(t *testing.T) {
	path := writeFile(t, "params.toml", `
[[assets]]
Address = "not-an-address"
`)
	if _, err := LoadParams(path); err == nil {
		t.Fatal("expected error for invalid address")
	}
}
