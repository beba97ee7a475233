package boltstore

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"riskcore/native/market"
)

var _ market.Store = (*Store)(nil)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "risk.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAssetConfigRoundTrip(t *testing.T) {
	store := openStore(t)
	asset := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	missing, err := store.AssetConfig(asset)
	if err != nil {
		t.Fatalf("lookup missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("missing config = %+v, want nil", missing)
	}

	wadInt := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	cfg := &market.AssetConfig{
		IsListed:          true,
		IsCollateralToken: true,
		Decimals:          18,
		CollRatio:         new(big.Int).Div(new(big.Int).Mul(wadInt, big.NewInt(8)), big.NewInt(10)),
		CollReqSoft:       new(big.Int).Div(new(big.Int).Mul(wadInt, big.NewInt(12)), big.NewInt(10)),
		CollReqHard:       new(big.Int).Div(new(big.Int).Mul(wadInt, big.NewInt(11)), big.NewInt(10)),
		LiqBaseIncentive:  new(big.Int).Set(wadInt),
		LiqCurve:          big.NewInt(1),
		LiqFee:            big.NewInt(1),
		BaseCFactor:       new(big.Int).Set(wadInt),
		CFactorCurve:      big.NewInt(0),
	}
	if err := store.PutAssetConfig(asset, cfg); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.AssetConfig(asset)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsListed || !got.IsCollateralToken || got.Decimals != 18 {
		t.Fatalf("flags lost: %+v", got)
	}
	if got.CollRatio.Cmp(cfg.CollRatio) != 0 || got.CollReqSoft.Cmp(cfg.CollReqSoft) != 0 {
		t.Fatalf("ratios lost: %+v", got)
	}
}

func TestListedAssetsPreserveOrder(t *testing.T) {
	store := openStore(t)
	first := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	second := common.HexToAddress("0x0000000000000000000000000000000000000001")
	for _, asset := range []common.Address{first, second, first} {
		if err := store.PutAssetConfig(asset, &market.AssetConfig{IsListed: true}); err != nil {
			t.Fatalf("put %s: %v", asset.Hex(), err)
		}
	}
	listed, err := store.ListedAssets()
	if err != nil {
		t.Fatalf("listed: %v", err)
	}
	if len(listed) != 2 || listed[0] != first || listed[1] != second {
		t.Fatalf("listed = %v, want [%s %s]", listed, first.Hex(), second.Hex())
	}
}

func TestListedAssetsSkipDelisted(t *testing.T) {
	store := openStore(t)
	listed := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	delisted := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if err := store.PutAssetConfig(listed, &market.AssetConfig{IsListed: true}); err != nil {
		t.Fatalf("put listed: %v", err)
	}
	if err := store.PutAssetConfig(delisted, &market.AssetConfig{IsListed: false}); err != nil {
		t.Fatalf("put delisted: %v", err)
	}
	assets, err := store.ListedAssets()
	if err != nil {
		t.Fatalf("listed: %v", err)
	}
	if len(assets) != 1 || assets[0] != listed {
		t.Fatalf("assets = %v, want only %s", assets, listed.Hex())
	}
}

func TestPositionLifecycle(t *testing.T) {
	store := openStore(t)
	account := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	asset := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	pos := &market.Position{
		Active:           market.PositionCollateralized,
		CollateralPosted: big.NewInt(123456789),
	}
	if err := store.PutPosition(account, asset, pos); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Position(account, asset)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active != market.PositionCollateralized || got.CollateralPosted.Cmp(pos.CollateralPosted) != 0 {
		t.Fatalf("position = %+v", got)
	}
	// the decoded value must be detached from later writes
	got.CollateralPosted.SetInt64(0)
	again, err := store.Position(account, asset)
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if again.CollateralPosted.Cmp(big.NewInt(123456789)) != 0 {
		t.Fatalf("stored position mutated through read copy")
	}

	if err := store.DeletePosition(account, asset); err != nil {
		t.Fatalf("delete: %v", err)
	}
	gone, err := store.Position(account, asset)
	if err != nil {
		t.Fatalf("after delete: %v", err)
	}
	if gone != nil {
		t.Fatalf("position survived delete: %+v", gone)
	}
}

func TestAccountDataRoundTrip(t *testing.T) {
	store := openStore(t)
	account := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	cooldown := time.Unix(1_700_000_000, 0).UTC()
	data := &market.AccountData{
		Assets: []common.Address{
			common.HexToAddress("0x00000000000000000000000000000000000000c1"),
			common.HexToAddress("0x00000000000000000000000000000000000000d1"),
		},
		CooldownTimestamp: cooldown,
	}
	if err := store.PutAccountData(account, data); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.AccountData(account)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Assets) != 2 || got.Assets[0] != data.Assets[0] {
		t.Fatalf("assets = %v", got.Assets)
	}
	if !got.CooldownTimestamp.Equal(cooldown) {
		t.Fatalf("cooldown = %s, want %s", got.CooldownTimestamp, cooldown)
	}
}
