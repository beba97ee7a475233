package market

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	ncommon "riskcore/native/common"
	"riskcore/native/oracle"
)

func TestPostCollateralRequiresBalance(t *testing.T) {
	mgr, cTok, _, _ := newHarness(t)
	cTok.balances[addrAlice] = usd(10)
	if err := mgr.PostCollateral(addrAlice, addrCollateral, usd(11)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("got %v, want %v", err, ErrInsufficientBalance)
	}
	if err := mgr.PostCollateral(addrAlice, addrCollateral, usd(10)); err != nil {
		t.Fatalf("post: %v", err)
	}
	pos, err := mgr.store.Position(addrAlice, addrCollateral)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Active != PositionCollateralized {
		t.Fatalf("active = %d, want collateralized", pos.Active)
	}
	if pos.CollateralPosted.Cmp(usd(10)) != 0 {
		t.Fatalf("posted = %s, want %s", pos.CollateralPosted, usd(10))
	}
}

func TestPostCollateralRejectsDebtToken(t *testing.T) {
	mgr, _, dTok, _ := newHarness(t)
	dTok.balances[addrAlice] = usd(10)
	if err := mgr.PostCollateral(addrAlice, addrDebt, usd(10)); !errors.Is(err, ErrNotCollateralToken) {
		t.Fatalf("got %v, want %v", err, ErrNotCollateralToken)
	}
}

func TestHoldPeriodCooldown(t *testing.T) {
	mgr, cTok, _, _ := newHarness(t)
	base := time.Unix(1_700_000_000, 0)
	now := base
	mgr.SetClock(func() time.Time { return now })

	postShares(t, mgr, addrAlice, cTok, usd(100))

	err := mgr.RemoveCollateral(addrAlice, addrCollateral, usd(40))
	if !errors.Is(err, ErrMinimumHoldPeriod) {
		t.Fatalf("inside hold period: got %v, want %v", err, ErrMinimumHoldPeriod)
	}
	now = base.Add(19 * time.Minute)
	if err := mgr.RemoveCollateral(addrAlice, addrCollateral, usd(40)); !errors.Is(err, ErrMinimumHoldPeriod) {
		t.Fatalf("one minute early: got %v, want %v", err, ErrMinimumHoldPeriod)
	}
	now = base.Add(20 * time.Minute)
	if err := mgr.RemoveCollateral(addrAlice, addrCollateral, usd(40)); err != nil {
		t.Fatalf("after hold period: %v", err)
	}
	pos, err := mgr.store.Position(addrAlice, addrCollateral)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.CollateralPosted.Cmp(usd(60)) != 0 {
		t.Fatalf("posted = %s, want %s", pos.CollateralPosted, usd(60))
	}
}

func TestBorrowRestartsCooldown(t *testing.T) {
	mgr, cTok, _, _ := newHarness(t)
	base := time.Unix(1_700_000_000, 0)
	now := base
	mgr.SetClock(func() time.Time { return now })

	postShares(t, mgr, addrAlice, cTok, usd(100))
	now = base.Add(25 * time.Minute)
	if err := mgr.CanBorrow(addrAlice, addrDebt, usd(10)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// the borrow restarted the clock, so unwinding is locked again
	now = base.Add(30 * time.Minute)
	if err := mgr.RemoveCollateral(addrAlice, addrCollateral, usd(10)); !errors.Is(err, ErrMinimumHoldPeriod) {
		t.Fatalf("got %v, want %v", err, ErrMinimumHoldPeriod)
	}
	now = base.Add(46 * time.Minute)
	if err := mgr.RemoveCollateral(addrAlice, addrCollateral, usd(10)); err != nil {
		t.Fatalf("after restart elapsed: %v", err)
	}
}

func TestRemoveCollateralBlockedByDeficit(t *testing.T) {
	mgr, cTok, dTok, _ := newHarness(t)
	mgr.SetHoldPeriod(0)
	postShares(t, mgr, addrAlice, cTok, usd(100))
	enterDebt(t, mgr, addrAlice, dTok, usd(70))

	// $70 of debt needs $87.5 posted at 0.8; removing $20 breaks that
	if err := mgr.RemoveCollateral(addrAlice, addrCollateral, usd(20)); !errors.Is(err, ErrInsufficientLiq) {
		t.Fatalf("got %v, want %v", err, ErrInsufficientLiq)
	}
	if err := mgr.RemoveCollateral(addrAlice, addrCollateral, usd(10)); err != nil {
		t.Fatalf("safe removal: %v", err)
	}
}

func TestPauseSwitchboard(t *testing.T) {
	mgr, cTok, _, _ := newHarness(t)
	cTok.balances[addrAlice] = usd(10)
	mgr.Pauses().SetPaused(PauseModule, true)
	if err := mgr.PostCollateral(addrAlice, addrCollateral, usd(10)); !errors.Is(err, ncommon.ErrModulePaused) {
		t.Fatalf("got %v, want %v", err, ncommon.ErrModulePaused)
	}
	mgr.Pauses().SetPaused(PauseModule, false)
	if err := mgr.PostCollateral(addrAlice, addrCollateral, usd(10)); err != nil {
		t.Fatalf("after unpause: %v", err)
	}
}

func TestBorrowBlockedByCaution(t *testing.T) {
	mgr, cTok, _, prices := newHarness(t)
	postShares(t, mgr, addrAlice, cTok, usd(100))
	prices.setSpread(addrDebt, usd(1), usd(1), oracle.Caution)

	err := mgr.CanBorrow(addrAlice, addrDebt, usd(10))
	if !errors.Is(err, oracle.ErrDegradedPrice) {
		t.Fatalf("got %v, want degraded price", err)
	}
	var degraded *oracle.DegradedPriceError
	if !errors.As(err, &degraded) {
		t.Fatalf("error %v does not carry asset detail", err)
	}
	if degraded.Asset != addrDebt {
		t.Fatalf("degraded asset = %s, want %s", degraded.Asset.Hex(), addrDebt.Hex())
	}
}

func TestLiquidateMovesCollateral(t *testing.T) {
	mgr, cTok, dTok, _ := newHarness(t)
	postShares(t, mgr, addrAlice, cTok, usd(132))
	forceDebt(t, mgr, addrAlice, dTok, usd(125))

	terms, err := mgr.Liquidate(addrBob, addrAlice, addrDebt, addrCollateral, usd(100), true)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	pos, err := mgr.store.Position(addrAlice, addrCollateral)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	want := new(big.Int).Sub(usd(132), terms.SharesToSeize)
	if pos.CollateralPosted.Cmp(want) != 0 {
		t.Fatalf("posted = %s, want %s", pos.CollateralPosted, want)
	}
	if terms.ProtocolShares.Cmp(terms.SharesToSeize) >= 0 {
		t.Fatalf("protocol cut %s must be a strict slice of %s", terms.ProtocolShares, terms.SharesToSeize)
	}
}

func TestLiquidateAccountClearsPositions(t *testing.T) {
	mgr, cTok, dTok, _ := newHarness(t)
	postShares(t, mgr, addrAlice, cTok, usd(105))
	forceDebt(t, mgr, addrAlice, dTok, usd(200))

	terms, err := mgr.LiquidateAccount(addrBob, addrAlice)
	if err != nil {
		t.Fatalf("liquidate account: %v", err)
	}
	if terms.DebtToPay.Cmp(usd(100)) != 0 {
		t.Fatalf("debt to pay = %s, want %s", terms.DebtToPay, usd(100))
	}
	pos, err := mgr.store.Position(addrAlice, addrCollateral)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.CollateralPosted.Sign() != 0 {
		t.Fatalf("posted = %s, want 0", pos.CollateralPosted)
	}
	if pos.Active != PositionEntered {
		t.Fatalf("active = %d, want entered", pos.Active)
	}
}

func TestExitMarketCompactsAssetList(t *testing.T) {
	mgr, cTok, _, _ := newHarness(t)
	mgr.SetHoldPeriod(0)
	postShares(t, mgr, addrAlice, cTok, usd(10))
	if err := mgr.ExitMarket(addrAlice, addrCollateral); !errors.Is(err, ErrExceedsCollateral) {
		t.Fatalf("with posted collateral: got %v, want %v", err, ErrExceedsCollateral)
	}
	if err := mgr.RemoveCollateral(addrAlice, addrCollateral, usd(10)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := mgr.ExitMarket(addrAlice, addrCollateral); err != nil {
		t.Fatalf("exit: %v", err)
	}
	data, err := mgr.store.AccountData(addrAlice)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	for _, a := range data.Assets {
		if a == addrCollateral {
			t.Fatalf("asset %s still entered after exit", a.Hex())
		}
	}
	if _, err := mgr.store.Position(addrAlice, addrCollateral); err != nil {
		t.Fatalf("position lookup: %v", err)
	}
}

func TestListAssetRequiresCloseFactorOnDebt(t *testing.T) {
	mgr, cTok, dTok, prices := newHarness(t)
	empty := newFakeToken(addrBob, false)
	prices.set(addrBob, usd(1))
	if err := mgr.ListAsset(empty, AssetConfig{}); err == nil {
		t.Fatal("expected validation error for debt token without close factor")
	}
	// a listed debt token always carries valid close-factor parameters, so
	// sizing a liquidation against it never dereferences nil
	postShares(t, mgr, addrAlice, cTok, usd(115))
	forceDebt(t, mgr, addrAlice, dTok, usd(200))
	if _, err := mgr.Liquidity().CanLiquidate(addrAlice, addrDebt, addrCollateral, nil, false); err != nil {
		t.Fatalf("can liquidate: %v", err)
	}
}

func TestConcurrentPostCollateralKeepsTotals(t *testing.T) {
	mgr, cTok, _, _ := newHarness(t)
	cTok.balances[addrAlice] = usd(1000)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if err := mgr.PostCollateral(addrAlice, addrCollateral, usd(1)); err != nil {
				t.Errorf("post: %v", err)
			}
		}()
	}
	wg.Wait()

	pos, err := mgr.store.Position(addrAlice, addrCollateral)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.CollateralPosted.Cmp(usd(workers)) != 0 {
		t.Fatalf("posted = %s, want %s", pos.CollateralPosted, usd(workers))
	}
}

func TestListAssetValidatesConfig(t *testing.T) {
	mgr, _, _, _ := newHarness(t)
	bad := collateralConfig()
	bad.CollReqSoft, bad.CollReqHard = bad.CollReqHard, bad.CollReqSoft
	tok := newFakeToken(addrBob, true)
	if err := mgr.ListAsset(tok, bad); err == nil {
		t.Fatal("expected validation error for hard >= soft")
	}
}

func TestUpdateAssetConfigRequiresListing(t *testing.T) {
	mgr, _, _, _ := newHarness(t)
	if err := mgr.UpdateAssetConfig(addrBob, collateralConfig()); !errors.Is(err, ErrAssetNotListed) {
		t.Fatalf("got %v, want %v", err, ErrAssetNotListed)
	}
}
