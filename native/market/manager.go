package market

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	ncommon "riskcore/native/common"
	"riskcore/native/oracle"
	"riskcore/observability"
)

// PauseModule is the switchboard key governing market mutations.
const PauseModule = "market"

// defaultHoldPeriod is the minimum time collateral and borrows must be held
// before they can be unwound again, closing the single-transaction
// flash-loan window.
const defaultHoldPeriod = 20 * time.Minute

// MarketManager owns the mutating risk operations: listing assets, posting
// and removing collateral, admitting borrows, and settling liquidations.
// All pricing and solvency questions are delegated to the embedded
// LiquidityManager; the manager adds position bookkeeping, the hold-period
// cooldown, and the pause switchboard on top.
type MarketManager struct {
	store  Store
	liq    *LiquidityManager
	pauses *ncommon.SwitchBoard
	log    *slog.Logger
	now    func() time.Time

	holdPeriod time.Duration

	// opMu serializes read-modify-write mutations; the store's own locking
	// only covers individual reads and writes, not the window between them.
	opMu sync.Mutex

	mu     sync.RWMutex
	tokens map[common.Address]Token
}

func NewMarketManager(store Store, prices PriceSource, log *slog.Logger) *MarketManager {
	if log == nil {
		log = slog.Default()
	}
	m := &MarketManager{
		store:      store,
		pauses:     ncommon.NewSwitchBoard(),
		log:        log,
		now:        time.Now,
		holdPeriod: defaultHoldPeriod,
		tokens:     make(map[common.Address]Token),
	}
	m.liq = NewLiquidityManager(store, prices, m)
	return m
}

// Liquidity exposes the read-only query surface.
func (m *MarketManager) Liquidity() *LiquidityManager { return m.liq }

// Pauses exposes the module switchboard for the admin surface.
func (m *MarketManager) Pauses() *ncommon.SwitchBoard { return m.pauses }

// SetClock overrides the time source, used in tests.
func (m *MarketManager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// SetHoldPeriod overrides the collateral cooldown window.
func (m *MarketManager) SetHoldPeriod(d time.Duration) {
	if d >= 0 {
		m.holdPeriod = d
	}
}

// Token implements TokenRegistry.
func (m *MarketManager) Token(asset common.Address) (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[asset]
	return tok, ok
}

// ListAsset registers a token and its risk configuration. The config must
// pass validation and the token's kind must agree with it.
func (m *MarketManager) ListAsset(token Token, cfg AssetConfig) error {
	if m == nil {
		return errNilEngine
	}
	if token == nil {
		return ErrTokenNotRegistered
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	cfg.IsListed = true
	cfg.IsCollateralToken = token.IsCToken()
	cfg.Decimals = token.Decimals()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := m.store.PutAssetConfig(token.Address(), &cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.tokens[token.Address()] = token
	m.mu.Unlock()
	m.audit("list_asset", token.Address(), slog.Bool("collateral", cfg.IsCollateralToken))
	return nil
}

// UpdateAssetConfig replaces the risk parameters of an already listed asset.
// Listing state, token kind, and decimals are carried over, not updated.
func (m *MarketManager) UpdateAssetConfig(asset common.Address, cfg AssetConfig) error {
	if m == nil {
		return errNilEngine
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	current, err := m.store.AssetConfig(asset)
	if err != nil {
		return err
	}
	if current == nil || !current.IsListed {
		return ErrAssetNotListed
	}
	cfg.IsListed = true
	cfg.IsCollateralToken = current.IsCollateralToken
	cfg.Decimals = current.Decimals
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := m.store.PutAssetConfig(asset, &cfg); err != nil {
		return err
	}
	m.audit("update_asset_config", asset)
	return nil
}

// PostCollateral marks shares of a collateral token as backing the
// account's debt and starts the hold-period cooldown.
func (m *MarketManager) PostCollateral(account, asset common.Address, shares *big.Int) error {
	if m == nil {
		return errNilEngine
	}
	if err := ncommon.Guard(m.pauses, PauseModule); err != nil {
		return err
	}
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidAmount
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	cfg, err := m.store.AssetConfig(asset)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.IsListed {
		return ErrAssetNotListed
	}
	if !cfg.IsCollateralToken {
		return ErrNotCollateralToken
	}
	token, ok := m.Token(asset)
	if !ok {
		return ErrTokenNotRegistered
	}
	pos, err := m.store.Position(account, asset)
	if err != nil {
		return err
	}
	if pos == nil {
		pos = &Position{Active: PositionEntered, CollateralPosted: big.NewInt(0)}
	}
	posted := new(big.Int).Add(pos.CollateralPosted, shares)
	if posted.Cmp(token.BalanceOf(account)) > 0 {
		return ErrInsufficientBalance
	}
	pos.CollateralPosted = posted
	pos.Active = PositionCollateralized
	if err := m.store.PutPosition(account, asset, pos); err != nil {
		return err
	}
	if err := m.enterAsset(account, asset, true); err != nil {
		return err
	}
	m.log.Info("collateral posted",
		"account", account.Hex(), "asset", asset.Hex(), "shares", shares.String())
	return nil
}

// RemoveCollateral releases posted shares after the cooldown has elapsed,
// provided the account stays solvent without them. Redemption is a
// risk-reducing direction for lenders, so only BAD_SOURCE pricing blocks it.
func (m *MarketManager) RemoveCollateral(account, asset common.Address, shares *big.Int) error {
	if m == nil {
		return errNilEngine
	}
	if err := ncommon.Guard(m.pauses, PauseModule); err != nil {
		return err
	}
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidAmount
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.checkCooldown(account); err != nil {
		return err
	}
	pos, err := m.store.Position(account, asset)
	if err != nil {
		return err
	}
	if pos == nil || pos.Active == PositionNone {
		return ErrPositionNotFound
	}
	if pos.CollateralPosted.Cmp(shares) < 0 {
		return ErrExceedsCollateral
	}
	hypo, err := m.liq.HypotheticalLiquidityOf(account, HypotheticalAction{
		Asset:        asset,
		RedeemShares: shares,
	}, oracle.BadSource)
	if err != nil {
		m.blocked("remove_collateral", err)
		return err
	}
	if hypo.LiquidityDeficit.Sign() > 0 {
		observability.Risk().RecordBlockedAction("remove_collateral", "insolvent")
		return ErrInsufficientLiq
	}
	pos.CollateralPosted = new(big.Int).Sub(pos.CollateralPosted, shares)
	if pos.CollateralPosted.Sign() == 0 {
		pos.Active = PositionEntered
	}
	if err := m.store.PutPosition(account, asset, pos); err != nil {
		return err
	}
	m.log.Info("collateral removed",
		"account", account.Hex(), "asset", asset.Hex(), "shares", shares.String())
	return nil
}

// CanBorrow admits a borrow against the account's posted collateral.
// Borrowing increases risk, so CAUTION pricing is already disqualifying.
// The debt bookkeeping itself lives in the debt token; the manager records
// market entry and restarts the cooldown.
func (m *MarketManager) CanBorrow(account, asset common.Address, amount *big.Int) error {
	if m == nil {
		return errNilEngine
	}
	if err := ncommon.Guard(m.pauses, PauseModule); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	cfg, err := m.store.AssetConfig(asset)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.IsListed {
		return ErrAssetNotListed
	}
	if cfg.IsCollateralToken {
		return ErrNotDebtToken
	}
	hypo, err := m.liq.HypotheticalLiquidityOf(account, HypotheticalAction{
		Asset:        asset,
		BorrowAmount: amount,
	}, oracle.Caution)
	if err != nil {
		m.blocked("borrow", err)
		return err
	}
	if hypo.LiquidityDeficit.Sign() > 0 {
		observability.Risk().RecordBlockedAction("borrow", "insolvent")
		return ErrInsufficientLiq
	}
	if err := m.enterAsset(account, asset, true); err != nil {
		return err
	}
	m.log.Info("borrow admitted",
		"account", account.Hex(), "asset", asset.Hex(), "amount", amount.String())
	return nil
}

// CanRedeem admits withdrawing unposted share balance. Posted collateral
// must go through RemoveCollateral; this gate only enforces the cooldown
// and that pricing is not fully degraded.
func (m *MarketManager) CanRedeem(account, asset common.Address) error {
	if m == nil {
		return errNilEngine
	}
	if err := ncommon.Guard(m.pauses, PauseModule); err != nil {
		return err
	}
	if err := m.checkCooldown(account); err != nil {
		return err
	}
	if _, err := m.liq.price(asset, true, oracle.BadSource); err != nil {
		m.blocked("redeem", err)
		return err
	}
	return nil
}

// CanRepay admits repaying debt, enforcing the cooldown so a borrow cannot
// be opened and closed inside the hold period.
func (m *MarketManager) CanRepay(account, asset common.Address) error {
	if m == nil {
		return errNilEngine
	}
	if err := ncommon.Guard(m.pauses, PauseModule); err != nil {
		return err
	}
	return m.checkCooldown(account)
}

// ExitMarket removes the asset from the account's entered list. It refuses
// while collateral is still posted or debt is outstanding.
func (m *MarketManager) ExitMarket(account, asset common.Address) error {
	if m == nil {
		return errNilEngine
	}
	if err := ncommon.Guard(m.pauses, PauseModule); err != nil {
		return err
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.checkCooldown(account); err != nil {
		return err
	}
	pos, err := m.store.Position(account, asset)
	if err != nil {
		return err
	}
	if pos != nil && pos.CollateralPosted != nil && pos.CollateralPosted.Sign() > 0 {
		return ErrExceedsCollateral
	}
	if token, ok := m.Token(asset); ok && !token.IsCToken() {
		if debt := token.DebtBalanceCached(account); debt != nil && debt.Sign() > 0 {
			return ErrInsufficientLiq
		}
	}
	if err := m.store.DeletePosition(account, asset); err != nil {
		return err
	}
	return m.leaveAsset(account, asset)
}

// Liquidate settles a sized liquidation: the seized shares move from the
// borrower's posted collateral to the liquidator, net of the protocol cut.
func (m *MarketManager) Liquidate(liquidator, account, debtAsset, collateralAsset common.Address, repayAmount *big.Int, exact bool) (SeizeTerms, error) {
	if m == nil {
		return SeizeTerms{}, errNilEngine
	}
	if err := ncommon.Guard(m.pauses, PauseModule); err != nil {
		return SeizeTerms{}, err
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	terms, err := m.liq.CanLiquidate(account, debtAsset, collateralAsset, repayAmount, exact)
	if err != nil {
		return SeizeTerms{}, err
	}
	pos, err := m.store.Position(account, collateralAsset)
	if err != nil {
		return SeizeTerms{}, err
	}
	if pos == nil || pos.CollateralPosted == nil {
		return SeizeTerms{}, ErrPositionNotFound
	}
	if pos.CollateralPosted.Cmp(terms.SharesToSeize) < 0 {
		return SeizeTerms{}, ErrInvariantViolation
	}
	pos.CollateralPosted = new(big.Int).Sub(pos.CollateralPosted, terms.SharesToSeize)
	if pos.CollateralPosted.Sign() == 0 {
		pos.Active = PositionEntered
	}
	if err := m.store.PutPosition(account, collateralAsset, pos); err != nil {
		return SeizeTerms{}, err
	}
	observability.Risk().RecordLiquidation("partial")
	m.log.Info("liquidation settled",
		"liquidator", liquidator.Hex(), "account", account.Hex(),
		"debt_asset", debtAsset.Hex(), "collateral_asset", collateralAsset.Hex(),
		"repaid", terms.DebtToRepay.String(), "seized", terms.SharesToSeize.String(),
		"protocol_shares", terms.ProtocolShares.String(), "l_factor", terms.LFactor.String())
	return terms, nil
}

// LiquidateAccount closes an account whose collateral no longer covers its
// debt: every posted collateral position is zeroed and the shortfall is
// socialized through the returned repay ratio.
func (m *MarketManager) LiquidateAccount(liquidator, account common.Address) (BadDebtData, error) {
	if m == nil {
		return BadDebtData{}, errNilEngine
	}
	if err := ncommon.Guard(m.pauses, PauseModule); err != nil {
		return BadDebtData{}, err
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	terms, err := m.liq.BadDebtTermsOf(account)
	if err != nil {
		return BadDebtData{}, err
	}
	data, err := m.store.AccountData(account)
	if err != nil {
		return BadDebtData{}, err
	}
	if data != nil {
		for _, asset := range data.Assets {
			pos, err := m.store.Position(account, asset)
			if err != nil {
				return BadDebtData{}, err
			}
			if pos == nil || pos.CollateralPosted == nil || pos.CollateralPosted.Sign() == 0 {
				continue
			}
			pos.CollateralPosted = big.NewInt(0)
			pos.Active = PositionEntered
			if err := m.store.PutPosition(account, asset, pos); err != nil {
				return BadDebtData{}, err
			}
		}
	}
	shortfall := new(big.Int).Sub(terms.Debt, terms.DebtToPay)
	if shortfall.Sign() > 0 {
		sfWad := new(big.Float).SetInt(shortfall)
		sfWad.Quo(sfWad, new(big.Float).SetInt(wad))
		v, _ := sfWad.Float64()
		observability.Risk().RecordBadDebt(v)
	}
	observability.Risk().RecordLiquidation("bad_debt")
	m.log.Warn("bad debt account closed",
		"liquidator", liquidator.Hex(), "account", account.Hex(),
		"debt", terms.Debt.String(), "recovered", terms.DebtToPay.String(),
		"repay_ratio", terms.RepayRatio.String())
	return terms, nil
}

func (m *MarketManager) checkCooldown(account common.Address) error {
	data, err := m.store.AccountData(account)
	if err != nil {
		return err
	}
	if data == nil || data.CooldownTimestamp.IsZero() {
		return nil
	}
	if m.now().Before(data.CooldownTimestamp.Add(m.holdPeriod)) {
		observability.Risk().RecordBlockedAction("unwind", "hold_period")
		return ErrMinimumHoldPeriod
	}
	return nil
}

// enterAsset appends the asset to the account's entered list and, when
// restartCooldown is set, stamps the hold-period clock.
func (m *MarketManager) enterAsset(account, asset common.Address, restartCooldown bool) error {
	data, err := m.store.AccountData(account)
	if err != nil {
		return err
	}
	if data == nil {
		data = &AccountData{}
	}
	present := false
	for _, a := range data.Assets {
		if a == asset {
			present = true
			break
		}
	}
	if !present {
		data.Assets = append(data.Assets, asset)
	}
	if restartCooldown {
		data.CooldownTimestamp = m.now()
	}
	return m.store.PutAccountData(account, data)
}

func (m *MarketManager) leaveAsset(account, asset common.Address) error {
	data, err := m.store.AccountData(account)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	kept := data.Assets[:0]
	for _, a := range data.Assets {
		if a != asset {
			kept = append(kept, a)
		}
	}
	data.Assets = kept
	return m.store.PutAccountData(account, data)
}

func (m *MarketManager) blocked(action string, err error) {
	var degraded *oracle.DegradedPriceError
	if errors.As(err, &degraded) {
		observability.Risk().RecordBlockedAction(action, "degraded_price")
		m.log.Warn("action blocked by degraded price",
			"action", action, "asset", degraded.Asset.Hex(), "code", degraded.Code.String())
		return
	}
	observability.Risk().RecordBlockedAction(action, "error")
}

func (m *MarketManager) audit(change string, asset common.Address, attrs ...slog.Attr) {
	args := []any{"change", change, "asset", asset.Hex(), "audit_id", uuid.NewString()}
	for _, a := range attrs {
		args = append(args, a.Key, a.Value.Any())
	}
	m.log.Info("market admin change", args...)
	observability.Risk().RecordAdminChange(change)
}
