package market

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ActivePosition encodes the lifecycle state of an (account, asset) pair.
type ActivePosition uint8

const (
	// PositionNone means the account never entered the asset.
	PositionNone ActivePosition = iota
	// PositionEntered means the account entered the asset (borrowed against
	// it or holds it) without posting collateral.
	PositionEntered
	// PositionCollateralized means the account has collateral posted.
	PositionCollateralized
)

var (
	errInvalidCollRatio    = errors.New("market config: collateral ratio outside [0, 1.0]")
	errInvalidCollReq      = errors.New("market config: collateral requirements must satisfy WAD <= hard < soft")
	errCollRatioTooHigh    = errors.New("market config: collateral ratio exceeds WAD^2 / collReqSoft")
	errInvalidIncentive    = errors.New("market config: base liquidation incentive must be at least WAD")
	errInvalidLiqCurve     = errors.New("market config: liquidation curve must be positive so soft incentive stays below hard")
	errInvalidLiqFee       = errors.New("market config: liquidation fee must be below WAD")
	errInvalidCFactor      = errors.New("market config: base close factor must be in (0, WAD]")
	errInvalidCFactorCurve = errors.New("market config: base close factor plus curve must not exceed WAD")
)

// AssetConfig holds the per-asset risk parameters set by governance. All
// ratio fields are WAD scaled; CollReqSoft/CollReqHard are full
// collateral-to-debt ratios (1.2e18 == 120%).
type AssetConfig struct {
	IsListed bool
	// IsCollateralToken marks the collateral-bearing flavor; debt-bearing
	// assets leave it false.
	IsCollateralToken bool
	Decimals          uint8
	// CollRatio is the fraction of collateral value counted toward
	// borrowing power.
	CollRatio *big.Int
	// CollReqSoft and CollReqHard are the collateralization ratios at which
	// soft and hard liquidation become reachable.
	CollReqSoft *big.Int
	CollReqHard *big.Int
	// LiqBaseIncentive is the seizure multiplier at the soft boundary;
	// LiqCurve is the additional multiplier reached at full hard
	// liquidation.
	LiqBaseIncentive *big.Int
	LiqCurve         *big.Int
	// LiqFee is the protocol's cut of the liquidation incentive premium.
	LiqFee *big.Int
	// BaseCFactor bounds the debt fraction repayable in one soft
	// liquidation; CFactorCurve is the additional fraction unlocked as
	// lFactor approaches WAD.
	BaseCFactor  *big.Int
	CFactorCurve *big.Int
}

// Validate checks the documented parameter bounds. Configuration errors are
// rejected outright, never clamped.
func (c *AssetConfig) Validate() error {
	if c == nil {
		return errors.New("market config: nil")
	}
	if !c.IsCollateralToken {
		// Debt-bearing assets carry only the close-factor parameters read
		// when they are the repaid side of a liquidation.
		if c.BaseCFactor == nil || c.BaseCFactor.Sign() <= 0 || c.BaseCFactor.Cmp(wad) > 0 {
			return errInvalidCFactor
		}
		if c.CFactorCurve == nil || c.CFactorCurve.Sign() < 0 {
			return errInvalidCFactorCurve
		}
		sum := new(big.Int).Add(c.BaseCFactor, c.CFactorCurve)
		if sum.Cmp(wad) > 0 {
			return errInvalidCFactorCurve
		}
		return nil
	}
	if c.CollRatio == nil || c.CollRatio.Sign() < 0 || c.CollRatio.Cmp(wad) > 0 {
		return errInvalidCollRatio
	}
	if c.CollReqSoft == nil || c.CollReqHard == nil ||
		c.CollReqHard.Cmp(wad) < 0 || c.CollReqHard.Cmp(c.CollReqSoft) >= 0 {
		return errInvalidCollReq
	}
	// collRatio <= WAD*WAD/collReqSoft guarantees the soft threshold is
	// reachable before over-collateralization breaks down.
	maxRatio := new(big.Int).Mul(wad, wad)
	maxRatio.Quo(maxRatio, c.CollReqSoft)
	if c.CollRatio.Cmp(maxRatio) > 0 {
		return errCollRatioTooHigh
	}
	if c.LiqBaseIncentive == nil || c.LiqBaseIncentive.Cmp(wad) < 0 {
		return errInvalidIncentive
	}
	if c.LiqCurve == nil || c.LiqCurve.Sign() <= 0 {
		return errInvalidLiqCurve
	}
	if c.LiqFee == nil || c.LiqFee.Sign() < 0 || c.LiqFee.Cmp(wad) >= 0 {
		return errInvalidLiqFee
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *AssetConfig) Clone() *AssetConfig {
	if c == nil {
		return nil
	}
	clone := &AssetConfig{
		IsListed:          c.IsListed,
		IsCollateralToken: c.IsCollateralToken,
		Decimals:          c.Decimals,
	}
	clone.CollRatio = cloneBig(c.CollRatio)
	clone.CollReqSoft = cloneBig(c.CollReqSoft)
	clone.CollReqHard = cloneBig(c.CollReqHard)
	clone.LiqBaseIncentive = cloneBig(c.LiqBaseIncentive)
	clone.LiqCurve = cloneBig(c.LiqCurve)
	clone.LiqFee = cloneBig(c.LiqFee)
	clone.BaseCFactor = cloneBig(c.BaseCFactor)
	clone.CFactorCurve = cloneBig(c.CFactorCurve)
	return clone
}

// Position tracks one (account, asset) pair. CollateralPosted is in share
// units and may be less than the account's full balance.
type Position struct {
	Active           ActivePosition
	CollateralPosted *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{Active: p.Active, CollateralPosted: cloneBig(p.CollateralPosted)}
}

// AccountData is the per-account record: the ordered list of entered assets
// and the cooldown timestamp set by every risk-increasing action.
type AccountData struct {
	Assets            []common.Address
	CooldownTimestamp time.Time
}

// Clone returns a deep copy of the account data.
func (d *AccountData) Clone() *AccountData {
	if d == nil {
		return nil
	}
	return &AccountData{
		Assets:            append([]common.Address{}, d.Assets...),
		CooldownTimestamp: d.CooldownTimestamp,
	}
}

// Snapshot is the ephemeral per-query view of one asset for one account,
// recomputed from the token's live cached state and never persisted.
type Snapshot struct {
	Asset        common.Address
	IsCToken     bool
	ExchangeRate *big.Int
	DebtBalance  *big.Int
	Decimals     uint8
}

// Token abstracts the market token contracts. All reads are the cached
// variants: query paths must never trigger interest accrual or any other
// state mutation.
type Token interface {
	Address() common.Address
	IsCToken() bool
	Decimals() uint8
	// ExchangeRateCached is the WAD-scaled share-to-underlying rate.
	ExchangeRateCached() *big.Int
	// DebtBalanceCached is the account's outstanding debt in underlying
	// units; zero for collateral-bearing tokens.
	DebtBalanceCached(account common.Address) *big.Int
	// BalanceOf is the account's share balance, bounding how much can be
	// posted as collateral.
	BalanceOf(account common.Address) *big.Int
}

// SnapshotOf assembles the ephemeral per-account view from the token's
// cached reads.
func SnapshotOf(token Token, account common.Address) Snapshot {
	return Snapshot{
		Asset:        token.Address(),
		IsCToken:     token.IsCToken(),
		ExchangeRate: token.ExchangeRateCached(),
		DebtBalance:  token.DebtBalanceCached(account),
		Decimals:     token.Decimals(),
	}
}

// AccountStatus summarizes an account's aggregate valuation in USD (WAD
// scaled).
type AccountStatus struct {
	Collateral *big.Int
	MaxDebt    *big.Int
	Debt       *big.Int
}

// HypotheticalData reports liquidity after a simulated redeem/borrow.
// CollateralSurplus and LiquidityDeficit are mutually exclusive: at most one
// is nonzero. StaleAssets lists entered slots with neither collateral nor
// debt, candidates for garbage collection.
type HypotheticalData struct {
	CollateralSurplus *big.Int
	LiquidityDeficit  *big.Int
	StaleAssets       []common.Address
}

// LiqData is the liquidation eligibility verdict for a debt/collateral pair.
// LFactor is 0 for healthy accounts, WAD at full hard liquidation, and a
// linear interpolation between the soft and hard boundaries otherwise.
type LiqData struct {
	LFactor              *big.Int
	DebtTokenPrice       *big.Int
	CollateralTokenPrice *big.Int
}

// SeizeTerms is the sizing result of a liquidation, in debt underlying units
// and collateral share units. ProtocolShares is the protocol's cut of the
// seized collateral.
type SeizeTerms struct {
	DebtToRepay    *big.Int
	SharesToSeize  *big.Int
	ProtocolShares *big.Int
	LFactor        *big.Int
}

// BadDebtData is the whole-account closure computation: DebtToPay is the
// total debt recoverable by seizing every collateral position at the base
// incentive; RepayRatio = DebtToPay * WAD / Debt prorates the forgiveness of
// each debt position.
type BadDebtData struct {
	Collateral *big.Int
	Debt       *big.Int
	DebtToPay  *big.Int
	RepayRatio *big.Int
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
