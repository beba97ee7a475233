package market

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"riskcore/native/oracle"
)

var (
	errNilEngine            = errors.New("market engine: not configured")
	ErrAssetNotListed       = errors.New("market engine: asset not listed")
	ErrTokenNotRegistered   = errors.New("market engine: token not registered")
	ErrNotCollateralToken   = errors.New("market engine: asset is not collateral-bearing")
	ErrNotDebtToken         = errors.New("market engine: asset is not debt-bearing")
	ErrInvariantViolation   = errors.New("market engine: internal invariant violated")
	ErrNoLiquidation        = errors.New("market engine: account not eligible for liquidation")
	ErrNotInBadDebt         = errors.New("market engine: account collateral still covers debt")
	ErrExceedsMaxRepay      = errors.New("market engine: requested repayment exceeds maximum allowed")
	ErrExceedsCollateral    = errors.New("market engine: seizure exceeds posted collateral")
	ErrInsufficientLiq      = errors.New("market engine: insufficient account liquidity")
	ErrInsufficientBalance  = errors.New("market engine: insufficient balance")
	ErrInvalidAmount        = errors.New("market engine: amount must be positive")
	ErrMinimumHoldPeriod    = errors.New("market engine: minimum hold period has not elapsed")
	ErrPositionNotFound     = errors.New("market engine: no position for account and asset")
)

// PriceSource is the slice of the price router the risk engine consumes.
type PriceSource interface {
	GetPrice(asset common.Address, inUSD, preferLower bool) (*big.Int, oracle.ErrorCode)
}

// LiquidityManager aggregates an account's collateral and debt across every
// entered asset into decision-ready values. It is read-only: all methods are
// pure queries over the store, the token registry, and the price router.
type LiquidityManager struct {
	store  Store
	prices PriceSource
	tokens TokenRegistry
}

// TokenRegistry resolves listed assets to their token contracts.
type TokenRegistry interface {
	Token(asset common.Address) (Token, bool)
}

func NewLiquidityManager(store Store, prices PriceSource, tokens TokenRegistry) *LiquidityManager {
	return &LiquidityManager{store: store, prices: prices, tokens: tokens}
}

// price fetches one price, failing when severity reaches the breakpoint.
func (m *LiquidityManager) price(asset common.Address, preferLower bool, breakpoint oracle.ErrorCode) (*big.Int, error) {
	price, code := m.prices.GetPrice(asset, true, preferLower)
	if code >= breakpoint {
		return nil, &oracle.DegradedPriceError{Asset: asset, Code: code}
	}
	return price, nil
}

func (m *LiquidityManager) snapshot(account, asset common.Address) (Snapshot, *AssetConfig, *Position, error) {
	cfg, err := m.store.AssetConfig(asset)
	if err != nil {
		return Snapshot{}, nil, nil, err
	}
	if cfg == nil || !cfg.IsListed {
		return Snapshot{}, nil, nil, ErrAssetNotListed
	}
	token, ok := m.tokens.Token(asset)
	if !ok {
		return Snapshot{}, nil, nil, ErrTokenNotRegistered
	}
	pos, err := m.store.Position(account, asset)
	if err != nil {
		return Snapshot{}, nil, nil, err
	}
	if pos == nil {
		pos = &Position{CollateralPosted: big.NewInt(0)}
	}
	if pos.CollateralPosted == nil {
		pos.CollateralPosted = big.NewInt(0)
	}
	return SnapshotOf(token, account), cfg, pos, nil
}

// StatusOf values the account's collateral, collateral-weighted borrowing
// power, and debt in USD. As a read-only query it tolerates CAUTION data;
// only BAD_SOURCE blocks it.
func (m *LiquidityManager) StatusOf(account common.Address) (AccountStatus, error) {
	if m == nil {
		return AccountStatus{}, errNilEngine
	}
	status := AccountStatus{
		Collateral: big.NewInt(0),
		MaxDebt:    big.NewInt(0),
		Debt:       big.NewInt(0),
	}
	data, err := m.store.AccountData(account)
	if err != nil {
		return AccountStatus{}, err
	}
	if data == nil {
		return status, nil
	}
	for _, asset := range data.Assets {
		snap, cfg, pos, err := m.snapshot(account, asset)
		if err != nil {
			return AccountStatus{}, err
		}
		if snap.IsCToken && cfg.CollRatio != nil && cfg.CollRatio.Sign() > 0 {
			if pos.CollateralPosted.Sign() > 0 {
				price, err := m.price(asset, true, oracle.BadSource)
				if err != nil {
					return AccountStatus{}, err
				}
				underlying := mulWad(pos.CollateralPosted, snap.ExchangeRate)
				value := valueOf(underlying, price, snap.Decimals)
				status.Collateral.Add(status.Collateral, value)
				status.MaxDebt.Add(status.MaxDebt, mulWad(value, cfg.CollRatio))
			}
		} else if !snap.IsCToken && snap.DebtBalance != nil && snap.DebtBalance.Sign() > 0 {
			price, err := m.price(asset, false, oracle.BadSource)
			if err != nil {
				return AccountStatus{}, err
			}
			status.Debt.Add(status.Debt, valueOf(snap.DebtBalance, price, snap.Decimals))
		}
	}
	return status, nil
}

// HypotheticalAction describes the single simulated mutation applied on top
// of the account's live positions.
type HypotheticalAction struct {
	Asset common.Address
	// RedeemShares simulates removing collateral shares of Asset.
	RedeemShares *big.Int
	// BorrowAmount simulates borrowing underlying units of Asset.
	BorrowAmount *big.Int
}

// HypotheticalLiquidityOf aggregates the account like StatusOf while
// overlaying one proposed action, without mutating state. A redemption is
// modeled as an addition to hypothetical debt equal to the redeemed value's
// collateral-weighted amount, which avoids a separate subtraction path. The
// caller-supplied breakpoint decides how much price degradation aborts the
// query: borrow paths pass oracle.Caution, redemption paths oracle.BadSource.
func (m *LiquidityManager) HypotheticalLiquidityOf(account common.Address, action HypotheticalAction, breakpoint oracle.ErrorCode) (HypotheticalData, error) {
	if m == nil {
		return HypotheticalData{}, errNilEngine
	}
	result := HypotheticalData{
		CollateralSurplus: big.NewInt(0),
		LiquidityDeficit:  big.NewInt(0),
	}
	maxDebt := big.NewInt(0)
	newDebt := big.NewInt(0)

	data, err := m.store.AccountData(account)
	if err != nil {
		return HypotheticalData{}, err
	}
	assets := make([]common.Address, 0, 8)
	if data != nil {
		assets = append(assets, data.Assets...)
	}
	entered := false
	for _, asset := range assets {
		if asset == action.Asset {
			entered = true
			break
		}
	}
	if !entered {
		assets = append(assets, action.Asset)
	}

	for _, asset := range assets {
		snap, cfg, pos, err := m.snapshot(account, asset)
		if err != nil {
			return HypotheticalData{}, err
		}
		modified := asset == action.Asset

		if snap.IsCToken && cfg.CollRatio != nil && cfg.CollRatio.Sign() > 0 {
			if pos.CollateralPosted.Sign() > 0 {
				price, err := m.price(asset, true, breakpoint)
				if err != nil {
					return HypotheticalData{}, err
				}
				underlying := mulWad(pos.CollateralPosted, snap.ExchangeRate)
				value := valueOf(underlying, price, snap.Decimals)
				maxDebt.Add(maxDebt, mulWad(value, cfg.CollRatio))

				if modified && action.RedeemShares != nil && action.RedeemShares.Sign() > 0 {
					redeemed := mulWad(action.RedeemShares, snap.ExchangeRate)
					redeemedValue := valueOf(redeemed, price, snap.Decimals)
					newDebt.Add(newDebt, mulWad(redeemedValue, cfg.CollRatio))
				}
			} else if !modified && (snap.DebtBalance == nil || snap.DebtBalance.Sign() == 0) {
				result.StaleAssets = append(result.StaleAssets, asset)
			}
		} else if !snap.IsCToken {
			hasDebt := snap.DebtBalance != nil && snap.DebtBalance.Sign() > 0
			borrowing := modified && action.BorrowAmount != nil && action.BorrowAmount.Sign() > 0
			if hasDebt || borrowing {
				price, err := m.price(asset, false, breakpoint)
				if err != nil {
					return HypotheticalData{}, err
				}
				if hasDebt {
					newDebt.Add(newDebt, valueOf(snap.DebtBalance, price, snap.Decimals))
				}
				if borrowing {
					newDebt.Add(newDebt, valueOf(action.BorrowAmount, price, snap.Decimals))
				}
			} else if !modified {
				result.StaleAssets = append(result.StaleAssets, asset)
			}
		}
	}

	if maxDebt.Cmp(newDebt) > 0 {
		result.CollateralSurplus.Sub(maxDebt, newDebt)
	} else {
		result.LiquidityDeficit.Sub(newDebt, maxDebt)
	}
	return result, nil
}

// SolvencyOf values collateral without the collRatio weighting against
// total debt, the comparison that decides bad-debt eligibility.
func (m *LiquidityManager) SolvencyOf(account common.Address) (collateral, debt *big.Int, err error) {
	if m == nil {
		return nil, nil, errNilEngine
	}
	status, err := m.StatusOf(account)
	if err != nil {
		return nil, nil, err
	}
	return status.Collateral, status.Debt, nil
}
