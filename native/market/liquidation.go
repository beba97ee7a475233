package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"riskcore/native/oracle"
)

// LiquidationStatusOf computes how deep the account sits inside the
// liquidation band, together with the prices of the pair being liquidated.
// The lFactor is zero while every soft collateral requirement is met, WAD
// once the hard requirement is breached, and interpolated linearly between
// the two. Liquidation pricing is always conservative against the account:
// debt is valued at the higher of diverging feeds, collateral at the lower.
func (m *LiquidityManager) LiquidationStatusOf(account, debtAsset, collateralAsset common.Address) (LiqData, error) {
	if m == nil {
		return LiqData{}, errNilEngine
	}
	debtCfg, err := m.store.AssetConfig(debtAsset)
	if err != nil {
		return LiqData{}, err
	}
	if debtCfg == nil || !debtCfg.IsListed {
		return LiqData{}, ErrAssetNotListed
	}
	if debtCfg.IsCollateralToken {
		return LiqData{}, ErrNotDebtToken
	}
	collCfg, err := m.store.AssetConfig(collateralAsset)
	if err != nil {
		return LiqData{}, err
	}
	if collCfg == nil || !collCfg.IsListed {
		return LiqData{}, ErrAssetNotListed
	}
	if !collCfg.IsCollateralToken {
		return LiqData{}, ErrNotCollateralToken
	}

	softSum, hardSum, debt, err := m.liquidationSums(account)
	if err != nil {
		return LiqData{}, err
	}
	debtPrice, err := m.price(debtAsset, false, oracle.BadSource)
	if err != nil {
		return LiqData{}, err
	}
	collPrice, err := m.price(collateralAsset, true, oracle.BadSource)
	if err != nil {
		return LiqData{}, err
	}
	data := LiqData{
		LFactor:              big.NewInt(0),
		DebtTokenPrice:       debtPrice,
		CollateralTokenPrice: collPrice,
	}
	if debt.Cmp(softSum) <= 0 {
		return data, nil
	}
	if debt.Cmp(hardSum) >= 0 {
		data.LFactor = new(big.Int).Set(wad)
		return data, nil
	}
	// softSum < debt < hardSum, and hardSum > softSum because every listed
	// collateral token enforces CollReqHard < CollReqSoft.
	num := new(big.Int).Sub(debt, softSum)
	den := new(big.Int).Sub(hardSum, softSum)
	lFactor := num.Mul(num, wad)
	lFactor.Div(lFactor, den)
	if lFactor.Sign() == 0 {
		// the account is past the soft bound, so eligibility must not be
		// rounded away
		lFactor.SetInt64(1)
	}
	if lFactor.Cmp(wad) > 0 {
		lFactor.Set(wad)
	}
	data.LFactor = lFactor
	return data, nil
}

// liquidationSums walks the account's assets and returns collateral value
// discounted by the soft and hard requirements alongside total debt.
func (m *LiquidityManager) liquidationSums(account common.Address) (softSum, hardSum, debt *big.Int, err error) {
	softSum = big.NewInt(0)
	hardSum = big.NewInt(0)
	debt = big.NewInt(0)
	data, err := m.store.AccountData(account)
	if err != nil {
		return nil, nil, nil, err
	}
	if data == nil {
		return softSum, hardSum, debt, nil
	}
	for _, asset := range data.Assets {
		snap, cfg, pos, err := m.snapshot(account, asset)
		if err != nil {
			return nil, nil, nil, err
		}
		if snap.IsCToken && cfg.CollRatio != nil && cfg.CollRatio.Sign() > 0 {
			if pos.CollateralPosted.Sign() == 0 {
				continue
			}
			price, err := m.price(asset, true, oracle.BadSource)
			if err != nil {
				return nil, nil, nil, err
			}
			underlying := mulWad(pos.CollateralPosted, snap.ExchangeRate)
			value := valueOf(underlying, price, snap.Decimals)
			softSum.Add(softSum, divWad(value, cfg.CollReqSoft))
			hardSum.Add(hardSum, divWad(value, cfg.CollReqHard))
		} else if !snap.IsCToken && snap.DebtBalance != nil && snap.DebtBalance.Sign() > 0 {
			price, err := m.price(asset, false, oracle.BadSource)
			if err != nil {
				return nil, nil, nil, err
			}
			debt.Add(debt, valueOf(snap.DebtBalance, price, snap.Decimals))
		}
	}
	return softSum, hardSum, debt, nil
}

// CanLiquidate sizes a liquidation of one debt/collateral pair. The close
// factor and the seizure incentive both scale with the lFactor, so a barely
// unhealthy account loses the minimum slice while one at the hard bound can
// be closed outright. When exact is true the requested repayment must fit
// within the limits; otherwise it is capped to them.
func (m *LiquidityManager) CanLiquidate(account, debtAsset, collateralAsset common.Address, repayAmount *big.Int, exact bool) (SeizeTerms, error) {
	if m == nil {
		return SeizeTerms{}, errNilEngine
	}
	liq, err := m.LiquidationStatusOf(account, debtAsset, collateralAsset)
	if err != nil {
		return SeizeTerms{}, err
	}
	if liq.LFactor.Sign() == 0 {
		return SeizeTerms{}, ErrNoLiquidation
	}
	debtCfg, err := m.store.AssetConfig(debtAsset)
	if err != nil {
		return SeizeTerms{}, err
	}
	collCfg, err := m.store.AssetConfig(collateralAsset)
	if err != nil {
		return SeizeTerms{}, err
	}
	debtToken, ok := m.tokens.Token(debtAsset)
	if !ok {
		return SeizeTerms{}, ErrTokenNotRegistered
	}
	collToken, ok := m.tokens.Token(collateralAsset)
	if !ok {
		return SeizeTerms{}, ErrTokenNotRegistered
	}
	debtSnap := SnapshotOf(debtToken, account)
	collSnap := SnapshotOf(collToken, account)

	// close factor and incentive interpolate with the lFactor
	cFactor := new(big.Int).Add(debtCfg.BaseCFactor, mulWad(liq.LFactor, debtCfg.CFactorCurve))
	incentive := new(big.Int).Add(collCfg.LiqBaseIncentive, mulWad(liq.LFactor, collCfg.LiqCurve))

	maxRepay := mulWad(cFactor, debtSnap.DebtBalance)
	repay := new(big.Int)
	if repayAmount == nil || repayAmount.Sign() <= 0 {
		if exact {
			return SeizeTerms{}, ErrInvalidAmount
		}
		repay.Set(maxRepay)
	} else if repayAmount.Cmp(maxRepay) > 0 {
		if exact {
			return SeizeTerms{}, ErrExceedsMaxRepay
		}
		repay.Set(maxRepay)
	} else {
		repay.Set(repayAmount)
	}
	if repay.Sign() == 0 {
		return SeizeTerms{}, ErrNoLiquidation
	}

	// value of the repaid debt grossed up by the incentive, converted into
	// collateral underlying and then into shares
	debtValue := valueOf(repay, liq.DebtTokenPrice, debtSnap.Decimals)
	seizeValue := mulWad(debtValue, incentive)
	seizeUnderlying := amountOf(seizeValue, liq.CollateralTokenPrice, collSnap.Decimals)
	shares := divWad(seizeUnderlying, collSnap.ExchangeRate)

	pos, err := m.store.Position(account, collateralAsset)
	if err != nil {
		return SeizeTerms{}, err
	}
	posted := big.NewInt(0)
	if pos != nil && pos.CollateralPosted != nil {
		posted = pos.CollateralPosted
	}
	if shares.Cmp(posted) > 0 {
		if exact {
			return SeizeTerms{}, ErrExceedsCollateral
		}
		// cap the seizure to what is actually posted and shrink the
		// repayment with it, inverting the seize conversion
		shares = new(big.Int).Set(posted)
		cappedUnderlying := mulWad(shares, collSnap.ExchangeRate)
		cappedValue := valueOf(cappedUnderlying, liq.CollateralTokenPrice, collSnap.Decimals)
		repay = amountOf(divWad(cappedValue, incentive), liq.DebtTokenPrice, debtSnap.Decimals)
		if repay.Sign() == 0 {
			return SeizeTerms{}, ErrNoLiquidation
		}
	}

	// the liquidator keeps the base value; the protocol takes LiqFee of the
	// premium slice
	base := new(big.Int).Mul(shares, wad)
	base.Div(base, incentive)
	premium := new(big.Int).Sub(shares, base)
	protocolShares := mulWad(premium, collCfg.LiqFee)

	return SeizeTerms{
		DebtToRepay:    repay,
		SharesToSeize:  shares,
		ProtocolShares: protocolShares,
		LFactor:        liq.LFactor,
	}, nil
}

// BadDebtTermsOf prices the whole-account closure used once collateral no
// longer covers debt. Every posted collateral position is liquidated at the
// base incentive and the recovered value is applied pro-rata across lenders
// through the repay ratio.
func (m *LiquidityManager) BadDebtTermsOf(account common.Address) (BadDebtData, error) {
	if m == nil {
		return BadDebtData{}, errNilEngine
	}
	collateral, debt, err := m.SolvencyOf(account)
	if err != nil {
		return BadDebtData{}, err
	}
	if debt.Sign() == 0 || collateral.Cmp(debt) >= 0 {
		return BadDebtData{}, ErrNotInBadDebt
	}
	data, err := m.store.AccountData(account)
	if err != nil {
		return BadDebtData{}, err
	}
	debtToPay := big.NewInt(0)
	if data != nil {
		for _, asset := range data.Assets {
			snap, cfg, pos, err := m.snapshot(account, asset)
			if err != nil {
				return BadDebtData{}, err
			}
			if !snap.IsCToken || pos.CollateralPosted.Sign() == 0 {
				continue
			}
			price, err := m.price(asset, true, oracle.BadSource)
			if err != nil {
				return BadDebtData{}, err
			}
			underlying := mulWad(pos.CollateralPosted, snap.ExchangeRate)
			value := valueOf(underlying, price, snap.Decimals)
			debtToPay.Add(debtToPay, divWad(value, cfg.LiqBaseIncentive))
		}
	}
	repayRatio := new(big.Int).Mul(debtToPay, wad)
	repayRatio.Div(repayRatio, debt)
	return BadDebtData{
		Collateral: collateral,
		Debt:       debt,
		DebtToPay:  debtToPay,
		RepayRatio: repayRatio,
	}, nil
}
