package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"riskcore/native/market"
	"riskcore/native/oracle"
)

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single params object, got %d", len(req.Params))
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s: amount required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", field, value)
	}
	return amount, nil
}

type accountParams struct {
	Account string `json:"account"`
}

type accountStatusResult struct {
	Collateral *big.Int `json:"collateral"`
	MaxDebt    *big.Int `json:"maxDebt"`
	Debt       *big.Int `json:"debt"`
}

func (s *Server) handleStatusOf(w http.ResponseWriter, req *RPCRequest) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	status, err := s.mgr.Liquidity().StatusOf(account)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, accountStatusResult{
		Collateral: status.Collateral,
		MaxDebt:    status.MaxDebt,
		Debt:       status.Debt,
	})
}

type hypotheticalParams struct {
	Account      string `json:"account"`
	Asset        string `json:"asset"`
	RedeemShares string `json:"redeemShares,omitempty"`
	BorrowAmount string `json:"borrowAmount,omitempty"`
}

type hypotheticalResult struct {
	CollateralSurplus *big.Int `json:"collateralSurplus"`
	LiquidityDeficit  *big.Int `json:"liquidityDeficit"`
	StaleAssets       []string `json:"staleAssets,omitempty"`
}

func (s *Server) handleHypotheticalLiquidity(w http.ResponseWriter, req *RPCRequest) {
	var params hypotheticalParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	action := market.HypotheticalAction{Asset: asset}
	breakpoint := oracle.BadSource
	if strings.TrimSpace(params.RedeemShares) != "" {
		if action.RedeemShares, err = parseAmount("redeemShares", params.RedeemShares); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	if strings.TrimSpace(params.BorrowAmount) != "" {
		if action.BorrowAmount, err = parseAmount("borrowAmount", params.BorrowAmount); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		// borrowing is risk-increasing: caution already blocks it
		breakpoint = oracle.Caution
	}
	data, err := s.mgr.Liquidity().HypotheticalLiquidityOf(account, action, breakpoint)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	result := hypotheticalResult{
		CollateralSurplus: data.CollateralSurplus,
		LiquidityDeficit:  data.LiquidityDeficit,
	}
	for _, stale := range data.StaleAssets {
		result.StaleAssets = append(result.StaleAssets, stale.Hex())
	}
	writeResult(w, req.ID, result)
}

type solvencyResult struct {
	Collateral *big.Int `json:"collateral"`
	Debt       *big.Int `json:"debt"`
}

func (s *Server) handleSolvencyOf(w http.ResponseWriter, req *RPCRequest) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	collateral, debt, err := s.mgr.Liquidity().SolvencyOf(account)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, solvencyResult{Collateral: collateral, Debt: debt})
}

type liquidationPairParams struct {
	Account         string `json:"account"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
}

type liquidationStatusResult struct {
	LFactor              *big.Int `json:"lFactor"`
	DebtTokenPrice       *big.Int `json:"debtTokenPrice"`
	CollateralTokenPrice *big.Int `json:"collateralTokenPrice"`
}

func (s *Server) handleLiquidationStatusOf(w http.ResponseWriter, req *RPCRequest) {
	var params liquidationPairParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, debtAsset, collateralAsset, err := parseLiquidationPair(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	data, err := s.mgr.Liquidity().LiquidationStatusOf(account, debtAsset, collateralAsset)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, liquidationStatusResult{
		LFactor:              data.LFactor,
		DebtTokenPrice:       data.DebtTokenPrice,
		CollateralTokenPrice: data.CollateralTokenPrice,
	})
}

func parseLiquidationPair(params liquidationPairParams) (account, debtAsset, collateralAsset common.Address, err error) {
	if account, err = parseAddress("account", params.Account); err != nil {
		return
	}
	if debtAsset, err = parseAddress("debtAsset", params.DebtAsset); err != nil {
		return
	}
	collateralAsset, err = parseAddress("collateralAsset", params.CollateralAsset)
	return
}

type canLiquidateParams struct {
	Account         string `json:"account"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	RepayAmount     string `json:"repayAmount,omitempty"`
	Exact           bool   `json:"exact,omitempty"`
}

type seizeTermsResult struct {
	DebtToRepay    *big.Int `json:"debtToRepay"`
	SharesToSeize  *big.Int `json:"sharesToSeize"`
	ProtocolShares *big.Int `json:"protocolShares"`
	LFactor        *big.Int `json:"lFactor"`
}

func (s *Server) handleCanLiquidate(w http.ResponseWriter, req *RPCRequest) {
	params, account, debtAsset, collateralAsset, repay, ok := s.decodeCanLiquidate(w, req)
	if !ok {
		return
	}
	terms, err := s.mgr.Liquidity().CanLiquidate(account, debtAsset, collateralAsset, repay, params.Exact)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, seizeTermsResult{
		DebtToRepay:    terms.DebtToRepay,
		SharesToSeize:  terms.SharesToSeize,
		ProtocolShares: terms.ProtocolShares,
		LFactor:        terms.LFactor,
	})
}

func (s *Server) decodeCanLiquidate(w http.ResponseWriter, req *RPCRequest) (canLiquidateParams, common.Address, common.Address, common.Address, *big.Int, bool) {
	var params canLiquidateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return params, common.Address{}, common.Address{}, common.Address{}, nil, false
	}
	account, debtAsset, collateralAsset, err := parseLiquidationPair(liquidationPairParams{
		Account:         params.Account,
		DebtAsset:       params.DebtAsset,
		CollateralAsset: params.CollateralAsset,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return params, common.Address{}, common.Address{}, common.Address{}, nil, false
	}
	var repay *big.Int
	if strings.TrimSpace(params.RepayAmount) != "" {
		if repay, err = parseAmount("repayAmount", params.RepayAmount); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return params, common.Address{}, common.Address{}, common.Address{}, nil, false
		}
	}
	return params, account, debtAsset, collateralAsset, repay, true
}

type badDebtResult struct {
	Collateral *big.Int `json:"collateral"`
	Debt       *big.Int `json:"debt"`
	DebtToPay  *big.Int `json:"debtToPay"`
	RepayRatio *big.Int `json:"repayRatio"`
}

func (s *Server) handleBadDebtTermsOf(w http.ResponseWriter, req *RPCRequest) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	terms, err := s.mgr.Liquidity().BadDebtTermsOf(account)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, badDebtResult{
		Collateral: terms.Collateral,
		Debt:       terms.Debt,
		DebtToPay:  terms.DebtToPay,
		RepayRatio: terms.RepayRatio,
	})
}

type getPriceParams struct {
	Asset       string `json:"asset"`
	InUSD       bool   `json:"inUsd"`
	PreferLower bool   `json:"preferLower"`
}

type getPriceResult struct {
	Price *big.Int `json:"price"`
	Code  string   `json:"code"`
}

func (s *Server) handleGetPrice(w http.ResponseWriter, req *RPCRequest) {
	var params getPriceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, code := s.router.GetPrice(asset, params.InUSD, params.PreferLower)
	writeResult(w, req.ID, getPriceResult{Price: price, Code: code.String()})
}

type assetParams struct {
	Asset string `json:"asset"`
}

func (s *Server) handleFeedsOf(w http.ResponseWriter, req *RPCRequest) {
	var params assetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string][]string{"feeds": s.router.FeedsOf(asset)})
}

type collateralParams struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Shares  string `json:"shares"`
}

func (s *Server) handlePostCollateral(w http.ResponseWriter, req *RPCRequest) {
	s.handleCollateralMutation(w, req, s.mgr.PostCollateral)
}

func (s *Server) handleRemoveCollateral(w http.ResponseWriter, req *RPCRequest) {
	s.handleCollateralMutation(w, req, s.mgr.RemoveCollateral)
}

func (s *Server) handleCollateralMutation(w http.ResponseWriter, req *RPCRequest, apply func(common.Address, common.Address, *big.Int) error) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	shares, err := parseAmount("shares", params.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := apply(account, asset, shares); err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type liquidateParams struct {
	Liquidator      string `json:"liquidator"`
	Account         string `json:"account"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	RepayAmount     string `json:"repayAmount,omitempty"`
	Exact           bool   `json:"exact,omitempty"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, req *RPCRequest) {
	var params liquidateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	liquidator, err := parseAddress("liquidator", params.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, debtAsset, collateralAsset, err := parseLiquidationPair(liquidationPairParams{
		Account:         params.Account,
		DebtAsset:       params.DebtAsset,
		CollateralAsset: params.CollateralAsset,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var repay *big.Int
	if strings.TrimSpace(params.RepayAmount) != "" {
		if repay, err = parseAmount("repayAmount", params.RepayAmount); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	terms, err := s.mgr.Liquidate(liquidator, account, debtAsset, collateralAsset, repay, params.Exact)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, seizeTermsResult{
		DebtToRepay:    terms.DebtToRepay,
		SharesToSeize:  terms.SharesToSeize,
		ProtocolShares: terms.ProtocolShares,
		LFactor:        terms.LFactor,
	})
}

type liquidateAccountParams struct {
	Liquidator string `json:"liquidator"`
	Account    string `json:"account"`
}

func (s *Server) handleLiquidateAccount(w http.ResponseWriter, req *RPCRequest) {
	var params liquidateAccountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	liquidator, err := parseAddress("liquidator", params.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	terms, err := s.mgr.LiquidateAccount(liquidator, account)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, badDebtResult{
		Collateral: terms.Collateral,
		Debt:       terms.Debt,
		DebtToPay:  terms.DebtToPay,
		RepayRatio: terms.RepayRatio,
	})
}

type feedParams struct {
	Asset   string `json:"asset"`
	Adaptor string `json:"adaptor"`
	// Replacement names the adaptor taking over in oracle_replaceFeed.
	Replacement string `json:"replacement,omitempty"`
}

func (s *Server) handleAddFeed(w http.ResponseWriter, req *RPCRequest) {
	s.handleFeedMutation(w, req, func(asset common.Address, params feedParams) error {
		return s.router.AddFeed(asset, params.Adaptor)
	})
}

func (s *Server) handleRemoveFeed(w http.ResponseWriter, req *RPCRequest) {
	s.handleFeedMutation(w, req, func(asset common.Address, params feedParams) error {
		return s.router.RemoveFeed(asset, params.Adaptor)
	})
}

func (s *Server) handleReplaceFeed(w http.ResponseWriter, req *RPCRequest) {
	s.handleFeedMutation(w, req, func(asset common.Address, params feedParams) error {
		return s.router.ReplaceFeed(asset, params.Adaptor, params.Replacement)
	})
}

func (s *Server) handleFeedMutation(w http.ResponseWriter, req *RPCRequest, apply func(common.Address, feedParams) error) {
	var params feedParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := apply(asset, params); err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string][]string{"feeds": s.router.FeedsOf(asset)})
}

type thresholdParams struct {
	CautionBps   uint64 `json:"cautionBps"`
	BadSourceBps uint64 `json:"badSourceBps"`
}

func (s *Server) handleSetThresholds(w http.ResponseWriter, req *RPCRequest) {
	var params thresholdParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.router.SetDivergenceThresholds(params.CautionBps, params.BadSourceBps); err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type pauseParams struct {
	Paused bool `json:"paused"`
}

func (s *Server) handleSetPaused(w http.ResponseWriter, req *RPCRequest) {
	var params pauseParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.mgr.Pauses().SetPaused(market.PauseModule, params.Paused)
	writeResult(w, req.ID, map[string]interface{}{"ok": true, "paused": s.mgr.Pauses().Paused()})
}

type updateConfigParams struct {
	Asset               string `json:"asset"`
	CollRatioBps        uint64 `json:"collRatioBps"`
	CollReqSoftBps      uint64 `json:"collReqSoftBps"`
	CollReqHardBps      uint64 `json:"collReqHardBps"`
	LiqBaseIncentiveBps uint64 `json:"liqBaseIncentiveBps"`
	LiqCurveBps         uint64 `json:"liqCurveBps"`
	LiqFeeBps           uint64 `json:"liqFeeBps"`
	BaseCFactorBps      uint64 `json:"baseCFactorBps"`
	CFactorCurveBps     uint64 `json:"cFactorCurveBps"`
}

func (s *Server) handleUpdateAssetConfig(w http.ResponseWriter, req *RPCRequest) {
	var params updateConfigParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	cfg := market.AssetConfig{
		CollRatio:        bpsToWadRPC(params.CollRatioBps),
		CollReqSoft:      bpsToWadRPC(params.CollReqSoftBps),
		CollReqHard:      bpsToWadRPC(params.CollReqHardBps),
		LiqBaseIncentive: bpsToWadRPC(params.LiqBaseIncentiveBps),
		LiqCurve:         bpsToWadRPC(params.LiqCurveBps),
		LiqFee:           bpsToWadRPC(params.LiqFeeBps),
		BaseCFactor:      bpsToWadRPC(params.BaseCFactorBps),
		CFactorCurve:     bpsToWadRPC(params.CFactorCurveBps),
	}
	if err := s.mgr.UpdateAssetConfig(asset, cfg); err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func bpsToWadRPC(bps uint64) *big.Int {
	v := new(big.Int).Mul(new(big.Int).SetUint64(bps), market.WAD())
	return v.Div(v, big.NewInt(10_000))
}

type syncAccountParams struct {
	Account      string `json:"account"`
	Asset        string `json:"asset"`
	Balance      string `json:"balance,omitempty"`
	Debt         string `json:"debt,omitempty"`
	ExchangeRate string `json:"exchangeRate,omitempty"`
}

// handleSyncAccount feeds external token state into a ledger-backed asset:
// the indexer pushes share balances, debt balances, and exchange rates here
// so the engine's cached reads stay current.
func (s *Server) handleSyncAccount(w http.ResponseWriter, req *RPCRequest) {
	var params syncAccountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tok, ok := s.mgr.Token(asset)
	if !ok {
		s.writeEngineError(w, req.ID, market.ErrTokenNotRegistered)
		return
	}
	ledger, ok := tok.(*market.LedgerToken)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset is not ledger backed", nil)
		return
	}
	if strings.TrimSpace(params.Balance) != "" {
		balance, err := parseAmount("balance", params.Balance)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		if err := ledger.SetBalance(account, balance); err != nil {
			s.writeEngineError(w, req.ID, err)
			return
		}
	}
	if strings.TrimSpace(params.Debt) != "" {
		debt, err := parseAmount("debt", params.Debt)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		if err := ledger.SetDebt(account, debt); err != nil {
			s.writeEngineError(w, req.ID, err)
			return
		}
	}
	if strings.TrimSpace(params.ExchangeRate) != "" {
		rate, err := parseAmount("exchangeRate", params.ExchangeRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		if err := ledger.SetExchangeRate(rate); err != nil {
			s.writeEngineError(w, req.ID, err)
			return
		}
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
