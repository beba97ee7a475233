package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"riskcore/native/market"
)

const bpsDenominator = 10_000

// Params is the TOML protocol parameter file: divergence thresholds for the
// price router and the per-asset risk configuration. Ratios are expressed in
// basis points and converted to WAD when applied.
type Params struct {
	Oracle OracleParams  `toml:"oracle"`
	Assets []AssetParams `toml:"assets"`
}

// OracleParams tunes the dual-feed divergence bands. Values are basis points
// over 10000, e.g. 10500 flags prices more than 5% apart.
type OracleParams struct {
	CautionDivergenceBps   uint64 `toml:"CautionDivergenceBps"`
	BadSourceDivergenceBps uint64 `toml:"BadSourceDivergenceBps"`
}

// AssetParams is the listing configuration for one token, ratios in basis
// points: CollRatioBps 8000 means a dollar of collateral supports eighty
// cents of debt. IsCollateralToken and Decimals describe the token itself;
// the daemon lists a ledger-backed adapter from them at startup.
type AssetParams struct {
	Address             string `toml:"Address"`
	IsCollateralToken   bool   `toml:"IsCollateralToken"`
	Decimals            uint8  `toml:"Decimals"`
	CollRatioBps        uint64 `toml:"CollRatioBps"`
	CollReqSoftBps      uint64 `toml:"CollReqSoftBps"`
	CollReqHardBps      uint64 `toml:"CollReqHardBps"`
	LiqBaseIncentiveBps uint64 `toml:"LiqBaseIncentiveBps"`
	LiqCurveBps         uint64 `toml:"LiqCurveBps"`
	LiqFeeBps           uint64 `toml:"LiqFeeBps"`
	BaseCFactorBps      uint64 `toml:"BaseCFactorBps"`
	CFactorCurveBps     uint64 `toml:"CFactorCurveBps"`
}

// LoadParams reads and normalises the protocol parameter file.
func LoadParams(path string) (*Params, error) {
	params := &Params{}
	meta, err := toml.DecodeFile(path, params)
	if err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("params file %s has unknown key %s", path, undecoded[0].String())
	}
	params.Normalise()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

// Normalise fills defaults and canonicalizes addresses.
func (p *Params) Normalise() {
	if p == nil {
		return
	}
	if p.Oracle.CautionDivergenceBps == 0 {
		p.Oracle.CautionDivergenceBps = 10_500
	}
	if p.Oracle.BadSourceDivergenceBps == 0 {
		p.Oracle.BadSourceDivergenceBps = 11_000
	}
	for i := range p.Assets {
		p.Assets[i].Address = strings.TrimSpace(p.Assets[i].Address)
		if p.Assets[i].Decimals == 0 {
			p.Assets[i].Decimals = 18
		}
	}
}

// Validate rejects malformed entries before any of them reach the engines.
// The engines revalidate ratios on listing; this pass only catches what the
// file format itself can get wrong.
func (p *Params) Validate() error {
	if p == nil {
		return fmt.Errorf("params missing")
	}
	seen := make(map[common.Address]struct{}, len(p.Assets))
	for i, asset := range p.Assets {
		if !common.IsHexAddress(asset.Address) {
			return fmt.Errorf("assets[%d]: invalid address %q", i, asset.Address)
		}
		addr := common.HexToAddress(asset.Address)
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("assets[%d]: duplicate address %s", i, addr.Hex())
		}
		seen[addr] = struct{}{}
	}
	return nil
}

// AssetConfig converts the basis-point entry into the engine's WAD-scaled
// configuration.
func (a AssetParams) AssetConfig() market.AssetConfig {
	return market.AssetConfig{
		CollRatio:        bpsWad(a.CollRatioBps),
		CollReqSoft:      bpsWad(a.CollReqSoftBps),
		CollReqHard:      bpsWad(a.CollReqHardBps),
		LiqBaseIncentive: bpsWad(a.LiqBaseIncentiveBps),
		LiqCurve:         bpsWad(a.LiqCurveBps),
		LiqFee:           bpsWad(a.LiqFeeBps),
		BaseCFactor:      bpsWad(a.BaseCFactorBps),
		CFactorCurve:     bpsWad(a.CFactorCurveBps),
	}
}

// Token returns the parsed asset address.
func (a AssetParams) Token() common.Address {
	return common.HexToAddress(a.Address)
}

// LedgerToken builds the in-process token adapter listed for this entry.
func (a AssetParams) LedgerToken() *market.LedgerToken {
	return market.NewLedgerToken(a.Token(), a.IsCollateralToken, a.Decimals)
}

func bpsWad(bps uint64) *big.Int {
	v := new(big.Int).Mul(new(big.Int).SetUint64(bps), market.WAD())
	return v.Div(v, big.NewInt(bpsDenominator))
}
