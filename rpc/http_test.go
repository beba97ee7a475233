package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"riskcore/native/market"
	"riskcore/native/oracle"
)

var (
	testCollateral = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testDebt       = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	testAccount    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

var wadInt = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func dollars(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wadInt)
}

type rpcToken struct {
	addr   common.Address
	cToken bool
	debt   *big.Int
	bal    *big.Int
}

func (t *rpcToken) Address() common.Address      { return t.addr }
func (t *rpcToken) IsCToken() bool               { return t.cToken }
func (t *rpcToken) Decimals() uint8              { return 18 }
func (t *rpcToken) ExchangeRateCached() *big.Int { return new(big.Int).Set(wadInt) }

func (t *rpcToken) DebtBalanceCached(common.Address) *big.Int {
	if t.debt == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(t.debt)
}

func (t *rpcToken) BalanceOf(common.Address) *big.Int {
	if t.bal == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(t.bal)
}

func ratio(thousandths int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(thousandths), wadInt)
	return v.Div(v, big.NewInt(1000))
}

// newTestServer stands up a server over a live router and manager with one
// collateral token ($1, posted 100) and one debt token ($1, owed 70).
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	router := oracle.NewRouter(nil)
	feed := oracle.NewPushAdaptor(true, time.Hour)
	feed.Push(testCollateral, dollars(1), time.Now())
	feed.Push(testDebt, dollars(1), time.Now())
	if err := router.ApproveAdaptor("push", feed); err != nil {
		t.Fatalf("approve adaptor: %v", err)
	}
	for _, asset := range []common.Address{testCollateral, testDebt} {
		if err := router.AddFeed(asset, "push"); err != nil {
			t.Fatalf("add feed %s: %v", asset.Hex(), err)
		}
	}

	mgr := market.NewMarketManager(market.NewMemStore(), router, nil)
	mgr.SetHoldPeriod(0)
	cTok := &rpcToken{addr: testCollateral, cToken: true, bal: dollars(1000)}
	dTok := &rpcToken{addr: testDebt}
	if err := mgr.ListAsset(cTok, market.AssetConfig{
		CollRatio:        ratio(800),
		CollReqSoft:      ratio(1200),
		CollReqHard:      ratio(1100),
		LiqBaseIncentive: ratio(1050),
		LiqCurve:         ratio(100),
		LiqFee:           ratio(100),
	}); err != nil {
		t.Fatalf("list collateral: %v", err)
	}
	if err := mgr.ListAsset(dTok, market.AssetConfig{
		BaseCFactor:  ratio(500),
		CFactorCurve: ratio(500),
	}); err != nil {
		t.Fatalf("list debt: %v", err)
	}
	if err := mgr.PostCollateral(testAccount, testCollateral, dollars(100)); err != nil {
		t.Fatalf("post collateral: %v", err)
	}
	if err := mgr.CanBorrow(testAccount, testDebt, dollars(70)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	dTok.debt = dollars(70)

	srv := httptest.NewServer(NewServer(mgr, router, []string{"secret-token"}, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, token, method string, params interface{}) RPCResponse {
	t.Helper()
	var raw []json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		raw = []json.RawMessage{encoded}
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: 1})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("call %s: %v", method, err)
	}
	defer resp.Body.Close()
	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded
}

func resultInto(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("rpc error: %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("remarshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestStatusOfEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp := call(t, srv, "", "risk_statusOf", map[string]string{"account": testAccount.Hex()})
	var status accountStatusResult
	resultInto(t, resp, &status)
	if status.Collateral.Cmp(dollars(100)) != 0 {
		t.Fatalf("collateral = %s", status.Collateral)
	}
	if status.MaxDebt.Cmp(dollars(80)) != 0 {
		t.Fatalf("max debt = %s", status.MaxDebt)
	}
	if status.Debt.Cmp(dollars(70)) != 0 {
		t.Fatalf("debt = %s", status.Debt)
	}
}

func TestHypotheticalEndpointDeficit(t *testing.T) {
	srv := newTestServer(t)
	resp := call(t, srv, "", "risk_hypotheticalLiquidityOf", map[string]string{
		"account":      testAccount.Hex(),
		"asset":        testDebt.Hex(),
		"borrowAmount": dollars(15).String(),
	})
	var hypo hypotheticalResult
	resultInto(t, resp, &hypo)
	if hypo.LiquidityDeficit.Cmp(dollars(5)) != 0 {
		t.Fatalf("deficit = %s, want %s", hypo.LiquidityDeficit, dollars(5))
	}
}

func TestGetPriceEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp := call(t, srv, "", "oracle_getPrice", map[string]interface{}{
		"asset":       testCollateral.Hex(),
		"inUsd":       true,
		"preferLower": true,
	})
	var price getPriceResult
	resultInto(t, resp, &price)
	if price.Code != "NO_ERROR" {
		t.Fatalf("code = %s", price.Code)
	}
	if price.Price.Cmp(dollars(1)) != 0 {
		t.Fatalf("price = %s", price.Price)
	}
}

func TestPrivilegedMethodRequiresToken(t *testing.T) {
	srv := newTestServer(t)
	params := map[string]string{
		"account": testAccount.Hex(),
		"asset":   testCollateral.Hex(),
		"shares":  dollars(1).String(),
	}
	resp := call(t, srv, "", "risk_postCollateral", params)
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("unauthenticated: %+v", resp.Error)
	}
	resp = call(t, srv, "wrong-token", "risk_postCollateral", params)
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("wrong token: %+v", resp.Error)
	}
	resp = call(t, srv, "secret-token", "risk_postCollateral", params)
	if resp.Error != nil {
		t.Fatalf("authorized: %+v", resp.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	srv := newTestServer(t)
	resp := call(t, srv, "", "risk_unknown", map[string]string{})
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestSetPausedBlocksMutations(t *testing.T) {
	srv := newTestServer(t)
	resp := call(t, srv, "secret-token", "market_setPaused", map[string]bool{"paused": true})
	if resp.Error != nil {
		t.Fatalf("pause: %+v", resp.Error)
	}
	resp = call(t, srv, "secret-token", "risk_postCollateral", map[string]string{
		"account": testAccount.Hex(),
		"asset":   testCollateral.Hex(),
		"shares":  dollars(1).String(),
	})
	if resp.Error == nil || resp.Error.Code != codeModulePaused {
		t.Fatalf("paused mutation: %+v", resp.Error)
	}
}

func TestFeedAdminRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	resp := call(t, srv, "secret-token", "oracle_removeFeed", map[string]string{
		"asset":   testDebt.Hex(),
		"adaptor": "push",
	})
	var feeds map[string][]string
	resultInto(t, resp, &feeds)
	if len(feeds["feeds"]) != 0 {
		t.Fatalf("feeds = %v, want none", feeds["feeds"])
	}
	resp = call(t, srv, "", "oracle_getPrice", map[string]interface{}{
		"asset": testDebt.Hex(),
		"inUsd": true,
	})
	var price getPriceResult
	resultInto(t, resp, &price)
	if price.Code != "BAD_SOURCE" {
		t.Fatalf("code after feed removal = %s", price.Code)
	}
	resp = call(t, srv, "secret-token", "oracle_addFeed", map[string]string{
		"asset":   testDebt.Hex(),
		"adaptor": "push",
	})
	resultInto(t, resp, &feeds)
	if len(feeds["feeds"]) != 1 {
		t.Fatalf("feeds = %v, want push restored", feeds["feeds"])
	}
}

func TestSyncAccountFeedsLedgerToken(t *testing.T) {
	router := oracle.NewRouter(nil)
	feed := oracle.NewPushAdaptor(true, time.Hour)
	feed.Push(testCollateral, dollars(1), time.Now())
	if err := router.ApproveAdaptor("push", feed); err != nil {
		t.Fatalf("approve adaptor: %v", err)
	}
	if err := router.AddFeed(testCollateral, "push"); err != nil {
		t.Fatalf("add feed: %v", err)
	}
	mgr := market.NewMarketManager(market.NewMemStore(), router, nil)
	mgr.SetHoldPeriod(0)
	if err := mgr.ListAsset(market.NewLedgerToken(testCollateral, true, 18), market.AssetConfig{
		CollRatio:        ratio(800),
		CollReqSoft:      ratio(1200),
		CollReqHard:      ratio(1100),
		LiqBaseIncentive: ratio(1050),
		LiqCurve:         ratio(100),
		LiqFee:           ratio(100),
	}); err != nil {
		t.Fatalf("list asset: %v", err)
	}
	srv := httptest.NewServer(NewServer(mgr, router, []string{"secret-token"}, nil).Handler())
	t.Cleanup(srv.Close)

	post := map[string]string{
		"account": testAccount.Hex(),
		"asset":   testCollateral.Hex(),
		"shares":  dollars(50).String(),
	}
	resp := call(t, srv, "secret-token", "risk_postCollateral", post)
	if resp.Error == nil {
		t.Fatal("expected posting to fail before the balance is synced")
	}
	resp = call(t, srv, "secret-token", "market_syncAccount", map[string]string{
		"account": testAccount.Hex(),
		"asset":   testCollateral.Hex(),
		"balance": dollars(50).String(),
	})
	var ok map[string]bool
	resultInto(t, resp, &ok)
	if !ok["ok"] {
		t.Fatalf("sync result = %v", ok)
	}
	if resp := call(t, srv, "secret-token", "risk_postCollateral", post); resp.Error != nil {
		t.Fatalf("post after sync: %+v", resp.Error)
	}
}

func TestSyncAccountRejectsNonLedgerAsset(t *testing.T) {
	srv := newTestServer(t)
	resp := call(t, srv, "secret-token", "market_syncAccount", map[string]string{
		"account": testAccount.Hex(),
		"asset":   testCollateral.Hex(),
		"balance": dollars(1).String(),
	})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMetricsExposed(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
