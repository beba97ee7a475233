package oracle

import (
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestHTTPAdaptorFetchAndCacheFallback(t *testing.T) {
	var fail atomic.Bool
	var gotSymbol, gotKey atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSymbol.Store(r.URL.Query().Get("symbol"))
		gotKey.Store(r.Header.Get("x-api-key"))
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"price":"1999.50"}`))
	}))
	defer srv.Close()

	asset := common.HexToAddress("0x0000000000000000000000000000000000000201")
	adaptor := NewHTTPAdaptor(srv.Client(), srv.URL, "secret", true, time.Hour, map[common.Address]string{
		asset: "eth",
	})

	data := adaptor.Price(asset)
	if data.HadError {
		t.Fatal("fresh fetch reported error")
	}
	want := new(big.Int).Mul(big.NewInt(19995), new(big.Int).Div(WAD(), big.NewInt(10)))
	if data.Price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", data.Price, want)
	}
	if gotSymbol.Load() != "ETH" {
		t.Fatalf("symbol = %v, want ETH", gotSymbol.Load())
	}
	if gotKey.Load() != "secret" {
		t.Fatalf("api key header = %v", gotKey.Load())
	}

	// upstream failure inside the staleness window serves the cached quote
	fail.Store(true)
	data = adaptor.Price(asset)
	if data.HadError {
		t.Fatal("cache fallback reported error")
	}
	if data.Price.Cmp(want) != 0 {
		t.Fatalf("cached price = %s, want %s", data.Price, want)
	}
}

func TestHTTPAdaptorRejectsBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price":"-3"}`))
	}))
	defer srv.Close()

	asset := common.HexToAddress("0x0000000000000000000000000000000000000202")
	adaptor := NewHTTPAdaptor(srv.Client(), srv.URL, "", true, time.Hour, map[common.Address]string{
		asset: "btc",
	})
	if data := adaptor.Price(asset); !data.HadError {
		t.Fatalf("negative price accepted: %s", data.Price)
	}
}

func TestHTTPAdaptorUnknownAsset(t *testing.T) {
	adaptor := NewHTTPAdaptor(nil, "http://unreachable.invalid", "", true, time.Hour, nil)
	unknown := common.HexToAddress("0x0000000000000000000000000000000000000203")
	if adaptor.Supports(unknown) {
		t.Fatal("unknown asset reported as supported")
	}
	if data := adaptor.Price(unknown); !data.HadError {
		t.Fatal("unknown asset priced without error")
	}
}

func TestPushAdaptorDenomination(t *testing.T) {
	asset := common.HexToAddress("0x0000000000000000000000000000000000000204")
	ethAdaptor := NewPushAdaptor(false, time.Hour)
	ethAdaptor.Push(asset, WAD(), time.Now())
	if data := ethAdaptor.Price(asset); data.InUSD {
		t.Fatal("ETH adaptor reported USD denomination")
	}
	usdAdaptor := NewPushAdaptor(true, time.Hour)
	usdAdaptor.Push(asset, WAD(), time.Now())
	if data := usdAdaptor.Price(asset); !data.InUSD {
		t.Fatal("USD adaptor reported ETH denomination")
	}
}
