package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceData is the answer returned by a feed adaptor. Price is scaled to WAD
// (1e18 represents one whole unit of the quote denomination). HadError is
// authoritative: the router never second-guesses an adaptor that reports its
// upstream source as unusable.
type PriceData struct {
	Price    *big.Int
	InUSD    bool
	HadError bool
}

// FeedAdaptor wraps a single upstream price source. Implementations own the
// staleness and sanity checks specific to their source and surface failures
// exclusively through PriceData.HadError.
type FeedAdaptor interface {
	// Price returns the latest quote for the asset in the adaptor's native
	// denomination.
	Price(asset common.Address) PriceData
	// Supports reports whether the adaptor can quote the asset at all.
	Supports(asset common.Address) bool
}

func badPrice() PriceData {
	return PriceData{Price: big.NewInt(0), HadError: true}
}

// PushAdaptor holds quotes pushed by an off-band relayer (e.g. a signed feed
// forwarder). A quote older than maxAge, missing, or non-positive is reported
// as errored.
type PushAdaptor struct {
	mu     sync.RWMutex
	inUSD  bool
	maxAge time.Duration
	quotes map[common.Address]pushQuote
	now    func() time.Time
}

type pushQuote struct {
	price     *big.Int
	updatedAt time.Time
}

func NewPushAdaptor(inUSD bool, maxAge time.Duration) *PushAdaptor {
	return &PushAdaptor{
		inUSD:  inUSD,
		maxAge: maxAge,
		quotes: make(map[common.Address]pushQuote),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Tests use this to exercise staleness
// windows deterministically.
func (a *PushAdaptor) SetClock(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Push records a fresh quote for the asset.
func (a *PushAdaptor) Push(asset common.Address, price *big.Int, at time.Time) {
	if a == nil || price == nil {
		return
	}
	a.mu.Lock()
	a.quotes[asset] = pushQuote{price: new(big.Int).Set(price), updatedAt: at}
	a.mu.Unlock()
}

// Drop removes a quote, forcing subsequent reads to report an error.
func (a *PushAdaptor) Drop(asset common.Address) {
	if a == nil {
		return
	}
	a.mu.Lock()
	delete(a.quotes, asset)
	a.mu.Unlock()
}

func (a *PushAdaptor) Supports(asset common.Address) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.quotes[asset]
	return ok
}

func (a *PushAdaptor) Price(asset common.Address) PriceData {
	if a == nil {
		return badPrice()
	}
	a.mu.RLock()
	quote, ok := a.quotes[asset]
	maxAge := a.maxAge
	now := a.now
	inUSD := a.inUSD
	a.mu.RUnlock()
	if !ok || quote.price == nil || quote.price.Sign() <= 0 {
		return PriceData{Price: big.NewInt(0), InUSD: inUSD, HadError: true}
	}
	if maxAge > 0 && now().Sub(quote.updatedAt) > maxAge {
		return PriceData{Price: big.NewInt(0), InUSD: inUSD, HadError: true}
	}
	return PriceData{Price: new(big.Int).Set(quote.price), InUSD: inUSD}
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPAdaptor fetches quotes from a JSON price endpoint. Responses are cached
// so a transient upstream failure falls back to the last good sample within
// the staleness window instead of immediately degrading the market.
type HTTPAdaptor struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
	inUSD    bool
	maxAge   time.Duration

	mu      sync.RWMutex
	symbols map[common.Address]string
	cache   map[common.Address]pushQuote
	now     func() time.Time
}

// NewHTTPAdaptor constructs an HTTP feed adaptor. When client is nil
// http.DefaultClient is used. symbols maps on-chain asset addresses to the
// ticker symbols understood by the endpoint.
func NewHTTPAdaptor(client HTTPDoer, endpoint, apiKey string, inUSD bool, maxAge time.Duration, symbols map[common.Address]string) *HTTPAdaptor {
	if client == nil {
		client = http.DefaultClient
	}
	mapped := make(map[common.Address]string, len(symbols))
	for addr, sym := range symbols {
		trimmed := strings.ToUpper(strings.TrimSpace(sym))
		if trimmed == "" {
			continue
		}
		mapped[addr] = trimmed
	}
	return &HTTPAdaptor{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		inUSD:    inUSD,
		maxAge:   maxAge,
		symbols:  mapped,
		cache:    make(map[common.Address]pushQuote),
		now:      time.Now,
	}
}

func (a *HTTPAdaptor) Supports(asset common.Address) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.symbols[asset]
	return ok
}

func (a *HTTPAdaptor) Price(asset common.Address) PriceData {
	if a == nil {
		return badPrice()
	}
	a.mu.RLock()
	symbol, ok := a.symbols[asset]
	a.mu.RUnlock()
	if !ok {
		return PriceData{Price: big.NewInt(0), InUSD: a.inUSD, HadError: true}
	}
	price, err := a.fetch(symbol)
	if err == nil {
		a.mu.Lock()
		a.cache[asset] = pushQuote{price: new(big.Int).Set(price), updatedAt: a.now()}
		a.mu.Unlock()
		return PriceData{Price: price, InUSD: a.inUSD}
	}
	a.mu.RLock()
	cached, ok := a.cache[asset]
	now := a.now
	a.mu.RUnlock()
	if ok && cached.price != nil && cached.price.Sign() > 0 {
		if a.maxAge <= 0 || now().Sub(cached.updatedAt) <= a.maxAge {
			return PriceData{Price: new(big.Int).Set(cached.price), InUSD: a.inUSD}
		}
	}
	return PriceData{Price: big.NewInt(0), InUSD: a.inUSD, HadError: true}
}

func (a *HTTPAdaptor) fetch(symbol string) (*big.Int, error) {
	req, err := http.NewRequest(http.MethodGet, a.endpoint, nil)
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	values.Set("symbol", symbol)
	req.URL.RawQuery = values.Encode()
	if a.apiKey != "" {
		req.Header.Set("x-api-key", a.apiKey)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("http feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("http feed: decode: %w", err)
	}
	trimmed := strings.TrimSpace(payload.Price)
	if trimmed == "" {
		return nil, fmt.Errorf("http feed: empty price")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok || rat.Sign() <= 0 {
		return nil, fmt.Errorf("http feed: invalid price %q", payload.Price)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(wad))
	price := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("http feed: price rounds to zero")
	}
	return price, nil
}
