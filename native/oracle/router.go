package oracle

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"riskcore/observability"
)

// ErrorCode grades the trustworthiness of a returned price. Severity is
// strictly ordered: callers compare against a breakpoint to decide whether a
// degraded price still permits their action.
type ErrorCode uint8

const (
	// NoError marks a fully trustworthy price.
	NoError ErrorCode = iota
	// Caution marks a usable price from degraded sources: one of two feeds
	// failed, or the two feeds diverge beyond the caution threshold.
	// Risk-increasing actions should be blocked; risk-reducing ones may
	// proceed.
	Caution
	// BadSource marks an unusable price: every source failed, divergence
	// exceeded the bad-source threshold, or the price resolved to zero.
	BadSource
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case Caution:
		return "CAUTION"
	case BadSource:
		return "BAD_SOURCE"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint8(c))
	}
}

var wad = big.NewInt(1_000_000_000_000_000_000)

// WAD returns the fixed-point scalar (1e18 == 1.0) used for all prices and
// exchange rates.
func WAD() *big.Int { return new(big.Int).Set(wad) }

const (
	divergenceDenominator = 10_000
	// Divergence thresholds are basis points above the denominator; the
	// configurable band is [2%, 20%).
	minDivergenceBps = 10_200
	maxDivergenceBps = 12_000

	defaultCautionDivergenceBps   = 10_500
	defaultBadSourceDivergenceBps = 11_000

	maxFeedsPerAsset = 2
)

var (
	errNilRouter           = errors.New("price router: not configured")
	ErrAssetNotSupported   = errors.New("price router: asset has no registered feeds")
	ErrAdaptorNotApproved  = errors.New("price router: adaptor is not on the approved list")
	ErrAdaptorUnknown      = errors.New("price router: adaptor not registered")
	ErrFeedLimit           = errors.New("price router: asset already has the maximum number of feeds")
	ErrFeedDuplicate       = errors.New("price router: feed already registered for asset")
	ErrFeedMissing         = errors.New("price router: feed not registered for asset")
	ErrFeedSampleInvalid   = errors.New("price router: feed returned an invalid sample price")
	ErrThresholdBounds     = errors.New("price router: divergence threshold outside allowed bounds")
	ErrThresholdOrdering   = errors.New("price router: caution threshold must stay below bad-source threshold")
	ErrVoucherUnknown      = errors.New("price router: voucher asset not registered")
	ErrVoucherSource       = errors.New("price router: voucher exchange-rate source required")
	ErrDegradedPrice       = errors.New("price router: price quality at or above caller breakpoint")
	ErrAnchorNotConfigured = errors.New("price router: usd anchor asset not configured")
)

// ExchangeRateSource reports the live share-to-underlying conversion for a
// voucher (interest-bearing wrapper) asset, WAD scaled.
type ExchangeRateSource interface {
	ExchangeRate() *big.Int
}

type voucherEntry struct {
	underlying common.Address
	source     ExchangeRateSource
}

// PriceRequest is one entry of a batched price query.
type PriceRequest struct {
	Asset       common.Address
	InUSD       bool
	PreferLower bool
}

// DegradedPriceError carries the asset and severity that tripped a batch
// breakpoint so operators can tell oracle degradation apart from genuine
// solvency failures.
type DegradedPriceError struct {
	Asset common.Address
	Code  ErrorCode
}

func (e *DegradedPriceError) Error() string {
	return fmt.Sprintf("price router: %s for asset %s meets caller breakpoint", e.Code, e.Asset.Hex())
}

func (e *DegradedPriceError) Unwrap() error { return ErrDegradedPrice }

// Router aggregates up to two independent feed adaptors per asset and grades
// every answer with an ErrorCode. It is read-mostly: admin mutations take the
// write lock, price queries only the read lock.
type Router struct {
	mu sync.RWMutex

	log *slog.Logger

	adaptors map[string]FeedAdaptor
	feeds    map[common.Address][]string
	vouchers map[common.Address]voucherEntry

	cautionDivergenceBps   uint64
	badSourceDivergenceBps uint64

	// anchor is the asset whose USD feeds define the ETH/USD conversion
	// rate. Pricing the anchor never triggers another conversion.
	anchor    common.Address
	hasAnchor bool

	sequencer SequencerView
	now       func() time.Time
}

func NewRouter(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		log:                    log.With("component", "price-router"),
		adaptors:               make(map[string]FeedAdaptor),
		feeds:                  make(map[common.Address][]string),
		vouchers:               make(map[common.Address]voucherEntry),
		cautionDivergenceBps:   defaultCautionDivergenceBps,
		badSourceDivergenceBps: defaultBadSourceDivergenceBps,
		now:                    time.Now,
	}
}

// SetClock overrides the time source used for sequencer grace checks.
func (r *Router) SetClock(now func() time.Time) {
	if r == nil || now == nil {
		return
	}
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// ApproveAdaptor registers an adaptor on the allowlist under the supplied
// identifier. Feed registration may only reference approved identifiers.
func (r *Router) ApproveAdaptor(name string, adaptor FeedAdaptor) error {
	if r == nil {
		return errNilRouter
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" || adaptor == nil {
		return ErrAdaptorUnknown
	}
	r.mu.Lock()
	r.adaptors[trimmed] = adaptor
	r.mu.Unlock()
	r.audit("adaptor_approved", "adaptor", trimmed)
	return nil
}

// SetAnchor designates the asset whose USD feeds provide the ETH/USD
// conversion rate for denomination mismatches.
func (r *Router) SetAnchor(asset common.Address) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.anchor = asset
	r.hasAnchor = true
	r.mu.Unlock()
	r.audit("anchor_set", "asset", asset.Hex())
}

// SetSequencerView wires the optional rollup liveness oracle.
func (r *Router) SetSequencerView(view SequencerView) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.sequencer = view
	r.mu.Unlock()
}

// AddFeed registers an approved adaptor as a price source for the asset. The
// adaptor must serve a nonzero, error-free sample price at registration time.
func (r *Router) AddFeed(asset common.Address, adaptorName string) error {
	if r == nil {
		return errNilRouter
	}
	name := strings.ToLower(strings.TrimSpace(adaptorName))
	r.mu.Lock()
	defer r.mu.Unlock()
	adaptor, ok := r.adaptors[name]
	if !ok {
		return ErrAdaptorNotApproved
	}
	registered := r.feeds[asset]
	if len(registered) >= maxFeedsPerAsset {
		return ErrFeedLimit
	}
	for _, existing := range registered {
		if existing == name {
			return ErrFeedDuplicate
		}
	}
	sample := adaptor.Price(asset)
	if sample.HadError || sample.Price == nil || sample.Price.Sign() <= 0 {
		return ErrFeedSampleInvalid
	}
	r.feeds[asset] = append(registered, name)
	r.auditLocked("feed_added", "asset", asset.Hex(), "adaptor", name)
	return nil
}

// RemoveFeed deregisters the adaptor as a source for the asset.
func (r *Router) RemoveFeed(asset common.Address, adaptorName string) error {
	if r == nil {
		return errNilRouter
	}
	name := strings.ToLower(strings.TrimSpace(adaptorName))
	r.mu.Lock()
	defer r.mu.Unlock()
	registered := r.feeds[asset]
	for i, existing := range registered {
		if existing != name {
			continue
		}
		remaining := append(append([]string{}, registered[:i]...), registered[i+1:]...)
		if len(remaining) == 0 {
			delete(r.feeds, asset)
		} else {
			r.feeds[asset] = remaining
		}
		r.auditLocked("feed_removed", "asset", asset.Hex(), "adaptor", name)
		return nil
	}
	return ErrFeedMissing
}

// ReplaceFeed atomically swaps one registered feed for another, preserving
// the remaining feed. The replacement passes the same live-sample check as
// AddFeed.
func (r *Router) ReplaceFeed(asset common.Address, oldName, newName string) error {
	if r == nil {
		return errNilRouter
	}
	oldTrimmed := strings.ToLower(strings.TrimSpace(oldName))
	newTrimmed := strings.ToLower(strings.TrimSpace(newName))
	r.mu.Lock()
	defer r.mu.Unlock()
	adaptor, ok := r.adaptors[newTrimmed]
	if !ok {
		return ErrAdaptorNotApproved
	}
	registered := r.feeds[asset]
	for _, existing := range registered {
		if existing == newTrimmed {
			return ErrFeedDuplicate
		}
	}
	for i, existing := range registered {
		if existing != oldTrimmed {
			continue
		}
		sample := adaptor.Price(asset)
		if sample.HadError || sample.Price == nil || sample.Price.Sign() <= 0 {
			return ErrFeedSampleInvalid
		}
		registered[i] = newTrimmed
		r.auditLocked("feed_replaced", "asset", asset.Hex(), "old", oldTrimmed, "new", newTrimmed)
		return nil
	}
	return ErrFeedMissing
}

// AddVoucher registers a wrapped/voucher asset priced as its underlying
// scaled by the live exchange rate.
func (r *Router) AddVoucher(asset, underlying common.Address, source ExchangeRateSource) error {
	if r == nil {
		return errNilRouter
	}
	if source == nil {
		return ErrVoucherSource
	}
	r.mu.Lock()
	r.vouchers[asset] = voucherEntry{underlying: underlying, source: source}
	r.mu.Unlock()
	r.audit("voucher_added", "asset", asset.Hex(), "underlying", underlying.Hex())
	return nil
}

// RemoveVoucher drops voucher support for the asset.
func (r *Router) RemoveVoucher(asset common.Address) error {
	if r == nil {
		return errNilRouter
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vouchers[asset]; !ok {
		return ErrVoucherUnknown
	}
	delete(r.vouchers, asset)
	r.auditLocked("voucher_removed", "asset", asset.Hex())
	return nil
}

// SetDivergenceThresholds tunes the dual-feed divergence limits. Both values
// are basis points above 10000; the caution threshold must stay strictly
// below the bad-source threshold and both inside [10200, 12000).
func (r *Router) SetDivergenceThresholds(cautionBps, badSourceBps uint64) error {
	if r == nil {
		return errNilRouter
	}
	if cautionBps < minDivergenceBps || cautionBps >= maxDivergenceBps ||
		badSourceBps < minDivergenceBps || badSourceBps >= maxDivergenceBps {
		return ErrThresholdBounds
	}
	if cautionBps >= badSourceBps {
		return ErrThresholdOrdering
	}
	r.mu.Lock()
	r.cautionDivergenceBps = cautionBps
	r.badSourceDivergenceBps = badSourceBps
	r.mu.Unlock()
	r.audit("thresholds_set", "caution_bps", cautionBps, "bad_source_bps", badSourceBps)
	return nil
}

// GetPrice returns the best-effort price for the asset in the requested
// denomination together with the severity of any feed degradation.
// preferLower selects the lower of two healthy feeds (conservative for
// collateral valuation); preferLower=false selects the higher (conservative
// for debt valuation).
func (r *Router) GetPrice(asset common.Address, inUSD, preferLower bool) (*big.Int, ErrorCode) {
	if r == nil {
		return big.NewInt(0), BadSource
	}
	price, code := r.getPrice(asset, inUSD, preferLower, true)
	observability.Risk().ObservePriceQuery(code.String())
	return price, code
}

func (r *Router) getPrice(asset common.Address, inUSD, preferLower, allowConvert bool) (*big.Int, ErrorCode) {
	r.mu.RLock()
	voucher, isVoucher := r.vouchers[asset]
	r.mu.RUnlock()
	if isVoucher {
		// Price the underlying first; the exchange-rate scaling happens
		// strictly after severity resolution so a stale rate can never mask
		// a bad underlying price.
		price, code := r.getPrice(voucher.underlying, inUSD, preferLower, allowConvert)
		if price.Sign() == 0 {
			return big.NewInt(0), BadSource
		}
		rate := voucher.source.ExchangeRate()
		if rate == nil || rate.Sign() <= 0 {
			return big.NewInt(0), BadSource
		}
		scaled := new(big.Int).Mul(price, rate)
		scaled.Quo(scaled, wad)
		if scaled.Sign() == 0 {
			return big.NewInt(0), BadSource
		}
		return scaled, code
	}

	if r.sequencerDown() {
		return big.NewInt(0), BadSource
	}

	r.mu.RLock()
	names := append([]string{}, r.feeds[asset]...)
	r.mu.RUnlock()

	switch len(names) {
	case 0:
		return big.NewInt(0), BadSource
	case 1:
		answer := r.feedPrice(asset, names[0], inUSD, preferLower, allowConvert)
		if answer.hadError {
			return big.NewInt(0), BadSource
		}
		if answer.price.Sign() == 0 {
			return big.NewInt(0), BadSource
		}
		return answer.price, answer.code
	default:
		first := r.feedPrice(asset, names[0], inUSD, preferLower, allowConvert)
		second := r.feedPrice(asset, names[1], inUSD, preferLower, allowConvert)
		return r.resolveDual(first, second, preferLower)
	}
}

type feedAnswer struct {
	price    *big.Int
	code     ErrorCode
	hadError bool
}

// feedPrice queries a single adaptor and normalizes the answer to the
// requested denomination through the USD anchor when necessary.
func (r *Router) feedPrice(asset common.Address, name string, inUSD, preferLower, allowConvert bool) feedAnswer {
	r.mu.RLock()
	adaptor := r.adaptors[name]
	anchor := r.anchor
	hasAnchor := r.hasAnchor
	r.mu.RUnlock()
	if adaptor == nil {
		return feedAnswer{price: big.NewInt(0), hadError: true}
	}
	data := adaptor.Price(asset)
	if data.HadError || data.Price == nil || data.Price.Sign() <= 0 {
		return feedAnswer{price: big.NewInt(0), hadError: true}
	}
	if data.InUSD == inUSD {
		return feedAnswer{price: new(big.Int).Set(data.Price)}
	}
	// The anchor pair is definitionally the inUSD reference; it never
	// converts recursively.
	if !allowConvert || !hasAnchor {
		return feedAnswer{price: big.NewInt(0), hadError: true}
	}
	anchorUSD, anchorCode := r.getPrice(anchor, true, preferLower, false)
	if anchorCode == BadSource || anchorUSD.Sign() == 0 {
		return feedAnswer{price: big.NewInt(0), hadError: true}
	}
	converted := new(big.Int)
	if inUSD {
		// ETH-denominated answer, USD requested.
		converted.Mul(data.Price, anchorUSD)
		converted.Quo(converted, wad)
	} else {
		// USD-denominated answer, ETH requested.
		converted.Mul(data.Price, wad)
		converted.Quo(converted, anchorUSD)
	}
	return feedAnswer{price: converted, code: anchorCode}
}

func (r *Router) resolveDual(first, second feedAnswer, preferLower bool) (*big.Int, ErrorCode) {
	if first.hadError && second.hadError {
		return big.NewInt(0), BadSource
	}
	if first.hadError || second.hadError {
		working := first
		if first.hadError {
			working = second
		}
		if working.price.Sign() == 0 {
			return big.NewInt(0), BadSource
		}
		// A single good source is not rejected, but flagged.
		return working.price, maxCode(Caution, working.code)
	}

	lo, hi := first.price, second.price
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}
	selected := lo
	if !preferLower {
		selected = hi
	}
	if selected.Sign() == 0 {
		return big.NewInt(0), BadSource
	}

	r.mu.RLock()
	cautionBps := r.cautionDivergenceBps
	badBps := r.badSourceDivergenceBps
	r.mu.RUnlock()

	code := maxCode(first.code, second.code)
	switch {
	case diverges(lo, hi, badBps):
		// Later-policy behavior: the selected price is returned non-zeroed
		// alongside the hard severity.
		code = BadSource
	case diverges(lo, hi, cautionBps):
		code = maxCode(code, Caution)
	}
	return new(big.Int).Set(selected), code
}

// Prices resolves a batch of price requests, failing closed: when any
// asset's severity meets or exceeds the breakpoint the whole batch errors.
func (r *Router) Prices(reqs []PriceRequest, breakpoint ErrorCode) ([]*big.Int, error) {
	if r == nil {
		return nil, errNilRouter
	}
	out := make([]*big.Int, len(reqs))
	for i, req := range reqs {
		price, code := r.GetPrice(req.Asset, req.InUSD, req.PreferLower)
		if code >= breakpoint {
			return nil, &DegradedPriceError{Asset: req.Asset, Code: code}
		}
		out[i] = price
	}
	return out, nil
}

// FeedsOf lists the registered adaptor names for the asset.
func (r *Router) FeedsOf(asset common.Address) []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.feeds[asset]...)
}

func (r *Router) sequencerDown() bool {
	r.mu.RLock()
	view := r.sequencer
	now := r.now
	r.mu.RUnlock()
	if view == nil {
		return false
	}
	up, changedAt := view.Status()
	if !up {
		return true
	}
	return !changedAt.IsZero() && now().Sub(changedAt) < sequencerGracePeriod
}

// diverges reports whether hi exceeds lo by more than the threshold,
// expressed as basis points over 10000 (10500 == 5% allowed gap).
func diverges(lo, hi *big.Int, thresholdBps uint64) bool {
	bound := new(big.Int).Mul(lo, new(big.Int).SetUint64(thresholdBps))
	bound.Quo(bound, big.NewInt(divergenceDenominator))
	return bound.Cmp(hi) < 0
}

func maxCode(a, b ErrorCode) ErrorCode {
	if a > b {
		return a
	}
	return b
}

func (r *Router) audit(event string, args ...any) {
	r.mu.RLock()
	log := r.log
	r.mu.RUnlock()
	logAudit(log, event, args...)
}

// auditLocked assumes the caller holds r.mu.
func (r *Router) auditLocked(event string, args ...any) {
	logAudit(r.log, event, args...)
}

func logAudit(log *slog.Logger, event string, args ...any) {
	if log == nil {
		return
	}
	fields := append([]any{"event", event, "audit_id", uuid.NewString()}, args...)
	log.Info("oracle admin change", fields...)
	observability.Risk().RecordAdminChange("oracle")
}
