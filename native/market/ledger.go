package market

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerToken is a Token backed by an in-process ledger instead of a live
// token contract. The daemon lists parameter-file assets with one and keeps
// its balances current through the account sync surface, so the risk engine
// can price and gate positions without a chain connection.
type LedgerToken struct {
	addr     common.Address
	cToken   bool
	decimals uint8

	mu       sync.RWMutex
	exchRate *big.Int
	debts    map[common.Address]*big.Int
	balances map[common.Address]*big.Int
}

// NewLedgerToken builds an empty ledger with a one-to-one exchange rate.
func NewLedgerToken(addr common.Address, cToken bool, decimals uint8) *LedgerToken {
	return &LedgerToken{
		addr:     addr,
		cToken:   cToken,
		decimals: decimals,
		exchRate: WAD(),
		debts:    make(map[common.Address]*big.Int),
		balances: make(map[common.Address]*big.Int),
	}
}

func (t *LedgerToken) Address() common.Address { return t.addr }
func (t *LedgerToken) IsCToken() bool          { return t.cToken }
func (t *LedgerToken) Decimals() uint8         { return t.decimals }

func (t *LedgerToken) ExchangeRateCached() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.exchRate)
}

func (t *LedgerToken) DebtBalanceCached(account common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if d, ok := t.debts[account]; ok {
		return new(big.Int).Set(d)
	}
	return big.NewInt(0)
}

func (t *LedgerToken) BalanceOf(account common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if b, ok := t.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

// SetExchangeRate replaces the share-to-underlying rate. Non-positive rates
// are rejected so a bad sync can never zero out collateral valuations.
func (t *LedgerToken) SetExchangeRate(rate *big.Int) error {
	if rate == nil || rate.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exchRate = new(big.Int).Set(rate)
	return nil
}

// SetBalance records an account's share balance.
func (t *LedgerToken) SetBalance(account common.Address, balance *big.Int) error {
	if balance == nil || balance.Sign() < 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] = new(big.Int).Set(balance)
	return nil
}

// SetDebt records an account's outstanding debt in underlying units.
func (t *LedgerToken) SetDebt(account common.Address, debt *big.Int) error {
	if debt == nil || debt.Sign() < 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.debts[account] = new(big.Int).Set(debt)
	return nil
}
