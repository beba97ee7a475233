package market

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Store is the persistence boundary for the risk engine. Implementations
// must return deep copies; the engine mutates returned values freely before
// writing them back.
type Store interface {
	AssetConfig(asset common.Address) (*AssetConfig, error)
	PutAssetConfig(asset common.Address, cfg *AssetConfig) error
	// ListedAssets returns only assets whose config has IsListed set, in
	// listing order. Delisted assets keep their order slot but are skipped.
	ListedAssets() ([]common.Address, error)

	AccountData(account common.Address) (*AccountData, error)
	PutAccountData(account common.Address, data *AccountData) error

	Position(account, asset common.Address) (*Position, error)
	PutPosition(account, asset common.Address, pos *Position) error
	DeletePosition(account, asset common.Address) error
}

type positionKey struct {
	account common.Address
	asset   common.Address
}

// MemStore is the in-memory Store used for tests and deterministic
// simulation of independent markets.
type MemStore struct {
	mu        sync.RWMutex
	configs   map[common.Address]*AssetConfig
	order     []common.Address
	accounts  map[common.Address]*AccountData
	positions map[positionKey]*Position
}

func NewMemStore() *MemStore {
	return &MemStore{
		configs:   make(map[common.Address]*AssetConfig),
		accounts:  make(map[common.Address]*AccountData),
		positions: make(map[positionKey]*Position),
	}
}

func (s *MemStore) AssetConfig(asset common.Address) (*AssetConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configs[asset].Clone(), nil
}

func (s *MemStore) PutAssetConfig(asset common.Address, cfg *AssetConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.configs[asset]; !exists {
		s.order = append(s.order, asset)
	}
	s.configs[asset] = cfg.Clone()
	return nil
}

func (s *MemStore) ListedAssets() ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Address, 0, len(s.order))
	for _, asset := range s.order {
		if cfg := s.configs[asset]; cfg != nil && cfg.IsListed {
			out = append(out, asset)
		}
	}
	return out, nil
}

func (s *MemStore) AccountData(account common.Address) (*AccountData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[account].Clone(), nil
}

func (s *MemStore) PutAccountData(account common.Address, data *AccountData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account] = data.Clone()
	return nil
}

func (s *MemStore) Position(account, asset common.Address) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[positionKey{account, asset}].Clone(), nil
}

func (s *MemStore) PutPosition(account, asset common.Address, pos *Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[positionKey{account, asset}] = pos.Clone()
	return nil
}

func (s *MemStore) DeletePosition(account, asset common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, positionKey{account, asset})
	return nil
}
