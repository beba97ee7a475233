// Package boltstore persists the risk engine's positions and listings in a
// single BoltDB file. It satisfies the same deep-copy contract as the
// in-memory store: values are serialized on write and freshly decoded on
// read, so callers never share mutable state with the database.
package boltstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"

	"riskcore/native/market"
)

var (
	bucketAssets    = []byte("asset_configs")
	bucketAccounts  = []byte("accounts")
	bucketPositions = []byte("positions")
	bucketMeta      = []byte("meta")

	keyAssetOrder = []byte("asset_order")
)

// Store is a bbolt-backed market.Store.
type Store struct {
	db *bolt.DB
}

// Open initialises the BoltDB file and its buckets.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAssets, bucketAccounts, bucketPositions, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) AssetConfig(asset common.Address) (*market.AssetConfig, error) {
	var cfg *market.AssetConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAssets).Get(asset.Bytes())
		if raw == nil {
			return nil
		}
		decoded := new(market.AssetConfig)
		if err := json.Unmarshal(raw, decoded); err != nil {
			return fmt.Errorf("decode asset config %s: %w", asset.Hex(), err)
		}
		cfg = decoded
		return nil
	})
	return cfg, err
}

func (s *Store) PutAssetConfig(asset common.Address, cfg *market.AssetConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode asset config %s: %w", asset.Hex(), err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketAssets).Put(asset.Bytes(), raw); err != nil {
			return err
		}
		return appendAssetOrder(tx, asset)
	})
}

func appendAssetOrder(tx *bolt.Tx, asset common.Address) error {
	meta := tx.Bucket(bucketMeta)
	var order []common.Address
	if raw := meta.Get(keyAssetOrder); raw != nil {
		if err := json.Unmarshal(raw, &order); err != nil {
			return fmt.Errorf("decode asset order: %w", err)
		}
	}
	for _, existing := range order {
		if existing == asset {
			return nil
		}
	}
	order = append(order, asset)
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return meta.Put(keyAssetOrder, raw)
}

// ListedAssets returns the assets whose configuration is currently listed,
// in listing order. Delisted entries keep their order slot but are skipped.
func (s *Store) ListedAssets() ([]common.Address, error) {
	var listed []common.Address
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyAssetOrder)
		if raw == nil {
			return nil
		}
		var order []common.Address
		if err := json.Unmarshal(raw, &order); err != nil {
			return err
		}
		assets := tx.Bucket(bucketAssets)
		for _, asset := range order {
			encoded := assets.Get(asset.Bytes())
			if encoded == nil {
				continue
			}
			cfg := new(market.AssetConfig)
			if err := json.Unmarshal(encoded, cfg); err != nil {
				return fmt.Errorf("decode asset config %s: %w", asset.Hex(), err)
			}
			if cfg.IsListed {
				listed = append(listed, asset)
			}
		}
		return nil
	})
	return listed, err
}

func (s *Store) AccountData(account common.Address) (*market.AccountData, error) {
	var data *market.AccountData
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAccounts).Get(account.Bytes())
		if raw == nil {
			return nil
		}
		decoded := new(market.AccountData)
		if err := json.Unmarshal(raw, decoded); err != nil {
			return fmt.Errorf("decode account %s: %w", account.Hex(), err)
		}
		data = decoded
		return nil
	})
	return data, err
}

func (s *Store) PutAccountData(account common.Address, data *market.AccountData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", account.Hex(), err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put(account.Bytes(), raw)
	})
}

func positionKey(account, asset common.Address) []byte {
	key := make([]byte, 0, 2*common.AddressLength)
	key = append(key, account.Bytes()...)
	return append(key, asset.Bytes()...)
}

func (s *Store) Position(account, asset common.Address) (*market.Position, error) {
	var pos *market.Position
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPositions).Get(positionKey(account, asset))
		if raw == nil {
			return nil
		}
		decoded := new(market.Position)
		if err := json.Unmarshal(raw, decoded); err != nil {
			return fmt.Errorf("decode position %s/%s: %w", account.Hex(), asset.Hex(), err)
		}
		pos = decoded
		return nil
	})
	return pos, err
}

func (s *Store) PutPosition(account, asset common.Address, pos *market.Position) error {
	raw, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encode position %s/%s: %w", account.Hex(), asset.Hex(), err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPositions).Put(positionKey(account, asset), raw)
	})
}

func (s *Store) DeletePosition(account, asset common.Address) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPositions).Delete(positionKey(account, asset))
	})
}
